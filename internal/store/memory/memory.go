// Package memory provides mutex-guarded in-memory implementations of
// the store interfaces. They back deterministic tests and dry-run sync
// passes; the postgres package is the production counterpart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"schedsync/internal/domain"
	"schedsync/internal/store"
)

// Store holds all entity maps behind one mutex. Repository views share
// the lock so cross-entity operations stay consistent.
type Store struct {
	mu         sync.Mutex
	timeslots  map[uuid.UUID]domain.Timeslot
	appts      map[uuid.UUID]domain.Appointment
	events     map[string]domain.CanonicalEvent
	syncStates map[string]domain.SyncState
}

func NewStore() *Store {
	return &Store{
		timeslots:  make(map[uuid.UUID]domain.Timeslot),
		appts:      make(map[uuid.UUID]domain.Appointment),
		events:     make(map[string]domain.CanonicalEvent),
		syncStates: make(map[string]domain.SyncState),
	}
}

func (s *Store) Timeslots() store.TimeslotRepository       { return (*timeslotStore)(s) }
func (s *Store) Appointments() store.AppointmentRepository { return (*apptStore)(s) }
func (s *Store) Events() store.EventRepository             { return (*eventStore)(s) }
func (s *Store) SyncStates() store.SyncStateRepository     { return (*syncStateStore)(s) }

var (
	_ store.TimeslotRepository    = (*timeslotStore)(nil)
	_ store.AppointmentRepository = (*apptStore)(nil)
	_ store.EventRepository       = (*eventStore)(nil)
	_ store.SyncStateRepository   = (*syncStateStore)(nil)
)

type timeslotStore Store

func (s *timeslotStore) Create(ctx context.Context, slot domain.Timeslot) (domain.Timeslot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.overlapsLocked(slot, uuid.Nil) {
		return domain.Timeslot{}, store.ErrConflict
	}

	if slot.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Timeslot{}, err
		}
		slot.ID = id
	}
	now := time.Now().UTC()
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = now
	}
	slot.UpdatedAt = now

	s.timeslots[slot.ID] = slot
	return slot, nil
}

func (s *timeslotStore) Get(ctx context.Context, ownerID string, id uuid.UUID) (domain.Timeslot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.timeslots[id]
	if !ok || slot.OwnerID != ownerID {
		return domain.Timeslot{}, store.ErrNotFound
	}
	return slot, nil
}

func (s *timeslotStore) List(ctx context.Context, f store.TimeslotFilter) ([]domain.Timeslot, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []domain.Timeslot
	for _, slot := range s.timeslots {
		if f.OwnerID != "" && slot.OwnerID != f.OwnerID {
			continue
		}
		if !f.From.IsZero() && slot.EndTime.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !slot.StartTime.Before(f.To) {
			continue
		}
		if f.Status != "" && slot.Status != f.Status {
			continue
		}
		if f.SlotType != "" && slot.SlotType != f.SlotType {
			continue
		}
		all = append(all, slot)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartTime.Before(all[j].StartTime) })

	total := len(all)
	if f.Offset > 0 {
		if f.Offset >= len(all) {
			return nil, total, nil
		}
		all = all[f.Offset:]
	}
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (s *timeslotStore) ListForOwnerDate(ctx context.Context, ownerID string, date time.Time) ([]domain.Timeslot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listForOwnerDateLocked(ownerID, date), nil
}

func (s *timeslotStore) listForOwnerDateLocked(ownerID string, date time.Time) []domain.Timeslot {
	day := date.UTC().Truncate(24 * time.Hour)
	var out []domain.Timeslot
	for _, slot := range s.timeslots {
		if slot.OwnerID != ownerID {
			continue
		}
		if !slot.Date.UTC().Truncate(24 * time.Hour).Equal(day) {
			continue
		}
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (s *timeslotStore) Update(ctx context.Context, slot domain.Timeslot) (domain.Timeslot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.timeslots[slot.ID]
	if !ok || existing.OwnerID != slot.OwnerID {
		return domain.Timeslot{}, store.ErrNotFound
	}
	if s.overlapsLocked(slot, slot.ID) {
		return domain.Timeslot{}, store.ErrConflict
	}

	slot.CreatedAt = existing.CreatedAt
	slot.UpdatedAt = time.Now().UTC()
	s.timeslots[slot.ID] = slot
	return slot, nil
}

func (s *timeslotStore) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.timeslots[id]
	if !ok || slot.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(s.timeslots, id)
	return nil
}

// Reserve is the atomic booking step: it succeeds only while the slot
// is available with spare capacity, and flips the slot to booked when
// the last seat is taken.
func (s *timeslotStore) Reserve(ctx context.Context, ownerID string, id uuid.UUID) (domain.Timeslot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.timeslots[id]
	if !ok || slot.OwnerID != ownerID {
		return domain.Timeslot{}, store.ErrNotFound
	}
	if slot.Status != domain.TimeslotStatusAvailable || slot.CurrentBookings >= slot.MaxBookings {
		return domain.Timeslot{}, store.ErrSlotUnavailable
	}

	slot.CurrentBookings++
	if slot.CurrentBookings >= slot.MaxBookings {
		slot.Status = domain.TimeslotStatusBooked
	}
	slot.UpdatedAt = time.Now().UTC()
	s.timeslots[id] = slot
	return slot, nil
}

func (s *timeslotStore) Release(ctx context.Context, ownerID string, id uuid.UUID) (domain.Timeslot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.timeslots[id]
	if !ok || slot.OwnerID != ownerID {
		return domain.Timeslot{}, store.ErrNotFound
	}
	if slot.CurrentBookings <= 0 {
		return slot, nil
	}

	slot.CurrentBookings--
	if slot.Status == domain.TimeslotStatusBooked && slot.CurrentBookings < slot.MaxBookings {
		slot.Status = domain.TimeslotStatusAvailable
	}
	slot.UpdatedAt = time.Now().UTC()
	s.timeslots[id] = slot
	return slot, nil
}

func (s *timeslotStore) overlapsLocked(slot domain.Timeslot, excludeID uuid.UUID) bool {
	if !slot.Active() {
		return false
	}
	for _, other := range s.listForOwnerDateLocked(slot.OwnerID, slot.Date) {
		if other.ID == excludeID || !other.Active() {
			continue
		}
		if domain.Overlaps(slot.StartTime, slot.EndTime, other.StartTime, other.EndTime) {
			return true
		}
	}
	return false
}

type apptStore Store

func (s *apptStore) Create(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if appt.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Appointment{}, err
		}
		appt.ID = id
	}
	now := time.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now
	s.appts[appt.ID] = appt
	return appt, nil
}

func (s *apptStore) Get(ctx context.Context, ownerID string, id uuid.UUID) (domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appts[id]
	if !ok || appt.OwnerID != ownerID {
		return domain.Appointment{}, store.ErrNotFound
	}
	return appt, nil
}

func (s *apptStore) List(ctx context.Context, ownerID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Appointment
	for _, appt := range s.appts {
		if appt.OwnerID != ownerID {
			continue
		}
		if !domain.Overlaps(appt.StartTime, appt.EndTime, windowStart, windowEnd) {
			continue
		}
		out = append(out, appt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *apptStore) Update(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.appts[appt.ID]
	if !ok || existing.OwnerID != appt.OwnerID {
		return domain.Appointment{}, store.ErrNotFound
	}
	appt.CreatedAt = existing.CreatedAt
	appt.UpdatedAt = time.Now().UTC()
	s.appts[appt.ID] = appt
	return appt, nil
}

func (s *apptStore) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appts[id]
	if !ok || appt.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(s.appts, id)
	return nil
}

type eventStore Store

func eventKey(provider, calendarID, uid string) string {
	return provider + "\x00" + calendarID + "\x00" + uid
}

func (s *eventStore) Upsert(ctx context.Context, ev domain.CanonicalEvent) (domain.CanonicalEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(ev)
}

func (s *eventStore) upsertLocked(ev domain.CanonicalEvent) (domain.CanonicalEvent, error) {
	key := eventKey(ev.Provider, ev.CalendarID, ev.UID)
	now := time.Now().UTC()
	if existing, ok := s.events[key]; ok {
		ev.ID = existing.ID
		ev.CreatedAt = existing.CreatedAt
	} else {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.CanonicalEvent{}, err
		}
		ev.ID = id
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now
	s.events[key] = ev
	return ev, nil
}

func (s *eventStore) Get(ctx context.Context, provider, calendarID, uid string) (domain.CanonicalEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventKey(provider, calendarID, uid)]
	if !ok {
		return domain.CanonicalEvent{}, store.ErrNotFound
	}
	return ev, nil
}

func (s *eventStore) List(ctx context.Context, ownerID string, windowStart, windowEnd time.Time) ([]domain.CanonicalEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.CanonicalEvent
	for _, ev := range s.events {
		if ev.OwnerID != ownerID {
			continue
		}
		if !domain.Overlaps(ev.StartTime, ev.EndTime, windowStart, windowEnd) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *eventStore) ListCalendar(ctx context.Context, provider, calendarID string) ([]domain.CanonicalEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.CanonicalEvent
	for _, ev := range s.events {
		if ev.Provider != provider || ev.CalendarID != calendarID {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *eventStore) Delete(ctx context.Context, provider, calendarID, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventKey(provider, calendarID, uid)
	if _, ok := s.events[key]; !ok {
		return store.ErrNotFound
	}
	delete(s.events, key)
	return nil
}

func (s *eventStore) ReplaceCalendar(ctx context.Context, provider, calendarID string, evs []domain.CanonicalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, ev := range s.events {
		if ev.Provider == provider && ev.CalendarID == calendarID {
			delete(s.events, key)
		}
	}
	for _, ev := range evs {
		ev.Provider = provider
		ev.CalendarID = calendarID
		if _, err := s.upsertLocked(ev); err != nil {
			return err
		}
	}
	return nil
}

type syncStateStore Store

func syncStateKey(userID, provider, calendarID string) string {
	return userID + "\x00" + provider + "\x00" + calendarID
}

func (s *syncStateStore) Get(ctx context.Context, userID, provider, calendarID string) (domain.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.syncStates[syncStateKey(userID, provider, calendarID)]
	if !ok {
		return domain.SyncState{}, store.ErrNotFound
	}
	return state, nil
}

func (s *syncStateStore) Put(ctx context.Context, state domain.SyncState) (domain.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := syncStateKey(state.UserID, state.Provider, state.CalendarID)
	now := time.Now().UTC()
	if existing, ok := s.syncStates[key]; ok {
		state.ID = existing.ID
		state.CreatedAt = existing.CreatedAt
	} else {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.SyncState{}, err
		}
		state.ID = id
		state.CreatedAt = now
	}
	state.UpdatedAt = now
	s.syncStates[key] = state
	return state, nil
}
