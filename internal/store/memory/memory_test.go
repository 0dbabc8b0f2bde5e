package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"schedsync/internal/domain"
	"schedsync/internal/store"
)

func slotAt(owner string, start, end time.Time) domain.Timeslot {
	return domain.Timeslot{
		OwnerID:         owner,
		Date:            time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC),
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: int(end.Sub(start).Minutes()),
		Status:          domain.TimeslotStatusAvailable,
		MaxBookings:     1,
	}
}

func TestTimeslotCreateRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Timeslots()

	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	first, err := repo.Create(ctx, slotAt("owner-1", day.Add(9*time.Hour), day.Add(10*time.Hour)))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if first.ID == uuid.Nil {
		t.Fatal("Create() did not assign an id")
	}

	_, err = repo.Create(ctx, slotAt("owner-1", day.Add(9*time.Hour+30*time.Minute), day.Add(10*time.Hour+30*time.Minute)))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("overlapping Create() error = %v, want ErrConflict", err)
	}

	// Same interval, different owner is fine.
	if _, err := repo.Create(ctx, slotAt("owner-2", day.Add(9*time.Hour), day.Add(10*time.Hour))); err != nil {
		t.Fatalf("Create() for other owner error = %v", err)
	}

	// Adjacent slots share an endpoint but do not overlap.
	if _, err := repo.Create(ctx, slotAt("owner-1", day.Add(10*time.Hour), day.Add(11*time.Hour))); err != nil {
		t.Fatalf("adjacent Create() error = %v", err)
	}
}

func TestTimeslotCreateAllowsOverlapWithCancelled(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Timeslots()

	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	cancelled := slotAt("owner-1", day.Add(9*time.Hour), day.Add(10*time.Hour))
	cancelled.Status = domain.TimeslotStatusCancelled
	if _, err := repo.Create(ctx, cancelled); err != nil {
		t.Fatalf("Create() cancelled slot error = %v", err)
	}

	if _, err := repo.Create(ctx, slotAt("owner-1", day.Add(9*time.Hour), day.Add(10*time.Hour))); err != nil {
		t.Fatalf("Create() over cancelled slot error = %v", err)
	}
}

func TestTimeslotListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Timeslots()

	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	for hour := 9; hour < 14; hour++ {
		s := slotAt("owner-1", day.Add(time.Duration(hour)*time.Hour), day.Add(time.Duration(hour)*time.Hour+30*time.Minute))
		if hour == 11 {
			s.Status = domain.TimeslotStatusBlocked
		}
		if _, err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	slots, total, err := repo.List(ctx, store.TimeslotFilter{OwnerID: "owner-1"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 5 || len(slots) != 5 {
		t.Fatalf("List() = %d slots, total %d, want 5/5", len(slots), total)
	}
	for i := 1; i < len(slots); i++ {
		if slots[i].StartTime.Before(slots[i-1].StartTime) {
			t.Fatal("List() not sorted by start time")
		}
	}

	slots, total, err = repo.List(ctx, store.TimeslotFilter{OwnerID: "owner-1", Status: domain.TimeslotStatusAvailable})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 4 {
		t.Fatalf("List(available) total = %d, want 4", total)
	}

	slots, total, err = repo.List(ctx, store.TimeslotFilter{OwnerID: "owner-1", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 5 || len(slots) != 2 {
		t.Fatalf("List(limit=2, offset=1) = %d slots, total %d, want 2/5", len(slots), total)
	}
	if got := slots[0].StartTime; !got.Equal(day.Add(10 * time.Hour)) {
		t.Fatalf("paged List() first slot start = %v, want 10:00", got)
	}

	slots, _, err = repo.List(ctx, store.TimeslotFilter{
		OwnerID: "owner-1",
		From:    day.Add(11 * time.Hour),
		To:      day.Add(13 * time.Hour),
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("windowed List() = %d slots, want 2", len(slots))
	}
}

func TestTimeslotUpdateExcludesSelfFromOverlapCheck(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Timeslots()

	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	slot, err := repo.Create(ctx, slotAt("owner-1", day.Add(9*time.Hour), day.Add(10*time.Hour)))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	slot.EndTime = day.Add(9*time.Hour + 45*time.Minute)
	if _, err := repo.Update(ctx, slot); err != nil {
		t.Fatalf("Update() shrinking own slot error = %v", err)
	}

	other, err := repo.Create(ctx, slotAt("owner-1", day.Add(10*time.Hour), day.Add(11*time.Hour)))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	other.StartTime = day.Add(9*time.Hour + 30*time.Minute)
	if _, err := repo.Update(ctx, other); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("Update() into neighbour error = %v, want ErrConflict", err)
	}
}

func TestReserveIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Timeslots()

	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	slot, err := repo.Create(ctx, slotAt("owner-1", day.Add(9*time.Hour), day.Add(10*time.Hour)))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	booked, err := repo.Reserve(ctx, "owner-1", slot.ID)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if booked.Status != domain.TimeslotStatusBooked || booked.CurrentBookings != 1 {
		t.Fatalf("Reserve() slot = %s/%d bookings, want booked/1", booked.Status, booked.CurrentBookings)
	}

	if _, err := repo.Reserve(ctx, "owner-1", slot.ID); !errors.Is(err, store.ErrSlotUnavailable) {
		t.Fatalf("second Reserve() error = %v, want ErrSlotUnavailable", err)
	}

	released, err := repo.Release(ctx, "owner-1", slot.ID)
	if err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if released.Status != domain.TimeslotStatusAvailable || released.CurrentBookings != 0 {
		t.Fatalf("Release() slot = %s/%d bookings, want available/0", released.Status, released.CurrentBookings)
	}
}

func TestReserveConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Timeslots()

	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	slot, err := repo.Create(ctx, slotAt("owner-1", day.Add(9*time.Hour), day.Add(10*time.Hour)))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	const attempts = 32
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.Reserve(ctx, "owner-1", slot.ID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, store.ErrSlotUnavailable):
		default:
			t.Fatalf("Reserve()[%d] error = %v, want nil or ErrSlotUnavailable", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("concurrent Reserve() winners = %d, want exactly 1", wins)
	}

	final, err := repo.Get(ctx, "owner-1", slot.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if final.CurrentBookings != 1 {
		t.Fatalf("final CurrentBookings = %d, want 1", final.CurrentBookings)
	}
}

func TestReserveCapacityAboveOne(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Timeslots()

	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	s := slotAt("owner-1", day.Add(9*time.Hour), day.Add(10*time.Hour))
	s.MaxBookings = 3
	slot, err := repo.Create(ctx, s)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := repo.Reserve(ctx, "owner-1", slot.ID); err != nil {
			t.Fatalf("Reserve() #%d error = %v", i+1, err)
		}
	}
	if _, err := repo.Reserve(ctx, "owner-1", slot.ID); !errors.Is(err, store.ErrSlotUnavailable) {
		t.Fatalf("Reserve() past capacity error = %v, want ErrSlotUnavailable", err)
	}
}

func TestAppointmentCRUDAndWindowList(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Appointments()

	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	appt, err := repo.Create(ctx, domain.Appointment{
		OwnerID:   "owner-1",
		TimeslotID: uuid.Must(uuid.NewV7()),
		StartTime: day.Add(9 * time.Hour),
		EndTime:   day.Add(10 * time.Hour),
		Status:    domain.AppointmentStatusScheduled,
		Purpose:   "intro call",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := repo.Get(ctx, "other-owner", appt.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get() for wrong owner error = %v, want ErrNotFound", err)
	}

	listed, err := repo.List(ctx, "owner-1", day.Add(9*time.Hour+30*time.Minute), day.Add(11*time.Hour))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("List() = %d appointments, want 1", len(listed))
	}

	listed, err = repo.List(ctx, "owner-1", day.Add(10*time.Hour), day.Add(11*time.Hour))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("List() outside window = %d appointments, want 0", len(listed))
	}

	appt.Status = domain.AppointmentStatusCancelled
	updated, err := repo.Update(ctx, appt)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Status != domain.AppointmentStatusCancelled {
		t.Fatalf("Update() status = %s, want cancelled", updated.Status)
	}

	if err := repo.Delete(ctx, "owner-1", appt.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.Get(ctx, "owner-1", appt.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestEventUpsertKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Events()

	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	ev := domain.CanonicalEvent{
		UID:        "ev-1@example.com",
		OwnerID:    "owner-1",
		Title:      "standup",
		StartTime:  day.Add(9 * time.Hour),
		EndTime:    day.Add(9*time.Hour + 15*time.Minute),
		Timezone:   "UTC",
		Status:     domain.EventStatusConfirmed,
		Provider:   "caldav",
		CalendarID: "cal-1",
		ETag:       `"1"`,
	}

	first, err := repo.Upsert(ctx, ev)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	ev.Title = "daily standup"
	ev.ETag = `"2"`
	second, err := repo.Upsert(ctx, ev)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("Upsert() changed id %s -> %s", first.ID, second.ID)
	}

	got, err := repo.Get(ctx, "caldav", "cal-1", "ev-1@example.com")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "daily standup" || got.ETag != `"2"` {
		t.Fatalf("Get() = %q/%s, want updated title and etag", got.Title, got.ETag)
	}
}

func TestEventReplaceCalendarIsSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Events()

	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	mk := func(uid, cal string, hour int) domain.CanonicalEvent {
		return domain.CanonicalEvent{
			UID:        uid,
			OwnerID:    "owner-1",
			StartTime:  day.Add(time.Duration(hour) * time.Hour),
			EndTime:    day.Add(time.Duration(hour)*time.Hour + 30*time.Minute),
			Timezone:   "UTC",
			Status:     domain.EventStatusConfirmed,
			Provider:   "caldav",
			CalendarID: cal,
		}
	}

	for _, ev := range []domain.CanonicalEvent{mk("a", "cal-1", 9), mk("b", "cal-1", 10), mk("c", "cal-2", 9)} {
		if _, err := repo.Upsert(ctx, ev); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	if err := repo.ReplaceCalendar(ctx, "caldav", "cal-1", []domain.CanonicalEvent{mk("b", "cal-1", 11), mk("d", "cal-1", 12)}); err != nil {
		t.Fatalf("ReplaceCalendar() error = %v", err)
	}

	got, err := repo.ListCalendar(ctx, "caldav", "cal-1")
	if err != nil {
		t.Fatalf("ListCalendar() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListCalendar() after replace = %d events, want 2", len(got))
	}
	if _, err := repo.Get(ctx, "caldav", "cal-1", "a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get() of replaced-away event error = %v, want ErrNotFound", err)
	}

	// Untouched calendar survives.
	other, err := repo.ListCalendar(ctx, "caldav", "cal-2")
	if err != nil {
		t.Fatalf("ListCalendar() error = %v", err)
	}
	if len(other) != 1 {
		t.Fatalf("ListCalendar(cal-2) = %d events, want 1", len(other))
	}
}

func TestSyncStatePutReplaces(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().SyncStates()

	if _, err := repo.Get(ctx, "owner-1", "caldav", "cal-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get() before Put error = %v, want ErrNotFound", err)
	}

	first, err := repo.Put(ctx, domain.SyncState{
		UserID:     "owner-1",
		Provider:   "caldav",
		CalendarID: "cal-1",
		SyncToken:  "token-1",
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	second, err := repo.Put(ctx, domain.SyncState{
		UserID:     "owner-1",
		Provider:   "caldav",
		CalendarID: "cal-1",
		SyncToken:  "token-2",
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("Put() changed id %s -> %s", first.ID, second.ID)
	}

	got, err := repo.Get(ctx, "owner-1", "caldav", "cal-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.SyncToken != "token-2" {
		t.Fatalf("Get() sync token = %q, want token-2", got.SyncToken)
	}
}
