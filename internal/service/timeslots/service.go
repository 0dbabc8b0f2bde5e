// Package timeslots implements availability management: slot CRUD with
// the owner/date non-overlap invariant, atomic booking, and recurring
// slot expansion.
package timeslots

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"schedsync/internal/domain"
	"schedsync/internal/service/buffer"
	"schedsync/internal/store"
)

type ValidationError struct {
	Field string
	msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.msg
	}
	return e.Field + ": " + e.msg
}

func validationError(field, msg string) error {
	return &ValidationError{Field: field, msg: msg}
}

type Service struct {
	slots store.TimeslotRepository
	appts store.AppointmentRepository
	pref  buffer.Preference
	now   func() time.Time
}

func NewService(slots store.TimeslotRepository, appts store.AppointmentRepository, pref buffer.Preference) *Service {
	return &Service{
		slots: slots,
		appts: appts,
		pref:  pref,
		now:   time.Now,
	}
}

// WithNow overrides the clock. Test hook.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

type CreateInput struct {
	OwnerID     string
	Date        time.Time
	Start       time.Time
	End         time.Time
	SlotType    string
	MaxBookings int
	Recurrence  domain.SlotRecurrenceRule
}

func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Timeslot, error) {
	slot, err := s.buildSlot(in)
	if err != nil {
		return domain.Timeslot{}, err
	}
	return s.slots.Create(ctx, slot)
}

func (s *Service) buildSlot(in CreateInput) (domain.Timeslot, error) {
	if in.OwnerID == "" {
		return domain.Timeslot{}, validationError("owner_id", "is required")
	}

	start := in.Start.UTC()
	end := in.End.UTC()
	if !start.Before(end) {
		return domain.Timeslot{}, validationError("end", "must be after start")
	}
	if start.Before(s.now().UTC()) {
		return domain.Timeslot{}, validationError("start", "must not be in the past")
	}

	maxBookings := in.MaxBookings
	if maxBookings == 0 {
		maxBookings = 1
	}
	if maxBookings < 1 {
		return domain.Timeslot{}, validationError("max_bookings", "must be at least 1")
	}

	frequency := in.Recurrence.Frequency
	if frequency == "" {
		frequency = domain.SlotRecurrenceNone
	}
	switch frequency {
	case domain.SlotRecurrenceNone, domain.SlotRecurrenceDaily, domain.SlotRecurrenceWeekly, domain.SlotRecurrenceMonthly:
	default:
		return domain.Timeslot{}, validationError("recurrence", "unsupported frequency")
	}

	date := in.Date
	if date.IsZero() {
		date = start
	}
	date = time.Date(date.UTC().Year(), date.UTC().Month(), date.UTC().Day(), 0, 0, 0, 0, time.UTC)

	return domain.Timeslot{
		OwnerID:         in.OwnerID,
		Date:            date,
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: int(end.Sub(start) / time.Minute),
		SlotType:        strings.TrimSpace(in.SlotType),
		Status:          domain.TimeslotStatusAvailable,
		MaxBookings:     maxBookings,
		Recurrence:      frequency,
		ByWeekday:       in.Recurrence.ByWeekday,
		ByMonthDay:      in.Recurrence.ByMonthDay,
	}, nil
}

func (s *Service) Get(ctx context.Context, ownerID string, id uuid.UUID) (domain.Timeslot, error) {
	if ownerID == "" {
		return domain.Timeslot{}, validationError("owner_id", "is required")
	}
	if id == uuid.Nil {
		return domain.Timeslot{}, validationError("id", "is required")
	}
	return s.slots.Get(ctx, ownerID, id)
}

func (s *Service) List(ctx context.Context, f store.TimeslotFilter) ([]domain.Timeslot, int, error) {
	if f.OwnerID == "" {
		return nil, 0, validationError("owner_id", "is required")
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return nil, 0, validationError("to", "must be after from")
	}
	return s.slots.List(ctx, f)
}

type UpdateInput struct {
	OwnerID string
	ID      uuid.UUID
	Start   time.Time
	End     time.Time
	Status  domain.TimeslotStatus
}

// Update changes a slot's interval or status. A booked slot may only
// transition toward cancellation; its interval cannot be edited while
// bookings are held.
func (s *Service) Update(ctx context.Context, in UpdateInput) (domain.Timeslot, error) {
	if in.OwnerID == "" {
		return domain.Timeslot{}, validationError("owner_id", "is required")
	}
	if in.ID == uuid.Nil {
		return domain.Timeslot{}, validationError("id", "is required")
	}

	slot, err := s.slots.Get(ctx, in.OwnerID, in.ID)
	if err != nil {
		return domain.Timeslot{}, err
	}

	timeChanged := false
	if !in.Start.IsZero() && !in.Start.UTC().Equal(slot.StartTime) {
		slot.StartTime = in.Start.UTC()
		timeChanged = true
	}
	if !in.End.IsZero() && !in.End.UTC().Equal(slot.EndTime) {
		slot.EndTime = in.End.UTC()
		timeChanged = true
	}
	if !slot.StartTime.Before(slot.EndTime) {
		return domain.Timeslot{}, validationError("end", "must be after start")
	}

	if slot.Status == domain.TimeslotStatusBooked {
		if timeChanged {
			return domain.Timeslot{}, validationError("start", "booked slot cannot be rescheduled")
		}
		if in.Status != "" && in.Status != domain.TimeslotStatusBooked && in.Status != domain.TimeslotStatusCancelled {
			return domain.Timeslot{}, validationError("status", "booked slot may only be cancelled")
		}
	}
	if in.Status != "" {
		switch in.Status {
		case domain.TimeslotStatusAvailable, domain.TimeslotStatusBooked, domain.TimeslotStatusCancelled, domain.TimeslotStatusBlocked:
			slot.Status = in.Status
		default:
			return domain.Timeslot{}, validationError("status", "unknown status")
		}
	}

	slot.DurationMinutes = int(slot.EndTime.Sub(slot.StartTime) / time.Minute)
	slot.Date = time.Date(slot.StartTime.Year(), slot.StartTime.Month(), slot.StartTime.Day(), 0, 0, 0, 0, time.UTC)
	return s.slots.Update(ctx, slot)
}

func (s *Service) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	if ownerID == "" {
		return validationError("owner_id", "is required")
	}
	if id == uuid.Nil {
		return validationError("id", "is required")
	}

	slot, err := s.slots.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if slot.Status == domain.TimeslotStatusBooked {
		return fmt.Errorf("%w: slot is booked", store.ErrConflict)
	}
	return s.slots.Delete(ctx, ownerID, id)
}

// BulkItemError records a failed item of a bulk create by its input
// index.
type BulkItemError struct {
	Index int
	Err   error
}

type BulkResult struct {
	Created []domain.Timeslot
	Errors  []BulkItemError
}

// BulkCreate creates every valid item and reports the rest; a failing
// item never aborts the batch.
func (s *Service) BulkCreate(ctx context.Context, items []CreateInput) (BulkResult, error) {
	var out BulkResult
	for i, in := range items {
		slot, err := s.Create(ctx, in)
		if err != nil {
			out.Errors = append(out.Errors, BulkItemError{Index: i, Err: err})
			continue
		}
		out.Created = append(out.Created, slot)
	}
	return out, nil
}

type BookInput struct {
	OwnerID      string
	SlotID       uuid.UUID
	Participants []string
	Purpose      string
	MeetingType  string
	Location     string
}

// Book reserves the slot with a compare-and-set and records the
// appointment with its computed buffer window. The losing side of a
// booking race gets store.ErrSlotUnavailable.
func (s *Service) Book(ctx context.Context, in BookInput) (domain.Appointment, error) {
	if in.OwnerID == "" {
		return domain.Appointment{}, validationError("owner_id", "is required")
	}
	if in.SlotID == uuid.Nil {
		return domain.Appointment{}, validationError("slot_id", "is required")
	}

	slot, err := s.slots.Reserve(ctx, in.OwnerID, in.SlotID)
	if err != nil {
		return domain.Appointment{}, err
	}

	win := buffer.Calculate(slot.StartTime, slot.EndTime, in.MeetingType, s.pref)
	appt, err := s.appts.Create(ctx, domain.Appointment{
		TimeslotID:          slot.ID,
		OwnerID:             in.OwnerID,
		Participants:        in.Participants,
		Purpose:             strings.TrimSpace(in.Purpose),
		MeetingType:         in.MeetingType,
		Location:            in.Location,
		StartTime:           slot.StartTime,
		EndTime:             slot.EndTime,
		Status:              domain.AppointmentStatusScheduled,
		BufferBeforeMinutes: win.BeforeMinutes,
		BufferAfterMinutes:  win.AfterMinutes,
		BufferStrategy:      string(win.Strategy),
	})
	if err != nil {
		// Give the seat back; the reservation must not leak.
		if _, releaseErr := s.slots.Release(ctx, in.OwnerID, in.SlotID); releaseErr != nil {
			return domain.Appointment{}, errors.Join(err, releaseErr)
		}
		return domain.Appointment{}, err
	}
	return appt, nil
}

func (s *Service) CancelBooking(ctx context.Context, ownerID string, appointmentID uuid.UUID) error {
	if ownerID == "" {
		return validationError("owner_id", "is required")
	}
	if appointmentID == uuid.Nil {
		return validationError("appointment_id", "is required")
	}

	appt, err := s.appts.Get(ctx, ownerID, appointmentID)
	if err != nil {
		return err
	}
	if appt.Status == domain.AppointmentStatusCancelled {
		return nil
	}

	appt.Status = domain.AppointmentStatusCancelled
	if _, err := s.appts.Update(ctx, appt); err != nil {
		return err
	}
	_, err = s.slots.Release(ctx, ownerID, appt.TimeslotID)
	return err
}

// ExpandRecurring generates child instances of a recurring parent slot
// through the horizon. Children start the day after the parent and keep
// its time of day. A candidate that overlaps an existing slot is
// skipped and counted, never a batch failure.
func (s *Service) ExpandRecurring(ctx context.Context, ownerID string, parentID uuid.UUID, horizon time.Time) ([]domain.Timeslot, int, error) {
	if ownerID == "" {
		return nil, 0, validationError("owner_id", "is required")
	}
	if parentID == uuid.Nil {
		return nil, 0, validationError("parent_id", "is required")
	}

	parent, err := s.slots.Get(ctx, ownerID, parentID)
	if err != nil {
		return nil, 0, err
	}
	if parent.Recurrence == domain.SlotRecurrenceNone || parent.Recurrence == "" {
		return nil, 0, validationError("recurrence", "slot is not recurring")
	}

	dates, err := domain.GenerateSlotDates(parent.Date, domain.SlotRecurrenceRule{
		Frequency:  parent.Recurrence,
		ByWeekday:  parent.ByWeekday,
		ByMonthDay: parent.ByMonthDay,
	}, horizon)
	if err != nil {
		return nil, 0, validationError("recurrence", err.Error())
	}

	startOffset := parent.StartTime.Sub(parent.Date)
	endOffset := parent.EndTime.Sub(parent.Date)

	var created []domain.Timeslot
	skipped := 0
	for _, date := range dates {
		child := domain.Timeslot{
			OwnerID:         parent.OwnerID,
			Date:            date,
			StartTime:       date.Add(startOffset),
			EndTime:         date.Add(endOffset),
			DurationMinutes: parent.DurationMinutes,
			SlotType:        parent.SlotType,
			Status:          domain.TimeslotStatusAvailable,
			MaxBookings:     parent.MaxBookings,
			Recurrence:      domain.SlotRecurrenceNone,
			ParentID:        &parent.ID,
		}
		got, err := s.slots.Create(ctx, child)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				skipped++
				continue
			}
			return created, skipped, err
		}
		created = append(created, got)
	}
	return created, skipped, nil
}
