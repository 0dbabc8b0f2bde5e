package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"schedsync/internal/domain"
)

// TimeslotFilter narrows List queries. Zero fields are ignored.
type TimeslotFilter struct {
	OwnerID  string
	From     time.Time
	To       time.Time
	Status   domain.TimeslotStatus
	SlotType string
	Limit    int
	Offset   int
}

// TimeslotRepository persists availability slots. Create and Update
// enforce the owner/date non-overlap invariant for non-cancelled slots
// and return ErrConflict on violation; the check and the write happen
// atomically. Reserve and Release are the only paths that touch
// booking counters and are compare-and-set: a losing Reserve returns
// ErrSlotUnavailable, never a double booking.
type TimeslotRepository interface {
	Create(ctx context.Context, slot domain.Timeslot) (domain.Timeslot, error)
	Get(ctx context.Context, ownerID string, id uuid.UUID) (domain.Timeslot, error)
	List(ctx context.Context, f TimeslotFilter) ([]domain.Timeslot, int, error)
	ListForOwnerDate(ctx context.Context, ownerID string, date time.Time) ([]domain.Timeslot, error)
	Update(ctx context.Context, slot domain.Timeslot) (domain.Timeslot, error)
	Delete(ctx context.Context, ownerID string, id uuid.UUID) error
	Reserve(ctx context.Context, ownerID string, id uuid.UUID) (domain.Timeslot, error)
	Release(ctx context.Context, ownerID string, id uuid.UUID) (domain.Timeslot, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	Get(ctx context.Context, ownerID string, id uuid.UUID) (domain.Appointment, error)
	List(ctx context.Context, ownerID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	Update(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	Delete(ctx context.Context, ownerID string, id uuid.UUID) error
}

// EventRepository stores the local mirror of remote calendar entries,
// keyed by (provider, calendarID, uid).
type EventRepository interface {
	Upsert(ctx context.Context, ev domain.CanonicalEvent) (domain.CanonicalEvent, error)
	Get(ctx context.Context, provider, calendarID, uid string) (domain.CanonicalEvent, error)
	List(ctx context.Context, ownerID string, windowStart, windowEnd time.Time) ([]domain.CanonicalEvent, error)
	ListCalendar(ctx context.Context, provider, calendarID string) ([]domain.CanonicalEvent, error)
	Delete(ctx context.Context, provider, calendarID, uid string) error
	// ReplaceCalendar swaps the whole mirrored set for a calendar in
	// one atomic step; used when a full fetch is treated as a snapshot.
	ReplaceCalendar(ctx context.Context, provider, calendarID string, evs []domain.CanonicalEvent) error
}

// SyncStateRepository persists per (user, provider, calendar) sync
// cursors. Put replaces the whole record atomically.
type SyncStateRepository interface {
	Get(ctx context.Context, userID, provider, calendarID string) (domain.SyncState, error)
	Put(ctx context.Context, state domain.SyncState) (domain.SyncState, error)
}
