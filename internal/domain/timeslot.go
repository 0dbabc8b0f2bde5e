package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type TimeslotStatus string

const (
	TimeslotStatusAvailable TimeslotStatus = "available"
	TimeslotStatusBooked    TimeslotStatus = "booked"
	TimeslotStatusCancelled TimeslotStatus = "cancelled"
	TimeslotStatusBlocked   TimeslotStatus = "blocked"
)

// Timeslot is an owner-published interval of availability. Times are
// minute-granular UTC instants on the slot's date. Generated recurring
// instances point back to their parent via ParentID.
type Timeslot struct {
	bun.BaseModel `bun:"table:timeslots"`

	ID              uuid.UUID      `bun:"id,pk,type:uuid" json:"id"`
	OwnerID         string         `bun:"owner_id,notnull" json:"ownerId"`
	Date            time.Time      `bun:"date,notnull" json:"date"`
	StartTime       time.Time      `bun:"start_time,notnull" json:"start"`
	EndTime         time.Time      `bun:"end_time,notnull" json:"end"`
	DurationMinutes int            `bun:"duration_minutes,notnull" json:"durationMinutes"`
	SlotType        string         `bun:"slot_type" json:"slotType"`
	Status          TimeslotStatus `bun:"status,notnull" json:"status"`
	MaxBookings     int            `bun:"max_bookings,notnull" json:"maxBookings"`
	CurrentBookings int            `bun:"current_bookings,notnull" json:"currentBookings"`
	Recurrence      SlotRecurrence `bun:"recurrence,notnull" json:"recurrence"`
	ByWeekday       []int16        `bun:"byweekday,array" json:"byWeekday,omitempty"`
	ByMonthDay      int            `bun:"bymonthday" json:"byMonthDay,omitempty"`
	ParentID        *uuid.UUID     `bun:"parent_id,type:uuid" json:"parentId,omitempty"`
	CreatedAt       time.Time      `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt       time.Time      `bun:"updated_at,notnull" json:"updatedAt"`
}

func (s *Timeslot) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if s.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			s.ID = id
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		s.UpdatedAt = now
	}
	return nil
}

// Active reports whether the slot still occupies its interval for
// overlap purposes. Cancelled slots free their time.
func (s *Timeslot) Active() bool {
	return s.Status != TimeslotStatusCancelled
}
