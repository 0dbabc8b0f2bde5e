package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

// Appointment is a booked meeting occupying a Timeslot. Buffer fields
// record the padding that was reserved around the core interval when
// the booking was made.
type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID                  uuid.UUID         `bun:"id,pk,type:uuid" json:"id"`
	TimeslotID          uuid.UUID         `bun:"timeslot_id,notnull,type:uuid" json:"timeslotId"`
	OwnerID             string            `bun:"owner_id,notnull" json:"ownerId"`
	Participants        []string          `bun:"participants,array" json:"participants"`
	Purpose             string            `bun:"purpose" json:"purpose"`
	MeetingType         string            `bun:"meeting_type" json:"meetingType"`
	Location            string            `bun:"location" json:"location"`
	StartTime           time.Time         `bun:"start_time,notnull" json:"start"`
	EndTime             time.Time         `bun:"end_time,notnull" json:"end"`
	Status              AppointmentStatus `bun:"status,notnull" json:"status"`
	BufferBeforeMinutes int               `bun:"buffer_before_minutes" json:"bufferBeforeMinutes"`
	BufferAfterMinutes  int               `bun:"buffer_after_minutes" json:"bufferAfterMinutes"`
	BufferStrategy      string            `bun:"buffer_strategy" json:"bufferStrategy"`
	EventUID            string            `bun:"event_uid" json:"eventUid"`
	CreatedAt           time.Time         `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt           time.Time         `bun:"updated_at,notnull" json:"updatedAt"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}
