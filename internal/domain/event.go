package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type EventStatus string

const (
	EventStatusConfirmed EventStatus = "confirmed"
	EventStatusTentative EventStatus = "tentative"
	EventStatusCancelled EventStatus = "cancelled"
)

// CanonicalEvent is the provider-agnostic representation of a calendar
// entry. Start and end are always UTC instants; the zone the event was
// authored in is kept separately so wall-clock semantics survive a
// round trip through a provider. All-day events carry an explicit flag,
// never a zero time-of-day.
type CanonicalEvent struct {
	bun.BaseModel `bun:"table:canonical_events"`

	ID           uuid.UUID   `bun:"id,pk,type:uuid" json:"-"`
	UID          string      `bun:"uid,notnull" json:"uid"`
	OwnerID      string      `bun:"owner_id,notnull" json:"-"`
	Title        string      `bun:"title" json:"title"`
	Description  string      `bun:"description" json:"description"`
	StartTime    time.Time   `bun:"start_time,notnull" json:"start"`
	EndTime      time.Time   `bun:"end_time,notnull" json:"end"`
	Timezone     string      `bun:"timezone,notnull" json:"timezone"`
	AllDay       bool        `bun:"all_day" json:"allDay"`
	Location     string      `bun:"location" json:"location"`
	Attendees    []string    `bun:"attendees,array" json:"attendees"`
	Organizer    string      `bun:"organizer" json:"organizer"`
	Recurrence   string      `bun:"recurrence" json:"recurrence"`
	Status       EventStatus `bun:"status,notnull" json:"status"`
	ETag         string      `bun:"etag" json:"etag"`
	Provider     string      `bun:"provider,notnull" json:"provider"`
	CalendarID   string      `bun:"calendar_id,notnull" json:"calendarId"`
	LastModified time.Time   `bun:"last_modified" json:"lastModified"`
	CreatedAt    time.Time   `bun:"created_at,notnull" json:"-"`
	UpdatedAt    time.Time   `bun:"updated_at,notnull" json:"-"`
}

func (e *CanonicalEvent) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if e.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			e.ID = id
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		e.UpdatedAt = now
	}
	return nil
}

type CalendarAccess string

const (
	CalendarAccessOwner  CalendarAccess = "owner"
	CalendarAccessWriter CalendarAccess = "writer"
	CalendarAccessReader CalendarAccess = "reader"
)

// Calendar describes a remote calendar collection as reported by a
// provider during discovery.
type Calendar struct {
	ID              string
	Name            string
	Access          CalendarAccess
	SupportsSync    bool
	SupportsVEvents bool
}
