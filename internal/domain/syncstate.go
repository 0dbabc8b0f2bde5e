package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SyncState is the per (user, provider, calendar) sync cursor. Either
// SyncToken is set (incremental providers) or FullSyncAt records the
// upper bound of the last complete full-range fetch. It is replaced
// atomically and only after a fully successful sync pass.
type SyncState struct {
	bun.BaseModel `bun:"table:sync_states"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	UserID     string    `bun:"user_id,notnull"`
	Provider   string    `bun:"provider,notnull"`
	CalendarID string    `bun:"calendar_id,notnull"`
	SyncToken  string    `bun:"sync_token"`
	FullSyncAt time.Time `bun:"full_sync_at"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

func (s *SyncState) BeforeAppendModel(ctx context.Context, query bun.Query) error {
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
