package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"schedsync/internal/domain"
	"schedsync/internal/store"
)

type SyncStateRepo struct {
	db *bun.DB
}

func NewSyncStateRepo(db *bun.DB) *SyncStateRepo {
	return &SyncStateRepo{db: db}
}

var _ store.SyncStateRepository = (*SyncStateRepo)(nil)

func (r *SyncStateRepo) Get(ctx context.Context, userID, provider, calendarID string) (domain.SyncState, error) {
	var state domain.SyncState
	err := r.db.NewSelect().
		Model(&state).
		Where("user_id = ?", userID).
		Where("provider = ?", provider).
		Where("calendar_id = ?", calendarID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SyncState{}, store.ErrNotFound
		}
		return domain.SyncState{}, err
	}
	return state, nil
}

func (r *SyncStateRepo) Put(ctx context.Context, state domain.SyncState) (domain.SyncState, error) {
	m := state
	m.UpdatedAt = time.Now().UTC()
	_, err := r.db.NewInsert().
		Model(&m).
		On("CONFLICT (user_id, provider, calendar_id) DO UPDATE").
		Set("sync_token = EXCLUDED.sync_token").
		Set("full_sync_at = EXCLUDED.full_sync_at").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return domain.SyncState{}, err
	}
	return m, nil
}
