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

// EventRepo mirrors remote calendar entries locally, keyed by
// (provider, calendar_id, uid).
type EventRepo struct {
	db *bun.DB
}

func NewEventRepo(db *bun.DB) *EventRepo {
	return &EventRepo{db: db}
}

var _ store.EventRepository = (*EventRepo)(nil)

func (r *EventRepo) Upsert(ctx context.Context, ev domain.CanonicalEvent) (domain.CanonicalEvent, error) {
	m := ev
	m.UpdatedAt = time.Now().UTC()
	_, err := r.db.NewInsert().
		Model(&m).
		On("CONFLICT (provider, calendar_id, uid) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("description = EXCLUDED.description").
		Set("start_time = EXCLUDED.start_time").
		Set("end_time = EXCLUDED.end_time").
		Set("timezone = EXCLUDED.timezone").
		Set("all_day = EXCLUDED.all_day").
		Set("location = EXCLUDED.location").
		Set("attendees = EXCLUDED.attendees").
		Set("organizer = EXCLUDED.organizer").
		Set("recurrence = EXCLUDED.recurrence").
		Set("status = EXCLUDED.status").
		Set("etag = EXCLUDED.etag").
		Set("owner_id = EXCLUDED.owner_id").
		Set("last_modified = EXCLUDED.last_modified").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return domain.CanonicalEvent{}, err
	}
	return m, nil
}

func (r *EventRepo) Get(ctx context.Context, provider, calendarID, uid string) (domain.CanonicalEvent, error) {
	var ev domain.CanonicalEvent
	err := r.db.NewSelect().
		Model(&ev).
		Where("provider = ?", provider).
		Where("calendar_id = ?", calendarID).
		Where("uid = ?", uid).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CanonicalEvent{}, store.ErrNotFound
		}
		return domain.CanonicalEvent{}, err
	}
	return ev, nil
}

func (r *EventRepo) List(ctx context.Context, ownerID string, windowStart, windowEnd time.Time) ([]domain.CanonicalEvent, error) {
	var rows []domain.CanonicalEvent
	err := r.db.NewSelect().
		Model(&rows).
		Where("owner_id = ?", ownerID).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *EventRepo) ListCalendar(ctx context.Context, provider, calendarID string) ([]domain.CanonicalEvent, error) {
	var rows []domain.CanonicalEvent
	err := r.db.NewSelect().
		Model(&rows).
		Where("provider = ?", provider).
		Where("calendar_id = ?", calendarID).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *EventRepo) Delete(ctx context.Context, provider, calendarID, uid string) error {
	res, err := r.db.NewDelete().
		Model((*domain.CanonicalEvent)(nil)).
		Where("provider = ?", provider).
		Where("calendar_id = ?", calendarID).
		Where("uid = ?", uid).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ReplaceCalendar swaps a calendar's mirrored set in one transaction so
// readers never see a half-applied snapshot.
func (r *EventRepo) ReplaceCalendar(ctx context.Context, provider, calendarID string, evs []domain.CanonicalEvent) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*domain.CanonicalEvent)(nil)).
			Where("provider = ?", provider).
			Where("calendar_id = ?", calendarID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if len(evs) == 0 {
			return nil
		}

		rows := make([]domain.CanonicalEvent, len(evs))
		for i, ev := range evs {
			ev.Provider = provider
			ev.CalendarID = calendarID
			rows[i] = ev
		}
		_, err = tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
}
