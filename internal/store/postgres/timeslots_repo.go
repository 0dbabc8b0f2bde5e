package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"schedsync/internal/domain"
	"schedsync/internal/store"
)

// TimeslotRepo persists availability slots. Writes that have to see a
// consistent view of an owner's calendar take a per-owner advisory
// lock so the overlap check and the write are atomic; the exclusion
// constraint in the schema backs the same invariant.
type TimeslotRepo struct {
	db *bun.DB
}

func NewTimeslotRepo(db *bun.DB) *TimeslotRepo {
	return &TimeslotRepo{db: db}
}

var _ store.TimeslotRepository = (*TimeslotRepo)(nil)

func lockOwnerCalendar(ctx context.Context, tx bun.Tx, ownerID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", ownerID).Exec(ctx)
	return err
}

func (r *TimeslotRepo) inOwnerTransaction(ctx context.Context, ownerID string, fn func(ctx context.Context, tx bun.Tx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockOwnerCalendar(ctx, tx, ownerID); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

func (r *TimeslotRepo) Create(ctx context.Context, slot domain.Timeslot) (domain.Timeslot, error) {
	m := slot
	err := r.inOwnerTransaction(ctx, slot.OwnerID, func(ctx context.Context, tx bun.Tx) error {
		conflict, err := hasOverlappingSlot(ctx, tx, m, uuid.Nil)
		if err != nil {
			return err
		}
		if conflict {
			return store.ErrConflict
		}

		_, err = tx.NewInsert().Model(&m).Exec(ctx)
		return mapSlotWriteError(err)
	})
	if err != nil {
		return domain.Timeslot{}, err
	}
	return m, nil
}

func (r *TimeslotRepo) Get(ctx context.Context, ownerID string, id uuid.UUID) (domain.Timeslot, error) {
	var slot domain.Timeslot
	err := r.db.NewSelect().
		Model(&slot).
		Where("id = ?", id).
		Where("owner_id = ?", ownerID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Timeslot{}, store.ErrNotFound
		}
		return domain.Timeslot{}, err
	}
	return slot, nil
}

func (r *TimeslotRepo) List(ctx context.Context, f store.TimeslotFilter) ([]domain.Timeslot, int, error) {
	var rows []domain.Timeslot
	q := r.db.NewSelect().Model(&rows)
	if f.OwnerID != "" {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if !f.From.IsZero() {
		q = q.Where("end_time >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("start_time < ?", f.To)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.SlotType != "" {
		q = q.Where("slot_type = ?", f.SlotType)
	}
	q = q.OrderExpr("start_time ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *TimeslotRepo) ListForOwnerDate(ctx context.Context, ownerID string, date time.Time) ([]domain.Timeslot, error) {
	var rows []domain.Timeslot
	err := r.db.NewSelect().
		Model(&rows).
		Where("owner_id = ?", ownerID).
		Where("date = ?", date.UTC().Truncate(24*time.Hour)).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *TimeslotRepo) Update(ctx context.Context, slot domain.Timeslot) (domain.Timeslot, error) {
	m := slot
	err := r.inOwnerTransaction(ctx, slot.OwnerID, func(ctx context.Context, tx bun.Tx) error {
		conflict, err := hasOverlappingSlot(ctx, tx, m, m.ID)
		if err != nil {
			return err
		}
		if conflict {
			return store.ErrConflict
		}

		res, err := tx.NewUpdate().
			Model(&m).
			WherePK().
			Where("owner_id = ?", slot.OwnerID).
			ExcludeColumn("created_at").
			Exec(ctx)
		if err != nil {
			return mapSlotWriteError(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return domain.Timeslot{}, err
	}
	return m, nil
}

func (r *TimeslotRepo) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*domain.Timeslot)(nil)).
		Where("id = ?", id).
		Where("owner_id = ?", ownerID).
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

// Reserve increments the booking counter in one guarded UPDATE. The
// WHERE clause is the compare step: a concurrent booking that already
// took the last seat makes it match zero rows.
func (r *TimeslotRepo) Reserve(ctx context.Context, ownerID string, id uuid.UUID) (domain.Timeslot, error) {
	var slot domain.Timeslot
	err := r.db.NewUpdate().
		Model((*domain.Timeslot)(nil)).
		Set("current_bookings = current_bookings + 1").
		Set("status = CASE WHEN current_bookings + 1 >= max_bookings THEN ? ELSE status END", domain.TimeslotStatusBooked).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("owner_id = ?", ownerID).
		Where("status = ?", domain.TimeslotStatusAvailable).
		Where("current_bookings < max_bookings").
		Returning("*").
		Scan(ctx, &slot)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := r.Get(ctx, ownerID, id); getErr != nil {
				return domain.Timeslot{}, getErr
			}
			return domain.Timeslot{}, store.ErrSlotUnavailable
		}
		return domain.Timeslot{}, err
	}
	return slot, nil
}

func (r *TimeslotRepo) Release(ctx context.Context, ownerID string, id uuid.UUID) (domain.Timeslot, error) {
	var slot domain.Timeslot
	err := r.db.NewUpdate().
		Model((*domain.Timeslot)(nil)).
		Set("current_bookings = current_bookings - 1").
		Set("status = CASE WHEN status = ? THEN ? ELSE status END", domain.TimeslotStatusBooked, domain.TimeslotStatusAvailable).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("owner_id = ?", ownerID).
		Where("current_bookings > 0").
		Returning("*").
		Scan(ctx, &slot)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Nothing booked; return the slot untouched.
			return r.Get(ctx, ownerID, id)
		}
		return domain.Timeslot{}, err
	}
	return slot, nil
}

func hasOverlappingSlot(ctx context.Context, tx bun.Tx, slot domain.Timeslot, excludeID uuid.UUID) (bool, error) {
	if slot.Status == domain.TimeslotStatusCancelled {
		return false, nil
	}
	q := tx.NewSelect().
		Model((*domain.Timeslot)(nil)).
		Where("owner_id = ?", slot.OwnerID).
		Where("date = ?", slot.Date.UTC().Truncate(24*time.Hour)).
		Where("status != ?", domain.TimeslotStatusCancelled).
		Where("start_time < ?", slot.EndTime).
		Where("end_time > ?", slot.StartTime)
	if excludeID != uuid.Nil {
		q = q.Where("id != ?", excludeID)
	}
	return q.Exists(ctx)
}

func mapSlotWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23P01" && pgErr.ConstraintName == "timeslots_no_overlap" {
			return store.ErrConflict
		}
	}
	return err
}
