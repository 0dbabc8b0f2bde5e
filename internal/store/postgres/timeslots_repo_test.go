package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"schedsync/internal/store"
)

func TestMapSlotWriteError(t *testing.T) {
	if got := mapSlotWriteError(nil); got != nil {
		t.Fatalf("mapSlotWriteError(nil) = %v, want nil", got)
	}

	overlap := &pgconn.PgError{Code: "23P01", ConstraintName: "timeslots_no_overlap"}
	if got := mapSlotWriteError(overlap); !errors.Is(got, store.ErrConflict) {
		t.Fatalf("mapSlotWriteError(exclusion violation) = %v, want ErrConflict", got)
	}

	other := &pgconn.PgError{Code: "23505", ConstraintName: "timeslots_pkey"}
	if got := mapSlotWriteError(other); !errors.As(got, new(*pgconn.PgError)) {
		t.Fatalf("mapSlotWriteError(unique violation) = %v, want original pg error", got)
	}

	plain := errors.New("connection reset")
	if got := mapSlotWriteError(plain); got != plain {
		t.Fatalf("mapSlotWriteError(plain) = %v, want passthrough", got)
	}
}
