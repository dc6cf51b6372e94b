package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ctms/ctms/internal/platform/db"
)

// maxAttempts bounds retries on serialization failures before the caller is
// told to back off.
const maxAttempts = 3

// PGAllocator issues sequence values from the sequence_counter table. The
// increment happens in a single statement, so concurrent callers serialize on
// the counter row inside the database instead of racing a read-then-write in
// application code.
type PGAllocator struct {
	pool *pgxpool.Pool
}

// NewPGAllocator creates a Postgres-backed allocator.
func NewPGAllocator(pool *pgxpool.Pool) *PGAllocator {
	return &PGAllocator{pool: pool}
}

const nextValueSQL = `
INSERT INTO sequence_counter (name, value) VALUES ($1, 1)
ON CONFLICT (name) DO UPDATE SET value = sequence_counter.value + 1
RETURNING value`

// Next returns the next value of the named sequence. When called inside a
// unit of work it joins the context transaction, so a rolled-back caller does
// not consume a number. Serialization failures are retried up to maxAttempts
// before ErrContention is returned.
func (a *PGAllocator) Next(ctx context.Context, name string) (int64, error) {
	q := db.Conn(ctx, a.pool)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var value int64
		err := q.QueryRow(ctx, nextValueSQL, name).Scan(&value)
		if err == nil {
			return value, nil
		}
		if !isSerializationFailure(err) {
			return 0, fmt.Errorf("allocate %s sequence value: %w", name, err)
		}
		// Inside an outer transaction the failure aborts the whole tx;
		// retrying here would only hit "transaction is aborted" errors.
		if db.TxFromContext(ctx) != nil {
			return 0, fmt.Errorf("allocate %s sequence value: %w", name, ErrContention)
		}
		lastErr = err
	}
	return 0, fmt.Errorf("allocate %s sequence value after %d attempts (%v): %w",
		name, maxAttempts, lastErr, ErrContention)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected.
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
