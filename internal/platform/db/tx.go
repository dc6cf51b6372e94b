package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const txKey contextKey = "db_tx"

// Querier is the subset of pgx operations shared by pools, connections, and
// transactions. Repositories resolve one per call via Conn.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// TxFromContext retrieves the transaction carried by ctx, or nil when the
// operation is not running inside WithinTx.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// ConnFromContext returns the context transaction as a Querier, or nil when
// none is open. Repositories fall back to their own pool on nil.
func ConnFromContext(ctx context.Context) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return nil
}

// Conn returns the Querier an operation should use: the context transaction
// when one is open, otherwise the pool itself.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// Runner executes a function as a single all-or-nothing unit of work. The
// database-backed implementation opens a transaction and stores it in the
// context so every repository call inside fn joins it; implementations
// without multi-record transactions may run fn directly, relying on the
// caller's idempotent sub-steps.
type Runner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PoolRunner is the pgx-backed Runner.
type PoolRunner struct {
	pool *pgxpool.Pool
}

// NewPoolRunner creates a Runner over the given pool.
func NewPoolRunner(pool *pgxpool.Pool) *PoolRunner {
	return &PoolRunner{pool: pool}
}

// WithinTx begins a transaction, carries it in the context through fn, and
// commits on success. Nested calls join the outer transaction rather than
// opening a second one.
func (r *PoolRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// PassthroughRunner runs the unit of work without transactional isolation.
// Used with in-memory repositories, where each sub-step is already
// idempotent and check-and-skip safe.
type PassthroughRunner struct{}

// WithinTx runs fn directly.
func (PassthroughRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
