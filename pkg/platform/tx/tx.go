// Package tx carries an open transaction through a context so that stores can
// join the unit of work started by a service.
package tx

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	dErrors "peppolrelay/pkg/domain-errors"
)

const defaultTimeout = 5 * time.Second

type sqlKey struct{}
type pgxKey struct{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, sqlKey{}, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(sqlKey{}).(*sql.Tx)
	return tx, ok
}

// WithPgxTx stores a pgx transaction in context.
func WithPgxTx(ctx context.Context, tx pgx.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, pgxKey{}, tx)
}

// PgxFrom extracts a pgx transaction from context if present.
func PgxFrom(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(pgxKey{}).(pgx.Tx)
	return tx, ok
}

// Runner runs fn as one atomic unit of work. The context handed to fn carries
// the transaction; stores pick it up from there.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

func prepare(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return ctx, func() {}, dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, nil
}

// SQLRunner opens database/sql transactions.
type SQLRunner struct {
	db      *sql.DB
	timeout time.Duration
}

func NewSQLRunner(db *sql.DB, timeout time.Duration) *SQLRunner {
	return &SQLRunner{db: db, timeout: timeout}
}

func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}
	ctx, cancel, err := prepare(ctx, r.timeout)
	defer cancel()
	if err != nil {
		return err
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// PgxRunner opens pgx transactions on a pool.
type PgxRunner struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPgxRunner(pool *pgxpool.Pool, timeout time.Duration) *PgxRunner {
	return &PgxRunner{pool: pool, timeout: timeout}
}

func (r *PgxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := PgxFrom(ctx); ok {
		return fn(ctx)
	}
	ctx, cancel, err := prepare(ctx, r.timeout)
	defer cancel()
	if err != nil {
		return err
	}

	pgTx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = pgTx.Rollback(ctx)
	}()

	if err := fn(WithPgxTx(ctx, pgTx)); err != nil {
		return err
	}
	return pgTx.Commit(ctx)
}

// Savepoint runs fn so that its failure does not abort the enclosing pgx
// transaction: the statements of fn are rolled back to a savepoint and the
// caller can keep writing. Outside a pgx transaction fn runs as is.
func Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	outer, ok := PgxFrom(ctx)
	if !ok {
		return fn(ctx)
	}
	sp, err := outer.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(WithPgxTx(ctx, sp)); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return sp.Commit(ctx)
}

type lockKey struct{}

// LockRunner serializes units of work for in-memory stores. It offers
// isolation but no rollback.
type LockRunner struct {
	mu      sync.Mutex
	timeout time.Duration
}

func NewLockRunner(timeout time.Duration) *LockRunner {
	return &LockRunner{timeout: timeout}
}

func (r *LockRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(lockKey{}) != nil {
		return fn(ctx)
	}
	ctx, cancel, err := prepare(ctx, r.timeout)
	defer cancel()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(context.WithValue(ctx, lockKey{}, r))
}
