package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/consult/internal/platform/lock"
)

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type txKey struct{}

// WithTx returns a context carrying tx. Repositories pick it up through
// ConnFromContext so that all statements of a unit of work share it.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// ConnFromContext returns the transaction on ctx, or nil.
func ConnFromContext(ctx context.Context) Querier {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	if tx == nil {
		return nil
	}
	return tx
}

// Transactor runs fn as one atomic unit of work. Locks taken inside fn
// (SELECT ... FOR UPDATE, or keyed locks for the memory store) are held until
// fn returns.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PgTransactor runs units of work in a Postgres transaction.
type PgTransactor struct {
	pool *pgxpool.Pool
}

func NewPgTransactor(pool *pgxpool.Pool) *PgTransactor {
	return &PgTransactor{pool: pool}
}

// WithinTx begins a read-committed transaction, or joins the one already on
// ctx. Row locks provide the isolation the routing paths need.
func (t *PgTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ConnFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LockTransactor is the in-process Transactor used with the memory stores.
// It opens a lock.Scope so that keyed row locks live until fn returns. It
// cannot roll back writes, so callers validate before they write.
type LockTransactor struct{}

func NewLockTransactor() *LockTransactor {
	return &LockTransactor{}
}

func (LockTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if lock.ScopeFromContext(ctx) != nil {
		return fn(ctx)
	}
	ctx, release := lock.WithScope(ctx)
	defer release()
	return fn(ctx)
}
