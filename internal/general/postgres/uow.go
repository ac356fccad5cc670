package postgres

import (
	"context"

	"ride-dispatch/internal/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// txCtxKey is unexported so only this package can place a tx in a context.
type txCtxKey struct{}

// unitOfWork runs repository calls inside one pgx transaction. Repositories
// pick the tx up from the context through TxFromContext, so a consumer
// handler can group ride writes and event rows atomically without the
// repositories knowing about each other.
type unitOfWork struct {
	pool *pgxpool.Pool
}

func NewUnitOfWork(pool *pgxpool.Pool) ports.UnitOfWork {
	return &unitOfWork{pool: pool}
}

// WithinTx runs fn inside a transaction carried on the context. A nested
// call joins the transaction already in flight rather than opening a second
// one. The transaction commits when fn returns nil and rolls back when fn
// returns an error or panics; panics are rethrown after the rollback.
func (uow *unitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := uow.pool.Begin(ctx)
	if err != nil {
		return err
	}

	done := false
	defer func() {
		if !done {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(context.WithValue(ctx, txCtxKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	done = true
	return nil
}

// TxFromContext reports the transaction opened by an enclosing WithinTx,
// if any.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txCtxKey{}).(pgx.Tx)
	return tx, ok
}
