package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// DBTxKey is the context key under which an open transaction is stored.
const DBTxKey contextKey = "db_tx"

// TxFromContext retrieves the open transaction from context, if any.
// Repositories prefer it over the tenant connection so that multi-step
// operations share a single transaction.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx runs fn inside a transaction and commits it when fn returns nil.
// The transaction is opened on the tenant-scoped connection from context so
// it inherits the request's search_path; it falls back to a Beginner (the
// pool) when no request connection is present, e.g. in CLI commands.
//
// fn receives a derived context carrying the transaction; any repository
// call made with that context participates in it. A non-nil error from fn
// rolls everything back.
func WithTx(ctx context.Context, beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}, fn func(ctx context.Context) error) error {
	if tx := TxFromContext(ctx); tx != nil {
		// Already inside a transaction; nest via savepoint.
		nested, err := tx.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin nested transaction: %w", err)
		}
		if err := fn(context.WithValue(ctx, DBTxKey, nested)); err != nil {
			_ = nested.Rollback(ctx)
			return err
		}
		return nested.Commit(ctx)
	}

	var begin interface {
		Begin(ctx context.Context) (pgx.Tx, error)
	} = beginner
	if conn := ConnFromContext(ctx); conn != nil {
		begin = conn
	}

	tx, err := begin.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(context.WithValue(ctx, DBTxKey, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
