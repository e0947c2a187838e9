package tx

import (
	"context"
	"database/sql"
	"fmt"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx runs fn inside a transaction on db. The transaction is rolled back
// when fn returns an error or the commit fails, so a multi-statement write
// never leaves partial rows behind. The transaction is also stashed in the
// context handed to fn for stores that read it back via From.
func WithTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx *sql.Tx) error) error {
	t, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = t.Rollback()
	}()

	if err := fn(Stash(ctx, t), t); err != nil {
		return err
	}
	if err := t.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Stash stores a SQL transaction in context for downstream store usage.
// Stores that support it write through the transaction instead of the pool,
// which is how a read-validate-write stays on one commit boundary.
func Stash(ctx context.Context, t *sql.Tx) context.Context {
	if t == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, t)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	t, ok := ctx.Value(txKey).(*sql.Tx)
	return t, ok
}
