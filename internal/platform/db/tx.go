package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type contextKey string

const TxKey contextKey = "db_tx"

// Querier is the subset of pgx shared by the pool and a transaction.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// TxRunner runs fn so that every repository call made with the context it
// receives commits or rolls back as one unit.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type txState struct {
	tx    pgx.Tx
	hooks []func(ctx context.Context)
}

// WithTx returns a context carrying tx. RunInTx uses it; tests use it to
// exercise the nested path.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, TxKey, &txState{tx: tx})
}

// TxFromContext returns the transaction started by RunInTx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	if st, ok := ctx.Value(TxKey).(*txState); ok {
		return st.tx
	}
	return nil
}

// Conn returns the transaction carried by ctx if there is one, otherwise fallback.
func Conn(ctx context.Context, fallback Querier) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return fallback
}

// AfterCommit defers fn until the outermost transaction in ctx commits. It is
// dropped on rollback. fn receives the context RunInTx was called with, so
// reads it makes go to the pool rather than the finished transaction.
// Without a transaction fn runs immediately with ctx.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if st, ok := ctx.Value(TxKey).(*txState); ok {
		st.hooks = append(st.hooks, fn)
		return
	}
	fn(ctx)
}

// RunInTx begins a transaction on b, stores it in the context passed to fn
// and commits when fn returns nil. A context that already carries a
// transaction is reused, so nested calls join the outer unit of work.
func RunInTx(ctx context.Context, b Beginner, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	st := &txState{tx: tx}
	if err := fn(context.WithValue(ctx, TxKey, st)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	for _, hook := range st.hooks {
		hook(ctx)
	}
	return nil
}

// TxManager binds RunInTx to a pool so services can depend on TxRunner.
type TxManager struct {
	begin Beginner
}

func NewTxManager(b Beginner) *TxManager {
	return &TxManager{begin: b}
}

func (m *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return RunInTx(ctx, m.begin, fn)
}
