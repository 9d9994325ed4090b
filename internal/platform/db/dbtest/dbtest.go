// Package dbtest provides an in-memory transaction source for service tests
// that run against mock repositories.
package dbtest

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
)

// Beginner hands out Tx values and counts how they end. Set CommitErr to
// make the next commits fail.
type Beginner struct {
	mu        sync.Mutex
	CommitErr error
	commits   int
	rollbacks int
}

func (b *Beginner) Begin(context.Context) (pgx.Tx, error) {
	return &Tx{b: b}, nil
}

func (b *Beginner) Commits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.commits
}

func (b *Beginner) Rollbacks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rollbacks
}

// Tx implements the commit and rollback half of pgx.Tx. Query methods are
// not implemented; repositories under test must not reach the database.
type Tx struct {
	pgx.Tx
	b      *Beginner
	closed bool
}

// Closed reports whether the transaction has committed or rolled back.
func (t *Tx) Closed() bool {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	return t.closed
}

func (t *Tx) Commit(context.Context) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	if t.b.CommitErr != nil {
		t.b.rollbacks++
		return t.b.CommitErr
	}
	t.b.commits++
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.b.rollbacks++
	return nil
}
