package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/eyeclinic/clinic/internal/platform/db/dbtest"
)

// stubTx satisfies pgx.Tx; the nested path never calls its methods.
type stubTx struct {
	pgx.Tx
}

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil tx, got %v", tx)
	}
}

func TestConn_FallsBackWithoutTx(t *testing.T) {
	var fallback Querier = &stubTx{}
	if got := Conn(context.Background(), fallback); got != fallback {
		t.Error("expected fallback querier")
	}
}

func TestConn_PrefersTx(t *testing.T) {
	tx := &stubTx{}
	ctx := WithTx(context.Background(), tx)
	if got := Conn(ctx, &stubTx{}); got != tx {
		t.Error("expected transaction from context")
	}
}

func TestRunInTx_NestedReusesOuter(t *testing.T) {
	tx := &stubTx{}
	ctx := WithTx(context.Background(), tx)

	called := false
	// A nil pool would panic if RunInTx tried to begin a new transaction.
	err := RunInTx(ctx, nil, func(inner context.Context) error {
		called = true
		if TxFromContext(inner) != tx {
			t.Error("expected the outer transaction to be reused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected fn to be called")
	}
}

func TestRunInTx_NestedPropagatesError(t *testing.T) {
	ctx := WithTx(context.Background(), &stubTx{})
	want := errors.New("boom")
	err := NewTxManager(nil).RunInTx(ctx, func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}

func TestAfterCommit_NoTxRunsImmediately(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func(context.Context) { ran = true })
	if !ran {
		t.Error("expected hook to run without a transaction")
	}
}

func TestAfterCommit_DeferredInsideTx(t *testing.T) {
	ctx := WithTx(context.Background(), &stubTx{})
	ran := false
	AfterCommit(ctx, func(context.Context) { ran = true })
	if ran {
		t.Error("expected hook to wait for commit")
	}
	st := ctx.Value(TxKey).(*txState)
	if len(st.hooks) != 1 {
		t.Fatalf("expected 1 pending hook, got %d", len(st.hooks))
	}
	st.hooks[0](context.Background())
	if !ran {
		t.Error("expected hook to run when invoked")
	}
}

func TestRunInTx_HooksRunAfterCommitWithoutTx(t *testing.T) {
	b := &dbtest.Beginner{}
	pool := &stubTx{}

	var inside Querier
	var got Querier
	err := RunInTx(context.Background(), b, func(ctx context.Context) error {
		inside = Conn(ctx, pool)
		AfterCommit(ctx, func(hookCtx context.Context) {
			if b.Commits() != 1 {
				t.Error("hook ran before commit")
			}
			got = Conn(hookCtx, pool)
		})
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inside == Querier(pool) {
		t.Error("expected the transaction inside fn")
	}
	if got != Querier(pool) {
		t.Error("post-commit hook must read through the pool, not the committed transaction")
	}
	if b.Rollbacks() != 0 {
		t.Errorf("expected no rollback, got %d", b.Rollbacks())
	}
}

func TestRunInTx_NestedHooksWaitForOuterCommit(t *testing.T) {
	b := &dbtest.Beginner{}
	var order []string
	err := NewTxManager(b).RunInTx(context.Background(), func(ctx context.Context) error {
		err := RunInTx(ctx, b, func(inner context.Context) error {
			AfterCommit(inner, func(hookCtx context.Context) {
				if TxFromContext(hookCtx) != nil {
					t.Error("hook context still carries a transaction")
				}
				order = append(order, "hook")
			})
			return nil
		})
		order = append(order, "outer")
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "outer" || order[1] != "hook" {
		t.Errorf("expected hook after the outer unit, got %v", order)
	}
	if b.Commits() != 1 {
		t.Errorf("expected one commit, got %d", b.Commits())
	}
}

func TestRunInTx_RollbackDropsHooks(t *testing.T) {
	b := &dbtest.Beginner{}
	want := errors.New("insert failed")
	ran := false
	err := RunInTx(context.Background(), b, func(ctx context.Context) error {
		AfterCommit(ctx, func(context.Context) { ran = true })
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if ran {
		t.Error("hook must not run after rollback")
	}
	if b.Commits() != 0 || b.Rollbacks() != 1 {
		t.Errorf("expected 0 commits and 1 rollback, got %d/%d", b.Commits(), b.Rollbacks())
	}
}

func TestRunInTx_CommitFailureDropsHooks(t *testing.T) {
	b := &dbtest.Beginner{CommitErr: errors.New("serialization failure")}
	ran := false
	err := RunInTx(context.Background(), b, func(ctx context.Context) error {
		AfterCommit(ctx, func(context.Context) { ran = true })
		return nil
	})
	if err == nil {
		t.Fatal("expected commit error")
	}
	if ran {
		t.Error("hook must not run when commit fails")
	}
}
