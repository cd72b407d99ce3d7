package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"walletledger/internal/models"
)

func TestWalletStoreCreate(t *testing.T) {
	ctx := context.Background()
	called := false
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO wallets") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 3 || args[0] != "w1" || args[1] != "u1" || args[2] != "USD" {
				t.Fatalf("unexpected args: %#v", args)
			}
			called = true
			return stubResult{rows: 1}, nil
		},
	}
	store := NewWalletStore(stubDB{})
	if err := store.Create(ctx, execer, "w1", "u1", "USD"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected insert")
	}
}

func TestWalletStoreGetForUpdateLocksRow(t *testing.T) {
	ctx := context.Background()
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FOR UPDATE") {
				t.Fatalf("expected row lock, got query: %s", query)
			}
			*dest.(*models.Wallet) = models.Wallet{ID: "w1", Balance: 4200, Currency: "USD", IsActive: true}
			return nil
		},
	}
	store := NewWalletStore(stubDB{})
	wallet, err := store.GetForUpdate(ctx, getter, "w1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wallet.Balance != 4200 {
		t.Fatalf("unexpected wallet: %#v", wallet)
	}
}

func TestWalletStoreUpdateBalance(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "UPDATE wallets") {
				t.Fatalf("unexpected query: %s", query)
			}
			if args[0] != int64(6000) || args[1] != "w1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewWalletStore(stubDB{})
	if err := store.UpdateBalance(ctx, execer, "w1", 6000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWalletStoreDeactivateOnlyActive(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "is_active = FALSE") || !strings.Contains(query, "AND is_active") {
				t.Fatalf("unexpected query: %s", query)
			}
			return stubResult{rows: 0}, nil
		},
	}
	store := NewWalletStore(stubDB{})
	rows, err := store.Deactivate(ctx, execer, "w1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows != 0 {
		t.Fatalf("expected no rows for already-inactive wallet, got %d", rows)
	}
}

func TestWalletStoreSummary(t *testing.T) {
	ctx := context.Background()
	store := NewWalletStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "LEFT JOIN entries") {
				t.Fatalf("unexpected query: %s", query)
			}
			*dest.(*BalanceSummary) = BalanceSummary{ID: "w1", StoredBalance: 100, CalculatedBalance: 100}
			return nil
		},
	})
	summary, err := store.Summary(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Difference != 0 {
		t.Fatalf("unexpected summary: %#v", summary)
	}
}
