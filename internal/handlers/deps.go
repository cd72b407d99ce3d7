package handlers

import (
	"context"
	"time"

	"walletledger/internal/models"
	"walletledger/internal/services"
	"walletledger/internal/store"
)

type WalletStore interface {
	Create(ctx context.Context, tx store.Execer, id, userID, currency string) error
	GetByUser(ctx context.Context, userID string) (models.Wallet, error)
	GetByID(ctx context.Context, walletID string) (models.Wallet, error)
	Deactivate(ctx context.Context, tx store.Execer, walletID string) (int64, error)
	Summary(ctx context.Context, userID string) (store.BalanceSummary, error)
	ListAll(ctx context.Context, limit, offset int) ([]models.Wallet, error)
}

type TransactionStore interface {
	ListByWallet(ctx context.Context, walletID, txType string, limit, offset int) ([]models.Transaction, error)
	ListFlagged(ctx context.Context, limit, offset int) ([]models.Transaction, error)
	ListAll(ctx context.Context, limit, offset int) ([]models.Transaction, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	List(ctx context.Context, limit, offset int) ([]map[string]any, error)
}

type Processor interface {
	Submit(ctx context.Context, intent services.Intent) (models.Transaction, error)
}

type Sweeper interface {
	SweepStale(ctx context.Context) (int, error)
	Rescan(ctx context.Context, window time.Duration) (int, error)
}
