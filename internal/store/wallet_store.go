package store

import (
	"context"

	"walletledger/internal/models"
)

type WalletStore struct {
	db DB
}

// BalanceSummary compares the stored balance against the sum of committed
// entries for the wallet. The two drifting apart means a commit escaped the
// atomic unit and needs operational follow-up.
type BalanceSummary struct {
	ID                string `db:"id"`
	UserID            string `db:"user_id"`
	Currency          string `db:"currency"`
	StoredBalance     int64  `db:"stored_balance"`
	CalculatedBalance int64  `db:"calculated_balance"`
	Difference        int64  `db:"difference"`
	IsActive          bool   `db:"is_active"`
}

func NewWalletStore(db DB) *WalletStore {
	return &WalletStore{db: db}
}

func (s *WalletStore) Create(ctx context.Context, tx Execer, id, userID, currency string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, currency, balance, is_active)
		VALUES ($1, $2, $3, 0, TRUE)
	`, id, userID, currency)
	return err
}

func (s *WalletStore) GetByUser(ctx context.Context, userID string) (models.Wallet, error) {
	var row models.Wallet
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, currency, balance, is_active, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return models.Wallet{}, err
	}
	return row, nil
}

func (s *WalletStore) GetByID(ctx context.Context, walletID string) (models.Wallet, error) {
	var row models.Wallet
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, currency, balance, is_active, created_at, updated_at
		FROM wallets
		WHERE id = $1
	`, walletID)
	if err != nil {
		return models.Wallet{}, err
	}
	return row, nil
}

func (s *WalletStore) GetForUpdate(ctx context.Context, tx Getter, walletID string) (models.Wallet, error) {
	var row models.Wallet
	err := tx.GetContext(ctx, &row, `
		SELECT id, user_id, currency, balance, is_active, created_at, updated_at
		FROM wallets
		WHERE id = $1
		FOR UPDATE
	`, walletID)
	if err != nil {
		return models.Wallet{}, err
	}
	return row, nil
}

func (s *WalletStore) UpdateBalance(ctx context.Context, tx Execer, walletID string, balance int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $1, updated_at = NOW()
		WHERE id = $2
	`, balance, walletID)
	return err
}

func (s *WalletStore) Deactivate(ctx context.Context, tx Execer, walletID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND is_active
	`, walletID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *WalletStore) Summary(ctx context.Context, userID string) (BalanceSummary, error) {
	var row BalanceSummary
	err := s.db.GetContext(ctx, &row, `
		SELECT w.id,
		       w.user_id,
		       w.currency,
		       w.balance AS stored_balance,
		       COALESCE(SUM(e.amount), 0) AS calculated_balance,
		       (w.balance - COALESCE(SUM(e.amount), 0)) AS difference,
		       w.is_active
		FROM wallets w
		LEFT JOIN entries e ON e.wallet_id = w.id
		WHERE w.user_id = $1
		GROUP BY w.id, w.user_id, w.currency, w.balance, w.is_active
	`, userID)
	if err != nil {
		return BalanceSummary{}, err
	}
	return row, nil
}

func (s *WalletStore) ListAll(ctx context.Context, limit, offset int) ([]models.Wallet, error) {
	var rows []models.Wallet
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, currency, balance, is_active, created_at, updated_at
		FROM wallets
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
