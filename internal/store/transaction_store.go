package store

import (
	"context"
	"fmt"
	"time"

	"walletledger/internal/models"
)

type TransactionStore struct {
	db DB
}

type TransactionInput struct {
	ID                string
	WalletID          string
	Type              string
	Amount            int64
	Currency          string
	Description       *string
	RecipientWalletID *string
}

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// Create inserts the intent record in PENDING. The status flip happens exactly
// once via Finalize.
func (s *TransactionStore) Create(ctx context.Context, tx Execer, input TransactionInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, wallet_id, type, status, amount, currency, description, recipient_wallet_id, flagged)
		VALUES ($1, $2, $3, 'PENDING', $4, $5, $6, $7, FALSE)
	`, input.ID, input.WalletID, input.Type, input.Amount, input.Currency, input.Description, input.RecipientWalletID)
	return err
}

// Finalize moves a PENDING transaction to its terminal status and records the
// fraud verdict in the same statement. Returns the number of rows moved; zero
// means the transaction had already reached a terminal state.
func (s *TransactionStore) Finalize(ctx context.Context, tx Execer, transactionID, status string, failureReason *string, flagged bool, flagReason *string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, failure_reason = $2, flagged = $3, flag_reason = $4
		WHERE id = $5 AND status = 'PENDING'
	`, status, failureReason, flagged, flagReason, transactionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *TransactionStore) GetByID(ctx context.Context, transactionID string) (models.Transaction, error) {
	var row models.Transaction
	err := s.db.GetContext(ctx, &row, `
		SELECT id, wallet_id, type, status, amount, currency, description, recipient_wallet_id,
		       failure_reason, flagged, flag_reason, created_at
		FROM transactions
		WHERE id = $1
	`, transactionID)
	if err != nil {
		return models.Transaction{}, err
	}
	return row, nil
}

// ListByWallet returns history most-recent-first. Transfers show up in both
// parties' histories: the source by wallet_id, the recipient by
// recipient_wallet_id.
func (s *TransactionStore) ListByWallet(ctx context.Context, walletID, txType string, limit, offset int) ([]models.Transaction, error) {
	query := `
		SELECT id, wallet_id, type, status, amount, currency, description, recipient_wallet_id,
		       failure_reason, flagged, flag_reason, created_at
		FROM transactions
		WHERE (wallet_id = $1 OR recipient_wallet_id = $1)
	`
	args := []any{walletID}
	param := 2
	if txType != "" {
		query += " AND type = $2"
		args = append(args, txType)
		param = 3
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", param, param+1)
	args = append(args, limit, offset)
	var rows []models.Transaction
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *TransactionStore) CountCompletedSince(ctx context.Context, walletID string, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*)
		FROM transactions
		WHERE wallet_id = $1 AND status = 'COMPLETED' AND created_at >= $2
	`, walletID, since)
	return count, err
}

func (s *TransactionStore) SumCompletedSince(ctx context.Context, walletID string, since time.Time) (int64, error) {
	var sum int64
	err := s.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE wallet_id = $1 AND status = 'COMPLETED' AND created_at >= $2
	`, walletID, since)
	return sum, err
}

// ListStalePending feeds the sweeper: PENDING rows older than the processing
// deadline that must be forced to FAILED.
func (s *TransactionStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, wallet_id, type, status, amount, currency, description, recipient_wallet_id,
		       failure_reason, flagged, flag_reason, created_at
		FROM transactions
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *TransactionStore) ListFlagged(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, wallet_id, type, status, amount, currency, description, recipient_wallet_id,
		       failure_reason, flagged, flag_reason, created_at
		FROM transactions
		WHERE flagged
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *TransactionStore) ListCompletedSince(ctx context.Context, since time.Time, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, wallet_id, type, status, amount, currency, description, recipient_wallet_id,
		       failure_reason, flagged, flag_reason, created_at
		FROM transactions
		WHERE status = 'COMPLETED' AND NOT flagged AND created_at >= $1
		ORDER BY created_at
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *TransactionStore) ListAll(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, wallet_id, type, status, amount, currency, description, recipient_wallet_id,
		       failure_reason, flagged, flag_reason, created_at
		FROM transactions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
