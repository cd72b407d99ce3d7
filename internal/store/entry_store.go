package store

import "context"

type EntryStore struct {
	db DB
}

type EntryInput struct {
	ID            string
	TransactionID string
	WalletID      string
	Amount        int64
	Currency      string
	Description   string
}

func NewEntryStore(db DB) *EntryStore {
	return &EntryStore{db: db}
}

func (s *EntryStore) InsertEntries(ctx context.Context, tx Execer, entries []EntryInput) error {
	query := `
		INSERT INTO entries (id, transaction_id, wallet_id, amount, currency, description)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx, query, entry.ID, entry.TransactionID, entry.WalletID, entry.Amount, entry.Currency, entry.Description); err != nil {
			return err
		}
	}
	return nil
}

func (s *EntryStore) SumByWallet(ctx context.Context, walletID string) (int64, error) {
	var sum int64
	err := s.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount), 0)
		FROM entries
		WHERE wallet_id = $1
	`, walletID)
	return sum, err
}
