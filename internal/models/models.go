package models

import "time"

const (
	TypeDeposit    = "DEPOSIT"
	TypeWithdrawal = "WITHDRAWAL"
	TypeTransfer   = "TRANSFER"
)

const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

type Wallet struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Currency  string    `db:"currency" json:"currency"`
	Balance   int64     `db:"balance" json:"-"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type Transaction struct {
	ID                string    `db:"id" json:"id"`
	WalletID          string    `db:"wallet_id" json:"wallet_id"`
	Type              string    `db:"type" json:"transaction_type"`
	Status            string    `db:"status" json:"status"`
	Amount            int64     `db:"amount" json:"-"`
	Currency          string    `db:"currency" json:"currency"`
	Description       *string   `db:"description" json:"description,omitempty"`
	RecipientWalletID *string   `db:"recipient_wallet_id" json:"recipient_wallet_id,omitempty"`
	FailureReason     *string   `db:"failure_reason" json:"failure_reason,omitempty"`
	Flagged           bool      `db:"flagged" json:"flagged"`
	FlagReason        *string   `db:"flag_reason" json:"flag_reason,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

type Entry struct {
	ID            string    `db:"id" json:"id"`
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
	WalletID      string    `db:"wallet_id" json:"wallet_id"`
	Amount        int64     `db:"amount" json:"amount"`
	Currency      string    `db:"currency" json:"currency"`
	Description   string    `db:"description" json:"description"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
