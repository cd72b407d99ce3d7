package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"walletledger/internal/db"
	"walletledger/internal/fraud"
	"walletledger/internal/guard"
	"walletledger/internal/models"
	"walletledger/internal/money"
	"walletledger/internal/store"
	"walletledger/internal/websocket"
	"walletledger/internal/worker"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrWalletInactive    = errors.New("wallet inactive")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrCurrencyMismatch  = errors.New("currency mismatch")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrInvalidRecipient  = errors.New("invalid recipient")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidIntent     = errors.New("invalid transaction intent")
	// ErrBusy is retryable: the guard timed out before any balance effect, so
	// resubmitting the same intent is safe.
	ErrBusy = errors.New("wallet busy")
)

const (
	reasonBusy              = "busy"
	reasonInsufficientFunds = "insufficient_funds"
	reasonWalletInactive    = "wallet_inactive"
	reasonStoreFailure      = "store_failure"
)

type WalletStore interface {
	GetByUser(ctx context.Context, userID string) (models.Wallet, error)
	GetForUpdate(ctx context.Context, tx store.Getter, walletID string) (models.Wallet, error)
	UpdateBalance(ctx context.Context, tx store.Execer, walletID string, balance int64) error
}

type TransactionStore interface {
	Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error
	Finalize(ctx context.Context, tx store.Execer, transactionID, status string, failureReason *string, flagged bool, flagReason *string) (int64, error)
	GetByID(ctx context.Context, transactionID string) (models.Transaction, error)
	CountCompletedSince(ctx context.Context, walletID string, since time.Time) (int, error)
	SumCompletedSince(ctx context.Context, walletID string, since time.Time) (int64, error)
}

type EntryStore interface {
	InsertEntries(ctx context.Context, tx store.Execer, entries []store.EntryInput) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

type Guard interface {
	Acquire(ctx context.Context, walletIDs ...string) (func(), error)
}

type Screen interface {
	Evaluate(ctx context.Context, check fraud.Check, history fraud.Snapshot) fraud.Verdict
}

type BalanceHub interface {
	BroadcastBalance(userID string, update websocket.BalanceUpdate)
}

type ReviewQueue interface {
	Submit(job worker.ReviewJob) bool
}

type Intent struct {
	UserID          string
	Type            string
	AmountMinor     int64
	Currency        string
	Description     *string
	RecipientUserID *string
}

type Processor struct {
	txRunner       db.TxRunner
	wallets        WalletStore
	transactions   TransactionStore
	entries        EntryStore
	audit          AuditStore
	guard          Guard
	screen         Screen
	hub            BalanceHub
	review         ReviewQueue
	deadline       time.Duration
	velocityWindow time.Duration
}

func NewProcessor(txRunner db.TxRunner, wallets WalletStore, transactions TransactionStore, entries EntryStore, audit AuditStore, g Guard, screen Screen, hub BalanceHub, review ReviewQueue, deadline, velocityWindow time.Duration) *Processor {
	return &Processor{
		txRunner:       txRunner,
		wallets:        wallets,
		transactions:   transactions,
		entries:        entries,
		audit:          audit,
		guard:          g,
		screen:         screen,
		hub:            hub,
		review:         review,
		deadline:       deadline,
		velocityWindow: velocityWindow,
	}
}

// Submit runs an intent to a terminal state. Every return is either a
// COMPLETED transaction, a FAILED transaction paired with the reason, or a
// validation error raised before any record was written.
func (p *Processor) Submit(ctx context.Context, intent Intent) (models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	if intent.AmountMinor <= 0 {
		return models.Transaction{}, ErrInvalidAmount
	}

	source, err := p.wallets.GetByUser(ctx, intent.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Transaction{}, ErrWalletNotFound
		}
		return models.Transaction{}, fmt.Errorf("resolve wallet: %w", err)
	}
	if !source.IsActive {
		return models.Transaction{}, ErrWalletInactive
	}
	if intent.Currency != source.Currency {
		return models.Transaction{}, ErrCurrencyMismatch
	}

	var recipient *models.Wallet
	switch intent.Type {
	case models.TypeDeposit, models.TypeWithdrawal:
		if intent.RecipientUserID != nil {
			return models.Transaction{}, ErrInvalidRecipient
		}
	case models.TypeTransfer:
		if intent.RecipientUserID == nil || *intent.RecipientUserID == intent.UserID {
			return models.Transaction{}, ErrInvalidRecipient
		}
		resolved, err := p.wallets.GetByUser(ctx, *intent.RecipientUserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return models.Transaction{}, ErrRecipientNotFound
			}
			return models.Transaction{}, fmt.Errorf("resolve recipient: %w", err)
		}
		if resolved.ID == source.ID || !resolved.IsActive {
			return models.Transaction{}, ErrInvalidRecipient
		}
		if resolved.Currency != intent.Currency {
			return models.Transaction{}, ErrCurrencyMismatch
		}
		recipient = &resolved
	default:
		return models.Transaction{}, ErrInvalidIntent
	}

	transactionID := uuid.NewString()
	input := store.TransactionInput{
		ID:          transactionID,
		WalletID:    source.ID,
		Type:        intent.Type,
		Amount:      intent.AmountMinor,
		Currency:    intent.Currency,
		Description: intent.Description,
	}
	if recipient != nil {
		input.RecipientWalletID = &recipient.ID
	}
	err = p.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := p.transactions.Create(ctx, tx, input); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]string{"type": intent.Type, "wallet_id": source.ID})
		return p.audit.Log(ctx, tx, intent.UserID, "submit", "transaction", transactionID, string(data))
	})
	if err != nil {
		return models.Transaction{}, fmt.Errorf("persist intent: %w", err)
	}

	guardIDs := []string{source.ID}
	if recipient != nil {
		guardIDs = append(guardIDs, recipient.ID)
	}
	release, err := p.guard.Acquire(ctx, guardIDs...)
	if err != nil {
		if errors.Is(err, guard.ErrBusy) {
			return p.fail(intent.UserID, transactionID, reasonBusy, ErrBusy)
		}
		return p.fail(intent.UserID, transactionID, reasonBusy, fmt.Errorf("acquire guard: %w", err))
	}
	defer release()

	verdict := p.screen.Evaluate(ctx, fraud.Check{
		WalletID:          source.ID,
		Type:              intent.Type,
		AmountMinor:       intent.AmountMinor,
		Currency:          intent.Currency,
		RecipientWalletID: derefString(input.RecipientWalletID),
	}, p.loadSnapshot(ctx, source.ID))

	outcome, err := p.settle(ctx, intent, input, recipient, verdict)
	if err != nil {
		return p.fail(intent.UserID, transactionID, reasonStoreFailure, fmt.Errorf("settle: %w", err))
	}
	if outcome.failReason != "" {
		final, err := p.transactions.GetByID(context.WithoutCancel(ctx), transactionID)
		if err != nil {
			log.Printf("unable to load failed transaction %s: %v", transactionID, err)
			failReason := outcome.failReason
			final = models.Transaction{
				ID:                transactionID,
				WalletID:          source.ID,
				Type:              intent.Type,
				Status:            models.StatusFailed,
				Amount:            intent.AmountMinor,
				Currency:          intent.Currency,
				Description:       intent.Description,
				RecipientWalletID: input.RecipientWalletID,
				FailureReason:     &failReason,
			}
		}
		return final, outcome.err
	}

	p.hub.BroadcastBalance(intent.UserID, websocket.BalanceUpdate{
		WalletID: source.ID,
		Balance:  money.FormatMinor(outcome.sourceBalance),
		Currency: source.Currency,
	})
	if recipient != nil {
		p.hub.BroadcastBalance(recipient.UserID, websocket.BalanceUpdate{
			WalletID: recipient.ID,
			Balance:  money.FormatMinor(outcome.recipientBalance),
			Currency: recipient.Currency,
		})
	}

	final, err := p.transactions.GetByID(context.WithoutCancel(ctx), transactionID)
	if err != nil {
		// The commit stuck; reconstruct the record rather than failing a
		// settled transaction.
		final = models.Transaction{
			ID:                transactionID,
			WalletID:          source.ID,
			Type:              intent.Type,
			Status:            models.StatusCompleted,
			Amount:            intent.AmountMinor,
			Currency:          intent.Currency,
			Description:       intent.Description,
			RecipientWalletID: input.RecipientWalletID,
			Flagged:           verdict.Flagged,
		}
		if verdict.Reason != "" {
			final.FlagReason = &verdict.Reason
		}
	}
	if final.Flagged {
		p.review.Submit(worker.ReviewJob{Transaction: final})
	}
	return final, nil
}

type settleOutcome struct {
	sourceBalance    int64
	recipientBalance int64
	failReason       string
	err              error
}

// settle applies the balance delta(s), the status flip, the double-entry rows
// and the audit record in one atomic store commit. Business failures found
// under the guard (insufficient funds, deactivated wallet) finalize FAILED
// inside the same commit and report through outcome rather than error, so the
// FAILED record survives for audit.
func (p *Processor) settle(ctx context.Context, intent Intent, input store.TransactionInput, recipient *models.Wallet, verdict fraud.Verdict) (settleOutcome, error) {
	var outcome settleOutcome
	err := p.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		outcome = settleOutcome{}
		fail := func(reason string, cause error) error {
			failReason := reason
			if _, err := p.transactions.Finalize(ctx, tx, input.ID, models.StatusFailed, &failReason, false, nil); err != nil {
				return err
			}
			outcome.failReason = reason
			outcome.err = cause
			return nil
		}

		var source, locked models.Wallet
		var err error
		if recipient != nil {
			source, locked, err = lockPair(ctx, tx, p.wallets, input.WalletID, recipient.ID)
		} else {
			source, err = p.wallets.GetForUpdate(ctx, tx, input.WalletID)
		}
		if err != nil {
			return err
		}
		if !source.IsActive {
			return fail(reasonWalletInactive, ErrWalletInactive)
		}
		if recipient != nil && !locked.IsActive {
			return fail(reasonWalletInactive, ErrInvalidRecipient)
		}

		needsFunds := intent.Type != models.TypeDeposit
		if needsFunds && source.Balance < intent.AmountMinor {
			return fail(reasonInsufficientFunds, ErrInsufficientFunds)
		}

		var entries []store.EntryInput
		switch intent.Type {
		case models.TypeDeposit:
			outcome.sourceBalance = source.Balance + intent.AmountMinor
			entries = append(entries, entry(input.ID, source.ID, intent.AmountMinor, intent.Currency, "Deposit credit"))
		case models.TypeWithdrawal:
			outcome.sourceBalance = source.Balance - intent.AmountMinor
			entries = append(entries, entry(input.ID, source.ID, -intent.AmountMinor, intent.Currency, "Withdrawal debit"))
		case models.TypeTransfer:
			outcome.sourceBalance = source.Balance - intent.AmountMinor
			outcome.recipientBalance = locked.Balance + intent.AmountMinor
			entries = append(entries,
				entry(input.ID, source.ID, -intent.AmountMinor, intent.Currency, "Transfer debit"),
				entry(input.ID, locked.ID, intent.AmountMinor, intent.Currency, "Transfer credit"),
			)
			if err := ensureBalanced(entries); err != nil {
				return err
			}
		}

		if err := p.wallets.UpdateBalance(ctx, tx, source.ID, outcome.sourceBalance); err != nil {
			return err
		}
		if recipient != nil {
			if err := p.wallets.UpdateBalance(ctx, tx, locked.ID, outcome.recipientBalance); err != nil {
				return err
			}
		}
		var flagReason *string
		if verdict.Reason != "" {
			flagReason = &verdict.Reason
		}
		moved, err := p.transactions.Finalize(ctx, tx, input.ID, models.StatusCompleted, nil, verdict.Flagged, flagReason)
		if err != nil {
			return err
		}
		if moved == 0 {
			return errors.New("transaction already finalized")
		}
		if err := p.entries.InsertEntries(ctx, tx, entries); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]string{"status": models.StatusCompleted})
		return p.audit.Log(ctx, tx, intent.UserID, "settle", "transaction", input.ID, string(data))
	})
	return outcome, err
}

// fail finalizes the transaction as FAILED outside the caller's (possibly
// expired) context. A transaction the processor touched never stays PENDING.
func (p *Processor) fail(userID, transactionID, reason string, cause error) (models.Transaction, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		failReason := reason
		if _, err := p.transactions.Finalize(ctx, tx, transactionID, models.StatusFailed, &failReason, false, nil); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]string{"reason": reason})
		return p.audit.Log(ctx, tx, userID, "fail", "transaction", transactionID, string(data))
	})
	if err != nil {
		// The sweeper forces stale PENDING rows to FAILED later.
		log.Printf("unable to finalize transaction %s as FAILED: %v", transactionID, err)
	}
	final, getErr := p.transactions.GetByID(ctx, transactionID)
	if getErr != nil {
		log.Printf("unable to load failed transaction %s: %v", transactionID, getErr)
		failReason := reason
		final = models.Transaction{ID: transactionID, Status: models.StatusFailed, FailureReason: &failReason}
	}
	return final, cause
}

func (p *Processor) loadSnapshot(ctx context.Context, walletID string) fraud.Snapshot {
	var snapshot fraud.Snapshot
	now := time.Now()
	count, err := p.transactions.CountCompletedSince(ctx, walletID, now.Add(-p.velocityWindow))
	if err != nil {
		log.Printf("fraud snapshot count failed for wallet %s: %v", walletID, err)
	} else {
		snapshot.RecentCount = count
	}
	total, err := p.transactions.SumCompletedSince(ctx, walletID, now.Add(-24*time.Hour))
	if err != nil {
		log.Printf("fraud snapshot sum failed for wallet %s: %v", walletID, err)
	} else {
		snapshot.DayTotalMinor = total
	}
	return snapshot
}

// lockPair locks two wallets in ascending id order so opposing transfers
// cannot deadlock inside the store either.
func lockPair(ctx context.Context, tx store.Getter, wallets WalletStore, firstID, secondID string) (models.Wallet, models.Wallet, error) {
	leftID, rightID := firstID, secondID
	if leftID > rightID {
		leftID, rightID = rightID, leftID
	}
	left, err := wallets.GetForUpdate(ctx, tx, leftID)
	if err != nil {
		return models.Wallet{}, models.Wallet{}, err
	}
	right, err := wallets.GetForUpdate(ctx, tx, rightID)
	if err != nil {
		return models.Wallet{}, models.Wallet{}, err
	}
	if firstID == leftID {
		return left, right, nil
	}
	return right, left, nil
}

func entry(transactionID, walletID string, amount int64, currency, description string) store.EntryInput {
	return store.EntryInput{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		WalletID:      walletID,
		Amount:        amount,
		Currency:      currency,
		Description:   description,
	}
}

func ensureBalanced(entries []store.EntryInput) error {
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	if sum != 0 {
		return errors.New("transfer entries are not balanced")
	}
	return nil
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
