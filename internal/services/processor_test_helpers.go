package services

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"walletledger/internal/models"
	"walletledger/internal/store"
	"walletledger/internal/websocket"
	"walletledger/internal/worker"

	"github.com/jmoiron/sqlx"
)

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

// memStore is a mutex-protected in-memory ledger backing the processor in
// tests. The guard serializes mutations, so it only has to be safe, not
// transactional.
type memStore struct {
	mu           sync.Mutex
	wallets      map[string]models.Wallet
	walletByUser map[string]string
	transactions map[string]models.Transaction
	entries      []store.EntryInput
	auditCount   int
}

func newMemStore() *memStore {
	return &memStore{
		wallets:      make(map[string]models.Wallet),
		walletByUser: make(map[string]string),
		transactions: make(map[string]models.Transaction),
	}
}

func (m *memStore) addWallet(w models.Wallet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[w.ID] = w
	m.walletByUser[w.UserID] = w.ID
}

func (m *memStore) wallet(id string) models.Wallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[id]
}

func (m *memStore) transaction(id string) (models.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactions[id]
	return txn, ok
}

func (m *memStore) transactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}

func (m *memStore) totalBalance() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, w := range m.wallets {
		sum += w.Balance
	}
	return sum
}

func (m *memStore) GetByUser(_ context.Context, userID string) (models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.walletByUser[userID]
	if !ok {
		return models.Wallet{}, sql.ErrNoRows
	}
	return m.wallets[id], nil
}

func (m *memStore) GetForUpdate(_ context.Context, _ store.Getter, walletID string) (models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok {
		return models.Wallet{}, sql.ErrNoRows
	}
	return w, nil
}

func (m *memStore) UpdateBalance(_ context.Context, _ store.Execer, walletID string, balance int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.wallets[walletID]
	w.Balance = balance
	m.wallets[walletID] = w
	return nil
}

func (m *memStore) Create(_ context.Context, _ store.Execer, input store.TransactionInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[input.ID] = models.Transaction{
		ID:                input.ID,
		WalletID:          input.WalletID,
		Type:              input.Type,
		Status:            models.StatusPending,
		Amount:            input.Amount,
		Currency:          input.Currency,
		Description:       input.Description,
		RecipientWalletID: input.RecipientWalletID,
		CreatedAt:         time.Now(),
	}
	return nil
}

func (m *memStore) Finalize(_ context.Context, _ store.Execer, transactionID, status string, failureReason *string, flagged bool, flagReason *string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactions[transactionID]
	if !ok || txn.Status != models.StatusPending {
		return 0, nil
	}
	txn.Status = status
	txn.FailureReason = failureReason
	txn.Flagged = flagged
	txn.FlagReason = flagReason
	m.transactions[transactionID] = txn
	return 1, nil
}

func (m *memStore) GetByID(_ context.Context, transactionID string) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactions[transactionID]
	if !ok {
		return models.Transaction{}, sql.ErrNoRows
	}
	return txn, nil
}

func (m *memStore) CountCompletedSince(_ context.Context, walletID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, txn := range m.transactions {
		if txn.WalletID == walletID && txn.Status == models.StatusCompleted && !txn.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) SumCompletedSince(_ context.Context, walletID string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, txn := range m.transactions {
		if txn.WalletID == walletID && txn.Status == models.StatusCompleted && !txn.CreatedAt.Before(since) {
			sum += txn.Amount
		}
	}
	return sum, nil
}

func (m *memStore) InsertEntries(_ context.Context, _ store.Execer, entries []store.EntryInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *memStore) Log(_ context.Context, _ store.Execer, _, _, _, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditCount++
	return nil
}

type stubHub struct {
	mu    sync.Mutex
	calls []websocket.BalanceUpdate
}

func (s *stubHub) BroadcastBalance(_ string, update websocket.BalanceUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, update)
}

func (s *stubHub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type stubReview struct {
	mu   sync.Mutex
	jobs []worker.ReviewJob
}

func (s *stubReview) Submit(job worker.ReviewJob) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return true
}
