package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"walletledger/internal/auth"
	"walletledger/internal/config"
	"walletledger/internal/models"
	"walletledger/internal/services"
	"walletledger/internal/store"
	"walletledger/internal/websocket"

	"github.com/jmoiron/sqlx"
)

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubReconcileDB struct {
	selectFn func(ctx context.Context, dest any, query string, args ...any) error
}

func (s stubReconcileDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	if s.selectFn == nil {
		return nil
	}
	return s.selectFn(ctx, dest, query, args...)
}

type stubWalletStore struct {
	createFn     func(ctx context.Context, tx store.Execer, id, userID, currency string) error
	getByUserFn  func(ctx context.Context, userID string) (models.Wallet, error)
	getByIDFn    func(ctx context.Context, walletID string) (models.Wallet, error)
	deactivateFn func(ctx context.Context, tx store.Execer, walletID string) (int64, error)
	summaryFn    func(ctx context.Context, userID string) (store.BalanceSummary, error)
	listAllFn    func(ctx context.Context, limit, offset int) ([]models.Wallet, error)
}

func (s stubWalletStore) Create(ctx context.Context, tx store.Execer, id, userID, currency string) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, id, userID, currency)
}

func (s stubWalletStore) GetByUser(ctx context.Context, userID string) (models.Wallet, error) {
	if s.getByUserFn == nil {
		return models.Wallet{}, nil
	}
	return s.getByUserFn(ctx, userID)
}

func (s stubWalletStore) GetByID(ctx context.Context, walletID string) (models.Wallet, error) {
	if s.getByIDFn == nil {
		return models.Wallet{}, nil
	}
	return s.getByIDFn(ctx, walletID)
}

func (s stubWalletStore) Deactivate(ctx context.Context, tx store.Execer, walletID string) (int64, error) {
	if s.deactivateFn == nil {
		return 1, nil
	}
	return s.deactivateFn(ctx, tx, walletID)
}

func (s stubWalletStore) Summary(ctx context.Context, userID string) (store.BalanceSummary, error) {
	if s.summaryFn == nil {
		return store.BalanceSummary{}, nil
	}
	return s.summaryFn(ctx, userID)
}

func (s stubWalletStore) ListAll(ctx context.Context, limit, offset int) ([]models.Wallet, error) {
	if s.listAllFn == nil {
		return nil, nil
	}
	return s.listAllFn(ctx, limit, offset)
}

type stubTransactionStore struct {
	listByWalletFn func(ctx context.Context, walletID, txType string, limit, offset int) ([]models.Transaction, error)
	listFlaggedFn  func(ctx context.Context, limit, offset int) ([]models.Transaction, error)
	listAllFn      func(ctx context.Context, limit, offset int) ([]models.Transaction, error)
}

func (s stubTransactionStore) ListByWallet(ctx context.Context, walletID, txType string, limit, offset int) ([]models.Transaction, error) {
	if s.listByWalletFn == nil {
		return nil, nil
	}
	return s.listByWalletFn(ctx, walletID, txType, limit, offset)
}

func (s stubTransactionStore) ListFlagged(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	if s.listFlaggedFn == nil {
		return nil, nil
	}
	return s.listFlaggedFn(ctx, limit, offset)
}

func (s stubTransactionStore) ListAll(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	if s.listAllFn == nil {
		return nil, nil
	}
	return s.listAllFn(ctx, limit, offset)
}

type stubAuditStore struct {
	logFn  func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	listFn func(ctx context.Context, limit, offset int) ([]map[string]any, error)
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

func (s stubAuditStore) List(ctx context.Context, limit, offset int) ([]map[string]any, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

type stubProcessor struct {
	submitFn func(ctx context.Context, intent services.Intent) (models.Transaction, error)
}

func (s stubProcessor) Submit(ctx context.Context, intent services.Intent) (models.Transaction, error) {
	if s.submitFn == nil {
		return models.Transaction{}, nil
	}
	return s.submitFn(ctx, intent)
}

type stubSweeper struct {
	sweepFn  func(ctx context.Context) (int, error)
	rescanFn func(ctx context.Context, window time.Duration) (int, error)
}

func (s stubSweeper) SweepStale(ctx context.Context) (int, error) {
	if s.sweepFn == nil {
		return 0, nil
	}
	return s.sweepFn(ctx)
}

func (s stubSweeper) Rescan(ctx context.Context, window time.Duration) (int, error) {
	if s.rescanFn == nil {
		return 0, nil
	}
	return s.rescanFn(ctx, window)
}

func newTestHandler(reconcileDB store.Selecter, txRunner fakeTxRunner, wallets WalletStore, transactions TransactionStore, audit AuditStore, processor Processor, sweeper Sweeper) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		JWTSecret:      "secret",
		AllowedOrigins: "*",
	}
	return New(reconcileDB, txRunner, cfg, wallets, transactions, audit, processor, sweeper, websocket.NewHub())
}

func authedRequest(t *testing.T, method, target string, body io.Reader, userID string, admin bool) *http.Request {
	t.Helper()
	var token string
	var err error
	if admin {
		token, err = auth.GenerateAdminToken("secret", userID, time.Minute)
	} else {
		token, err = auth.GenerateToken("secret", userID, time.Minute)
	}
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func serveRoutes(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}

func stringPtr(value string) *string {
	return &value
}
