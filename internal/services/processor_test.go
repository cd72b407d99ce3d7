package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"walletledger/internal/fraud"
	"walletledger/internal/guard"
	"walletledger/internal/models"
	"walletledger/internal/store"
)

func testPolicy() fraud.ThresholdPolicy {
	return fraud.ThresholdPolicy{
		Limits: map[string]int64{
			models.TypeWithdrawal: 100000,
			models.TypeTransfer:   500000,
			models.TypeDeposit:    1000000,
		},
		VelocityMax:   5,
		DailyCapMinor: 2000000,
	}
}

func newTestProcessor(ms *memStore, g *guard.Guard) (*Processor, *stubHub, *stubReview) {
	hub := &stubHub{}
	review := &stubReview{}
	screen := fraud.NewScreen(testPolicy(), 200*time.Millisecond)
	if g == nil {
		g = guard.New(time.Second)
	}
	p := NewProcessor(fakeTxRunner{}, ms, ms, ms, ms, g, screen, hub, review, 2*time.Second, time.Minute)
	return p, hub, review
}

func activeWallet(id, userID string, balance int64) models.Wallet {
	return models.Wallet{ID: id, UserID: userID, Currency: "USD", Balance: balance, IsActive: true}
}

func TestSubmitRejectsNonPositiveAmount(t *testing.T) {
	ms := newMemStore()
	ms.addWallet(activeWallet("w1", "u1", 1000))
	p, _, _ := newTestProcessor(ms, nil)

	for _, amount := range []int64{0, -500} {
		_, err := p.Submit(context.Background(), Intent{UserID: "u1", Type: models.TypeDeposit, AmountMinor: amount, Currency: "USD"})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	if ms.transactionCount() != 0 {
		t.Fatal("validation failure must not write a transaction record")
	}
}

func TestSubmitWalletNotFound(t *testing.T) {
	p, _, _ := newTestProcessor(newMemStore(), nil)
	_, err := p.Submit(context.Background(), Intent{UserID: "ghost", Type: models.TypeDeposit, AmountMinor: 100, Currency: "USD"})
	if !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestSubmitInactiveWallet(t *testing.T) {
	ms := newMemStore()
	w := activeWallet("w1", "u1", 1000)
	w.IsActive = false
	ms.addWallet(w)
	p, _, _ := newTestProcessor(ms, nil)

	_, err := p.Submit(context.Background(), Intent{UserID: "u1", Type: models.TypeDeposit, AmountMinor: 100, Currency: "USD"})
	if !errors.Is(err, ErrWalletInactive) {
		t.Fatalf("expected ErrWalletInactive, got %v", err)
	}
}

func TestSubmitCurrencyMismatch(t *testing.T) {
	ms := newMemStore()
	ms.addWallet(activeWallet("w1", "u1", 1000))
	p, _, _ := newTestProcessor(ms, nil)

	_, err := p.Submit(context.Background(), Intent{UserID: "u1", Type: models.TypeDeposit, AmountMinor: 100, Currency: "EUR"})
	if !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
	if got := ms.wallet("w1").Balance; got != 1000 {
		t.Fatalf("balance must not move on rejection, got %d", got)
	}
}

func TestSubmitRecipientOnNonTransfer(t *testing.T) {
	ms := newMemStore()
	ms.addWallet(activeWallet("w1", "u1", 1000))
	p, _, _ := newTestProcessor(ms, nil)

	other := "u2"
	_, err := p.Submit(context.Background(), Intent{UserID: "u1", Type: models.TypeDeposit, AmountMinor: 100, Currency: "USD", RecipientUserID: &other})
	if !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("expected ErrInvalidRecipient, got %v", err)
	}
}

func TestSubmitTransferRecipientNotFound(t *testing.T) {
	ms := newMemStore()
	ms.addWallet(activeWallet("w1", "u1", 1000))
	p, _, _ := newTestProcessor(ms, nil)

	ghost := "ghost"
	_, err := p.Submit(context.Background(), Intent{UserID: "u1", Type: models.TypeTransfer, AmountMinor: 100, Currency: "USD", RecipientUserID: &ghost})
	if !errors.Is(err, ErrRecipientNotFound) {
		t.Fatalf("expected ErrRecipientNotFound, got %v", err)
	}
}

func TestSubmitSelfTransferRejected(t *testing.T) {
	ms := newMemStore()
	ms.addWallet(activeWallet("w1", "u1", 1000))
	p, _, _ := newTestProcessor(ms, nil)

	self := "u1"
	_, err := p.Submit(context.Background(), Intent{UserID: "u1", Type: models.TypeTransfer, AmountMinor: 100, Currency: "USD", RecipientUserID: &self})
	if !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("expected ErrInvalidRecipient, got %v", err)
	}
}

func TestSubmitTransferCurrencyMismatch(t *testing.T) {
	ms := newMemStore()
	ms.addWallet(activeWallet("w1", "u1", 1000))
	eur := activeWallet("w2", "u2", 0)
	eur.Currency = "EUR"
	ms.addWallet(eur)
	p, _, _ := newTestProcessor(ms, nil)

	recipient := "u2"
	_, err := p.Submit(context.Background(), Intent{UserID: "u1", Type: models.TypeTransfer, AmountMinor: 100, Currency: "USD", RecipientUserID: &recipient})
	if !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
	if ms.wallet("w1").Balance != 1000 || ms.wallet("w2").Balance != 0 {
		t.Fatal("neither balance may move on a rejected transfer")
	}
}

func TestSubmitDepositCompletes(t *testing.T) {
	ms := newMemStore()
	ms.addWallet(activeWallet("w1", "u1", 1000))
	p, hub, _ := newTestProcessor(ms, nil)

	final, err := p.Submit(context.Background(), Intent{UserID: "u1", Type: models.TypeDeposit, AmountMinor: 2500, Currency: "USD"})
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if final.Status != models.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", final.Status)
	}
	if got := ms.wallet("w1").Balance; got != 3500 {
		t.Fatalf("expected balance 3500, got %d", got)
	}
	if len(ms.entries) != 1 || ms.entries[0].Amount != 2500 {
		t.Fatalf("expected one credit entry of 2500, got %+v", ms.entries)
	}
	if hub.count() != 1 {
		t.Fatalf("expected one balance broadcast, got %d", hub.count())
	}
}

func TestSubmitWithdrawalInsufficientFundsRecordsFailed(t *testing.T) {
	ms := newMemStore()
	ms.addWallet(activeWallet("w1", "u1", 500))
	p, hub, _ := newTestProcessor(ms, nil)

	final, err := p.Submit(context.Background(), Intent{UserID: "u1", Type: models.TypeWithdrawal, AmountMinor: 700, Currency: "USD"})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if final.Status != models.StatusFailed {
		t.Fatalf("expected FAILED record, got %s", final.Status)
	}
	if final.FailureReason == nil || *final.FailureReason != "insufficient_funds" {
		t.Fatalf("expected insufficient_funds reason, got %v", final.FailureReason)
	}
	if got := ms.wallet("w1").Balance; got != 500 {
		t.Fatalf("failed withdrawal must leave the balance at 500, got %d", got)
	}
	if len(ms.entries) != 0 {
		t.Fatal("failed transaction must not write ledger entries")
	}
	if hub.count() != 0 {
		t.Fatal("failed transaction must not broadcast a balance update")
	}
}

type brokenReadStore struct {
	*memStore
}

func (brokenReadStore) GetByID(context.Context, string) (models.Transaction, error) {
	return models.Transaction{}, errors.New("read replica down")
}

func TestSubmitFailureSurvivesRecordLookupError(t *testing.T) {
	ms := newMemStore()
	ms.addWallet(activeWallet("w1", "u1", 500))
	hub := &stubHub{}
	review := &stubReview{}
	screen := fraud.NewScreen(testPolicy(), 200*time.Millisecond)
	p := NewProcessor(fakeTxRunner{}, ms, brokenReadStore{ms}, ms, ms, guard.New(time.Second), screen, hub, review, 2*time.Second, time.Minute)

	final, err := p.Submit(context.Background(), Intent{UserID: "u1", Type: models.TypeWithdrawal, AmountMinor: 700, Currency: "USD"})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if final.ID == "" {
		t.Fatal("the FAILED record's id must survive a lookup failure")
	}
	if final.Status != models.StatusFailed {
		t.Fatalf("expected FAILED, got %q", final.Status)
	}
	if final.FailureReason == nil || *final.FailureReason != "insufficient_funds" {
		t.Fatalf("expected insufficient_funds reason, got %v", final.FailureReason)
	}
	if got := ms.wallet("w1").Balance; got != 500 {
		t.Fatalf("balance must not move, got %d", got)
	}
}

func TestSubmitTransferMovesFundsAndConserves(t *testing.T) {
	ms := newMemStore()
	ms.addWallet(activeWallet("w1", "u1", 10000))
	ms.addWallet(activeWallet("w2", "u2", 0))
	p, hub, _ := newTestProcessor(ms, nil)
	before := ms.totalBalance()

	recipient := "u2"
	final, err := p.Submit(context.Background(), Intent{UserID: "u1", Type: models.TypeTransfer, AmountMinor: 4000, Currency: "USD", RecipientUserID: &recipient})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if final.Status != models.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", final.Status)
	}
	if final.RecipientWalletID == nil || *final.RecipientWalletID != "w2" {
		t.Fatalf("expected recipient wallet w2 on the record, got %v", final.RecipientWalletID)
	}
	if ms.wallet("w1").Balance != 6000 || ms.wallet("w2").Balance != 4000 {
		t.Fatalf("expected 6000/4000, got %d/%d", ms.wallet("w1").Balance, ms.wallet("w2").Balance)
	}
	if after := ms.totalBalance(); after != before {
		t.Fatalf("transfer must conserve total balance: %d != %d", after, before)
	}
	var sum int64
	for _, e := range ms.entries {
		sum += e.Amount
	}
	if len(ms.entries) != 2 || sum != 0 {
		t.Fatalf("expected a balanced debit/credit pair, got %+v", ms.entries)
	}
	if hub.count() != 2 {
		t.Fatalf("expected broadcasts to both parties, got %d", hub.count())
	}
}

func TestSubmitFlagsLargeWithdrawal(t *testing.T) {
	ms := newMemStore()
	ms.addWallet(activeWallet("w1", "u1", 500000))
	p, _, review := newTestProcessor(ms, nil)

	final, err := p.Submit(context.Background(), Intent{UserID: "u1", Type: models.TypeWithdrawal, AmountMinor: 150000, Currency: "USD"})
	if err != nil {
		t.Fatalf("flagged withdrawal should still settle: %v", err)
	}
	if final.Status != models.StatusCompleted {
		t.Fatalf("flagging must not change the status, got %s", final.Status)
	}
	if !final.Flagged || final.FlagReason == nil || !strings.Contains(*final.FlagReason, "large_amount") {
		t.Fatalf("expected large_amount flag, got flagged=%v reason=%v", final.Flagged, final.FlagReason)
	}
	if got := ms.wallet("w1").Balance; got != 350000 {
		t.Fatalf("flagged withdrawal must still debit, got %d", got)
	}
	review.mu.Lock()
	defer review.mu.Unlock()
	if len(review.jobs) != 1 {
		t.Fatalf("expected one review job, got %d", len(review.jobs))
	}
}

func TestSubmitScreenTimeoutSettlesUnflagged(t *testing.T) {
	ms := newMemStore()
	ms.addWallet(activeWallet("w1", "u1", 1000))
	hub := &stubHub{}
	review := &stubReview{}
	screen := fraud.NewScreen(stallPolicy{}, time.Millisecond)
	p := NewProcessor(fakeTxRunner{}, ms, ms, ms, ms, guard.New(time.Second), screen, hub, review, 2*time.Second, time.Minute)

	final, err := p.Submit(context.Background(), Intent{UserID: "u1", Type: models.TypeWithdrawal, AmountMinor: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("screen timeout must not block settlement: %v", err)
	}
	if final.Status != models.StatusCompleted || final.Flagged {
		t.Fatalf("expected unflagged COMPLETED, got status=%s flagged=%v", final.Status, final.Flagged)
	}
	if final.FlagReason == nil || *final.FlagReason != fraud.ReasonScreenTimeout {
		t.Fatalf("expected screen_timeout marker, got %v", final.FlagReason)
	}
}

type stallPolicy struct{}

func (stallPolicy) Evaluate(fraud.Check, fraud.Snapshot) fraud.Verdict {
	time.Sleep(200 * time.Millisecond)
	return fraud.Verdict{Flagged: true, Reason: "too late"}
}

func TestSubmitGuardBusyFailsThenResubmitSucceeds(t *testing.T) {
	ms := newMemStore()
	ms.addWallet(activeWallet("w1", "u1", 1000))
	g := guard.New(50 * time.Millisecond)
	p, _, _ := newTestProcessor(ms, g)

	release, err := g.Acquire(context.Background(), "w1")
	if err != nil {
		t.Fatalf("setup acquire failed: %v", err)
	}
	final, err := p.Submit(context.Background(), Intent{UserID: "u1", Type: models.TypeWithdrawal, AmountMinor: 100, Currency: "USD"})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while the guard is held, got %v", err)
	}
	if final.Status != models.StatusFailed {
		t.Fatalf("busy submission must be recorded FAILED, got %s", final.Status)
	}
	if final.FailureReason == nil || *final.FailureReason != "busy" {
		t.Fatalf("expected busy reason, got %v", final.FailureReason)
	}
	if got := ms.wallet("w1").Balance; got != 1000 {
		t.Fatalf("busy failure must leave the balance untouched, got %d", got)
	}
	release()

	// ErrBusy is retryable: the same intent resubmitted must settle cleanly.
	final, err = p.Submit(context.Background(), Intent{UserID: "u1", Type: models.TypeWithdrawal, AmountMinor: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("resubmit after release failed: %v", err)
	}
	if final.Status != models.StatusCompleted {
		t.Fatalf("expected COMPLETED on resubmit, got %s", final.Status)
	}
	if got := ms.wallet("w1").Balance; got != 900 {
		t.Fatalf("expected exactly one debit, balance 900, got %d", got)
	}
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	ms := newMemStore()
	ms.addWallet(activeWallet("w1", "u1", 10000))
	p, _, _ := newTestProcessor(ms, guard.New(5*time.Second))

	const attempts = 4
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Submit(context.Background(), Intent{UserID: "u1", Type: models.TypeWithdrawal, AmountMinor: 7000, Currency: "USD"})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	completed, insufficient := 0, 0
	for err := range results {
		switch {
		case err == nil:
			completed++
		case errors.Is(err, ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if completed != 1 || insufficient != attempts-1 {
		t.Fatalf("expected exactly one success, got %d completed / %d insufficient", completed, insufficient)
	}
	if got := ms.wallet("w1").Balance; got != 3000 {
		t.Fatalf("expected balance 3000 after the single withdrawal, got %d", got)
	}
}

func TestOpposingTransfersDoNotDeadlock(t *testing.T) {
	ms := newMemStore()
	ms.addWallet(activeWallet("w1", "u1", 5000))
	ms.addWallet(activeWallet("w2", "u2", 5000))
	p, _, _ := newTestProcessor(ms, guard.New(5*time.Second))
	before := ms.totalBalance()

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				to := "u2"
				p.Submit(context.Background(), Intent{UserID: "u1", Type: models.TypeTransfer, AmountMinor: 100, Currency: "USD", RecipientUserID: &to})
			}()
			go func() {
				defer wg.Done()
				to := "u1"
				p.Submit(context.Background(), Intent{UserID: "u2", Type: models.TypeTransfer, AmountMinor: 100, Currency: "USD", RecipientUserID: &to})
			}()
		}
		wg.Wait()
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("opposing transfers deadlocked")
	}
	if after := ms.totalBalance(); after != before {
		t.Fatalf("transfers must conserve total balance: %d != %d", after, before)
	}
}

func TestEnsureBalancedRejectsDrift(t *testing.T) {
	balanced := []store.EntryInput{
		entry("t1", "w1", -100, "USD", "debit"),
		entry("t1", "w2", 100, "USD", "credit"),
	}
	if err := ensureBalanced(balanced); err != nil {
		t.Fatalf("balanced pair rejected: %v", err)
	}
	drifted := []store.EntryInput{
		entry("t1", "w1", -100, "USD", "debit"),
		entry("t1", "w2", 99, "USD", "credit"),
	}
	if err := ensureBalanced(drifted); err == nil {
		t.Fatal("expected drifted entries to be rejected")
	}
}
