// Package sweeper runs the background jobs that keep ledger state honest: a
// stale sweep that forces abandoned PENDING rows to FAILED, and a daily rescan
// that re-screens recent settlements against the current fraud policy.
package sweeper

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"walletledger/internal/db"
	"walletledger/internal/fraud"
	"walletledger/internal/models"
	"walletledger/internal/store"
	"walletledger/internal/worker"

	"github.com/go-co-op/gocron/v2"
	"github.com/jmoiron/sqlx"
)

const reasonProcessingTimeout = "processing_timeout"

const sweepBatchSize = 100

type TransactionSource interface {
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
	ListCompletedSince(ctx context.Context, since time.Time, limit int) ([]models.Transaction, error)
	CountCompletedSince(ctx context.Context, walletID string, since time.Time) (int, error)
	SumCompletedSince(ctx context.Context, walletID string, since time.Time) (int64, error)
	Finalize(ctx context.Context, tx store.Execer, transactionID, status string, failureReason *string, flagged bool, flagReason *string) (int64, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

type ReviewQueue interface {
	Submit(job worker.ReviewJob) bool
}

type Sweeper struct {
	txRunner       db.TxRunner
	transactions   TransactionSource
	audit          AuditStore
	policy         fraud.Policy
	review         ReviewQueue
	staleAfter     time.Duration
	velocityWindow time.Duration
	sched          gocron.Scheduler
}

func New(txRunner db.TxRunner, transactions TransactionSource, audit AuditStore, policy fraud.Policy, review ReviewQueue, staleAfter, velocityWindow time.Duration) *Sweeper {
	return &Sweeper{
		txRunner:       txRunner,
		transactions:   transactions,
		audit:          audit,
		policy:         policy,
		review:         review,
		staleAfter:     staleAfter,
		velocityWindow: velocityWindow,
	}
}

// Start schedules the stale sweep every minute and the rescan once a day.
func (s *Sweeper) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			if _, err := s.SweepStale(context.Background()); err != nil {
				log.Printf("stale sweep failed: %v", err)
			}
		}),
	); err != nil {
		return err
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			if _, err := s.Rescan(context.Background(), 24*time.Hour); err != nil {
				log.Printf("fraud rescan failed: %v", err)
			}
		}),
	); err != nil {
		return err
	}
	sched.Start()
	s.sched = sched
	return nil
}

func (s *Sweeper) Stop() {
	if s.sched != nil {
		if err := s.sched.Shutdown(); err != nil {
			log.Printf("scheduler shutdown: %v", err)
		}
	}
}

// SweepStale forces PENDING transactions older than the processing deadline to
// FAILED. Finalize only moves rows still PENDING, so racing a processor that
// is about to settle is safe: exactly one of the two status flips lands.
func (s *Sweeper) SweepStale(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.staleAfter)
	stale, err := s.transactions.ListStalePending(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, txn := range stale {
		txn := txn
		err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			reason := reasonProcessingTimeout
			moved, err := s.transactions.Finalize(ctx, tx, txn.ID, models.StatusFailed, &reason, false, nil)
			if err != nil {
				return err
			}
			if moved == 0 {
				return nil
			}
			swept++
			data, _ := json.Marshal(map[string]string{"reason": reason})
			return s.audit.Log(ctx, tx, "sweeper", "force_fail", "transaction", txn.ID, string(data))
		})
		if err != nil {
			log.Printf("stale sweep: transaction %s: %v", txn.ID, err)
		}
	}
	return swept, nil
}

// Rescan re-evaluates recent unflagged settlements against the policy, for
// verdicts the inline screen missed (budget expiry, policy updates since
// settlement). Committed flag state is immutable, so rescan verdicts go to
// the audit trail and the review queue; the transaction row is never touched.
func (s *Sweeper) Rescan(ctx context.Context, window time.Duration) (int, error) {
	since := time.Now().Add(-window)
	recent, err := s.transactions.ListCompletedSince(ctx, since, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	snapshots := make(map[string]fraud.Snapshot, len(recent))
	flagged := 0
	for _, txn := range recent {
		snapshot, ok := snapshots[txn.WalletID]
		if !ok {
			snapshot = s.loadSnapshot(ctx, txn.WalletID)
			snapshots[txn.WalletID] = snapshot
		}
		verdict := s.policy.Evaluate(fraud.Check{
			WalletID:          txn.WalletID,
			Type:              txn.Type,
			AmountMinor:       txn.Amount,
			Currency:          txn.Currency,
			RecipientWalletID: derefString(txn.RecipientWalletID),
		}, snapshot)
		if !verdict.Flagged {
			continue
		}
		txn := txn
		err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			data, _ := json.Marshal(map[string]string{"reason": verdict.Reason})
			return s.audit.Log(ctx, tx, "sweeper", "rescan_flag", "transaction", txn.ID, string(data))
		})
		if err != nil {
			log.Printf("rescan: transaction %s: %v", txn.ID, err)
			continue
		}
		flagged++
		// The review copy carries the verdict; the stored row keeps its
		// settlement-time flag state.
		txn.Flagged = true
		txn.FlagReason = &verdict.Reason
		s.review.Submit(worker.ReviewJob{Transaction: txn})
	}
	return flagged, nil
}

func (s *Sweeper) loadSnapshot(ctx context.Context, walletID string) fraud.Snapshot {
	var snapshot fraud.Snapshot
	now := time.Now()
	if count, err := s.transactions.CountCompletedSince(ctx, walletID, now.Add(-s.velocityWindow)); err == nil {
		snapshot.RecentCount = count
	}
	if total, err := s.transactions.SumCompletedSince(ctx, walletID, now.Add(-24*time.Hour)); err == nil {
		snapshot.DayTotalMinor = total
	}
	return snapshot
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
