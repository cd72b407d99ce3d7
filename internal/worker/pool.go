// Package worker drains flagged transactions into the review trail. Flagging
// is observational: settlement already happened by the time a job lands here,
// and a full queue degrades to log-only rather than applying backpressure to
// the processor.
package worker

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"walletledger/internal/models"
	"walletledger/internal/store"
)

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

type ReviewJob struct {
	Transaction models.Transaction
}

type Pool struct {
	jobs  chan ReviewJob
	db    store.Execer
	audit AuditStore
	wg    sync.WaitGroup
}

func NewPool(bufferSize int, db store.Execer, audit AuditStore) *Pool {
	return &Pool{
		jobs:  make(chan ReviewJob, bufferSize),
		db:    db,
		audit: audit,
	}
}

func (p *Pool) Start(workerCount int) {
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.record(job.Transaction)
	}
}

func (p *Pool) record(txn models.Transaction) {
	reason := ""
	if txn.FlagReason != nil {
		reason = *txn.FlagReason
	}
	data, _ := json.Marshal(map[string]string{
		"wallet_id": txn.WalletID,
		"type":      txn.Type,
		"reason":    reason,
	})
	if err := p.audit.Log(context.Background(), p.db, "fraud-review", "flagged", "transaction", txn.ID, string(data)); err != nil {
		log.Printf("review entry failed for transaction %s: %v", txn.ID, err)
	}
}

// Submit enqueues a flagged transaction. Returns false when the queue is
// full; the caller has already logged the verdict, so nothing is lost except
// the dedicated review entry.
func (p *Pool) Submit(job ReviewJob) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		log.Printf("review queue full, dropping transaction %s", job.Transaction.ID)
		return false
	}
}

func (p *Pool) Shutdown() {
	close(p.jobs)
	p.wg.Wait()
}
