// Package guard serializes balance mutations per wallet. Every mutating
// operation acquires the guard for each wallet it touches before reading the
// balance it will decide on; reads that only project committed state never
// acquire anything.
package guard

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrBusy = errors.New("wallet busy")

type Guard struct {
	mu      sync.Mutex
	locks   map[string]chan struct{}
	timeout time.Duration
}

func New(timeout time.Duration) *Guard {
	return &Guard{
		locks:   make(map[string]chan struct{}),
		timeout: timeout,
	}
}

// Acquire takes the guard for every wallet id, always in ascending id order so
// two transfers moving funds in opposite directions between the same pair
// cannot deadlock. The whole acquisition shares one deadline; on expiry any
// partially held guards are released and ErrBusy is returned.
func (g *Guard) Acquire(ctx context.Context, walletIDs ...string) (func(), error) {
	ids := dedupeSorted(walletIDs)
	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	held := make([]chan struct{}, 0, len(ids))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, id := range ids {
		lock := g.lockFor(id)
		select {
		case lock <- struct{}{}:
			held = append(held, lock)
		case <-timer.C:
			release()
			return nil, ErrBusy
		case <-ctx.Done():
			release()
			return nil, ErrBusy
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (g *Guard) lockFor(walletID string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.locks[walletID]
	if !ok {
		lock = make(chan struct{}, 1)
		g.locks[walletID] = lock
	}
	return lock
}

func dedupeSorted(ids []string) []string {
	sorted := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	return sorted
}
