package fraud

import (
	"context"
	"time"
)

const ReasonScreenTimeout = "screen_timeout"

// Screen runs a policy under a time budget. A policy that cannot decide in
// time yields an unflagged verdict carrying ReasonScreenTimeout so the miss is
// visible downstream; settlement is never held up.
type Screen struct {
	policy Policy
	budget time.Duration
}

func NewScreen(policy Policy, budget time.Duration) *Screen {
	return &Screen{policy: policy, budget: budget}
}

func (s *Screen) Evaluate(ctx context.Context, check Check, history Snapshot) Verdict {
	timer := time.NewTimer(s.budget)
	defer timer.Stop()

	verdicts := make(chan Verdict, 1)
	go func() {
		verdicts <- s.policy.Evaluate(check, history)
	}()

	select {
	case verdict := <-verdicts:
		return verdict
	case <-timer.C:
		return Verdict{Flagged: false, Reason: ReasonScreenTimeout}
	case <-ctx.Done():
		return Verdict{Flagged: false, Reason: ReasonScreenTimeout}
	}
}
