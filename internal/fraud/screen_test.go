package fraud

import (
	"context"
	"testing"
	"time"
)

type slowPolicy struct {
	delay   time.Duration
	verdict Verdict
}

func (p slowPolicy) Evaluate(Check, Snapshot) Verdict {
	time.Sleep(p.delay)
	return p.verdict
}

func TestScreenReturnsPolicyVerdict(t *testing.T) {
	screen := NewScreen(slowPolicy{verdict: Verdict{Flagged: true, Reason: "large_amount"}}, time.Second)
	verdict := screen.Evaluate(context.Background(), Check{}, Snapshot{})
	if !verdict.Flagged || verdict.Reason != "large_amount" {
		t.Fatalf("unexpected verdict: %#v", verdict)
	}
}

func TestScreenBudgetExceeded(t *testing.T) {
	screen := NewScreen(slowPolicy{delay: 500 * time.Millisecond, verdict: Verdict{Flagged: true}}, 10*time.Millisecond)
	verdict := screen.Evaluate(context.Background(), Check{}, Snapshot{})
	if verdict.Flagged {
		t.Fatalf("timed-out screen must default to unflagged: %#v", verdict)
	}
	if verdict.Reason != ReasonScreenTimeout {
		t.Fatalf("expected %q advisory reason, got %q", ReasonScreenTimeout, verdict.Reason)
	}
}

func TestScreenContextCancelled(t *testing.T) {
	screen := NewScreen(slowPolicy{delay: time.Second}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	verdict := screen.Evaluate(ctx, Check{}, Snapshot{})
	if verdict.Flagged || verdict.Reason != ReasonScreenTimeout {
		t.Fatalf("unexpected verdict: %#v", verdict)
	}
}
