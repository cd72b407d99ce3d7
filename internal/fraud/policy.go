// Package fraud classifies transactions for review. A verdict is advisory
// metadata: it never blocks or reverses settlement.
package fraud

import (
	"strings"

	"walletledger/internal/models"
)

// Check is the fully-formed transaction under evaluation.
type Check struct {
	WalletID          string
	Type              string
	AmountMinor       int64
	Currency          string
	RecipientWalletID string
}

// Snapshot is an immutable view of the wallet's recent history, loaded by the
// caller before evaluation. Policies read it, never the store.
type Snapshot struct {
	RecentCount   int
	DayTotalMinor int64
}

type Verdict struct {
	Flagged bool
	Reason  string
}

// Policy decides whether a transaction should be flagged. Implementations
// must be pure functions of their inputs and deterministic.
type Policy interface {
	Evaluate(check Check, history Snapshot) Verdict
}

// ThresholdPolicy is the baseline: per-type amount limits, a velocity check
// over a rolling window, and a daily volume cap.
type ThresholdPolicy struct {
	Limits        map[string]int64
	VelocityMax   int
	DailyCapMinor int64
}

func (p ThresholdPolicy) Evaluate(check Check, history Snapshot) Verdict {
	var reasons []string
	if limit, ok := p.Limits[check.Type]; ok && limit > 0 && check.AmountMinor > limit {
		reasons = append(reasons, "large_amount")
	}
	if p.VelocityMax > 0 && history.RecentCount >= p.VelocityMax {
		reasons = append(reasons, "rapid_velocity")
	}
	if p.DailyCapMinor > 0 && check.Type != models.TypeDeposit && history.DayTotalMinor+check.AmountMinor > p.DailyCapMinor {
		reasons = append(reasons, "daily_limit")
	}
	if len(reasons) == 0 {
		return Verdict{}
	}
	return Verdict{Flagged: true, Reason: strings.Join(reasons, ", ")}
}
