// Package engine implements real-time AML risk assessment for
// deposit and withdrawal transactions.
//
// Every transaction is checked against rolling-window counters held
// in a shared counter store: volume and velocity limits for deposits
// (structuring/smurfing), plus withdrawal-side rules for velocity,
// rapid deposit→withdraw round-trips (layering) and low wagering
// activity. Scores range from 0 (safe) to 100 (blocked). The engine
// fails closed: if recent history cannot be verified, the transaction
// is denied.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rfonn/betguard/internal/counter"
	"github.com/rfonn/betguard/internal/money"
)

// Type classifies a transaction.
type Type string

const (
	TypeDeposit    Type = "DEPOSIT"
	TypeWithdrawal Type = "WITHDRAWAL"
)

// Rule thresholds, in cents where monetary.
const (
	DepositLimitCents    int64 = 10_000 * money.CentsPerUnit // $10,000 / 24h
	WithdrawalLimitCents int64 = 50_000 * money.CentsPerUnit // $50,000 / 24h

	SmurfingVolumeCents int64 = 5_000 * money.CentsPerUnit // structuring floor
	DepositCountLimit24h      = 15                         // max deposits / 24h

	WithdrawalCountLimit1h  = 5  // max withdrawals / hour
	WithdrawalCountLimit24h = 12 // max withdrawals / 24h (reverse smurfing)

	MinWageringRatio            = 0.05 // wager at least 5% of deposits before withdrawing
	QuickWithdrawalWindow       = time.Hour
	MaxWagerAmount      float64 = 100_000 // sanity ceiling, currency units
)

// depositWarnCents is the near-limit warning floor (90% of the hard limit).
const depositWarnCents = DepositLimitCents * 9 / 10

// Outcome is the engine's verdict on a single transaction.
type Outcome struct {
	Allowed      bool    `json:"allowed"`
	RiskScore    int     `json:"risk_score"`
	Reason       string  `json:"reason"`
	RunningTotal float64 `json:"running_total"` // 24h volume in currency units
}

// WagerResult is the outcome of recording a wager.
type WagerResult struct {
	Success         bool    `json:"success"`
	Reason          string  `json:"reason,omitempty"`
	TotalWagered24h float64 `json:"total_wagered_24h"`
}

// System-error reasons, returned whenever the counter store fails.
// The decision is always a denial; the engine never defaults to allow.
const (
	reasonStoreError      = "System error: Unable to verify transaction history"
	reasonProcessingError = "System error: Transaction processing failed"
)

// Engine evaluates transactions against per-user windowed counters.
// Rule evaluation is stateless computation over the values returned by
// the already-atomic counter updates; no lock spans the
// increment-evaluate-rollback sequence, so two concurrent requests for
// one user may each pass a check neither would pass serially. That
// narrow race is accepted by design.
type Engine struct {
	counters counter.Store
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a risk engine backed by the given counter store.
func New(counters counter.Store) *Engine {
	return &Engine{
		counters: counters,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// WithClock overrides the engine's time source (for tests).
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithLogger overrides the engine's logger.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.logger = logger
	return e
}

// CheckTransaction evaluates one deposit or withdrawal and returns the
// allow/deny outcome with a risk score and human-readable reason.
//
// Invalid input is rejected before any counter is touched. Counter
// store failures are absorbed and converted to a fail-closed denial;
// no raw infrastructure error escapes to the caller.
func (e *Engine) CheckTransaction(ctx context.Context, userID string, amount float64, txnType Type) Outcome {
	if amount <= 0 {
		return Outcome{Allowed: false, RiskScore: 100, Reason: "Invalid Amount"}
	}

	amountCents := money.ToCents(amount)

	var out Outcome
	var err error
	switch txnType {
	case TypeDeposit:
		out, err = e.checkDeposit(ctx, userID, amountCents)
	case TypeWithdrawal:
		out, err = e.checkWithdrawal(ctx, userID, amountCents)
	default:
		return Outcome{
			Allowed:   false,
			RiskScore: 100,
			Reason:    fmt.Sprintf("Invalid transaction type: %s", txnType),
		}
	}

	if err != nil {
		e.logger.Error("transaction check failed",
			"user_id", userID,
			"type", string(txnType),
			"error", err,
		)
		reason := reasonProcessingError
		if errors.Is(err, counter.ErrUnavailable) {
			reason = reasonStoreError
		}
		return Outcome{Allowed: false, RiskScore: 100, Reason: reason}
	}

	return out
}

// RecordWager atomically adds a wager to the user's 24h wagering
// counter. Wagers are never denied by AML rules, so there is no
// rollback path.
func (e *Engine) RecordWager(ctx context.Context, userID string, amount float64) WagerResult {
	if amount <= 0 {
		return WagerResult{Success: false, Reason: "Invalid wager amount"}
	}
	if amount > MaxWagerAmount {
		return WagerResult{Success: false, Reason: "Wager amount exceeds maximum"}
	}

	key := counter.Key(userID, counter.MetricWagered24h)
	total, err := e.counters.IncrBy(ctx, key, money.ToCents(amount), counter.Window24h)
	if err != nil {
		e.logger.Error("wager recording failed", "user_id", userID, "error", err)
		return WagerResult{Success: false, Reason: "System error"}
	}

	e.logger.Info("wager recorded",
		"user_id", userID,
		"amount", amount,
		"total_24h", money.FromCents(total),
	)
	return WagerResult{Success: true, TotalWagered24h: money.FromCents(total)}
}
