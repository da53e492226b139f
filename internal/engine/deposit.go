package engine

import (
	"context"
	"fmt"

	"github.com/rfonn/betguard/internal/counter"
	"github.com/rfonn/betguard/internal/money"
)

// checkDeposit atomically folds the deposit into the 24h volume and
// count windows, then evaluates the deposit rules against the
// just-updated values.
//
// Only the hard-limit rule rolls back. A deposit denied for smurfing
// intentionally leaves the elevated counters in place: a blocked
// structuring attempt still counts toward future detection.
func (e *Engine) checkDeposit(ctx context.Context, userID string, amountCents int64) (Outcome, error) {
	volKey := counter.Key(userID, counter.MetricDepositVolume24h)
	cntKey := counter.Key(userID, counter.MetricDepositCount24h)

	var undo undoLog

	newVol, err := e.counters.IncrBy(ctx, volKey, amountCents, counter.Window24h)
	if err != nil {
		return Outcome{}, err
	}
	undo.add(volKey, amountCents)

	newCount, err := e.counters.IncrBy(ctx, cntKey, 1, counter.Window24h)
	if err != nil {
		return Outcome{}, err
	}
	undo.add(cntKey, 1)

	newVolUnits := money.FromCents(newVol)

	// Rule 1: hard daily limit (block, roll back).
	if newVol > DepositLimitCents {
		undo.run(ctx, e.counters, e.logger)
		e.logger.Warn("deposit blocked: daily limit",
			"user_id", userID,
			"total_24h", newVolUnits,
		)
		return Outcome{
			Allowed:   false,
			RiskScore: 100,
			Reason: fmt.Sprintf("Daily deposit limit exceeded: %s > $10,000",
				money.FormatUSD(newVol)),
			RunningTotal: money.FromCents(newVol - amountCents),
		}, nil
	}

	// Rule 2: fan-in smurfing — many small deposits accumulating to a
	// large sum (block, keep counters).
	if newCount > DepositCountLimit24h && newVol > SmurfingVolumeCents {
		e.logger.Warn("deposit blocked: structuring",
			"user_id", userID,
			"count_24h", newCount,
			"total_24h", newVolUnits,
		)
		return Outcome{
			Allowed:   false,
			RiskScore: 95,
			Reason: fmt.Sprintf("Structuring detected: %d deposits totaling %s",
				newCount, money.FormatUSD(newVol)),
			RunningTotal: newVolUnits,
		}, nil
	}

	// Rule 3: just under the threshold (allow, warn).
	if newVol >= depositWarnCents {
		e.logger.Warn("deposit high risk: approaching limit",
			"user_id", userID,
			"total_24h", newVolUnits,
		)
		return Outcome{
			Allowed:   true,
			RiskScore: 80,
			Reason: fmt.Sprintf("Warning: Cumulative deposits (%s) approaching limit",
				money.FormatUSD(newVol)),
			RunningTotal: newVolUnits,
		}, nil
	}

	// Clean approve: remember the deposit time for rapid-withdrawal
	// detection. Only this path sets the timestamp.
	tsKey := counter.Key(userID, counter.MetricLastDepositTime)
	if err := e.counters.SetWithTTL(ctx, tsKey, e.now().Unix(), counter.Window24h); err != nil {
		return Outcome{}, err
	}

	e.logger.Info("deposit approved",
		"user_id", userID,
		"amount", money.FromCents(amountCents),
		"total_24h", newVolUnits,
	)
	return Outcome{
		Allowed:      true,
		RiskScore:    0,
		Reason:       "Safe",
		RunningTotal: newVolUnits,
	}, nil
}
