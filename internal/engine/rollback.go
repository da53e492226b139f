package engine

import (
	"context"
	"log/slog"

	"github.com/rfonn/betguard/internal/counter"
	"github.com/rfonn/betguard/internal/metrics"
)

// undoStep compensates a single counter mutation made earlier in the
// same check.
type undoStep struct {
	key   string
	delta int64
}

// undoLog records the increments performed during one check so a
// blocking rule can compensate them. Compensation is best-effort and
// not transactional: each decrement is an independent store operation,
// and a failure partway through leaves the remaining counters
// inflated until their TTL expires. That drift only widens future
// detection, it never corrupts durable state, so it is logged and the
// denial is still returned.
type undoLog struct {
	steps []undoStep
}

func (u *undoLog) add(key string, delta int64) {
	u.steps = append(u.steps, undoStep{key: key, delta: delta})
}

// run executes the recorded decrements in reverse order, then any
// extra compensation steps supplied by the caller. It never returns an
// error; failures are logged and counted.
func (u *undoLog) run(ctx context.Context, store counter.Store, logger *slog.Logger, extra ...func(context.Context) error) {
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		if _, err := store.DecrBy(ctx, step.key, step.delta); err != nil {
			logger.Error("rollback decrement failed; counter left inflated until TTL expiry",
				"key", step.key,
				"delta", step.delta,
				"error", err,
			)
			metrics.RollbackFailuresTotal.Inc()
		}
	}
	for _, fn := range extra {
		if err := fn(ctx); err != nil {
			logger.Error("rollback compensation step failed", "error", err)
			metrics.RollbackFailuresTotal.Inc()
		}
	}
}
