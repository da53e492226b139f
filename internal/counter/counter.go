// Package counter defines the windowed counter store the risk engine
// evaluates against.
//
// Counters are per-user integers with per-key expiration. The rolling
// 1h/24h windows decay purely by TTL: every increment refreshes the
// key's TTL to the full window, so a window is "since creation,
// refreshed on each touch" rather than a sliding log. The engine
// depends on exactly this approximation.
package counter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable indicates the counter store could not be reached or
// an operation against it failed. Callers must treat it as "recent
// history cannot be verified" and fail closed.
var ErrUnavailable = errors.New("counter store unavailable")

// Store is the atomic counter capability consumed by the engine.
// Each operation is individually atomic; no cross-operation
// transactionality is provided or assumed.
type Store interface {
	// IncrBy atomically adds delta to key and refreshes its TTL to
	// the full window. Returns the new value.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// DecrBy atomically subtracts delta from key. The TTL is left
	// untouched; compensation must not extend a window.
	DecrBy(ctx context.Context, key string, delta int64) (int64, error)

	// Get returns the current value of key. ok is false when the key
	// does not exist (or has expired).
	Get(ctx context.Context, key string) (value int64, ok bool, err error)

	// SetWithTTL atomically sets key to value with the given TTL.
	SetWithTTL(ctx context.Context, key string, value int64, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// Window durations shared by the engine and its tests.
const (
	Window24h = 24 * time.Hour
	Window1h  = time.Hour
)

// Per-user metric suffixes. The key layout user:{user_id}:{metric} is
// load-bearing: dashboards and on-call tooling key off it.
const (
	MetricDepositVolume24h    = "dep_vol_24h"
	MetricDepositCount24h     = "dep_cnt_24h"
	MetricWithdrawalVolume24h = "wd_vol_24h"
	MetricWithdrawalCount1h   = "wd_cnt_1h"
	MetricWithdrawalCount24h  = "wd_cnt_24h"
	MetricWagered24h          = "wagered_24h"
	MetricLastDepositTime     = "last_deposit_time"
)

// Key builds the store key for a user metric.
func Key(userID, metric string) string {
	return fmt.Sprintf("user:%s:%s", userID, metric)
}
