package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/rfonn/betguard/internal/circuitbreaker"
)

const breakerDep = "redis"

// GuardedStore wraps a Store with a circuit breaker. When the backing
// store fails repeatedly, the breaker trips and requests fail fast with
// ErrUnavailable instead of waiting on connection timeouts. The engine
// fails closed on ErrUnavailable, so a tripped breaker means denials,
// never silent approvals.
type GuardedStore struct {
	inner   Store
	breaker *circuitbreaker.Breaker
}

// Guard wraps a store with a circuit breaker.
func Guard(inner Store, breaker *circuitbreaker.Breaker) *GuardedStore {
	return &GuardedStore{inner: inner, breaker: breaker}
}

func (g *GuardedStore) call(fn func() error) error {
	if !g.breaker.Allow(breakerDep) {
		return fmt.Errorf("%w: circuit open", ErrUnavailable)
	}
	err := fn()
	if err != nil {
		g.breaker.RecordFailure(breakerDep)
		return err
	}
	g.breaker.RecordSuccess(breakerDep)
	return nil
}

func (g *GuardedStore) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	var val int64
	err := g.call(func() (e error) {
		val, e = g.inner.IncrBy(ctx, key, delta, ttl)
		return e
	})
	return val, err
}

func (g *GuardedStore) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	var val int64
	err := g.call(func() (e error) {
		val, e = g.inner.DecrBy(ctx, key, delta)
		return e
	})
	return val, err
}

func (g *GuardedStore) Get(ctx context.Context, key string) (int64, bool, error) {
	var (
		val int64
		ok  bool
	)
	err := g.call(func() (e error) {
		val, ok, e = g.inner.Get(ctx, key)
		return e
	})
	return val, ok, err
}

func (g *GuardedStore) SetWithTTL(ctx context.Context, key string, value int64, ttl time.Duration) error {
	return g.call(func() error {
		return g.inner.SetWithTTL(ctx, key, value, ttl)
	})
}

func (g *GuardedStore) Delete(ctx context.Context, key string) error {
	return g.call(func() error {
		return g.inner.Delete(ctx, key)
	})
}

// Ping bypasses the breaker so health checks can observe recovery of
// the backing store directly.
func (g *GuardedStore) Ping(ctx context.Context) error {
	return g.inner.Ping(ctx)
}

// Close releases the underlying store's resources, if it holds any.
func (g *GuardedStore) Close() error {
	if closer, ok := g.inner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
