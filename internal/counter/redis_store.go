package counter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rfonn/betguard/internal/retry"
)

// RedisStore implements Store on a shared Redis instance. INCRBY,
// DECRBY, GET, SET and DEL are each atomic on the server side, which
// is all the atomicity the engine relies on.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed counter store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Dial connects to Redis and verifies the connection, retrying briefly
// so a restart race with the Redis container doesn't kill the process.
func Dial(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	err := retry.Do(ctx, 5, 200*time.Millisecond, func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	val, err := s.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: incrby %s: %v", ErrUnavailable, key, err)
	}
	// TTL refresh is a separate round-trip: the window restarts on
	// every touch.
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return val, fmt.Errorf("%w: expire %s: %v", ErrUnavailable, key, err)
	}
	return val, nil
}

func (s *RedisStore) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	val, err := s.client.DecrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: decrby %s: %v", ErrUnavailable, key, err)
	}
	return val, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: get %s: non-integer value %q", ErrUnavailable, key, raw)
	}
	return val, true, nil
}

func (s *RedisStore) SetWithTTL(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
