package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounterStore is a shared fixed-window counter store backed by Redis.
//
// Counters are plain INCR keys with a TTL set on the first hit of each
// window, so all instances behind a load balancer share one budget.
type RedisCounterStore struct {
	client redis.UniversalClient
}

// NewRedisCounterStore creates a counter store backed by the given Redis client.
func NewRedisCounterStore(client redis.UniversalClient) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// Increment adds one hit to the fixed window for key and returns the new
// count plus the time remaining until the window resets.
func (s *RedisCounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
		}
		return count, window, nil
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	if ttl < 0 {
		// Key exists without a TTL (e.g. Expire lost to a crash); re-arm the
		// window rather than leaving an immortal counter.
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
		}
		ttl = window
	}

	return count, ttl, nil
}
