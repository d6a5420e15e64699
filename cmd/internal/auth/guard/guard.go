package guard

import (
	"context"
	"time"
)

// CounterStore abstracts fixed-window counters so rate limits can live in a
// shared store in multi-instance deployments.
type CounterStore interface {
	// Increment adds one hit to the window for key and returns the new count
	// plus the time remaining until the window resets.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// OpRotation is the operation label for refresh-credential rotation.
const OpRotation = "rotation"

// Config defines per-operation budgets.
type Config struct {
	RotationMax    int
	RotationWindow time.Duration
}

// DefaultConfig returns the default rotation budget (5 ops / 60s).
func DefaultConfig() Config {
	return Config{
		RotationMax:    5,
		RotationWindow: 60 * time.Second,
	}
}

// Guard enforces per-(key, operation) fixed-window budgets.
type Guard struct {
	counters CounterStore
	cfg      Config
}

// New constructs a Guard over the given counter store.
func New(counters CounterStore, cfg Config) *Guard {
	if cfg.RotationMax <= 0 {
		cfg.RotationMax = DefaultConfig().RotationMax
	}
	if cfg.RotationWindow <= 0 {
		cfg.RotationWindow = DefaultConfig().RotationWindow
	}
	return &Guard{counters: counters, cfg: cfg}
}

// CheckRotation spends one unit of the family's rotation budget.
// Exceeding the budget fails with a RateLimitError carrying the remaining
// window as the retry-after hint.
func (g *Guard) CheckRotation(ctx context.Context, familyID string) error {
	return g.check(ctx, familyID, OpRotation, g.cfg.RotationMax, g.cfg.RotationWindow)
}

func (g *Guard) check(ctx context.Context, key, operation string, max int, window time.Duration) error {
	count, ttl, err := g.counters.Increment(ctx, counterKey(operation, key), window)
	if err != nil {
		return err
	}

	if count > int64(max) {
		return RateLimitError{Key: key, Operation: operation, RetryAfter: ttl}
	}
	return nil
}

func counterKey(operation, key string) string {
	return "bastion:guard:" + operation + ":" + key
}
