package guard

import (
	"context"
	"sync"
	"time"
)

// cleanupSampleEvery controls best-effort expired-entry cleanup: one sweep of
// the counter map per this many increments. Probabilistic rather than
// scheduled, so the store needs no background goroutine.
const cleanupSampleEvery = 256

// MemoryCounterStore is a process-local fixed-window counter store.
//
// Suitable for tests and single-node deployments only; multi-instance
// deployments must use the Redis store or limits are not shared.
type MemoryCounterStore struct {
	mu      sync.Mutex
	entries map[string]*memCounter
	ticks   uint64

	// now is injectable for deterministic tests.
	now func() time.Time
}

type memCounter struct {
	count   int64
	resetAt time.Time
}

// NewMemoryCounterStore constructs an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		entries: make(map[string]*memCounter),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock. Test hook.
func (s *MemoryCounterStore) WithNow(now func() time.Time) *MemoryCounterStore {
	if now != nil {
		s.now = now
	}
	return s
}

// Increment adds one hit to the fixed window for key and returns the new
// count plus the time remaining until the window resets. A window whose
// deadline has passed is lazily reinitialized on first use.
func (s *MemoryCounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++
	if s.ticks%cleanupSampleEvery == 0 {
		s.cleanupLocked(now)
	}

	e, ok := s.entries[key]
	if !ok || !e.resetAt.After(now) {
		e = &memCounter{resetAt: now.Add(window)}
		s.entries[key] = e
	}
	e.count++

	return e.count, e.resetAt.Sub(now), nil
}

func (s *MemoryCounterStore) cleanupLocked(now time.Time) {
	for k, e := range s.entries {
		if !e.resetAt.After(now) {
			delete(s.entries, k)
		}
	}
}
