package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisCounterStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisCounterStore(client), mr
}

func TestRedisCounterIncrements(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, ttl, err := store.Increment(ctx, "k", time.Minute)
		if err != nil {
			t.Fatalf("increment %d: %v", want, err)
		}
		if count != want {
			t.Fatalf("count=%d want=%d", count, want)
		}
		if ttl <= 0 || ttl > time.Minute {
			t.Fatalf("ttl out of range: %v", ttl)
		}
	}
}

func TestRedisCounterWindowExpires(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	if _, _, err := store.Increment(ctx, "k", time.Minute); err != nil {
		t.Fatalf("increment: %v", err)
	}

	mr.FastForward(61 * time.Second)

	count, _, err := store.Increment(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("increment after expiry: %v", err)
	}
	if count != 1 {
		t.Fatalf("count=%d want=1 after window reset", count)
	}
}

func TestRedisCounterRearmsMissingTTL(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	// Simulate an Expire lost to a crash: key exists without a TTL.
	if err := mr.Set("k", "7"); err != nil {
		t.Fatalf("seed key: %v", err)
	}

	count, ttl, err := store.Increment(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if count != 8 {
		t.Fatalf("count=%d want=8", count)
	}
	if ttl != time.Minute {
		t.Fatalf("ttl=%v want=%v (re-armed window)", ttl, time.Minute)
	}
}

func TestRedisCounterUnavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	_, _, err := store.Increment(context.Background(), "k", time.Minute)
	if !errors.Is(err, ErrCounterUnavailable) {
		t.Fatalf("expected ErrCounterUnavailable, got %v", err)
	}
}

func TestGuardOverRedisSharesBudget(t *testing.T) {
	store, _ := newRedisStore(t)
	g := New(store, Config{RotationMax: 2, RotationWindow: time.Minute})
	ctx := context.Background()

	// A second guard over the same store sees the same counters, as two
	// server instances sharing one Redis would.
	g2 := New(store, Config{RotationMax: 2, RotationWindow: time.Minute})

	if err := g.CheckRotation(ctx, "fam-1"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := g2.CheckRotation(ctx, "fam-1"); err != nil {
		t.Fatalf("second: %v", err)
	}
	if err := g.CheckRotation(ctx, "fam-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected shared budget exhausted, got %v", err)
	}
}
