package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestMemoryStore_IncrCounts(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, ttl, err := store.Incr(ctx, "review-code:u", time.Minute)
		if err != nil {
			t.Fatalf("Incr() error = %v", err)
		}
		if count != want {
			t.Errorf("count = %d, want %d", count, want)
		}
		// Window is anchored at 12:00:00, so 50s remain at 12:00:10.
		if ttl != 50*time.Second {
			t.Errorf("ttl = %v, want 50s", ttl)
		}
	}
}

func TestMemoryStore_WindowRollover(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 59, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	count, _, _ := store.Incr(ctx, "k", time.Minute)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	// Crossing the minute boundary starts a fresh window.
	now = now.Add(time.Second)
	count, ttl, _ := store.Incr(ctx, "k", time.Minute)
	if count != 1 {
		t.Errorf("count after rollover = %d, want 1", count)
	}
	if ttl != time.Minute {
		t.Errorf("ttl after rollover = %v, want 1m", ttl)
	}
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := store.Incr(ctx, "k", time.Minute)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("error = %v, want ErrStoreUnavailable", err)
	}
}

func newRedisTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: srv.Addr()})), srv
}

func TestRedisStore_IncrCountsAndSetsWindowTTL(t *testing.T) {
	store, srv := newRedisTestStore(t)
	ctx := context.Background()

	count, ttl, err := store.Incr(ctx, "review-code:u", time.Minute)
	if err != nil {
		t.Fatalf("Incr() error = %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if ttl != time.Minute {
		t.Errorf("ttl = %v, want 1m", ttl)
	}
	if got := srv.TTL("review-code:u"); got != time.Minute {
		t.Errorf("server TTL = %v, want 1m", got)
	}

	// Subsequent increments count up without restarting the window.
	count, ttl, err = store.Incr(ctx, "review-code:u", time.Minute)
	if err != nil {
		t.Fatalf("Incr() error = %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	srv.FastForward(40 * time.Second)
	_, ttl, err = store.Incr(ctx, "review-code:u", time.Minute)
	if err != nil {
		t.Fatalf("Incr() error = %v", err)
	}
	if ttl != 20*time.Second {
		t.Errorf("ttl mid-window = %v, want 20s", ttl)
	}
}

func TestRedisStore_WindowExpiryResetsCount(t *testing.T) {
	store, srv := newRedisTestStore(t)
	ctx := context.Background()

	store.Incr(ctx, "k", time.Minute)
	store.Incr(ctx, "k", time.Minute)
	srv.FastForward(time.Minute)

	count, ttl, err := store.Incr(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Incr() error = %v", err)
	}
	if count != 1 {
		t.Errorf("count after expiry = %d, want 1", count)
	}
	if ttl != time.Minute {
		t.Errorf("ttl after expiry = %v, want 1m", ttl)
	}
}

func TestRedisStore_RepairsMissingTTL(t *testing.T) {
	// A counter key that lost its expiry (e.g. restored from a dump) must
	// get a fresh window instead of counting forever.
	store, srv := newRedisTestStore(t)

	if err := srv.Set("review-code:u", "5"); err != nil {
		t.Fatal(err)
	}
	count, ttl, err := store.Incr(context.Background(), "review-code:u", time.Minute)
	if err != nil {
		t.Fatalf("Incr() error = %v", err)
	}
	if count != 6 {
		t.Errorf("count = %d, want 6", count)
	}
	if ttl != time.Minute {
		t.Errorf("ttl = %v, want 1m", ttl)
	}
	if got := srv.TTL("review-code:u"); got != time.Minute {
		t.Errorf("server TTL = %v, want 1m", got)
	}
}

func TestRedisStore_UnreachableServer(t *testing.T) {
	store := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))

	_, _, err := store.Incr(context.Background(), "k", time.Minute)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("error = %v, want ErrStoreUnavailable", err)
	}
}
