package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStoreSetGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	defer store.Close()

	if err := store.Set(ctx, "text:1", []byte("hello"), 0); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, err := store.Get(ctx, "text:1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("Get = %q, want %q", got, "hello")
	}

	// Callers cannot mutate the stored value through the returned slice.
	got[0] = 'j'
	again, _ := store.Get(ctx, "text:1")
	if string(again) != "hello" {
		t.Fatalf("stored value mutated to %q", again)
	}

	if err := store.Delete(ctx, "text:1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := store.Get(ctx, "text:1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "text:1"); err != nil {
		t.Fatalf("Delete missing key error = %v, want nil", err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStore(WithClock(clock.Now))
	defer store.Close()

	if err := store.Set(ctx, "audio:1", []byte{1, 2}, time.Minute); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if err := store.Set(ctx, "audio:2", []byte{3}, 0); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	clock.Advance(59 * time.Second)
	if _, err := store.Get(ctx, "audio:1"); err != nil {
		t.Fatalf("Get before expiry error: %v", err)
	}

	clock.Advance(time.Second)
	if _, err := store.Get(ctx, "audio:1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after expiry error = %v, want ErrNotFound", err)
	}

	clock.Advance(24 * time.Hour)
	if _, err := store.Get(ctx, "audio:2"); err != nil {
		t.Fatalf("Get without ttl error: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("Len = %d, want 1", store.Len())
	}
}

func TestMemoryStorePurgeExpired(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStore(WithClock(clock.Now))
	defer store.Close()

	_ = store.Set(ctx, "a", []byte("x"), time.Second)
	_ = store.Set(ctx, "b", []byte("y"), time.Hour)
	clock.Advance(2 * time.Second)

	store.purgeExpired()

	store.mu.Lock()
	_, hasA := store.entries["a"]
	_, hasB := store.entries["b"]
	store.mu.Unlock()
	if hasA || !hasB {
		t.Fatalf("after purge hasA=%v hasB=%v, want false/true", hasA, hasB)
	}
}

func TestMemoryStoreHonoursCanceledContext(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Set(ctx, "k", []byte("v"), 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("Set error = %v, want context.Canceled", err)
	}
}
