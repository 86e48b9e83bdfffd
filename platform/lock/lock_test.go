package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client), mr
}

func TestAcquireAndRelease(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	held, err := locker.Acquire(ctx, "lead:a", time.Minute, time.Second)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if !mr.Exists("lead:a") {
		t.Fatal("expected lock key to exist while held")
	}

	if err := held.Release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if mr.Exists("lead:a") {
		t.Fatal("expected lock key to be gone after release")
	}
}

func TestAcquireContendedTimesOut(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	if _, err := locker.Acquire(ctx, "lead:b", time.Minute, time.Second); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	_, err := locker.Acquire(ctx, "lead:b", time.Minute, 150*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestAcquireAfterRelease(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "lead:c", time.Minute, time.Second)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	if _, err := locker.Acquire(ctx, "lead:c", time.Minute, time.Second); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
}

func TestReleaseDoesNotStealReacquiredLock(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "lead:d", 50*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	// Simulate TTL expiry, then let a second holder take the key.
	mr.FastForward(100 * time.Millisecond)
	if _, err := locker.Acquire(ctx, "lead:d", time.Minute, time.Second); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	// The stale handle's release must leave the new holder's key alone.
	if err := first.Release(ctx); err != nil {
		t.Fatalf("stale release errored: %v", err)
	}
	if !mr.Exists("lead:d") {
		t.Fatal("expected second holder's lock to survive stale release")
	}
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	if _, err := locker.Acquire(ctx, "lead:e", time.Minute, time.Second); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := locker.Acquire(cancelCtx, "lead:e", time.Minute, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
