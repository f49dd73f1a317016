package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_IncrDecr(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	n, err := s.Incr(ctx, "counter")
	if err != nil || n != 1 {
		t.Fatalf("first Incr = (%d, %v), want (1, nil)", n, err)
	}
	n, _ = s.Incr(ctx, "counter")
	if n != 2 {
		t.Fatalf("second Incr = %d, want 2", n)
	}
	n, _ = s.Decr(ctx, "counter")
	if n != 1 {
		t.Fatalf("Decr = %d, want 1", n)
	}

	// Decrementing past zero mirrors Redis DECR.
	s.Decr(ctx, "counter")
	n, _ = s.Decr(ctx, "counter")
	if n != -1 {
		t.Fatalf("Decr below zero = %d, want -1", n)
	}
}

func TestMemoryStore_IncrConcurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Incr(ctx, "c")
		}()
	}
	wg.Wait()

	val, ok, _ := s.Get(ctx, "c")
	if !ok || val != "50" {
		t.Fatalf("after 50 concurrent Incr: value=%q ok=%v, want \"50\"", val, ok)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.SetTTL(ctx, "flag", "1", 20*time.Millisecond); err != nil {
		t.Fatalf("SetTTL: %v", err)
	}

	ok, _ := s.Exists(ctx, "flag")
	if !ok {
		t.Fatal("key should exist before TTL elapses")
	}

	time.Sleep(40 * time.Millisecond)

	ok, _ = s.Exists(ctx, "flag")
	if ok {
		t.Fatal("key should be gone after TTL elapses")
	}
	if _, found, _ := s.Get(ctx, "flag"); found {
		t.Fatal("Get should report expired key as absent")
	}
}

func TestMemoryStore_ExpireRefreshesTTL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.SetTTL(ctx, "flag", "1", 20*time.Millisecond)
	s.Expire(ctx, "flag", 200*time.Millisecond)

	time.Sleep(40 * time.Millisecond)

	ok, _ := s.Exists(ctx, "flag")
	if !ok {
		t.Fatal("Expire should have extended the key's lifetime")
	}
}

func TestMemoryStore_ExpireMissingKeyIsNoop(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Expire(ctx, "missing", time.Second); err != nil {
		t.Fatalf("Expire on missing key: %v", err)
	}
	if ok, _ := s.Exists(ctx, "missing"); ok {
		t.Fatal("Expire must not create keys")
	}
}

func TestMemoryStore_IncrAfterExpiryRestartsAtOne(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Incr(ctx, "window")
	s.Incr(ctx, "window")
	s.Expire(ctx, "window", 20*time.Millisecond)

	time.Sleep(40 * time.Millisecond)

	n, _ := s.Incr(ctx, "window")
	if n != 1 {
		t.Fatalf("Incr after expiry = %d, want 1", n)
	}
}

func TestMemoryStore_DelAndSetOverwrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.SetTTL(ctx, "k", "a", 0)
	s.SetTTL(ctx, "k", "b", 0)
	val, _, _ := s.Get(ctx, "k")
	if val != "b" {
		t.Fatalf("Get after overwrite = %q, want \"b\"", val)
	}

	if err := s.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if ok, _ := s.Exists(ctx, "k"); ok {
		t.Fatal("key should be gone after Del")
	}
	// Deleting again is not an error.
	if err := s.Del(ctx, "k"); err != nil {
		t.Fatalf("Del on absent key: %v", err)
	}
}
