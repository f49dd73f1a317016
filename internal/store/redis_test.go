package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRedis connects to a local Redis and cleans up test keys.
// Tests using this helper are skipped if Redis is not running.
func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	cleanup := func() {
		iter := client.Scan(ctx, 0, "storetest:*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewRedisStoreFromClient(client)
}

func TestRedisStore_IncrGetDel(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	n, err := s.Incr(ctx, "storetest:counter")
	if err != nil {
		t.Fatalf("Incr: %v", err)
	}
	if n != 1 {
		t.Fatalf("Incr = %d, want 1", n)
	}

	val, ok, err := s.Get(ctx, "storetest:counter")
	if err != nil || !ok || val != "1" {
		t.Fatalf("Get = (%q, %v, %v), want (\"1\", true, nil)", val, ok, err)
	}

	if err := s.Del(ctx, "storetest:counter"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "storetest:counter"); ok {
		t.Fatal("key should be absent after Del")
	}
}

func TestRedisStore_SetTTLAndExists(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	if err := s.SetTTL(ctx, "storetest:flag", "on", time.Minute); err != nil {
		t.Fatalf("SetTTL: %v", err)
	}
	ok, err := s.Exists(ctx, "storetest:flag")
	if err != nil || !ok {
		t.Fatalf("Exists = (%v, %v), want (true, nil)", ok, err)
	}
	if ok, _ := s.Exists(ctx, "storetest:missing"); ok {
		t.Fatal("Exists should be false for missing key")
	}
}
