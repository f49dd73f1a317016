// Package store defines the ephemeral key-value contract shared by the
// presence, typing, rate-limit, and gate subsystems, together with its two
// bindings: Redis for production (shared across server instances) and an
// in-memory implementation for tests and single-node deployments.
//
// Every mutation is a single atomic step. Callers never take application
// level locks around store operations; correctness under concurrent
// writers (including other server instances) comes from the atomicity of
// Incr/Decr/SetTTL themselves.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is wrapped by every error caused by the backing store
// being unreachable. Call sites use errors.Is to decide their own
// fail-open or fail-closed policy; it is never shown to end users.
var ErrUnavailable = errors.New("ephemeral store unavailable")

// Store is the ephemeral state contract. Keys expire via TTL; an expired
// key is indistinguishable from one that never existed.
type Store interface {
	// Incr atomically increments the integer value at key, creating it
	// at 1 (with no TTL) if absent, and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Decr atomically decrements the integer value at key and returns
	// the new value. Like Redis DECR, the result may go negative.
	Decr(ctx context.Context, key string) (int64, error)

	// SetTTL stores value at key with the given expiry, replacing any
	// existing value and TTL.
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value at key. The second return is false if the
	// key does not exist or has expired.
	Get(ctx context.Context, key string) (string, bool, error)

	// Del removes key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire sets or replaces the TTL of an existing key. It is a no-op
	// if the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
