// Package ratelimit provides fixed-window rate limiting on top of the
// ephemeral store's atomic increment + expire primitives. Each window is
// a counter keyed by identifier; the first increment of a window sets
// the expiry that defines the window boundary.
package ratelimit

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/lumen/chat-app/internal/store"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// actions allowed in the window, and the window duration.
type Rule struct {
	Key    string        // key prefix (e.g., "rl:msg:")
	Limit  int           // max count in the window; count == Limit is allowed
	Window time.Duration // window duration
}

// RuleMessage allows 5 message sends per 10 seconds per user.
var RuleMessage = Rule{Key: "rl:msg:", Limit: 5, Window: 10 * time.Second}

// Limiter performs rate limiting checks against the ephemeral store.
//
// FailOpen is a deliberate policy choice, not a default fallen into: when
// the store is unreachable, a fail-open limiter treats the action as
// allowed, prioritizing message availability over strict throttling.
// Deployments whose threat model requires the opposite set FailOpen to
// false and the limiter rejects while the store is down.
type Limiter struct {
	store    store.Store
	FailOpen bool
}

// NewLimiter creates a fail-open Limiter backed by the given store.
func NewLimiter(s store.Store) *Limiter {
	return &Limiter{store: s, FailOpen: true}
}

// Allow increments the identifier's counter for the rule's current window
// and reports whether the action is within the limit. A burst exactly at
// the boundary is allowed: count == Limit passes, count > Limit is
// rejected. On store failure the configured fail policy decides.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		return l.failPolicy(key, err), err
	}

	// The first increment of a window defines its boundary.
	if count == 1 {
		if err := l.store.Expire(ctx, key, rule.Window); err != nil {
			// The counter exists with no TTL and would throttle the
			// identifier forever. Best effort: remove it.
			l.store.Del(ctx, key)
			return l.failPolicy(key, err), err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns how many actions the identifier has left in the
// current window. A missing key means a fresh window. Store failures
// follow the configured fail policy (full limit when failing open, zero
// when failing closed).
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	val, ok, err := l.store.Get(ctx, key)
	if err != nil {
		if l.FailOpen {
			return rule.Limit, err
		}
		return 0, err
	}
	if !ok {
		return rule.Limit, nil
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		return rule.Limit, nil
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (l *Limiter) failPolicy(key string, err error) bool {
	if l.FailOpen {
		log.Printf("ratelimit: store error key=%s: %v (failing open)", key, err)
		return true
	}
	log.Printf("ratelimit: store error key=%s: %v (failing closed)", key, err)
	return false
}
