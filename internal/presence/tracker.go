// Package presence derives per-user online/offline status from live
// connection counts kept in the ephemeral store. The online flag carries a
// bounded TTL so a missed cleanup (crashed client, network partition)
// can never leave a user stuck online past the TTL window; connection
// counting lets one user hold several simultaneous sessions.
package presence

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/lumen/chat-app/internal/store"
)

const (
	// OnlineTTL bounds how long a user stays online without a refresh.
	OnlineTTL = 120 * time.Second

	// SeenTTL is how long the last-seen timestamp is retained after the
	// user's final session ends.
	SeenTTL = 30 * 24 * time.Hour

	// SessionTTL bounds the session-to-user mapping so crashed servers
	// cannot leak mappings forever.
	SessionTTL = 24 * time.Hour

	onlinePrefix  = "presence:online:"
	connsPrefix   = "presence:conns:"
	seenPrefix    = "presence:seen:"
	sessionPrefix = "presence:sess:"
)

// Presence is the read model returned to presence queries.
type Presence struct {
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"last_seen_at"`
}

// Tracker maintains presence state in the ephemeral store.
type Tracker struct {
	store     store.Store
	onlineTTL time.Duration
}

// NewTracker creates a Tracker backed by the given store, with the
// default online TTL.
func NewTracker(s store.Store) *Tracker {
	return &Tracker{store: s, onlineTTL: OnlineTTL}
}

// NewTrackerTTL creates a Tracker with a custom online TTL. Used by
// tests that need to observe the flag lapsing.
func NewTrackerTTL(s store.Store, onlineTTL time.Duration) *Tracker {
	return &Tracker{store: s, onlineTTL: onlineTTL}
}

// RegisterSession records a new live session for userID: the connection
// count is incremented, the user is marked online for the online TTL, any
// stored last-seen value is cleared, and the session-to-user mapping is
// recorded for disconnect cleanup.
func (t *Tracker) RegisterSession(ctx context.Context, sessionID, userID string) error {
	if _, err := t.store.Incr(ctx, connsPrefix+userID); err != nil {
		return fmt.Errorf("presence: register %s: %w", sessionID, err)
	}
	if err := t.store.SetTTL(ctx, onlinePrefix+userID, "1", t.onlineTTL); err != nil {
		return fmt.Errorf("presence: register %s: %w", sessionID, err)
	}
	if err := t.store.Del(ctx, seenPrefix+userID); err != nil {
		return fmt.Errorf("presence: register %s: %w", sessionID, err)
	}
	if err := t.store.SetTTL(ctx, sessionPrefix+sessionID, userID, SessionTTL); err != nil {
		return fmt.Errorf("presence: register %s: %w", sessionID, err)
	}
	return nil
}

// RefreshOnline extends the user's online TTL without touching the
// connection count. Called on send activity so an idle-but-connected
// user does not expire prematurely.
func (t *Tracker) RefreshOnline(ctx context.Context, userID string) error {
	if err := t.store.SetTTL(ctx, onlinePrefix+userID, "1", t.onlineTTL); err != nil {
		return fmt.Errorf("presence: refresh %s: %w", userID, err)
	}
	return nil
}

// EndSession tears down one session. When the user's last session ends
// the online flag is cleared, the current time is recorded as last-seen,
// and the counter key is removed rather than left at zero. While other
// sessions remain, the counter's TTL is refreshed so a stale count
// self-heals if a later cleanup is ever missed. Calling EndSession for a
// session that was never registered (or already ended) is a no-op.
func (t *Tracker) EndSession(ctx context.Context, sessionID string) error {
	userID, ok, err := t.store.Get(ctx, sessionPrefix+sessionID)
	if err != nil {
		return fmt.Errorf("presence: end %s: %w", sessionID, err)
	}
	if !ok {
		return nil
	}
	if err := t.store.Del(ctx, sessionPrefix+sessionID); err != nil {
		return fmt.Errorf("presence: end %s: %w", sessionID, err)
	}

	n, err := t.store.Decr(ctx, connsPrefix+userID)
	if err != nil {
		return fmt.Errorf("presence: end %s: %w", sessionID, err)
	}

	if n > 0 {
		if err := t.store.Expire(ctx, connsPrefix+userID, t.onlineTTL); err != nil {
			return fmt.Errorf("presence: end %s: %w", sessionID, err)
		}
		return nil
	}

	if err := t.store.Del(ctx, onlinePrefix+userID); err != nil {
		return fmt.Errorf("presence: end %s: %w", sessionID, err)
	}
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := t.store.SetTTL(ctx, seenPrefix+userID, now, SeenTTL); err != nil {
		return fmt.Errorf("presence: end %s: %w", sessionID, err)
	}
	if err := t.store.Del(ctx, connsPrefix+userID); err != nil {
		return fmt.Errorf("presence: end %s: %w", sessionID, err)
	}
	return nil
}

// GetPresence is a pure read. If the store is unreachable it degrades to
// offline/unknown rather than surfacing the outage to the caller.
func (t *Tracker) GetPresence(ctx context.Context, userID string) (Presence, error) {
	online, err := t.store.Exists(ctx, onlinePrefix+userID)
	if err != nil {
		log.Printf("presence: get %s degraded to offline: %v", userID, err)
		return Presence{}, nil
	}
	if online {
		return Presence{Online: true}, nil
	}

	val, ok, err := t.store.Get(ctx, seenPrefix+userID)
	if err != nil {
		log.Printf("presence: get %s degraded to offline: %v", userID, err)
		return Presence{}, nil
	}
	if !ok {
		return Presence{}, nil
	}

	ts, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return Presence{}, fmt.Errorf("presence: corrupt last-seen for %s: %w", userID, err)
	}
	seen := time.Unix(ts, 0)
	return Presence{LastSeenAt: &seen}, nil
}
