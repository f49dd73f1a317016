// Package typing tracks per-(channel, user) typing indicators as
// short-TTL keys in the ephemeral store. The TTL bounds stale "is
// typing" UI state even when a stop event is lost; an explicit stop (or
// a sent message) clears the flag immediately.
package typing

import (
	"context"
	"fmt"
	"time"

	"github.com/lumen/chat-app/internal/store"
)

// FlagTTL bounds how long a typing indicator survives without refresh.
const FlagTTL = 3 * time.Second

const keyPrefix = "typing:"

// Tracker maintains typing flags in the ephemeral store.
type Tracker struct {
	store store.Store
	ttl   time.Duration
}

// NewTracker creates a Tracker with the default flag TTL.
func NewTracker(s store.Store) *Tracker {
	return &Tracker{store: s, ttl: FlagTTL}
}

// NewTrackerTTL creates a Tracker with a custom TTL. Used by tests.
func NewTrackerTTL(s store.Store, ttl time.Duration) *Tracker {
	return &Tracker{store: s, ttl: ttl}
}

func key(channelID, userID string) string {
	return keyPrefix + channelID + ":" + userID
}

// Start marks the user as typing in the channel. Repeated calls from a
// continuously typing client simply refresh the TTL.
func (t *Tracker) Start(ctx context.Context, channelID, userID string) error {
	if err := t.store.SetTTL(ctx, key(channelID, userID), "1", t.ttl); err != nil {
		return fmt.Errorf("typing: start %s/%s: %w", channelID, userID, err)
	}
	return nil
}

// Stop clears the flag immediately, independent of its TTL.
func (t *Tracker) Stop(ctx context.Context, channelID, userID string) error {
	if err := t.store.Del(ctx, key(channelID, userID)); err != nil {
		return fmt.Errorf("typing: stop %s/%s: %w", channelID, userID, err)
	}
	return nil
}

// IsTyping reports whether the flag is currently set.
func (t *Tracker) IsTyping(ctx context.Context, channelID, userID string) (bool, error) {
	ok, err := t.store.Exists(ctx, key(channelID, userID))
	if err != nil {
		return false, fmt.Errorf("typing: check %s/%s: %w", channelID, userID, err)
	}
	return ok, nil
}
