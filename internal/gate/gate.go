// Package gate authorizes privileged real-time actions. Membership is
// re-derived from the durable store on every action — never cached from
// connection time — so a user removed from a channel mid-session is
// denied on their very next send. Temporary timeouts are TTL records in
// the ephemeral store whose remaining time is reported back to the
// denied user.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/lumen/chat-app/internal/data"
	"github.com/lumen/chat-app/internal/store"
)

// Denial codes, machine-distinguishable by the caller.
const (
	CodeChannelNotFound = "channel_not_found"
	CodeAccessDenied    = "access_denied"
	CodeTimedOut        = "timed_out"
)

// DeniedError is a structured authorization denial. Until is non-zero
// for timeouts so the caller can render an accurate message.
type DeniedError struct {
	Code   string
	Reason string
	Until  time.Time
}

func (e *DeniedError) Error() string {
	if !e.Until.IsZero() {
		return fmt.Sprintf("gate: %s: %s (until %s)", e.Code, e.Reason, e.Until.Format(time.RFC3339))
	}
	return fmt.Sprintf("gate: %s: %s", e.Code, e.Reason)
}

// MembershipLookup is the slice of the durable store the gate consumes.
type MembershipLookup interface {
	ChannelByID(ctx context.Context, id string) (*data.Channel, error)
	Membership(ctx context.Context, userID, channelID string) (*data.Membership, error)
}

const timeoutPrefix = "timeout:"

// Gate re-validates channel access for each privileged action.
type Gate struct {
	data  MembershipLookup
	store store.Store
}

// NewGate builds a Gate from the durable lookup and the ephemeral store.
func NewGate(d MembershipLookup, s store.Store) *Gate {
	return &Gate{data: d, store: s}
}

// CanAct checks that userID may act in channelID right now. It returns
// nil when allowed, a *DeniedError with a structured reason when denied,
// and a plain error only for infrastructure failures of the durable
// store.
func (g *Gate) CanAct(ctx context.Context, userID, channelID string) error {
	if _, err := g.data.ChannelByID(ctx, channelID); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return &DeniedError{Code: CodeChannelNotFound, Reason: "channel does not exist"}
		}
		return fmt.Errorf("gate: channel lookup: %w", err)
	}

	if _, err := g.data.Membership(ctx, userID, channelID); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return &DeniedError{Code: CodeAccessDenied, Reason: "not a member of this channel"}
		}
		return fmt.Errorf("gate: membership lookup: %w", err)
	}

	until, reason, err := g.timeoutFor(ctx, userID, channelID)
	if err != nil {
		// The durable membership check already passed; a timeout record
		// we cannot read fails open, matching the rate limiter's stance.
		log.Printf("gate: timeout check %s/%s failed open: %v", userID, channelID, err)
		return nil
	}
	if !until.IsZero() {
		return &DeniedError{Code: CodeTimedOut, Reason: reason, Until: until}
	}
	return nil
}

// Timeout records a temporary mute of userID in channelID. The record
// expires on its own; the expiry instant is embedded in the value so
// denials can report it.
func (g *Gate) Timeout(ctx context.Context, userID, channelID string, d time.Duration, reason string) error {
	until := time.Now().Add(d)
	val := strconv.FormatInt(until.Unix(), 10) + "|" + reason
	if err := g.store.SetTTL(ctx, timeoutKey(userID, channelID), val, d); err != nil {
		return fmt.Errorf("gate: set timeout: %w", err)
	}
	return nil
}

// ClearTimeout lifts a timeout before its natural expiry.
func (g *Gate) ClearTimeout(ctx context.Context, userID, channelID string) error {
	if err := g.store.Del(ctx, timeoutKey(userID, channelID)); err != nil {
		return fmt.Errorf("gate: clear timeout: %w", err)
	}
	return nil
}

func (g *Gate) timeoutFor(ctx context.Context, userID, channelID string) (time.Time, string, error) {
	val, ok, err := g.store.Get(ctx, timeoutKey(userID, channelID))
	if err != nil || !ok {
		return time.Time{}, "", err
	}

	tsStr, reason, _ := strings.Cut(val, "|")
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		// Corrupt record: treat as absent rather than locking the user out.
		return time.Time{}, "", nil
	}
	return time.Unix(ts, 0), reason, nil
}

func timeoutKey(userID, channelID string) string {
	return timeoutPrefix + channelID + ":" + userID
}
