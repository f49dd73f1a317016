package ws

import (
	"context"
	"testing"
	"time"

	"github.com/lumen/chat-app/internal/auth"
	"github.com/lumen/chat-app/internal/presence"
	"github.com/lumen/chat-app/internal/store"
)

// TestHeartbeatRefreshKeepsIdleUserOnline verifies that the heartbeat's
// presence refresh carries an idle-but-connected user across online TTL
// windows, and that the flag lapses once the connection is gone and the
// refresh stops.
func TestHeartbeatRefreshKeepsIdleUserOnline(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	tracker := presence.NewTrackerTTL(mem, 40*time.Millisecond)

	if err := tracker.RegisterSession(ctx, "s1", "alice"); err != nil {
		t.Fatalf("RegisterSession: %v", err)
	}

	// The connection sends nothing; only the heartbeat refresh keeps the
	// flag alive across several TTL windows.
	live := []*Connection{{User: auth.Identity{UserID: "alice"}}}
	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		refreshPresence(tracker, live)
	}

	p, err := tracker.GetPresence(ctx, "alice")
	if err != nil {
		t.Fatalf("GetPresence: %v", err)
	}
	if !p.Online {
		t.Fatal("idle connected user went offline despite heartbeat refresh")
	}

	// No live connections left: the refresh stops and the flag lapses.
	time.Sleep(80 * time.Millisecond)
	p, err = tracker.GetPresence(ctx, "alice")
	if err != nil {
		t.Fatalf("GetPresence: %v", err)
	}
	if p.Online {
		t.Fatal("online flag survived past its TTL with no refresh")
	}
}

func TestRefreshPresenceNilTrackerIsNoop(t *testing.T) {
	refreshPresence(nil, []*Connection{{User: auth.Identity{UserID: "alice"}}})
}
