package ws

import (
	"context"
	"log"
	"time"

	"github.com/gobwas/ws"

	"github.com/lumen/chat-app/internal/presence"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
// The interval must stay well under the presence online TTL: the same pass
// that proves a connection alive also keeps its user's online flag from
// lapsing.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat begins a background goroutine that periodically sends
// WebSocket ping frames to all connections, closes those that have gone
// stale (no successful reads within Interval + Timeout), and refreshes
// the online flag for every user that still holds a live connection. It
// returns immediately; the goroutine exits when the server's done
// channel is closed.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				live := checkConnections(server, config)
				refreshPresence(server.presence, live)
			}
		}
	}()
}

// checkConnections iterates over all active connections. Connections that
// have not had a successful read within Interval + Timeout are considered
// dead and are removed. All other connections receive a WebSocket-level
// ping frame (opcode 0x9), which the browser answers automatically with a
// pong, and are returned as the live set.
func checkConnections(server *Server, config HeartbeatConfig) []*Connection {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	var live []*Connection
	for _, c := range server.Connections().All() {
		if now.Sub(c.LastActive()) > deadline {
			log.Printf("ws: heartbeat timeout session=%s last_activity=%s ago",
				c.ID, now.Sub(c.LastActive()).Round(time.Second))
			server.RemoveConnection(c)
			continue
		}

		// Send a WebSocket protocol-level ping frame. The write mutex on the
		// connection serializes this with any concurrent application writes.
		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed session=%s: %v", c.ID, err)
			server.RemoveConnection(c)
			continue
		}
		live = append(live, c)
	}
	return live
}

// refreshPresence extends the online TTL for every user holding at least
// one live connection. Without this, a user who stays connected but idle
// past the online TTL would read as offline while their connection count
// is still positive; send activity alone only covers actively chatting
// users. Each user is refreshed once per pass regardless of how many
// sessions they hold.
func refreshPresence(tracker *presence.Tracker, live []*Connection) {
	if tracker == nil || len(live) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	seen := make(map[string]struct{}, len(live))
	for _, c := range live {
		if _, ok := seen[c.User.UserID]; ok {
			continue
		}
		seen[c.User.UserID] = struct{}{}

		if err := tracker.RefreshOnline(ctx, c.User.UserID); err != nil {
			log.Printf("ws: heartbeat presence refresh user=%s: %v", c.User.UserID, err)
		}
	}
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9) on the
// connection. The write mutex ensures this does not interleave with other
// outbound frames.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}
