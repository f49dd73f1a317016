// Package hub is the fan-out coordinator: it owns the in-process
// broadcast groups that map channels to live sessions and drives the
// join/leave, typing, and send-message paths across the presence, rate
// limit, gate, and durable-store collaborators.
//
// Group membership is per server instance, reconstructed from live
// connections only; multi-instance deployments route a channel's
// sessions to one instance (sticky routing). The ephemeral store is the
// only state shared across instances.
package hub

import (
	"context"
	"log"
	"sync"

	"github.com/lumen/chat-app/internal/auth"
	"github.com/lumen/chat-app/internal/data"
	"github.com/lumen/chat-app/internal/gate"
	"github.com/lumen/chat-app/internal/metrics"
	"github.com/lumen/chat-app/internal/presence"
	"github.com/lumen/chat-app/internal/protocol"
	"github.com/lumen/chat-app/internal/ratelimit"
	"github.com/lumen/chat-app/internal/typing"
)

// Sender is the write side of one live connection. The transport
// serializes concurrent writes; the hub treats a write failure to one
// recipient as that recipient's problem alone.
type Sender interface {
	WriteMessage(data []byte) error
}

// session is one authenticated connection registered with the hub,
// together with the set of channel groups it has joined.
type session struct {
	id       string
	user     auth.Identity
	sender   Sender
	channels map[string]struct{}
}

// Hub coordinates broadcast groups and the real-time intent handlers.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
	groups   map[string]map[string]*session // channelID -> sessionID -> session

	data     data.Store
	gate     *gate.Gate
	presence *presence.Tracker
	typing   *typing.Tracker
	limiter  *ratelimit.Limiter
	msgRule  ratelimit.Rule
	history  *channelHistory
}

// New builds a Hub over its collaborators. The message rule bounds
// per-user send throughput.
func New(d data.Store, g *gate.Gate, p *presence.Tracker, ty *typing.Tracker, l *ratelimit.Limiter, msgRule ratelimit.Rule) *Hub {
	return &Hub{
		sessions: make(map[string]*session),
		groups:   make(map[string]map[string]*session),
		data:     d,
		gate:     g,
		presence: p,
		typing:   ty,
		limiter:  l,
		msgRule:  msgRule,
		history:  newChannelHistory(),
	}
}

// Register attaches an authenticated session to the hub and records it
// with the presence tracker. A presence-store outage does not refuse the
// connection; presence degrades while the transport stays up.
func (h *Hub) Register(ctx context.Context, sessionID string, user auth.Identity, sender Sender) {
	h.mu.Lock()
	h.sessions[sessionID] = &session{
		id:       sessionID,
		user:     user,
		sender:   sender,
		channels: make(map[string]struct{}),
	}
	h.mu.Unlock()

	if err := h.presence.RegisterSession(ctx, sessionID, user.UserID); err != nil {
		log.Printf("hub: presence register session=%s: %v", sessionID, err)
	}
}

// Unregister removes a session from every group it joined and runs
// presence cleanup. It is idempotent and tolerates sessions that never
// completed registration; there is no caller left to receive errors, so
// internal failures are logged and swallowed.
func (h *Hub) Unregister(ctx context.Context, sessionID string) {
	h.mu.Lock()
	sess, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
		for channelID := range sess.channels {
			h.removeFromGroupLocked(channelID, sessionID)
		}
	}
	h.mu.Unlock()

	// Presence cleanup runs even when the hub never saw the session:
	// the tracker's own session mapping decides whether work remains.
	if err := h.presence.EndSession(ctx, sessionID); err != nil {
		log.Printf("hub: presence cleanup session=%s: %v", sessionID, err)
	}
}

// Join adds the session to channelID's broadcast group after the gate
// re-validates membership, confirms to the client, and replays the
// channel's recent history to the joining session only.
func (h *Hub) Join(ctx context.Context, sessionID, channelID string) error {
	if channelID == "" {
		return &ValidationError{Reason: "channel id is required"}
	}

	h.mu.RLock()
	sess, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return &unknownSessionError{sessionID: sessionID}
	}

	if err := h.gate.CanAct(ctx, sess.user.UserID, channelID); err != nil {
		return err
	}

	// Group add and history snapshot share one critical section with the
	// send path's history-append + recipient snapshot: a concurrent
	// message lands either in the replay or in the live broadcast to
	// this session, never both.
	h.mu.Lock()
	group, ok := h.groups[channelID]
	if !ok {
		group = make(map[string]*session)
		h.groups[channelID] = group
		metrics.ChannelGroups.Inc()
	}
	group[sessionID] = sess
	sess.channels[channelID] = struct{}{}
	replay := h.history.Get(channelID)
	h.mu.Unlock()

	h.sendTo(sess, protocol.TypeJoinedChannel, protocol.JoinedChannelMsg{ChannelID: channelID})
	for _, msg := range replay {
		h.sendTo(sess, protocol.TypeMessageCreated, msg)
	}
	return nil
}

// commitToGroup appends the canonical record to the channel's history
// and snapshots the recipients in one critical section, so a concurrent
// Join sees the message in exactly one of the two delivery paths.
func (h *Hub) commitToGroup(channelID, exceptSessionID string, msg protocol.MessageCreatedMsg) []*session {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.history.Add(channelID, msg)
	recipients := make([]*session, 0, len(h.groups[channelID]))
	for id, sess := range h.groups[channelID] {
		if id == exceptSessionID {
			continue
		}
		recipients = append(recipients, sess)
	}
	return recipients
}

// Leave removes the session from channelID's broadcast group. Leaving a
// channel the session never joined is a no-op.
func (h *Hub) Leave(sessionID, channelID string) {
	h.mu.Lock()
	sess, ok := h.sessions[sessionID]
	if ok {
		delete(sess.channels, channelID)
		h.removeFromGroupLocked(channelID, sessionID)
	}
	h.mu.Unlock()

	if ok {
		h.sendTo(sess, protocol.TypeLeftChannel, protocol.LeftChannelMsg{ChannelID: channelID})
	}
}

// StartTyping sets the session's typing flag and notifies the other
// members of the channel group.
func (h *Hub) StartTyping(ctx context.Context, sessionID, channelID string) error {
	sess, err := h.memberSession(sessionID, channelID)
	if err != nil {
		return err
	}

	if err := h.typing.Start(ctx, channelID, sess.user.UserID); err != nil {
		// The TTL flag is advisory; the live event below still reaches
		// current members.
		log.Printf("hub: typing start session=%s channel=%s: %v", sessionID, channelID, err)
	}

	h.broadcastEvent(channelID, sessionID, protocol.TypeTypingStarted, protocol.TypingStartedMsg{
		ChannelID:   channelID,
		UserID:      sess.user.UserID,
		DisplayName: sess.user.DisplayName,
	})
	return nil
}

// StopTyping clears the flag immediately and notifies the other members.
func (h *Hub) StopTyping(ctx context.Context, sessionID, channelID string) error {
	sess, err := h.memberSession(sessionID, channelID)
	if err != nil {
		return err
	}

	if err := h.typing.Stop(ctx, channelID, sess.user.UserID); err != nil {
		log.Printf("hub: typing stop session=%s channel=%s: %v", sessionID, channelID, err)
	}

	h.broadcastEvent(channelID, sessionID, protocol.TypeTypingStopped, protocol.TypingStoppedMsg{
		ChannelID: channelID,
		UserID:    sess.user.UserID,
	})
	return nil
}

// SessionCount returns the number of registered sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	n := len(h.sessions)
	h.mu.RUnlock()
	return n
}

// memberSession returns the session if it is registered and has joined
// channelID.
func (h *Hub) memberSession(sessionID, channelID string) (*session, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sess, ok := h.sessions[sessionID]
	if !ok {
		return nil, &unknownSessionError{sessionID: sessionID}
	}
	if _, joined := sess.channels[channelID]; !joined {
		return nil, &ValidationError{Reason: "join the channel before acting in it"}
	}
	return sess, nil
}

// removeFromGroupLocked removes a session from a group and prunes the
// group (and its history) once empty. Caller holds h.mu.
func (h *Hub) removeFromGroupLocked(channelID, sessionID string) {
	group, ok := h.groups[channelID]
	if !ok {
		return
	}
	delete(group, sessionID)
	if len(group) == 0 {
		delete(h.groups, channelID)
		h.history.Remove(channelID)
		metrics.ChannelGroups.Dec()
	}
}

// broadcastEvent delivers an event to every member of the channel group
// except the originating session.
func (h *Hub) broadcastEvent(channelID, exceptSessionID, msgType string, payload interface{}) {
	frame, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("hub: build %s event: %v", msgType, err)
		return
	}

	h.mu.RLock()
	recipients := make([]*session, 0, len(h.groups[channelID]))
	for id, sess := range h.groups[channelID] {
		if id == exceptSessionID {
			continue
		}
		recipients = append(recipients, sess)
	}
	h.mu.RUnlock()

	h.deliver(msgType, frame, recipients)
}

// deliver writes a frame to each recipient. Delivery is best-effort
// at-most-once per recipient: a failed write is logged and skipped,
// never retried, and never affects the remaining recipients.
func (h *Hub) deliver(msgType string, frame []byte, recipients []*session) {
	for _, sess := range recipients {
		if err := sess.sender.WriteMessage(frame); err != nil {
			log.Printf("hub: deliver %s to session=%s failed: %v", msgType, sess.id, err)
			metrics.DeliveriesTotal.WithLabelValues("failed").Inc()
			continue
		}
		metrics.DeliveriesTotal.WithLabelValues("delivered").Inc()
	}
}

// sendTo delivers an event to a single session, logging write failures.
func (h *Hub) sendTo(sess *session, msgType string, payload interface{}) {
	frame, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("hub: build %s event: %v", msgType, err)
		return
	}
	if err := sess.sender.WriteMessage(frame); err != nil {
		log.Printf("hub: deliver %s to session=%s failed: %v", msgType, sess.id, err)
	}
}
