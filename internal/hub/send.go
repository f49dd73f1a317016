package hub

import (
	"context"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lumen/chat-app/internal/data"
	"github.com/lumen/chat-app/internal/metrics"
	"github.com/lumen/chat-app/internal/protocol"
)

const (
	// MaxContentBytes bounds the encoded message body.
	MaxContentBytes = 4096
	// MaxContentChars bounds the message body character count.
	MaxContentChars = 2000
)

// validateContent checks that a message body meets content requirements.
// Leading and trailing whitespace does not count toward being non-empty.
func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Reason: "message content is empty"}
	}
	if len(content) > MaxContentBytes {
		return &ValidationError{Reason: "message exceeds size limit"}
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return &ValidationError{Reason: "message exceeds character limit"}
	}
	if !utf8.ValidString(content) {
		return &ValidationError{Reason: "message contains invalid UTF-8"}
	}
	return nil
}

// SendMessage runs the full send pipeline for one message intent: rate
// limit, content validation, gate check, durable write, then fan-out to
// the channel group and a direct ack to the sender. The durable write is
// the commit point; nothing is broadcast for a message that was not
// persisted, and the returned message carries the canonical ID and
// timestamp assigned by the durable store.
func (h *Hub) SendMessage(ctx context.Context, sessionID, channelID, content string) (*data.Message, error) {
	start := time.Now()

	h.mu.RLock()
	sess, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return nil, &unknownSessionError{sessionID: sessionID}
	}

	// On a store error Allow has already applied the configured fail
	// policy; the boolean carries the decision either way.
	allowed, _ := h.limiter.Allow(ctx, sess.user.UserID, h.msgRule)
	if !allowed {
		metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
		return nil, &RateLimitError{RetryAfter: int(h.msgRule.Window / time.Second)}
	}

	// Any authored action counts as activity.
	if err := h.presence.RefreshOnline(ctx, sess.user.UserID); err != nil {
		log.Printf("hub: presence refresh user=%s: %v", sess.user.UserID, err)
	}

	if err := validateContent(content); err != nil {
		metrics.MessagesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if err := h.gate.CanAct(ctx, sess.user.UserID, channelID); err != nil {
		metrics.MessagesTotal.WithLabelValues("denied").Inc()
		return nil, err
	}

	msg, err := h.data.CreateMessage(ctx, data.NewMessage{
		ChannelID: channelID,
		UserID:    sess.user.UserID,
		Content:   content,
	})
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("store_error").Inc()
		return nil, err
	}

	// Sending implies the author stopped typing.
	if terr := h.typing.Stop(ctx, channelID, sess.user.UserID); terr != nil {
		log.Printf("hub: typing stop user=%s channel=%s: %v", sess.user.UserID, channelID, terr)
	}

	created := protocol.MessageCreatedMsg{
		ID:          msg.ID,
		ChannelID:   msg.ChannelID,
		UserID:      msg.UserID,
		DisplayName: sess.user.DisplayName,
		Content:     msg.Content,
		Ts:          msg.CreatedAt.UnixMilli(),
	}
	recipients := h.commitToGroup(channelID, sessionID, created)
	if frame, ferr := protocol.NewServerMessage(protocol.TypeMessageCreated, created); ferr != nil {
		log.Printf("hub: build %s event: %v", protocol.TypeMessageCreated, ferr)
	} else {
		h.deliver(protocol.TypeMessageCreated, frame, recipients)
	}

	h.sendTo(sess, protocol.TypeMessageAck, protocol.MessageAckMsg{
		ID:        msg.ID,
		ChannelID: msg.ChannelID,
		Content:   msg.Content,
		Ts:        msg.CreatedAt.UnixMilli(),
	})

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	metrics.SendLatency.Observe(time.Since(start).Seconds())
	return msg, nil
}
