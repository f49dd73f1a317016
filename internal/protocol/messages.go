// Package protocol defines the WebSocket message types and structures used
// for communication between the client and server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinChannel  = "join_channel"
	TypeLeaveChannel = "leave_channel"
	TypeTypingStart  = "typing_start"
	TypeTypingStop   = "typing_stop"
	TypeSendMessage  = "message"
	TypePing         = "ping"
)

// Server -> Client message types.
const (
	TypeReady          = "ready"
	TypeJoinedChannel  = "joined_channel"
	TypeLeftChannel    = "left_channel"
	TypeTypingStarted  = "typing_started"
	TypeTypingStopped  = "typing_stopped"
	TypeMessageCreated = "message_created"
	TypeMessageAck     = "message_ack"
	TypeRateLimited    = "rate_limited"
	TypeError          = "error"
	TypePong           = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of
// the payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinChannelMsg is sent by the client to join a channel's broadcast group.
type JoinChannelMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
}

// LeaveChannelMsg is sent by the client to leave a channel's broadcast group.
type LeaveChannelMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
}

// TypingStartMsg marks the client as typing in a channel.
type TypingStartMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
}

// TypingStopMsg clears the client's typing indicator in a channel.
type TypingStopMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
}

// SendMessageMsg is a chat message sent by the client to a channel.
type SendMessageMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ReadyMsg is sent once after a connection is admitted, confirming the
// resolved identity and the session id.
type ReadyMsg struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// JoinedChannelMsg confirms the client joined a channel's broadcast group.
type JoinedChannelMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
}

// LeftChannelMsg confirms the client left a channel's broadcast group.
type LeftChannelMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
}

// TypingStartedMsg tells channel members that a user started typing.
type TypingStartedMsg struct {
	Type        string `json:"type"`
	ChannelID   string `json:"channel_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// TypingStoppedMsg tells channel members that a user stopped typing.
type TypingStoppedMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

// MessageCreatedMsg carries the canonical message record to channel
// members. Ts is the server-assigned timestamp in unix milliseconds;
// together with ID it defines message ordering for clients.
type MessageCreatedMsg struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	ChannelID   string `json:"channel_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Content     string `json:"content"`
	Ts          int64  `json:"ts"`
}

// MessageAckMsg returns the canonical record directly to the sender so it
// can reconcile any optimistic local copy. The sender is excluded from
// the broadcast and receives only this acknowledgment.
type MessageAckMsg struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Ts        int64  `json:"ts"`
}

// RateLimitedMsg is sent when the client exceeds its send budget;
// distinct from authorization errors so clients back off instead of
// showing a permanent block.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg communicates a structured error. Until is set (unix seconds)
// for denials with an expiry, such as timeouts.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Until   int64  `json:"until,omitempty"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client
// message. It returns the message type string, the decoded struct, and
// any error encountered during parsing. An error is returned for unknown
// or server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinChannel:
		var m JoinChannelMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveChannel:
		var m LeaveChannelMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStart:
		var m TypingStartMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStop:
		var m TypingStopMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server
// message. The msgType is injected into the payload under the "type"
// key. The payload should be one of the server message structs; this
// function marshals it to JSON, injects the type field, and returns the
// final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
