// Package data is the contract for the durable system of record: users,
// channels, memberships, and messages live in PostgreSQL and are owned
// by the CRUD layer. The real-time core consumes only the lookups and
// the message write defined here.
package data

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a user, channel, or membership does not
// exist. It is distinguishable from infrastructure failures so the gate
// can deny with an accurate reason instead of a generic error.
var ErrNotFound = errors.New("not found")

// Channel kinds. A DM is a channel row with two memberships; delivery
// rules do not distinguish the kinds.
const (
	KindText = "text"
	KindDM   = "dm"
)

// User is a durable user record.
type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

// Channel is a durable channel record, either a server-grouped text
// channel or a DM pair.
type Channel struct {
	ID       string
	ServerID string // empty for DMs
	Name     string
	Kind     string
}

// Membership records that a user currently belongs to a channel.
type Membership struct {
	UserID    string
	ChannelID string
	Role      string
	JoinedAt  time.Time
}

// NewMessage is the input to a durable message write.
type NewMessage struct {
	ChannelID string
	UserID    string
	Content   string
}

// Message is the canonical record produced by a durable write: the
// server-assigned id and timestamp define message ordering for clients.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the durable collaborator contract consumed by the real-time
// core. Absence is surfaced as ErrNotFound, never conflated with other
// errors.
type Store interface {
	UserByID(ctx context.Context, id string) (*User, error)
	ChannelByID(ctx context.Context, id string) (*Channel, error)
	Membership(ctx context.Context, userID, channelID string) (*Membership, error)
	CreateMessage(ctx context.Context, msg NewMessage) (*Message, error)
}
