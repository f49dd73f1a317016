package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver
)

// Postgres is the production Store binding.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool for the given DSN and verifies it.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("data: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("data: postgres connection failed: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgresFromDB wraps an existing database handle. Used by tests.
func NewPostgresFromDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// DB exposes the underlying handle for migrations.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) UserByID(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT id, display_name, created_at
		FROM users
		WHERE id = $1`

	var u User
	err := p.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("data: user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("data: user %s: %w", id, err)
	}
	return &u, nil
}

func (p *Postgres) ChannelByID(ctx context.Context, id string) (*Channel, error) {
	const query = `
		SELECT id, COALESCE(server_id, ''), name, kind
		FROM channels
		WHERE id = $1`

	var c Channel
	err := p.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.ServerID, &c.Name, &c.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("data: channel %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("data: channel %s: %w", id, err)
	}
	return &c, nil
}

func (p *Postgres) Membership(ctx context.Context, userID, channelID string) (*Membership, error) {
	const query = `
		SELECT user_id, channel_id, role, joined_at
		FROM memberships
		WHERE user_id = $1 AND channel_id = $2`

	var m Membership
	err := p.db.QueryRowContext(ctx, query, userID, channelID).
		Scan(&m.UserID, &m.ChannelID, &m.Role, &m.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("data: membership %s/%s: %w", userID, channelID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("data: membership %s/%s: %w", userID, channelID, err)
	}
	return &m, nil
}

// CreateMessage durably writes a message and returns the canonical
// record with the server-assigned id and timestamp.
func (p *Postgres) CreateMessage(ctx context.Context, msg NewMessage) (*Message, error) {
	const query = `
		INSERT INTO messages (id, channel_id, user_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	m := Message{
		ID:        uuid.New().String(),
		ChannelID: msg.ChannelID,
		UserID:    msg.UserID,
		Content:   msg.Content,
	}
	err := p.db.QueryRowContext(ctx, query, m.ID, m.ChannelID, m.UserID, m.Content).
		Scan(&m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("data: create message: %w", err)
	}
	return &m, nil
}
