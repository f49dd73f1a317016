package data

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Postgres) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock, NewPostgresFromDB(db)
}

func TestChannelByID(t *testing.T) {
	_, mock, store := setupMockDB(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM channels").
		WithArgs("ch-7").
		WillReturnRows(sqlmock.NewRows([]string{"id", "server_id", "name", "kind"}).
			AddRow("ch-7", "srv-1", "general", "text"))

	ch, err := store.ChannelByID(ctx, "ch-7")
	if err != nil {
		t.Fatalf("ChannelByID: %v", err)
	}
	if ch.ID != "ch-7" || ch.Name != "general" || ch.Kind != "text" {
		t.Errorf("unexpected channel: %+v", ch)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestChannelByID_NotFound(t *testing.T) {
	_, mock, store := setupMockDB(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM channels").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.ChannelByID(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestChannelByID_InfraErrorIsNotNotFound(t *testing.T) {
	_, mock, store := setupMockDB(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM channels").
		WithArgs("ch-7").
		WillReturnError(errors.New("connection refused"))

	_, err := store.ChannelByID(ctx, "ch-7")
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("infrastructure failure must not be reported as not-found")
	}
}

func TestMembership(t *testing.T) {
	_, mock, store := setupMockDB(t)
	ctx := context.Background()
	joined := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM memberships").
		WithArgs("u1", "ch-7").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "channel_id", "role", "joined_at"}).
			AddRow("u1", "ch-7", "member", joined))

	m, err := store.Membership(ctx, "u1", "ch-7")
	if err != nil {
		t.Fatalf("Membership: %v", err)
	}
	if m.UserID != "u1" || m.ChannelID != "ch-7" || m.Role != "member" {
		t.Errorf("unexpected membership: %+v", m)
	}
}

func TestMembership_NotFound(t *testing.T) {
	_, mock, store := setupMockDB(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM memberships").
		WithArgs("u1", "ch-7").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Membership(ctx, "u1", "ch-7")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUserByID(t *testing.T) {
	_, mock, store := setupMockDB(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM users").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "created_at"}).
			AddRow("u1", "Alice", time.Now()))

	u, err := store.UserByID(ctx, "u1")
	if err != nil {
		t.Fatalf("UserByID: %v", err)
	}
	if u.DisplayName != "Alice" {
		t.Errorf("unexpected user: %+v", u)
	}
}

func TestCreateMessage(t *testing.T) {
	_, mock, store := setupMockDB(t)
	ctx := context.Background()
	created := time.Now()

	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(sqlmock.AnyArg(), "ch-7", "u1", "hello").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	msg, err := store.CreateMessage(ctx, NewMessage{
		ChannelID: "ch-7",
		UserID:    "u1",
		Content:   "hello",
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if msg.ID == "" {
		t.Error("canonical message must carry a server-assigned id")
	}
	if msg.Content != "hello" || msg.ChannelID != "ch-7" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if !msg.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", msg.CreatedAt, created)
	}
}

func TestCreateMessage_WriteFailure(t *testing.T) {
	_, mock, store := setupMockDB(t)
	ctx := context.Background()

	mock.ExpectQuery("INSERT INTO messages").
		WillReturnError(errors.New("deadlock detected"))

	_, err := store.CreateMessage(ctx, NewMessage{ChannelID: "ch-7", UserID: "u1", Content: "x"})
	if err == nil {
		t.Fatal("expected write failure to surface")
	}
}
