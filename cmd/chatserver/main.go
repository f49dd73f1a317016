package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/lumen/chat-app/internal/auth"
	"github.com/lumen/chat-app/internal/data"
	"github.com/lumen/chat-app/internal/gate"
	"github.com/lumen/chat-app/internal/hub"
	"github.com/lumen/chat-app/internal/presence"
	"github.com/lumen/chat-app/internal/protocol"
	"github.com/lumen/chat-app/internal/ratelimit"
	"github.com/lumen/chat-app/internal/store"
	"github.com/lumen/chat-app/internal/typing"
	"github.com/lumen/chat-app/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- Ephemeral store (Redis) ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	ephemeral, err := store.NewRedisStore(redisAddr)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	// --- Durable store (PostgreSQL) ---
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}
	durable, err := data.NewPostgres(dsn)
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	if err := data.Migrate(durable.DB()); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// --- Auth ---
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	tokenExpiry := 24 * time.Hour
	if v := os.Getenv("TOKEN_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			tokenExpiry = d
		}
	}
	authenticator := auth.NewAuthenticator(auth.NewTokenVerifier(jwtSecret, tokenExpiry), durable)

	// --- Rate limiting ---
	msgRule := ratelimit.RuleMessage
	if v := os.Getenv("RATE_LIMIT_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			msgRule.Limit = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			msgRule.Window = d
		}
	}
	limiter := ratelimit.NewLimiter(ephemeral)
	if v := os.Getenv("RATE_LIMIT_FAIL_OPEN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			limiter.FailOpen = b
		}
	}

	presenceTracker := presence.NewTracker(ephemeral)
	typingTracker := typing.NewTracker(ephemeral)
	accessGate := gate.NewGate(durable, ephemeral)

	coordinator := hub.New(durable, accessGate, presenceTracker, typingTracker, limiter, msgRule)

	log.Printf("chat server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  rate_limit:      %d msgs / %s (fail_open=%v)", msgRule.Limit, msgRule.Window, limiter.FailOpen)

	dispatcher := ws.NewMessageDispatcher()

	// -----------------------------------------------------------------------
	// join_channel — enter a channel's broadcast group
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinChannel, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinChannelMsg)
		if !ok {
			return
		}
		if err := coordinator.Join(context.Background(), conn.ID, joinMsg.ChannelID); err != nil {
			writeIntentError(conn, err)
			return
		}
		log.Printf("join_channel session=%s user=%s channel=%s", conn.ID, conn.User.UserID, joinMsg.ChannelID)
	})

	// -----------------------------------------------------------------------
	// leave_channel — leave a channel's broadcast group
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeLeaveChannel, func(conn *ws.Connection, msg interface{}) {
		leaveMsg, ok := msg.(protocol.LeaveChannelMsg)
		if !ok {
			return
		}
		coordinator.Leave(conn.ID, leaveMsg.ChannelID)
		log.Printf("leave_channel session=%s channel=%s", conn.ID, leaveMsg.ChannelID)
	})

	// -----------------------------------------------------------------------
	// typing_start / typing_stop — typing indicators
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTypingStart, func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingStartMsg)
		if !ok {
			return
		}
		if err := coordinator.StartTyping(context.Background(), conn.ID, typingMsg.ChannelID); err != nil {
			writeIntentError(conn, err)
		}
	})

	dispatcher.Register(protocol.TypeTypingStop, func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingStopMsg)
		if !ok {
			return
		}
		if err := coordinator.StopTyping(context.Background(), conn.ID, typingMsg.ChannelID); err != nil {
			writeIntentError(conn, err)
		}
	})

	// -----------------------------------------------------------------------
	// message — persist and fan out a channel message
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		sendMsg, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		_, err := coordinator.SendMessage(context.Background(), conn.ID, sendMsg.ChannelID, sendMsg.Content)
		if err != nil {
			writeIntentError(conn, err)
		}
	})

	server := ws.NewServer(config, authenticator, presenceTracker, dispatcher.Dispatch)

	server.SetOnConnect(func(conn *ws.Connection) {
		coordinator.Register(context.Background(), conn.ID, conn.User, conn)
	})

	server.SetOnDisconnect(func(connID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		coordinator.Unregister(ctx, connID)
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := ephemeral.Close(); err != nil {
			log.Printf("ephemeral store close error: %v", err)
		}
		if err := durable.Close(); err != nil {
			log.Printf("durable store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// writeIntentError maps a coordinator error onto the wire: throttling
// becomes rate_limited with a retry hint, authorization denials carry
// their code (and timeout expiry when present), and everything else is
// a generic error message.
func writeIntentError(conn *ws.Connection, err error) {
	var (
		rateErr   *hub.RateLimitError
		validErr  *hub.ValidationError
		deniedErr *gate.DeniedError
	)

	switch {
	case errors.As(err, &rateErr):
		resp, _ := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
			RetryAfter: rateErr.RetryAfter,
		})
		write(conn, resp)

	case errors.As(err, &validErr):
		resp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
			Code: "invalid_message", Message: validErr.Reason,
		})
		write(conn, resp)

	case errors.As(err, &deniedErr):
		errMsg := protocol.ErrorMsg{Code: deniedErr.Code, Message: deniedErr.Reason}
		if !deniedErr.Until.IsZero() {
			errMsg.Until = deniedErr.Until.Unix()
		}
		resp, _ := protocol.NewServerMessage(protocol.TypeError, errMsg)
		write(conn, resp)

	default:
		log.Printf("intent failed session=%s: %v", conn.ID, err)
		resp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
			Code: "internal_error", Message: "could not process request",
		})
		write(conn, resp)
	}
}

func write(conn *ws.Connection, data []byte) {
	if data == nil {
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("write to session=%s failed: %v", conn.ID, err)
	}
}
