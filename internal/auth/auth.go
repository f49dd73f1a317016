// Package auth admits real-time connections. A handshake carries a
// credential in one of three places (explicit authorization payload,
// query string, or cookie header); the first source present wins. The
// credential is verified as a signed token and resolved to a durable
// user identity exactly once, before any event handlers or presence
// registration — a rejected connection never reaches the rest of the
// system.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/lumen/chat-app/internal/data"
)

var (
	// ErrMissingCredential means no credential was present in any of
	// the handshake's sources.
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidCredential means the credential failed signature or
	// expiry verification.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrUnknownUser means the credential was valid but names a user
	// that no longer exists.
	ErrUnknownUser = errors.New("user not found")
)

// Identity is the resolved identity attached to a connection for its
// lifetime; no further lookups are needed per message.
type Identity struct {
	UserID      string
	DisplayName string
}

// UserLookup resolves durable user records.
type UserLookup interface {
	UserByID(ctx context.Context, id string) (*data.User, error)
}

// Authenticator validates handshake credentials and resolves identities.
type Authenticator struct {
	verifier *TokenVerifier
	users    UserLookup
}

// NewAuthenticator builds an Authenticator from a token verifier and a
// user lookup.
func NewAuthenticator(verifier *TokenVerifier, users UserLookup) *Authenticator {
	return &Authenticator{verifier: verifier, users: users}
}

// Authenticate runs the full admission check: extract, verify, resolve.
func (a *Authenticator) Authenticate(ctx context.Context, h Handshake) (Identity, error) {
	token, err := ExtractCredential(h)
	if err != nil {
		return Identity{}, err
	}

	userID, err := a.verifier.Verify(token)
	if err != nil {
		return Identity{}, err
	}

	user, err := a.users.UserByID(ctx, userID)
	if errors.Is(err, data.ErrNotFound) {
		return Identity{}, ErrUnknownUser
	}
	if err != nil {
		return Identity{}, fmt.Errorf("auth: resolve user %s: %w", userID, err)
	}

	return Identity{UserID: user.ID, DisplayName: user.DisplayName}, nil
}
