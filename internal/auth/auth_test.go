package auth

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/lumen/chat-app/internal/data"
)

// fakeUsers resolves a fixed set of users.
type fakeUsers map[string]string // id -> display name

func (f fakeUsers) UserByID(_ context.Context, id string) (*data.User, error) {
	name, ok := f[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return &data.User{ID: id, DisplayName: name}, nil
}

func TestExtractCredential_SourceOrder(t *testing.T) {
	tests := []struct {
		name string
		h    Handshake
		want string
	}{
		{
			name: "auth payload wins over query and cookie",
			h: Handshake{
				AuthPayload:  "Bearer from-header",
				Query:        url.Values{"token": {"from-query"}},
				CookieHeader: "token=from-cookie",
			},
			want: "from-header",
		},
		{
			name: "query wins over cookie",
			h: Handshake{
				Query:        url.Values{"token": {"from-query"}},
				CookieHeader: "token=from-cookie",
			},
			want: "from-query",
		},
		{
			name: "cookie as last resort",
			h:    Handshake{CookieHeader: "token=from-cookie"},
			want: "from-cookie",
		},
		{
			name: "bare payload without bearer prefix",
			h:    Handshake{AuthPayload: "raw-token"},
			want: "raw-token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractCredential(tt.h)
			if err != nil {
				t.Fatalf("ExtractCredential: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractCredential = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractCredential_CookieParsing(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"token among other cookies", "token=abc123; other=x", "abc123"},
		{"leading whitespace around pairs", "  other=x ;  token=abc123 ", "abc123"},
		{"token first", "token=abc123;session=zzz", "abc123"},
		{"malformed pair skipped", "garbage; token=abc123", "abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractCredential(Handshake{CookieHeader: tt.header})
			if err != nil {
				t.Fatalf("ExtractCredential: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractCredential(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestExtractCredential_Missing(t *testing.T) {
	empty := []Handshake{
		{},
		{CookieHeader: "other=x; session=y"},
		{Query: url.Values{"format": {"json"}}},
	}
	for _, h := range empty {
		if _, err := ExtractCredential(h); !errors.Is(err, ErrMissingCredential) {
			t.Errorf("ExtractCredential(%+v): want ErrMissingCredential, got %v", h, err)
		}
	}
}

func TestTokenVerifier_RoundTrip(t *testing.T) {
	v := NewTokenVerifier("test-secret", time.Hour)

	token, err := v.Sign("u1")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	userID, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if userID != "u1" {
		t.Errorf("Verify = %q, want %q", userID, "u1")
	}
}

func TestTokenVerifier_RejectsBadSignature(t *testing.T) {
	token, _ := NewTokenVerifier("secret-a", time.Hour).Sign("u1")

	_, err := NewTokenVerifier("secret-b", time.Hour).Verify(token)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("want ErrInvalidCredential, got %v", err)
	}
}

func TestTokenVerifier_RejectsExpired(t *testing.T) {
	v := NewTokenVerifier("test-secret", -time.Minute)
	token, _ := v.Sign("u1")

	_, err := v.Verify(token)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("want ErrInvalidCredential, got %v", err)
	}
}

func TestTokenVerifier_RejectsGarbage(t *testing.T) {
	v := NewTokenVerifier("test-secret", time.Hour)
	for _, token := range []string{"", "not.a.jwt", "a.b"} {
		if _, err := v.Verify(token); !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("Verify(%q): want ErrInvalidCredential, got %v", token, err)
		}
	}
}

func TestAuthenticate(t *testing.T) {
	v := NewTokenVerifier("test-secret", time.Hour)
	a := NewAuthenticator(v, fakeUsers{"u1": "Alice"})
	ctx := context.Background()

	token, _ := v.Sign("u1")

	id, err := a.Authenticate(ctx, Handshake{CookieHeader: "token=" + token})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.UserID != "u1" || id.DisplayName != "Alice" {
		t.Errorf("unexpected identity: %+v", id)
	}
}

func TestAuthenticate_Failures(t *testing.T) {
	v := NewTokenVerifier("test-secret", time.Hour)
	a := NewAuthenticator(v, fakeUsers{"u1": "Alice"})
	ctx := context.Background()

	deletedUserToken, _ := v.Sign("u-deleted")

	tests := []struct {
		name string
		h    Handshake
		want error
	}{
		{"no credential anywhere", Handshake{}, ErrMissingCredential},
		{"tampered token", Handshake{AuthPayload: "Bearer bogus"}, ErrInvalidCredential},
		{"valid token, deleted user", Handshake{AuthPayload: deletedUserToken}, ErrUnknownUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(ctx, tt.h)
			if !errors.Is(err, tt.want) {
				t.Errorf("Authenticate: want %v, got %v", tt.want, err)
			}
		})
	}
}
