package auth

import (
	"net/url"
	"strings"
)

// Handshake carries the credential sources available on an inbound
// connection attempt.
type Handshake struct {
	AuthPayload  string     // explicit credential, e.g. the Authorization header
	Query        url.Values // upgrade request query string
	CookieHeader string     // raw Cookie header, semicolon-delimited pairs
}

// credentialName is the query parameter and cookie name carrying the token.
const credentialName = "token"

// extractor pulls a credential from one handshake source, returning ""
// when the source is absent.
type extractor func(Handshake) string

// extractors in priority order: first non-empty result wins.
var extractors = []extractor{
	fromAuthPayload,
	fromQuery,
	fromCookie,
}

// ExtractCredential walks the ordered sources and returns the first
// credential found, or ErrMissingCredential when every source is empty.
func ExtractCredential(h Handshake) (string, error) {
	for _, ex := range extractors {
		if token := ex(h); token != "" {
			return token, nil
		}
	}
	return "", ErrMissingCredential
}

func fromAuthPayload(h Handshake) string {
	payload := strings.TrimSpace(h.AuthPayload)
	if after, ok := strings.CutPrefix(payload, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return payload
}

func fromQuery(h Handshake) string {
	if h.Query == nil {
		return ""
	}
	return h.Query.Get(credentialName)
}

// fromCookie parses a semicolon-delimited cookie header by hand: pairs
// are trimmed of surrounding whitespace and the first "token" value wins.
func fromCookie(h Handshake) string {
	for _, pair := range strings.Split(h.CookieHeader, ";") {
		pair = strings.TrimSpace(pair)
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(name) == credentialName {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
