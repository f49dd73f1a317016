package hub

import "fmt"

// ValidationError reports malformed input (empty or oversized content,
// missing channel id). It carries no side effects: nothing was written,
// nothing was broadcast.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "hub: validation: " + e.Reason
}

// RateLimitError reports a throttled send, distinct from authorization
// denials so clients back off instead of showing a permanent block.
type RateLimitError struct {
	RetryAfter int // seconds until the window resets
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("hub: rate limited (retry after %ds)", e.RetryAfter)
}

// unknownSessionError reports an intent from a session the hub never
// registered (or already unregistered).
type unknownSessionError struct {
	sessionID string
}

func (e *unknownSessionError) Error() string {
	return "hub: unknown session " + e.sessionID
}
