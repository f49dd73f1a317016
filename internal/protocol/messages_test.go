package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid join_channel message
// ---------------------------------------------------------------------------

func TestParseClientMessage_JoinChannel(t *testing.T) {
	input := []byte(`{"type":"join_channel","channel_id":"ch-7"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoinChannel {
		t.Fatalf("expected type %q, got %q", TypeJoinChannel, msgType)
	}

	jm, ok := msg.(JoinChannelMsg)
	if !ok {
		t.Fatalf("expected JoinChannelMsg, got %T", msg)
	}
	if jm.ChannelID != "ch-7" {
		t.Errorf("expected channel_id %q, got %q", "ch-7", jm.ChannelID)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid message (send) message
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"message","channel_id":"ch-7","content":"Hello!"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.ChannelID != "ch-7" {
		t.Errorf("expected channel_id %q, got %q", "ch-7", sm.ChannelID)
	}
	if sm.Content != "Hello!" {
		t.Errorf("expected content %q, got %q", "Hello!", sm.Content)
	}
}

// ---------------------------------------------------------------------------
// Test: Invalid inputs
// ---------------------------------------------------------------------------

func TestParseClientMessage_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `not json at all`},
		{"missing type", `{"channel_id":"ch-7"}`},
		{"empty type", `{"type":""}`},
		{"unknown type", `{"type":"self_destruct"}`},
		{"server-only type", `{"type":"message_created"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseClientMessage([]byte(tt.input))
			if err == nil {
				t.Errorf("ParseClientMessage(%q) should fail", tt.input)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a message_created server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_MessageCreated(t *testing.T) {
	payload := MessageCreatedMsg{
		ID:          "msg-1",
		ChannelID:   "ch-7",
		UserID:      "u1",
		DisplayName: "Alice",
		Content:     "hi",
		Ts:          1700000000000,
	}

	data, err := NewServerMessage(TypeMessageCreated, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeMessageCreated {
		t.Errorf("expected type %q, got %v", TypeMessageCreated, result["type"])
	}
	if result["id"] != "msg-1" {
		t.Errorf("expected id %q, got %v", "msg-1", result["id"])
	}
	if result["channel_id"] != "ch-7" {
		t.Errorf("expected channel_id %q, got %v", "ch-7", result["channel_id"])
	}
	if result["content"] != "hi" {
		t.Errorf("expected content %q, got %v", "hi", result["content"])
	}
}

// ---------------------------------------------------------------------------
// Test: Error message with expiry metadata
// ---------------------------------------------------------------------------

func TestNewServerMessage_ErrorWithUntil(t *testing.T) {
	data, err := NewServerMessage(TypeError, ErrorMsg{
		Code:    "timed_out",
		Message: "you are timed out in this channel",
		Until:   1700000123,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["code"] != "timed_out" {
		t.Errorf("expected code %q, got %v", "timed_out", result["code"])
	}
	if result["until"] != float64(1700000123) {
		t.Errorf("expected until 1700000123, got %v", result["until"])
	}

	// Without an expiry, the until field is omitted entirely.
	data, _ = NewServerMessage(TypeError, ErrorMsg{Code: "access_denied", Message: "no"})
	result = nil
	json.Unmarshal(data, &result)
	if _, present := result["until"]; present {
		t.Error("until should be omitted when zero")
	}
}
