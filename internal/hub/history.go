package hub

import (
	"sync"

	"github.com/lumen/chat-app/internal/protocol"
)

// historyLimit is the number of recent messages retained per channel for
// replay to joining sessions. The durable store remains the system of
// record; this is only the live context a reconnecting client sees
// before its REST re-sync.
const historyLimit = 25

// channelHistory stores the last N canonical messages per channel in
// memory. It is goroutine-safe and uses a ring buffer internally.
type channelHistory struct {
	mu      sync.RWMutex
	buffers map[string]*ringBuffer // channelID -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of message events.
type ringBuffer struct {
	items []protocol.MessageCreatedMsg
	pos   int
	count int
}

func newChannelHistory() *channelHistory {
	return &channelHistory{
		buffers: make(map[string]*ringBuffer),
	}
}

// Add appends a message to the channel's ring buffer. If the buffer is
// full, the oldest message is overwritten.
func (ch *channelHistory) Add(channelID string, msg protocol.MessageCreatedMsg) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	rb, ok := ch.buffers[channelID]
	if !ok {
		rb = &ringBuffer{
			items: make([]protocol.MessageCreatedMsg, historyLimit),
		}
		ch.buffers[channelID] = rb
	}

	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % historyLimit
	if rb.count < historyLimit {
		rb.count++
	}
}

// Get returns the channel's recent messages in chronological order
// (oldest first). Returns an empty slice for a channel with no buffer.
func (ch *channelHistory) Get(channelID string) []protocol.MessageCreatedMsg {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	rb, ok := ch.buffers[channelID]
	if !ok {
		return nil
	}

	result := make([]protocol.MessageCreatedMsg, rb.count)
	// The oldest message is at position (pos - count) mod historyLimit.
	start := (rb.pos - rb.count + historyLimit) % historyLimit
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%historyLimit]
	}
	return result
}

// Remove deletes the buffer for a channel once its group empties.
func (ch *channelHistory) Remove(channelID string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	delete(ch.buffers, channelID)
}
