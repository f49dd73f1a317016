package ws

import (
	"net"
	"sync"
	"testing"
	"time"
)

// Touch is called from worker goroutines while the heartbeat goroutine
// reads LastActive; both must be safe to interleave.
func TestTouchAndLastActiveAreConcurrencySafe(t *testing.T) {
	c := &Connection{}
	c.Touch()
	start := c.LastActive()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Touch()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 1000; j++ {
			if got := c.LastActive(); got.Before(start) {
				t.Errorf("LastActive went backwards: %v < %v", got, start)
				return
			}
		}
	}()
	wg.Wait()

	if !c.LastActive().After(start.Add(-time.Millisecond)) {
		t.Fatalf("LastActive = %v, want >= %v", c.LastActive(), start)
	}
}

func TestConnectionManagerRemoveIsIdempotent(t *testing.T) {
	cm := NewConnectionManager()
	client, server := net.Pipe()
	defer client.Close()

	c := &Connection{ID: "s1", Conn: server, Fd: 7}
	cm.Add(c)

	if cm.Get("s1") != c || cm.GetByFd(7) != c {
		t.Fatal("connection not retrievable after Add")
	}
	if !cm.Remove("s1") {
		t.Fatal("first Remove returned false")
	}
	if cm.Remove("s1") {
		t.Fatal("second Remove returned true for an already-removed connection")
	}
	if cm.Count() != 0 {
		t.Fatalf("Count = %d after removal, want 0", cm.Count())
	}
}
