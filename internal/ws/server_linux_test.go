//go:build linux

package ws

import (
	"net"
	"testing"
)

func newAdmitTestServer(t *testing.T) (*Server, *[]string) {
	t.Helper()
	ep, err := NewEpoll()
	if err != nil {
		t.Fatalf("NewEpoll: %v", err)
	}
	t.Cleanup(func() { ep.Close() })

	events := &[]string{}
	s := &Server{
		epoll: ep,
		conns: NewConnectionManager(),
	}
	s.SetOnConnect(func(c *Connection) { *events = append(*events, "connect") })
	s.SetOnDisconnect(func(id string) { *events = append(*events, "disconnect") })
	return s, events
}

func TestAdmitRegistersApplicationBeforeEpoll(t *testing.T) {
	s, events := newAdmitTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer conn.Close()

	c := &Connection{ID: "s1", Conn: conn, Fd: socketFD(conn)}
	if err := s.admit(c); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if len(*events) != 1 || (*events)[0] != "connect" {
		t.Fatalf("events = %v, want [connect]", *events)
	}
	if s.conns.Count() != 1 {
		t.Fatalf("Count = %d, want 1", s.conns.Count())
	}
	// The connection is already visible to the application and the
	// manager by the time the socket is watched, so a close frame racing
	// the admission always finds a registered session to clean up.
}

func TestAdmitRollsBackWhenEpollAddFails(t *testing.T) {
	s, events := newAdmitTestServer(t)

	// A pipe has no socket file descriptor, so the epoll add fails after
	// the application registration has already happened.
	client, server := net.Pipe()
	defer client.Close()

	c := &Connection{ID: "s1", Conn: server, Fd: socketFD(server)}
	if err := s.admit(c); err == nil {
		t.Fatal("admit succeeded for a connection with no socket fd")
	}

	want := []string{"connect", "disconnect"}
	if len(*events) != len(want) || (*events)[0] != want[0] || (*events)[1] != want[1] {
		t.Fatalf("events = %v, want %v", *events, want)
	}
	if s.conns.Count() != 0 {
		t.Fatalf("Count = %d after rollback, want 0", s.conns.Count())
	}
}
