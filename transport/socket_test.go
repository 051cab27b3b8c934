// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/pairview/lib/clock"
	"github.com/bureau-foundation/pairview/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const waitTimeout = 5 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// editorServer is a WebSocket endpoint that can be told to refuse
// handshakes. Accepted connections echo text frames and are published
// on conns so tests can drop them.
type editorServer struct {
	*httptest.Server
	accept atomic.Bool
	conns  chan *websocket.Conn
}

func newEditorServer(t *testing.T) *editorServer {
	t.Helper()
	server := &editorServer{conns: make(chan *websocket.Conn, 16)}
	upgrader := websocket.Upgrader{}
	server.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !server.accept.Load() {
			http.Error(w, "editor unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		server.conns <- conn
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				conn.Close()
				return
			}
			if err := conn.WriteMessage(kind, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func (s *editorServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

type socketEvents struct {
	opens    chan struct{}
	closes   chan error
	messages chan string
	finals   chan struct{}
	final    atomic.Int32
}

func watchSocket(socket *Socket) *socketEvents {
	events := &socketEvents{
		opens:    make(chan struct{}, 16),
		closes:   make(chan error, 16),
		messages: make(chan string, 16),
		finals:   make(chan struct{}, 16),
	}
	socket.OnOpen(func() { events.opens <- struct{}{} })
	socket.OnClose(func(err error) { events.closes <- err })
	socket.OnMessage(func(data []byte) { events.messages <- string(data) })
	socket.OnFinalClose(func() {
		events.final.Add(1)
		events.finals <- struct{}{}
	})
	return events
}

func TestSocketSendAndReceive(t *testing.T) {
	server := newEditorServer(t)
	server.accept.Store(true)

	socket := NewSocket(SocketConfig{URL: server.wsURL(), Logger: discardLogger()})
	events := watchSocket(socket)
	if socket.Writable() {
		t.Fatal("socket writable before Start")
	}
	if err := socket.Send([]byte("early")); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Send before open = %v, want ErrNotOpen", err)
	}

	socket.Start()
	testutil.RequireReceive(t, events.opens, waitTimeout, "open")
	if !socket.Writable() {
		t.Fatal("socket not writable after open")
	}
	if err := socket.Send([]byte(`{"jsonrpc":"2.0","method":"ping"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := testutil.RequireReceive(t, events.messages, waitTimeout, "echo")
	if got != `{"jsonrpc":"2.0","method":"ping"}` {
		t.Errorf("echo = %q", got)
	}

	if err := socket.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	testutil.RequireClosed(t, socket.Done(), waitTimeout, "final close")
}

func TestSocketBackoffSequenceAndReset(t *testing.T) {
	server := newEditorServer(t)
	fake := clock.Fake(epoch)

	socket := NewSocket(SocketConfig{URL: server.wsURL(), Clock: fake, Logger: discardLogger()})
	events := watchSocket(socket)
	socket.Start()
	t.Cleanup(func() { socket.Close() })

	for _, wantDelay := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second} {
		err := testutil.RequireReceive(t, events.closes, waitTimeout, "close after %v", wantDelay)
		if err == nil {
			t.Fatal("failed dial reported a nil error")
		}
		if got := socket.Phase(); got != PhaseClosedByPeer {
			t.Fatalf("Phase() = %v, want closed_by_peer", got)
		}
		if got, want := socket.NextConnect(), fake.Now().Add(wantDelay); !got.Equal(want) {
			t.Fatalf("NextConnect() = %v, want %v", got, want)
		}
		if wantDelay == 8*time.Second {
			break
		}
		fake.Advance(wantDelay)
	}

	server.accept.Store(true)
	fake.Advance(8 * time.Second)
	testutil.RequireReceive(t, events.opens, waitTimeout, "open")
	if got := socket.Backoff(); got != time.Second {
		t.Errorf("Backoff() after open = %v, want 1s", got)
	}
	if !socket.NextConnect().IsZero() {
		t.Errorf("NextConnect() after open = %v, want zero", socket.NextConnect())
	}

	// Dropping the connection starts over at the initial delay.
	conn := testutil.RequireReceive(t, server.conns, waitTimeout, "server conn")
	conn.Close()
	testutil.RequireReceive(t, events.closes, waitTimeout, "close after drop")
	if got, want := socket.NextConnect(), fake.Now().Add(time.Second); !got.Equal(want) {
		t.Fatalf("NextConnect() after drop = %v, want %v", got, want)
	}

	fake.Advance(time.Second)
	testutil.RequireReceive(t, events.opens, waitTimeout, "reopen")
}

func TestSocketMaxBackoff(t *testing.T) {
	server := newEditorServer(t)
	fake := clock.Fake(epoch)

	socket := NewSocket(SocketConfig{
		URL:        server.wsURL(),
		MaxBackoff: 3 * time.Second,
		Clock:      fake,
		Logger:     discardLogger(),
	})
	events := watchSocket(socket)
	socket.Start()
	t.Cleanup(func() { socket.Close() })

	for _, wantDelay := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second} {
		testutil.RequireReceive(t, events.closes, waitTimeout, "close")
		if got, want := socket.NextConnect(), fake.Now().Add(wantDelay); !got.Equal(want) {
			t.Fatalf("NextConnect() = %v, want %v", got, want)
		}
		fake.Advance(wantDelay)
	}
}

func TestSocketCloseIsTerminal(t *testing.T) {
	server := newEditorServer(t)
	server.accept.Store(true)
	fake := clock.Fake(epoch)

	socket := NewSocket(SocketConfig{URL: server.wsURL(), Clock: fake, Logger: discardLogger()})
	events := watchSocket(socket)
	socket.Start()
	testutil.RequireReceive(t, events.opens, waitTimeout, "open")

	socket.Close()
	socket.Close()
	testutil.RequireReceive(t, events.finals, waitTimeout, "final close")
	testutil.RequireReceive(t, events.closes, waitTimeout, "close")

	if got := socket.Phase(); got != PhaseClosedByUser {
		t.Errorf("Phase() = %v, want closed_by_user", got)
	}
	if fake.PendingCount() != 0 {
		t.Errorf("%d timers pending after Close, want none", fake.PendingCount())
	}
	if err := socket.Send([]byte("late")); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Send after Close = %v, want ErrNotOpen", err)
	}
	testutil.RequireNothing(t, events.finals, 50*time.Millisecond, "second final close")
	if got := events.final.Load(); got != 1 {
		t.Errorf("final close fired %d times, want 1", got)
	}
}

func TestSocketCloseWhileWaitingToReconnect(t *testing.T) {
	server := newEditorServer(t)
	fake := clock.Fake(epoch)

	socket := NewSocket(SocketConfig{URL: server.wsURL(), Clock: fake, Logger: discardLogger()})
	events := watchSocket(socket)
	socket.Start()
	testutil.RequireReceive(t, events.closes, waitTimeout, "failed dial")

	socket.Close()
	testutil.RequireClosed(t, socket.Done(), waitTimeout, "final close")
	if !socket.NextConnect().IsZero() {
		t.Errorf("NextConnect() = %v after Close, want zero", socket.NextConnect())
	}
	if fake.PendingCount() != 0 {
		t.Errorf("%d timers pending after Close, want none", fake.PendingCount())
	}
}

func TestSocketCloseBeforeStart(t *testing.T) {
	socket := NewSocket(SocketConfig{URL: "ws://127.0.0.1:1/", Logger: discardLogger()})
	socket.Close()
	testutil.RequireClosed(t, socket.Done(), waitTimeout, "final close")
	socket.Start()
	if got := socket.Phase(); got != PhaseClosedByUser {
		t.Errorf("Phase() = %v, want closed_by_user", got)
	}
}

func TestSocketSessionIDStable(t *testing.T) {
	socket := NewSocket(SocketConfig{URL: "ws://127.0.0.1:1/", Logger: discardLogger()})
	defer socket.Close()
	if socket.SessionID() == "" {
		t.Fatal("empty session id")
	}
	if socket.SessionID() != socket.SessionID() {
		t.Fatal("session id changed between calls")
	}
	other := NewSocket(SocketConfig{URL: "ws://127.0.0.1:1/", Logger: discardLogger()})
	defer other.Close()
	if other.SessionID() == socket.SessionID() {
		t.Fatal("two sockets share a session id")
	}
}

func TestPhaseString(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseConnecting, "connecting"},
		{PhaseOpen, "open"},
		{PhaseClosedByPeer, "closed_by_peer"},
		{PhaseClosedByUser, "closed_by_user"},
		{Phase(9), "Phase(9)"},
	}
	for _, test := range tests {
		if got := test.phase.String(); got != test.want {
			t.Errorf("Phase(%d).String() = %q, want %q", int(test.phase), got, test.want)
		}
	}
}
