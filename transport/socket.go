// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/pairview/lib/clock"
)

// Socket defaults.
const (
	DefaultInitialBackoff = time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultDialTimeout    = 30 * time.Second
)

// ErrNotOpen is returned by Send while no connection is open.
var ErrNotOpen = errors.New("transport: channel is not open")

// Phase is the lifecycle phase of a Socket.
type Phase int

const (
	PhaseConnecting Phase = iota
	PhaseOpen
	// PhaseClosedByPeer means the connection dropped or a dial failed
	// and a reconnect is scheduled.
	PhaseClosedByPeer
	// PhaseClosedByUser is terminal.
	PhaseClosedByUser
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseOpen:
		return "open"
	case PhaseClosedByPeer:
		return "closed_by_peer"
	case PhaseClosedByUser:
		return "closed_by_user"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// SocketConfig configures a Socket.
type SocketConfig struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Header is sent with every handshake.
	Header http.Header

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// InitialBackoff is the delay before the first reconnect after a
	// close. It doubles after each consecutive failure and resets on a
	// successful open. Defaults to DefaultInitialBackoff.
	InitialBackoff time.Duration

	// MaxBackoff caps the reconnect delay. Zero leaves it uncapped.
	MaxBackoff time.Duration

	// WriteTimeout bounds each frame write. Defaults to
	// DefaultWriteTimeout.
	WriteTimeout time.Duration

	// DialTimeout bounds each handshake. Defaults to DefaultDialTimeout.
	DialTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Socket is a WebSocket client that reconnects with exponential
// backoff until closed. Listeners survive reconnects.
type Socket struct {
	url          string
	header       http.Header
	dialer       *websocket.Dialer
	initial      time.Duration
	maxBackoff   time.Duration
	writeTimeout time.Duration
	dialTimeout  time.Duration
	clock        clock.Clock
	logger       *slog.Logger
	sessionID    string

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	phase       Phase
	conn        *websocket.Conn
	dialing     bool
	started     bool
	backoff     time.Duration
	nextConnect time.Time
	timer       *clock.Timer

	// writeMu serializes frame writes; gorilla allows one concurrent
	// writer.
	writeMu sync.Mutex

	openListeners    listenerSet[func()]
	closeListeners   listenerSet[func(error)]
	messageListeners listenerSet[func([]byte)]
	finalListeners   listenerSet[func()]

	done      chan struct{}
	finalOnce sync.Once
}

// NewSocket creates a Socket. Nothing is dialed until Start.
func NewSocket(config SocketConfig) *Socket {
	dialer := config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	initial := config.InitialBackoff
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	writeTimeout := config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	dialTimeout := config.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	sessionID := uuid.NewString()
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		url:          config.URL,
		header:       config.Header,
		dialer:       dialer,
		initial:      initial,
		maxBackoff:   config.MaxBackoff,
		writeTimeout: writeTimeout,
		dialTimeout:  dialTimeout,
		clock:        clk,
		logger:       logger.With("session", sessionID),
		sessionID:    sessionID,
		ctx:          ctx,
		cancel:       cancel,
		phase:        PhaseConnecting,
		backoff:      initial,
		done:         make(chan struct{}),
	}
}

// Start dials for the first time. Register listeners before calling it.
// Calls after the first are no-ops.
func (s *Socket) Start() {
	s.mu.Lock()
	if s.started || s.phase == PhaseClosedByUser {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	go s.connect()
}

// SessionID identifies this logical session across reconnects.
func (s *Socket) SessionID() string { return s.sessionID }

// Phase returns the current lifecycle phase.
func (s *Socket) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Writable reports whether the socket is open.
func (s *Socket) Writable() bool {
	return s.Phase() == PhaseOpen
}

// NextConnect returns when the pending reconnect will dial, or the zero
// time when none is pending.
func (s *Socket) NextConnect() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextConnect
}

// Backoff returns the delay the next reconnect will wait.
func (s *Socket) Backoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backoff
}

// Done is closed once the socket has closed for good.
func (s *Socket) Done() <-chan struct{} { return s.done }

// OnOpen registers fn to run after every successful handshake.
func (s *Socket) OnOpen(fn func()) func() { return s.openListeners.add(fn) }

// OnClose registers fn to run after every close, including failed
// dials. The error is nil for a clean close.
func (s *Socket) OnClose(fn func(error)) func() { return s.closeListeners.add(fn) }

// OnMessage registers fn to receive every inbound frame, text or binary.
func (s *Socket) OnMessage(fn func([]byte)) func() { return s.messageListeners.add(fn) }

// OnFinalClose registers fn to run once when the socket closes for
// good.
func (s *Socket) OnFinalClose(fn func()) func() { return s.finalListeners.add(fn) }

// Send writes frame as one text message.
func (s *Socket) Send(frame []byte) error {
	s.mu.Lock()
	conn := s.conn
	open := s.phase == PhaseOpen
	s.mu.Unlock()
	if !open || conn == nil {
		return ErrNotOpen
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("writing websocket frame: %w", err)
	}
	return nil
}

// Close stops reconnecting and closes the connection. The final-close
// listeners run once the connection has actually gone away.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.phase == PhaseClosedByUser {
		s.mu.Unlock()
		return nil
	}
	s.phase = PhaseClosedByUser
	s.nextConnect = time.Time{}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	conn := s.conn
	dialing := s.dialing
	s.cancel()
	s.mu.Unlock()

	if conn != nil {
		// The read loop observes the close and finishes up.
		s.writeMu.Lock()
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
		s.writeMu.Unlock()
		return conn.Close()
	}
	if !dialing {
		s.finish()
	}
	return nil
}

func (s *Socket) connect() {
	s.mu.Lock()
	if s.phase == PhaseClosedByUser {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseConnecting
	s.dialing = true
	s.timer = nil
	s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(s.ctx, s.dialTimeout)
	conn, response, err := s.dialer.DialContext(dialCtx, s.url, s.header)
	cancel()
	if response != nil && response.Body != nil {
		response.Body.Close()
	}

	s.mu.Lock()
	s.dialing = false
	if err != nil {
		s.mu.Unlock()
		s.logger.Debug("websocket dial failed", "url", s.url, "error", err)
		s.handleClose(nil, fmt.Errorf("dialing %s: %w", s.url, err))
		return
	}
	if s.phase == PhaseClosedByUser {
		s.mu.Unlock()
		conn.Close()
		s.finish()
		return
	}
	s.conn = conn
	s.phase = PhaseOpen
	s.backoff = s.initial
	s.nextConnect = time.Time{}
	s.mu.Unlock()

	s.logger.Info("websocket connected", "url", s.url)
	for _, fn := range s.openListeners.snapshot() {
		fn()
	}
	go s.readLoop(conn)
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			s.handleClose(conn, err)
			return
		}
		for _, fn := range s.messageListeners.snapshot() {
			fn(data)
		}
	}
}

// handleClose records a lost connection (conn non-nil) or a failed dial
// (conn nil) and schedules the next attempt unless the user closed.
func (s *Socket) handleClose(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if conn != nil {
		if s.conn != conn {
			s.mu.Unlock()
			return
		}
		s.conn = nil
		conn.Close()
	}

	if s.phase == PhaseClosedByUser {
		s.mu.Unlock()
		s.notifyClose(cause)
		s.finish()
		return
	}

	s.phase = PhaseClosedByPeer
	delay := s.backoff
	next := delay * 2
	if s.maxBackoff > 0 && next > s.maxBackoff {
		next = s.maxBackoff
	}
	s.backoff = next
	s.nextConnect = s.clock.Now().Add(delay)
	s.timer = s.clock.AfterFunc(delay, func() { go s.connect() })
	s.mu.Unlock()

	if conn != nil {
		s.logger.Warn("websocket connection lost", "error", cause, "reconnect_in", delay)
	}
	s.notifyClose(cause)
}

func (s *Socket) notifyClose(cause error) {
	for _, fn := range s.closeListeners.snapshot() {
		fn(cause)
	}
}

func (s *Socket) finish() {
	s.finalOnce.Do(func() {
		close(s.done)
		s.logger.Info("websocket closed")
		for _, fn := range s.finalListeners.snapshot() {
			fn()
		}
	})
}
