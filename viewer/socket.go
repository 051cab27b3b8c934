// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package viewer

import (
	"context"
	"errors"
	"sync"

	"github.com/bureau-foundation/pairview/lib/jsonrpc"
	"github.com/bureau-foundation/pairview/observe"
	"github.com/bureau-foundation/pairview/transport"
)

// Notices posted by SocketClient.
const (
	ReconnectFormat  = "Lost connection. Reconnecting in %ds"
	ReconnectingText = "Reconnecting..."
	RestoredText     = "Connection restored"
	AuthFailedText   = "Authentication error. Please refresh"
)

const (
	noToast    = -1
	authMethod = "auth"
)

// SocketClientConfig configures a SocketClient.
type SocketClientConfig struct {
	Client Config
	Socket transport.SocketConfig

	// Token is sent in an auth request after every open. An empty
	// token is sent as is; editors without a password accept it.
	Token string
}

// SocketClient is a Client over a reconnecting WebSocket.
type SocketClient struct {
	*Client
	socket *transport.Socket
	token  string

	mu             sync.Mutex
	reconnectToast int
}

type authParams struct {
	Token string `json:"token"`
}

// NewSocketClient wires a Client to a new Socket. Call Start to dial.
func NewSocketClient(config SocketClientConfig) *SocketClient {
	if config.Socket.Logger == nil {
		config.Socket.Logger = config.Client.Logger
	}
	if config.Socket.Clock == nil {
		config.Socket.Clock = config.Client.RPC.Handler.Clock
	}
	socket := transport.NewSocket(config.Socket)
	client := &SocketClient{
		Client:         newClient(socket, config.Client),
		socket:         socket,
		token:          config.Token,
		reconnectToast: noToast,
	}
	socket.OnMessage(client.conn.Receive)
	socket.OnOpen(client.handleOpen)
	socket.OnClose(client.handleClose)
	socket.OnFinalClose(client.Client.Close)
	return client
}

// Start dials the editor.
func (s *SocketClient) Start() { s.socket.Start() }

// Socket returns the underlying transport.
func (s *SocketClient) Socket() *transport.Socket { return s.socket }

// Done is closed once the client has shut down for good, either by
// Close or after an authentication failure.
func (s *SocketClient) Done() <-chan struct{} { return s.socket.Done() }

// Close shuts the client down.
func (s *SocketClient) Close() error { return s.socket.Close() }

func (s *SocketClient) handleOpen() {
	s.mu.Lock()
	reconnected := s.reconnectToast != noToast
	toast := s.reconnectToast
	s.reconnectToast = noToast
	s.mu.Unlock()
	if reconnected {
		s.store.Dismiss(toast)
	}

	// The read loop starts after open listeners return, so the auth
	// response has to be awaited elsewhere.
	go s.authenticate(reconnected)
	s.conn.Kick()
}

func (s *SocketClient) authenticate(reconnected bool) {
	err := s.conn.Call(context.Background(), authMethod, authParams{Token: s.token}, nil)
	switch {
	case err == nil:
		s.logger.Info("authenticated with editor")
		if reconnected {
			s.store.Toast(RestoredText, observe.SeveritySuccess)
		}
	case errors.Is(err, jsonrpc.ErrClosed):
	case jsonrpc.IsTimeout(err):
		// The connection most likely dropped before the reply; the next
		// open authenticates again.
		s.logger.Warn("auth request timed out", "error", err)
	default:
		s.logger.Error("authentication rejected", "error", err)
		s.store.StickyToast(AuthFailedText, observe.SeverityError)
		s.socket.Close()
	}
}

func (s *SocketClient) handleClose(cause error) {
	if s.socket.Phase() == transport.PhaseClosedByUser {
		return
	}
	next := s.socket.NextConnect()

	s.mu.Lock()
	previous := s.reconnectToast
	s.reconnectToast = s.store.CountdownToast(ReconnectFormat, ReconnectingText, observe.SeverityError, next)
	s.mu.Unlock()
	if previous != noToast {
		s.store.Dismiss(previous)
	}
	s.logger.Debug("editor connection closed", "error", cause, "next_connect", next)
}
