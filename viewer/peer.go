// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package viewer

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/pairview/observe"
	"github.com/bureau-foundation/pairview/transport"
)

// Status is the coarse state of a PeerClient.
type Status string

const (
	StatusNew Status = "new"
	// StatusNoSession means the signaler knew no editor session for
	// the token, or the token was empty.
	StatusNoSession  Status = "no_session"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	// StatusFailed means negotiation could not complete.
	StatusFailed Status = "failed"
	// StatusClosed is terminal.
	StatusClosed Status = "closed"
)

// Sticky notices for peer connection trouble.
const (
	// DisconnectedText is shown while the connection is interrupted.
	DisconnectedText = "Disconnected from editor"
	// ExchangeRequiredText is shown when a manually negotiated
	// connection failed and cannot restart by itself.
	ExchangeRequiredText = "Connection to editor failed. Restart pairview and exchange new call tokens"
)

// PeerClientConfig configures a PeerClient.
type PeerClientConfig struct {
	Client Config
	Peer   transport.PeerConfig
}

// PeerClient is a Client over a WebRTC data channel.
type PeerClient struct {
	*Client
	peer *transport.PeerTransport

	mu              sync.Mutex
	status          Status
	disconnectToast int
	nextListener    int
	listeners       map[int]func(Status)
}

// NewPeerClient creates the peer connection and wires it to a Client.
// Frames are sent unbatched.
func NewPeerClient(config PeerClientConfig) (*PeerClient, error) {
	if config.Peer.Logger == nil {
		config.Peer.Logger = config.Client.Logger
	}
	if config.Peer.Clock == nil {
		config.Peer.Clock = config.Client.RPC.Handler.Clock
	}
	peer, err := transport.NewPeerTransport(config.Peer)
	if err != nil {
		return nil, err
	}
	config.Client.RPC.Handler.Unbatched = true

	client := &PeerClient{
		Client:          newClient(peer, config.Client),
		peer:            peer,
		status:          StatusNew,
		disconnectToast: noToast,
		listeners:       make(map[int]func(Status)),
	}
	peer.OnData(client.conn.ReceiveStream)
	peer.OnOpen(client.conn.Kick)
	peer.OnStateChange(client.handleStateChange)
	peer.OnExchangeRequired(client.handleExchangeRequired)
	return client, nil
}

// Peer returns the underlying transport.
func (p *PeerClient) Peer() *transport.PeerTransport { return p.peer }

// Status returns the current status.
func (p *PeerClient) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// OnStatusChange registers fn for every status change and returns a
// function that removes it.
func (p *PeerClient) OnStatusChange(fn func(Status)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextListener
	p.nextListener++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *PeerClient) setStatus(status Status) {
	p.mu.Lock()
	if p.status == status {
		p.mu.Unlock()
		return
	}
	p.status = status
	listeners := make([]func(Status), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	p.logger.Info("peer status changed", "status", status)
	for _, fn := range listeners {
		fn(status)
	}
}

func (p *PeerClient) handleStateChange(state webrtc.PeerConnectionState) {
	p.mu.Lock()
	toast := p.disconnectToast
	p.disconnectToast = noToast
	p.mu.Unlock()
	if toast != noToast {
		p.store.Dismiss(toast)
	}

	switch state {
	case webrtc.PeerConnectionStateNew:
		p.setStatus(StatusNew)
	case webrtc.PeerConnectionStateConnecting:
		p.setStatus(StatusConnecting)
	case webrtc.PeerConnectionStateConnected:
		p.setStatus(StatusConnected)
		// Frames queued while disconnected would otherwise wait out the
		// drain's retry backoff.
		p.conn.Kick()
	case webrtc.PeerConnectionStateClosed:
		p.setStatus(StatusClosed)
	case webrtc.PeerConnectionStateFailed:
		p.setStatus(StatusFailed)
	case webrtc.PeerConnectionStateDisconnected:
		id := p.store.StickyToast(DisconnectedText, observe.SeverityError)
		p.mu.Lock()
		p.disconnectToast = id
		p.mu.Unlock()
	default:
		p.logger.Error("unknown peer connection state", "state", state)
	}
}

func (p *PeerClient) handleExchangeRequired() {
	p.store.StickyToast(ExchangeRequiredText, observe.SeverityError)
	p.setStatus(StatusFailed)
}

// ConnectWithSignalToken negotiates through the signaler. An empty
// token or any negotiation error leaves the client in
// StatusNoSession.
func (p *PeerClient) ConnectWithSignalToken(ctx context.Context, token string) error {
	if token == "" {
		p.setStatus(StatusNoSession)
		return transport.ErrEmptyToken
	}
	p.setStatus(StatusConnecting)
	if err := p.peer.Connect(ctx, token); err != nil {
		p.logger.Warn("signaled connect failed", "error", err)
		p.setStatus(StatusNoSession)
		return err
	}
	return nil
}

// StartCall begins a manual exchange and returns the offer token to
// hand to the editor.
func (p *PeerClient) StartCall(ctx context.Context) (string, error) {
	p.setStatus(StatusConnecting)
	token, err := p.peer.CreateOffer(ctx)
	if err != nil {
		p.setStatus(StatusFailed)
		return "", err
	}
	return token, nil
}

// RespondToCall answers an offer token issued by the editor.
func (p *PeerClient) RespondToCall(ctx context.Context, offerToken string) (string, error) {
	return p.peer.RespondToCall(ctx, offerToken)
}

// SetAnswer completes a call begun with StartCall.
func (p *PeerClient) SetAnswer(answerToken string) error {
	return p.peer.SetAnswer(answerToken)
}

// Close tears down the connection and the client.
func (p *PeerClient) Close() error {
	p.Client.Close()
	err := p.peer.Close()
	p.setStatus(StatusClosed)
	return err
}
