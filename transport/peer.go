// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/pairview/lib/clock"
)

// ChannelLabel names the data channel carrying JSON-RPC traffic.
const ChannelLabel = "messaging-channel"

// Peer defaults.
const (
	DefaultGatherTimeout    = 15 * time.Second
	DefaultSignalingTimeout = 30 * time.Second
)

var (
	// ErrEmptyToken is returned by Connect for an empty session token.
	ErrEmptyToken = errors.New("transport: session token is empty")

	// ErrNoSignaler is returned by Connect when the transport was built
	// for manual exchange only.
	ErrNoSignaler = errors.New("transport: no signaler configured")

	// ErrGatheringNotStarted means candidate gathering never left the
	// new state before the deadline.
	ErrGatheringNotStarted = errors.New("transport: ICE gathering did not start")

	// ErrGatheringTimeout means gathering started but did not complete
	// before the deadline.
	ErrGatheringTimeout = errors.New("transport: ICE gathering timed out")

	// ErrNoCandidates means gathering completed without producing a
	// single candidate.
	ErrNoCandidates = errors.New("transport: ICE gathering produced no candidates")

	// ErrUnexpectedDescription is returned when a token carries the
	// wrong kind of session description.
	ErrUnexpectedDescription = errors.New("transport: unexpected session description type")
)

// PeerConfig configures a PeerTransport.
type PeerConfig struct {
	ICE ICEConfig

	// Signaler is required for Connect and for ICE restarts. Manual
	// exchange (CreateOffer, RespondToCall, SetAnswer) works without it.
	Signaler Signaler

	// GatherTimeout bounds candidate gathering in the manual flow.
	// Defaults to DefaultGatherTimeout.
	GatherTimeout time.Duration

	// SignalingTimeout bounds each trickled candidate post. Defaults to
	// DefaultSignalingTimeout.
	SignalingTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// PeerTransport is one WebRTC PeerConnection carrying one ordered data
// channel. It implements the jsonrpc Channel contract: Writable and
// Send. Inbound messages are raw chunks for a stream reassembler.
type PeerTransport struct {
	pc               *webrtc.PeerConnection
	signaler         Signaler
	gatherTimeout    time.Duration
	signalingTimeout time.Duration
	clock            clock.Clock
	logger           *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	token    string
	clientID string
	pending  []webrtc.ICECandidateInit
	channel  *DataChannelConn
	state    webrtc.PeerConnectionState

	// restartMu keeps ICE restarts from overlapping.
	restartMu sync.Mutex

	stateListeners   listenerSet[func(webrtc.PeerConnectionState)]
	dataListeners    listenerSet[func([]byte)]
	openListeners    listenerSet[func()]
	restartListeners listenerSet[func()]
}

// NewPeerTransport creates the PeerConnection and its data channel.
// Nothing is negotiated until Connect, CreateOffer, or RespondToCall.
func NewPeerTransport(config PeerConfig) (*PeerTransport, error) {
	pc, err := newAPI(true).NewPeerConnection(webrtc.Configuration{ICEServers: config.ICE.Servers})
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	gatherTimeout := config.GatherTimeout
	if gatherTimeout <= 0 {
		gatherTimeout = DefaultGatherTimeout
	}
	signalingTimeout := config.SignalingTimeout
	if signalingTimeout <= 0 {
		signalingTimeout = DefaultSignalingTimeout
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	p := &PeerTransport{
		pc:               pc,
		signaler:         config.Signaler,
		gatherTimeout:    gatherTimeout,
		signalingTimeout: signalingTimeout,
		clock:            clk,
		logger:           logger,
		ctx:              ctx,
		cancel:           cancel,
		state:            webrtc.PeerConnectionStateNew,
	}

	pc.OnICECandidate(p.handleCandidate)
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		p.logger.Debug("ICE connection state changed", "state", state.String())
		if state == webrtc.ICEConnectionStateFailed {
			go p.restartICE()
		}
	})
	pc.OnConnectionStateChange(p.handleStateChange)
	pc.OnDataChannel(func(channel *webrtc.DataChannel) {
		if channel.Label() != ChannelLabel {
			p.logger.Warn("ignoring unexpected data channel", "label", channel.Label())
			channel.Close()
			return
		}
		p.attach(channel, false)
	})

	ordered := true
	channel, err := pc.CreateDataChannel(ChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		cancel()
		pc.Close()
		return nil, fmt.Errorf("creating data channel: %w", err)
	}
	p.attach(channel, true)
	return p, nil
}

// newAPI builds a pion API that gathers loopback candidates, so peers
// on one host can reach each other without a network. Detached data
// channels are read through DataChannelConn.
func newAPI(detach bool) *webrtc.API {
	settingEngine := webrtc.SettingEngine{}
	if detach {
		settingEngine.DetachDataChannels()
	}
	settingEngine.SetIncludeLoopbackCandidate(true)
	return webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
}

// attach wires a data channel's lifecycle. Inbound messages from any
// channel with our label are delivered; only the local one is written.
func (p *PeerTransport) attach(channel *webrtc.DataChannel, local bool) {
	channel.OnOpen(func() {
		raw, err := channel.Detach()
		if err != nil {
			p.logger.Error("detaching data channel", "label", channel.Label(), "error", err)
			return
		}
		conn := NewDataChannelConn(raw, channel.Label())
		if local {
			p.mu.Lock()
			p.channel = conn
			p.mu.Unlock()
			p.logger.Info("data channel open", "label", channel.Label())
			for _, fn := range p.openListeners.snapshot() {
				fn()
			}
		}
		go p.readLoop(conn, local)
	})
}

func (p *PeerTransport) readLoop(conn *DataChannelConn, local bool) {
	err := conn.ReadMessages(func(message []byte) {
		for _, fn := range p.dataListeners.snapshot() {
			fn(message)
		}
	})
	if err != nil {
		p.logger.Warn("data channel read failed", "label", conn.Label(), "error", err)
	}
	conn.Close()
	if local {
		p.mu.Lock()
		if p.channel == conn {
			p.channel = nil
		}
		p.mu.Unlock()
	}
}

func (p *PeerTransport) handleStateChange(state webrtc.PeerConnectionState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
	p.logger.Info("peer connection state changed", "state", state.String())
	for _, fn := range p.stateListeners.snapshot() {
		fn(state)
	}
}

// handleCandidate trickles a gathered candidate to the signaler, or
// queues it until the editor has assigned a client id. Candidates in
// the manual flow travel inside the session description instead.
func (p *PeerTransport) handleCandidate(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		return
	}
	init := candidate.ToJSON()

	p.mu.Lock()
	if p.signaler == nil || p.token == "" {
		p.mu.Unlock()
		return
	}
	if p.clientID == "" {
		p.pending = append(p.pending, init)
		p.mu.Unlock()
		return
	}
	token, clientID := p.token, p.clientID
	p.mu.Unlock()

	go p.sendCandidate(token, clientID, init)
}

func (p *PeerTransport) sendCandidate(token, clientID string, candidate webrtc.ICECandidateInit) {
	ctx, cancel := context.WithTimeout(p.ctx, p.signalingTimeout)
	defer cancel()
	if err := p.signaler.SendCandidate(ctx, token, clientID, candidate); err != nil {
		p.logger.Warn("sending ICE candidate", "client", clientID, "error", err)
	}
}

// Connect negotiates through the signaler for the session named by
// token: offer, answer, then trickled candidates.
func (p *PeerTransport) Connect(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if p.signaler == nil {
		return ErrNoSignaler
	}
	p.mu.Lock()
	p.token = token
	p.mu.Unlock()
	return p.negotiate(ctx, nil)
}

func (p *PeerTransport) negotiate(ctx context.Context, options *webrtc.OfferOptions) error {
	p.mu.Lock()
	token := p.token
	p.clientID = ""
	p.mu.Unlock()

	offer, err := p.pc.CreateOffer(options)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local offer: %w", err)
	}

	answer, err := p.signaler.Call(ctx, token, offer)
	if err != nil {
		return fmt.Errorf("calling editor: %w", err)
	}

	p.mu.Lock()
	p.clientID = answer.ClientID
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, candidate := range pending {
		if err := p.signaler.SendCandidate(ctx, token, answer.ClientID, candidate); err != nil {
			p.logger.Warn("sending queued ICE candidate", "client", answer.ClientID, "error", err)
		}
	}

	if err := p.pc.SetRemoteDescription(answer.Answer); err != nil {
		return fmt.Errorf("applying editor answer: %w", err)
	}
	p.logger.Info("peer negotiated through signaler", "client", answer.ClientID)
	return nil
}

func (p *PeerTransport) restartICE() {
	p.restartMu.Lock()
	defer p.restartMu.Unlock()

	p.mu.Lock()
	signaled := p.signaler != nil && p.token != ""
	p.mu.Unlock()
	if !signaled {
		p.logger.Warn("ICE failed on a manually negotiated session; a new exchange is required")
		for _, fn := range p.restartListeners.snapshot() {
			fn()
		}
		return
	}
	if p.ctx.Err() != nil {
		return
	}

	p.logger.Info("restarting ICE")
	ctx, cancel := context.WithTimeout(p.ctx, p.signalingTimeout)
	defer cancel()
	if err := p.negotiate(ctx, &webrtc.OfferOptions{ICERestart: true}); err != nil {
		p.logger.Error("ICE restart failed", "error", err)
	}
}

// CreateOffer starts a manual exchange. It waits for gathering to
// complete and returns an offer token for the editor.
func (p *PeerTransport) CreateOffer(ctx context.Context) (string, error) {
	gathered := webrtc.GatheringCompletePromise(p.pc)
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("creating offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("setting local offer: %w", err)
	}
	if err := p.waitForGathering(ctx, gathered); err != nil {
		return "", err
	}
	return CallToken{Description: *p.pc.LocalDescription()}.Encode()
}

// RespondToCall answers an offer token issued by the editor and returns
// the answer token to hand back. The offer's client id is echoed.
func (p *PeerTransport) RespondToCall(ctx context.Context, offerToken string) (string, error) {
	offer, err := DecodeCallToken(offerToken)
	if err != nil {
		return "", err
	}
	if offer.Description.Type != webrtc.SDPTypeOffer {
		return "", fmt.Errorf("%w: got %s, want offer", ErrUnexpectedDescription, offer.Description.Type)
	}
	if err := p.pc.SetRemoteDescription(offer.Description); err != nil {
		return "", fmt.Errorf("applying offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(p.pc)
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("creating answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("setting local answer: %w", err)
	}
	if err := p.waitForGathering(ctx, gathered); err != nil {
		return "", err
	}
	return CallToken{Description: *p.pc.LocalDescription(), ClientID: offer.ClientID}.Encode()
}

// SetAnswer completes a manual exchange begun with CreateOffer.
func (p *PeerTransport) SetAnswer(answerToken string) error {
	answer, err := DecodeCallToken(answerToken)
	if err != nil {
		return err
	}
	if answer.Description.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("%w: got %s, want answer", ErrUnexpectedDescription, answer.Description.Type)
	}
	if err := p.pc.SetRemoteDescription(answer.Description); err != nil {
		return fmt.Errorf("applying answer: %w", err)
	}
	return nil
}

func (p *PeerTransport) waitForGathering(ctx context.Context, gathered <-chan struct{}) error {
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock.After(p.gatherTimeout):
		if p.pc.ICEGatheringState() == webrtc.ICEGatheringStateNew {
			return ErrGatheringNotStarted
		}
		return ErrGatheringTimeout
	}
	local := p.pc.LocalDescription()
	if local == nil || !strings.Contains(local.SDP, "a=candidate:") {
		return ErrNoCandidates
	}
	return nil
}

// State returns the last published connection state.
func (p *PeerTransport) State() webrtc.PeerConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// OnStateChange registers fn for every connection state change.
func (p *PeerTransport) OnStateChange(fn func(webrtc.PeerConnectionState)) func() {
	return p.stateListeners.add(fn)
}

// OnData registers fn for every inbound message. Messages are arbitrary
// slices of the peer's byte stream.
func (p *PeerTransport) OnData(fn func([]byte)) func() { return p.dataListeners.add(fn) }

// OnOpen registers fn to run when the local data channel opens.
func (p *PeerTransport) OnOpen(fn func()) func() { return p.openListeners.add(fn) }

// OnExchangeRequired registers fn to run when ICE fails on a manually
// negotiated session. Without a signaler only a new token exchange can
// recover it.
func (p *PeerTransport) OnExchangeRequired(fn func()) func() { return p.restartListeners.add(fn) }

// Writable reports whether the connection is up and the data channel
// open.
func (p *PeerTransport) Writable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == webrtc.PeerConnectionStateConnected && p.channel != nil
}

// Send writes frame to the data channel.
func (p *PeerTransport) Send(frame []byte) error {
	p.mu.Lock()
	channel := p.channel
	p.mu.Unlock()
	if channel == nil {
		return ErrNotOpen
	}
	_, err := channel.Write(frame)
	return err
}

// Close tears down the connection. Pending signaling requests are
// canceled.
func (p *PeerTransport) Close() error {
	p.cancel()
	p.mu.Lock()
	channel := p.channel
	p.channel = nil
	p.mu.Unlock()
	if channel != nil {
		channel.Close()
	}
	return p.pc.Close()
}
