// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/pairview/lib/clock"
	"github.com/bureau-foundation/pairview/lib/testutil"
)

const peerTimeout = 20 * time.Second

func newTestPeer(t *testing.T, signaler Signaler) *PeerTransport {
	t.Helper()
	// Empty ICE config means host candidates only (loopback).
	peer, err := NewPeerTransport(PeerConfig{Signaler: signaler, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewPeerTransport: %v", err)
	}
	t.Cleanup(func() { peer.Close() })
	return peer
}

func collectData(peer *PeerTransport) <-chan string {
	data := make(chan string, 64)
	peer.OnData(func(message []byte) { data <- string(message) })
	return data
}

func waitWritable(t *testing.T, peer *PeerTransport) {
	t.Helper()
	deadline := time.Now().Add(peerTimeout)
	for !peer.Writable() {
		if time.Now().After(deadline) {
			t.Fatalf("peer not writable after %v (state %s)", peerTimeout, peer.State())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// echoEditor answers every message on the viewer's channel with the
// same bytes prefixed by "echo:".
func echoEditor(_ string, channel *webrtc.DataChannel) {
	channel.OnMessage(func(message webrtc.DataChannelMessage) {
		channel.Send(append([]byte("echo:"), message.Data...))
	})
}

func TestPeerTransport_SignaledRoundTrip(t *testing.T) {
	editor := NewMemorySignaler(echoEditor, "session-1")
	defer editor.Close()

	peer := newTestPeer(t, editor)
	states := make(chan webrtc.PeerConnectionState, 16)
	peer.OnStateChange(func(state webrtc.PeerConnectionState) { states <- state })
	opened := make(chan struct{}, 1)
	peer.OnOpen(func() { opened <- struct{}{} })
	data := collectData(peer)

	ctx, cancel := context.WithTimeout(context.Background(), peerTimeout)
	defer cancel()
	if err := peer.Connect(ctx, "session-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	testutil.RequireReceive(t, opened, peerTimeout, "data channel open")
	waitWritable(t, peer)
	for {
		state := testutil.RequireReceive(t, states, peerTimeout, "connected state")
		if state == webrtc.PeerConnectionStateConnected {
			break
		}
	}

	if err := peer.Send([]byte(`{"jsonrpc":"2.0","method":"ping"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := testutil.RequireReceive(t, data, peerTimeout, "echo")
	if got != `echo:{"jsonrpc":"2.0","method":"ping"}` {
		t.Errorf("echo = %q", got)
	}

	deadline := time.Now().Add(peerTimeout)
	for editor.Candidates("client-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no candidates trickled to the editor")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPeerTransport_UnknownSession(t *testing.T) {
	editor := NewMemorySignaler(echoEditor, "session-1")
	defer editor.Close()
	peer := newTestPeer(t, editor)

	err := peer.Connect(context.Background(), "no-such-session")
	var signalErr *SignalError
	if !errors.As(err, &signalErr) {
		t.Fatalf("Connect = %v, want *SignalError", err)
	}
	if !signalErr.NoSession() {
		t.Errorf("NoSession() = false for status %d", signalErr.StatusCode)
	}
}

func TestPeerTransport_ConnectPreconditions(t *testing.T) {
	editor := NewMemorySignaler(echoEditor, "session-1")
	defer editor.Close()

	if err := newTestPeer(t, editor).Connect(context.Background(), ""); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("Connect(\"\") = %v, want ErrEmptyToken", err)
	}
	if err := newTestPeer(t, nil).Connect(context.Background(), "session-1"); !errors.Is(err, ErrNoSignaler) {
		t.Errorf("Connect without signaler = %v, want ErrNoSignaler", err)
	}
	if editor.Calls() != 0 {
		t.Errorf("editor saw %d calls, want 0", editor.Calls())
	}
}

func TestPeerTransport_ManualExchange(t *testing.T) {
	viewer := newTestPeer(t, nil)
	editor := newTestPeer(t, nil)
	viewerData := collectData(viewer)
	editorData := collectData(editor)

	ctx, cancel := context.WithTimeout(context.Background(), peerTimeout)
	defer cancel()

	offerToken, err := viewer.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	offer, err := DecodeCallToken(offerToken)
	if err != nil {
		t.Fatalf("DecodeCallToken(offer): %v", err)
	}
	if offer.Description.Type != webrtc.SDPTypeOffer {
		t.Fatalf("offer token type = %s", offer.Description.Type)
	}
	// The editor may tag the offer with a client id; it must come back.
	offer.ClientID = "client-9"
	taggedOffer, err := offer.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	answerToken, err := editor.RespondToCall(ctx, taggedOffer)
	if err != nil {
		t.Fatalf("RespondToCall: %v", err)
	}
	answer, err := DecodeCallToken(answerToken)
	if err != nil {
		t.Fatalf("DecodeCallToken(answer): %v", err)
	}
	if answer.ClientID != "client-9" {
		t.Errorf("answer ClientID = %q, want client-9", answer.ClientID)
	}

	if err := viewer.SetAnswer(answerToken); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}
	waitWritable(t, viewer)
	waitWritable(t, editor)

	if err := viewer.Send([]byte("ping")); err != nil {
		t.Fatalf("viewer Send: %v", err)
	}
	if got := testutil.RequireReceive(t, editorData, peerTimeout, "ping"); got != "ping" {
		t.Errorf("editor received %q, want ping", got)
	}
	if err := editor.Send([]byte("pong")); err != nil {
		t.Fatalf("editor Send: %v", err)
	}
	if got := testutil.RequireReceive(t, viewerData, peerTimeout, "pong"); got != "pong" {
		t.Errorf("viewer received %q, want pong", got)
	}
}

func TestPeerTransport_WrongDescriptionType(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), peerTimeout)
	defer cancel()

	offerer := newTestPeer(t, nil)
	offerToken, err := offerer.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	other := newTestPeer(t, nil)
	if err := other.SetAnswer(offerToken); !errors.Is(err, ErrUnexpectedDescription) {
		t.Errorf("SetAnswer(offer) = %v, want ErrUnexpectedDescription", err)
	}

	answerer := newTestPeer(t, nil)
	answerToken, err := answerer.RespondToCall(ctx, offerToken)
	if err != nil {
		t.Fatalf("RespondToCall: %v", err)
	}
	if _, err := newTestPeer(t, nil).RespondToCall(ctx, answerToken); !errors.Is(err, ErrUnexpectedDescription) {
		t.Errorf("RespondToCall(answer) = %v, want ErrUnexpectedDescription", err)
	}
	if err := other.SetAnswer("not a token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("SetAnswer(garbage) = %v, want ErrInvalidToken", err)
	}
}

func TestPeerTransport_SendBeforeOpen(t *testing.T) {
	peer := newTestPeer(t, nil)
	if peer.Writable() {
		t.Fatal("fresh peer reports writable")
	}
	if err := peer.Send([]byte("x")); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Send = %v, want ErrNotOpen", err)
	}
	if got := peer.State(); got != webrtc.PeerConnectionStateNew {
		t.Errorf("State() = %s, want new", got)
	}
}

// iceUfrag returns the ICE username fragment of an SDP.
func iceUfrag(sdp string) string {
	for _, line := range strings.Split(sdp, "\n") {
		if value, ok := strings.CutPrefix(strings.TrimSpace(line), "a=ice-ufrag:"); ok {
			return value
		}
	}
	return ""
}

func TestPeerTransport_ICERestartThroughSignaler(t *testing.T) {
	editor := NewMemorySignaler(echoEditor, "session-1")
	defer editor.Close()
	peer := newTestPeer(t, editor)
	exchangeRequired := make(chan struct{}, 1)
	peer.OnExchangeRequired(func() { exchangeRequired <- struct{}{} })
	data := collectData(peer)

	ctx, cancel := context.WithTimeout(context.Background(), peerTimeout)
	defer cancel()
	if err := peer.Connect(ctx, "session-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitWritable(t, peer)

	// What the ICE failure callback runs.
	peer.restartICE()

	offers := editor.Offers()
	if len(offers) != 2 {
		t.Fatalf("editor saw %d offers, want the original and a restart", len(offers))
	}
	before, after := iceUfrag(offers[0].SDP), iceUfrag(offers[1].SDP)
	if before == "" || before == after {
		t.Errorf("restart offer kept ICE credentials: ufrag %q then %q", before, after)
	}
	select {
	case <-exchangeRequired:
		t.Error("signaled session asked for a manual exchange")
	default:
	}

	waitWritable(t, peer)
	if err := peer.Send([]byte("after restart")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := testutil.RequireReceive(t, data, peerTimeout, "echo"); got != "echo:after restart" {
		t.Errorf("echo = %q", got)
	}
}

func TestPeerTransport_ManualSessionFailureNeedsExchange(t *testing.T) {
	peer := newTestPeer(t, nil)
	exchangeRequired := make(chan struct{}, 1)
	peer.OnExchangeRequired(func() { exchangeRequired <- struct{}{} })

	peer.restartICE()
	testutil.RequireReceive(t, exchangeRequired, peerTimeout, "exchange required")
}

func newFakeClockPeer(t *testing.T) (*PeerTransport, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	peer, err := NewPeerTransport(PeerConfig{GatherTimeout: time.Second, Clock: fake, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewPeerTransport: %v", err)
	}
	t.Cleanup(func() { peer.Close() })
	return peer, fake
}

// gatherResult runs waitForGathering on a channel that never closes
// and expires the gather deadline.
func gatherResult(peer *PeerTransport, fake *clock.FakeClock) error {
	result := make(chan error, 1)
	go func() { result <- peer.waitForGathering(context.Background(), make(chan struct{})) }()
	fake.WaitForTimers(1)
	fake.Advance(time.Second)
	return <-result
}

func TestPeerTransport_GatheringErrors(t *testing.T) {
	t.Run("not started", func(t *testing.T) {
		peer, fake := newFakeClockPeer(t)
		if err := gatherResult(peer, fake); !errors.Is(err, ErrGatheringNotStarted) {
			t.Errorf("error = %v, want ErrGatheringNotStarted", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		peer, fake := newFakeClockPeer(t)
		offer, err := peer.pc.CreateOffer(nil)
		if err != nil {
			t.Fatalf("CreateOffer: %v", err)
		}
		if err := peer.pc.SetLocalDescription(offer); err != nil {
			t.Fatalf("SetLocalDescription: %v", err)
		}
		if err := gatherResult(peer, fake); !errors.Is(err, ErrGatheringTimeout) {
			t.Errorf("error = %v, want ErrGatheringTimeout", err)
		}
	})

	t.Run("no candidates", func(t *testing.T) {
		peer, _ := newFakeClockPeer(t)
		gathered := make(chan struct{})
		close(gathered)
		if err := peer.waitForGathering(context.Background(), gathered); !errors.Is(err, ErrNoCandidates) {
			t.Errorf("error = %v, want ErrNoCandidates", err)
		}
	})

	t.Run("canceled", func(t *testing.T) {
		peer, _ := newFakeClockPeer(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := peer.waitForGathering(ctx, make(chan struct{})); !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})
}
