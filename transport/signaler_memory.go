// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/pion/webrtc/v4"
)

var _ Signaler = (*MemorySignaler)(nil)

// MemorySignaler is an in-process editor for tests. The first Call for
// a token answers with a fresh loopback PeerConnection; later calls
// for the same token renegotiate that connection, the way an ICE
// restart reaches the editor. Data channels the viewer opens are handed
// to the onChannel callback, undetached, so the test can play the
// editor's side of the conversation.
type MemorySignaler struct {
	onChannel func(clientID string, channel *webrtc.DataChannel)

	mu         sync.Mutex
	sessions   map[string]bool
	peers      map[string]*webrtc.PeerConnection
	candidates map[string]int
	clients    map[string]string
	offers     []webrtc.SessionDescription
	calls      int
}

// NewMemorySignaler creates an editor that accepts calls for the given
// session tokens.
func NewMemorySignaler(onChannel func(clientID string, channel *webrtc.DataChannel), tokens ...string) *MemorySignaler {
	sessions := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		sessions[token] = true
	}
	return &MemorySignaler{
		onChannel:  onChannel,
		sessions:   sessions,
		peers:      make(map[string]*webrtc.PeerConnection),
		candidates: make(map[string]int),
		clients:    make(map[string]string),
	}
}

func (s *MemorySignaler) Call(ctx context.Context, token string, offer webrtc.SessionDescription) (CallAnswer, error) {
	s.mu.Lock()
	if !s.sessions[token] {
		s.mu.Unlock()
		return CallAnswer{}, &SignalError{Op: "call", StatusCode: http.StatusNotFound, Message: "no session for token"}
	}
	s.calls++
	s.offers = append(s.offers, offer)
	if clientID, ok := s.clients[token]; ok {
		pc := s.peers[clientID]
		s.mu.Unlock()
		return s.answer(ctx, pc, clientID, offer, false)
	}
	clientID := "client-" + strconv.Itoa(s.calls)
	s.clients[token] = clientID
	s.mu.Unlock()

	pc, err := newAPI(false).NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return CallAnswer{}, fmt.Errorf("creating editor peer connection: %w", err)
	}
	pc.OnDataChannel(func(channel *webrtc.DataChannel) {
		if s.onChannel != nil {
			s.onChannel(clientID, channel)
		}
	})
	s.mu.Lock()
	s.peers[clientID] = pc
	s.mu.Unlock()
	return s.answer(ctx, pc, clientID, offer, true)
}

func (s *MemorySignaler) answer(ctx context.Context, pc *webrtc.PeerConnection, clientID string, offer webrtc.SessionDescription, fresh bool) (CallAnswer, error) {
	fail := func(err error) (CallAnswer, error) {
		if fresh {
			s.mu.Lock()
			delete(s.peers, clientID)
			s.mu.Unlock()
			pc.Close()
		}
		return CallAnswer{}, err
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fail(fmt.Errorf("applying viewer offer: %w", err))
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(fmt.Errorf("creating answer: %w", err))
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail(fmt.Errorf("setting local answer: %w", err))
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return fail(ctx.Err())
	}
	return CallAnswer{Answer: *pc.LocalDescription(), ClientID: clientID}, nil
}

func (s *MemorySignaler) SendCandidate(_ context.Context, token, clientID string, candidate webrtc.ICECandidateInit) error {
	s.mu.Lock()
	pc := s.peers[clientID]
	known := s.sessions[token]
	if pc != nil && known {
		s.candidates[clientID]++
	}
	s.mu.Unlock()
	if pc == nil || !known {
		return &SignalError{Op: "ice", StatusCode: http.StatusNotFound, Message: "unknown client"}
	}
	return pc.AddICECandidate(candidate)
}

// Calls returns how many calls were answered or attempted for known
// sessions.
func (s *MemorySignaler) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Offers returns every offer presented to Call, oldest first.
func (s *MemorySignaler) Offers() []webrtc.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), s.offers...)
}

// Candidates returns how many candidates clientID has trickled.
func (s *MemorySignaler) Candidates(clientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candidates[clientID]
}

// Close closes every editor-side peer connection.
func (s *MemorySignaler) Close() {
	s.mu.Lock()
	peers := s.peers
	s.peers = make(map[string]*webrtc.PeerConnection)
	s.mu.Unlock()
	for _, pc := range peers {
		pc.Close()
	}
}
