// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pion/webrtc/v4"
)

// Signaler exchanges session descriptions and trickled candidates with
// the editor's signaling service.
type Signaler interface {
	// Call presents offer for the editing session named by token and
	// returns the editor's answer along with the client id the editor
	// assigned to this viewer.
	Call(ctx context.Context, token string, offer webrtc.SessionDescription) (CallAnswer, error)

	// SendCandidate forwards one locally gathered candidate.
	SendCandidate(ctx context.Context, token, clientID string, candidate webrtc.ICECandidateInit) error
}

// CallAnswer is the editor's reply to Call.
type CallAnswer struct {
	Answer   webrtc.SessionDescription `json:"answer"`
	ClientID string                    `json:"client_id"`
}

// SignalError reports a signaling request the service rejected.
type SignalError struct {
	// Op is "call" or "ice".
	Op         string
	StatusCode int
	Message    string
}

func (e *SignalError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("signaling %s: %s", e.Op, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("signaling %s: %s: %s", e.Op, http.StatusText(e.StatusCode), e.Message)
}

// NoSession reports whether the service did not recognize the token.
func (e *SignalError) NoSession() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusUnauthorized ||
		e.StatusCode == http.StatusForbidden
}
