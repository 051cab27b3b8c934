// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/pairview/lib/netutil"
)

var _ Signaler = (*HTTPSignaler)(nil)

// HTTPSignaler talks to the editor's signaling endpoints:
//
//	POST {base}/call {token, offer}               -> {answer, client_id}
//	POST {base}/ice  {token, client_id, candidate}
type HTTPSignaler struct {
	base   string
	client *http.Client
}

// NewHTTPSignaler creates a signaler for the service at baseURL. A nil
// client uses http.DefaultClient.
func NewHTTPSignaler(baseURL string, client *http.Client) *HTTPSignaler {
	return &HTTPSignaler{base: strings.TrimRight(baseURL, "/"), client: client}
}

type callRequest struct {
	Token string                    `json:"token"`
	Offer webrtc.SessionDescription `json:"offer"`
}

type iceRequest struct {
	Token     string                  `json:"token"`
	ClientID  string                  `json:"client_id"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

func (s *HTTPSignaler) Call(ctx context.Context, token string, offer webrtc.SessionDescription) (CallAnswer, error) {
	var answer CallAnswer
	err := netutil.PostJSON(ctx, s.client, s.base+"/call", callRequest{Token: token, Offer: offer}, &answer)
	if err != nil {
		return CallAnswer{}, signalError("call", err)
	}
	return answer, nil
}

func (s *HTTPSignaler) SendCandidate(ctx context.Context, token, clientID string, candidate webrtc.ICECandidateInit) error {
	request := iceRequest{Token: token, ClientID: clientID, Candidate: candidate}
	if err := netutil.PostJSON(ctx, s.client, s.base+"/ice", request, nil); err != nil {
		return signalError("ice", err)
	}
	return nil
}

func signalError(op string, err error) error {
	var statusErr *netutil.StatusError
	if errors.As(err, &statusErr) {
		return &SignalError{Op: op, StatusCode: statusErr.StatusCode, Message: statusErr.Body}
	}
	return err
}
