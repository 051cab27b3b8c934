// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ErrInvalidToken is returned for a call token that cannot be decoded.
var ErrInvalidToken = errors.New("transport: invalid call token")

// CallToken is a session description passed between peers by hand,
// base64-encoded JSON. ClientID is set when the editor issued the
// offer and expects it echoed back with the answer.
type CallToken struct {
	Description webrtc.SessionDescription `json:"desc"`
	ClientID    string                    `json:"client_id,omitempty"`
}

// Encode returns the base64 text of the token.
func (t CallToken) Encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encoding call token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeCallToken parses a token. Both the {desc, client_id} form and
// a bare session description are accepted. Surrounding whitespace and
// missing padding are tolerated since tokens are usually pasted.
func DecodeCallToken(text string) (CallToken, error) {
	text = strings.TrimSpace(text)
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(text, "="))
		if err != nil {
			return CallToken{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	var wire struct {
		Description *json.RawMessage `json:"desc"`
		ClientID    string           `json:"client_id"`
		SDP         string           `json:"sdp"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return CallToken{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	token := CallToken{ClientID: wire.ClientID}
	descriptionJSON := data
	if wire.Description != nil {
		descriptionJSON = *wire.Description
	} else if wire.SDP == "" {
		return CallToken{}, fmt.Errorf("%w: no session description", ErrInvalidToken)
	}
	if err := json.Unmarshal(descriptionJSON, &token.Description); err != nil {
		return CallToken{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if token.Description.SDP == "" {
		return CallToken{}, fmt.Errorf("%w: empty sdp", ErrInvalidToken)
	}
	return token, nil
}
