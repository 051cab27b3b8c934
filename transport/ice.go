// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pion/webrtc/v4"
	"github.com/tidwall/jsonc"
)

// ICEConfig holds the STUN and TURN servers used while gathering
// candidates. An empty list gathers host candidates only, which is
// enough for loopback and LAN sessions.
type ICEConfig struct {
	Servers []webrtc.ICEServer
}

// DefaultICEConfig returns the public STUN and TURN relays used when
// no configuration is given.
func DefaultICEConfig() ICEConfig {
	return ICEConfig{
		Servers: []webrtc.ICEServer{
			{
				URLs: []string{
					"stun:openrelay.metered.ca:80",
					"stun:stun.l.google.com:19302",
					"stun:stun1.l.google.com:19302",
					"stun:stun2.l.google.com:19302",
					"stun:stun3.l.google.com:19302",
					"stun:stun4.l.google.com:19302",
				},
			},
			{
				URLs: []string{
					"turn:openrelay.metered.ca:80",
					"turn:openrelay.metered.ca:443",
					"turn:openrelay.metered.ca:443?transport=tcp",
					"turns:openrelay.metered.ca:443",
				},
				Username:   "openrelayproject",
				Credential: "openrelayproject",
			},
		},
	}
}

// rtcConfiguration is the subset of a browser RTCConfiguration we read.
type rtcConfiguration struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

// ParseICEConfig reads ICE servers from a browser-style RTCConfiguration
// document. Comments and trailing commas are allowed.
func ParseICEConfig(data []byte) (ICEConfig, error) {
	var parsed rtcConfiguration
	if err := json.Unmarshal(jsonc.ToJSON(data), &parsed); err != nil {
		return ICEConfig{}, fmt.Errorf("parsing ICE configuration: %w", err)
	}
	for i, server := range parsed.ICEServers {
		if len(server.URLs) == 0 {
			return ICEConfig{}, fmt.Errorf("parsing ICE configuration: iceServers[%d] has no urls", i)
		}
	}
	return ICEConfig{Servers: parsed.ICEServers}, nil
}

// LoadICEConfig reads and parses the file at path.
func LoadICEConfig(path string) (ICEConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ICEConfig{}, fmt.Errorf("reading ICE configuration: %w", err)
	}
	config, err := ParseICEConfig(data)
	if err != nil {
		return ICEConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}
