// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries JSON-RPC frames between the viewer and a
// remote editor.
//
// [Socket] is a WebSocket client (gorilla/websocket) that reconnects
// after every unexpected close. The delay starts at one second and
// doubles per consecutive failure until a handshake succeeds.
// [Socket.NextConnect] exposes the pending attempt so callers can show a
// countdown. Listeners registered with OnOpen, OnClose, and OnMessage
// survive reconnects. [Socket.Close] is terminal and fires the
// final-close listeners exactly once.
//
// [PeerTransport] is a pion/webrtc PeerConnection carrying one ordered
// data channel labeled [ChannelLabel]. It negotiates either through a
// [Signaler] ([PeerTransport.Connect], with trickled candidates) or by
// hand: [PeerTransport.CreateOffer] and [PeerTransport.RespondToCall]
// produce [CallToken] strings that the user copies between peers, and
// [PeerTransport.SetAnswer] completes the exchange. ICE failure on a
// signaled session triggers an ICE restart through the signaler.
//
// Data channel messages are slices of a byte stream, not whole frames.
// [DataChannelConn] splits writes at [MaxChunkSize]; receivers rejoin
// them with a stream reassembler.
//
// [HTTPSignaler] posts to the editor's /call and /ice endpoints.
// [MemorySignaler] is an in-process editor for tests.
//
// Both transports satisfy the jsonrpc Channel contract (Writable and
// Send).
package transport
