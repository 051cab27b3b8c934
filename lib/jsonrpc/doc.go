// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jsonrpc is a transport-neutral JSON-RPC 2.0 endpoint: both
// sides of a connection may send requests, and each side answers the
// other's.
//
// [Handler] is the codec and correlator. It buffers inbound frames
// until [Handler.DrainIncoming] and outbound messages until
// [Handler.DrainOutgoing], which frames responses ahead of requests,
// as one JSON array each when batching is on. Requests sent with
// [Handler.SendRequest] are tracked by id until a matching response or
// their timeout settles the returned [Call], whichever comes first.
//
// [Conn] drives a Handler over a [Channel]. Every send and every
// received frame schedules one coalesced drain cycle a few
// milliseconds later; when the channel is not writable the cycle is
// retried with a growing delay. Frames taken from the Handler are sent
// once and never re-sent.
//
// [Reassembler] turns a byte stream whose message boundaries are not
// preserved into complete JSON values.
//
// Method handlers run on the drain goroutine in arrival order. A
// handler that needs a response from the peer must wait for it on a
// separate goroutine; waiting inline would stall the drain that
// delivers the response.
package jsonrpc
