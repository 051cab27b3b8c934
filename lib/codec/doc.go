// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration for files the viewer
// writes to disk.
//
// JSON is the wire format (JSON-RPC, signaling, login). CBOR is used
// for local state such as the preferences file. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2), so the same preferences always
// serialize to the same bytes. Unknown fields are ignored on decode so
// older binaries can read files written by newer ones.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Types that are only ever stored as CBOR carry `cbor` struct tags.
package codec
