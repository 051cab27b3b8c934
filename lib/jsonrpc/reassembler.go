// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxBuffered bounds the bytes a Reassembler retains while
// waiting for a message to complete.
const DefaultMaxBuffered = 16 << 20

// ErrBufferOverflow is returned by Feed when retained bytes exceed the
// limit. The retained bytes are discarded.
var ErrBufferOverflow = errors.New("jsonrpc: reassembly buffer overflow")

// Reassembler recovers complete JSON values from a stream of chunks
// whose boundaries do not follow message boundaries.
//
// After each chunk the retained bytes are either a whole sequence of
// complete values, which Feed returns and forgets, or they are kept in
// full for the next chunk. Nothing tracks nesting across chunks, so a
// value is only released once some chunk ends exactly on a value
// boundary. A stream that never pauses on a boundary is retained until
// the limit is hit.
type Reassembler struct {
	max     int
	pending []byte
}

// NewReassembler returns a Reassembler that retains at most max bytes.
// A non-positive max means DefaultMaxBuffered.
func NewReassembler(max int) *Reassembler {
	if max <= 0 {
		max = DefaultMaxBuffered
	}
	return &Reassembler{max: max}
}

// Buffered returns the number of retained bytes.
func (r *Reassembler) Buffered() int { return len(r.pending) }

// Feed appends chunk and returns any values it completes, each a copy
// of its bytes in the stream.
func (r *Reassembler) Feed(chunk []byte) ([][]byte, error) {
	r.pending = append(r.pending, chunk...)
	if len(bytes.TrimSpace(r.pending)) == 0 {
		r.pending = r.pending[:0]
		return nil, nil
	}

	values, ok := splitValues(r.pending)
	if ok {
		r.pending = r.pending[:0]
		return values, nil
	}
	if len(r.pending) > r.max {
		size := len(r.pending)
		r.pending = nil
		return nil, fmt.Errorf("%w: %d bytes without a message boundary", ErrBufferOverflow, size)
	}
	return nil, nil
}

// splitValues decodes data as a sequence of JSON values and reports
// whether it consisted of nothing else.
func splitValues(data []byte) ([][]byte, bool) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	var values [][]byte
	for {
		var value json.RawMessage
		err := decoder.Decode(&value)
		if errors.Is(err, io.EOF) {
			return values, len(values) > 0
		}
		if err != nil {
			return nil, false
		}
		values = append(values, value)
	}
}
