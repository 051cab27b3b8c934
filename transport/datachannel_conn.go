// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"io"
	"sync"

	"github.com/bureau-foundation/pairview/lib/netutil"
)

// MaxChunkSize is the largest message DataChannelConn writes. Larger
// frames are split and rejoined by the receiver's stream reassembler.
const MaxChunkSize = 16 << 10

// readBufferSize must hold the largest message a peer may send. A
// detached channel delivers one message per Read.
const readBufferSize = 1 << 20

// DataChannelConn wraps a detached pion data channel. Writes are split
// into messages of at most MaxChunkSize bytes; reads deliver one
// message at a time.
type DataChannelConn struct {
	rwc   io.ReadWriteCloser
	label string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewDataChannelConn wraps rwc, a channel returned by Detach. label
// identifies the channel in logs.
func NewDataChannelConn(rwc io.ReadWriteCloser, label string) *DataChannelConn {
	return &DataChannelConn{rwc: rwc, label: label}
}

// Label returns the channel label.
func (c *DataChannelConn) Label() string { return c.label }

// Write sends buffer as one or more messages. Concurrent writes do not
// interleave.
func (c *DataChannelConn) Write(buffer []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	written := 0
	for written < len(buffer) {
		end := min(written+MaxChunkSize, len(buffer))
		n, err := c.rwc.Write(buffer[written:end])
		written += n
		if err != nil {
			return written, fmt.Errorf("writing to data channel %s: %w", c.label, err)
		}
	}
	return written, nil
}

// ReadMessages calls deliver with each inbound message until the channel
// closes. deliver owns the slice it is given. A normal close returns
// nil.
func (c *DataChannelConn) ReadMessages(deliver func([]byte)) error {
	buffer := make([]byte, readBufferSize)
	for {
		n, err := c.rwc.Read(buffer)
		if n > 0 {
			message := make([]byte, n)
			copy(message, buffer[:n])
			deliver(message)
		}
		if err != nil {
			if netutil.IsExpectedCloseError(err) {
				return nil
			}
			return fmt.Errorf("reading from data channel %s: %w", c.label, err)
		}
	}
}

// Close closes the underlying channel. Later calls return the first
// result.
func (c *DataChannelConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}
