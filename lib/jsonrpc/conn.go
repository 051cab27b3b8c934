// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/pairview/lib/clock"
)

// Default drain timings.
const (
	DefaultDrainDelay    = 10 * time.Millisecond
	DefaultPendingDelay  = time.Millisecond
	DefaultMaxRetryDelay = 10 * time.Second
)

// Channel carries frames to the peer.
type Channel interface {
	// Writable reports whether Send can currently deliver.
	Writable() bool
	// Send delivers one frame.
	Send(frame []byte) error
}

// ConnConfig configures a Conn. Zero durations take the defaults.
type ConnConfig struct {
	Handler HandlerConfig

	// DrainDelay is the delay between a trigger and its drain cycle.
	DrainDelay time.Duration
	// PendingDelay is the delay before the next cycle when a cycle
	// leaves work behind.
	PendingDelay time.Duration
	// MaxRetryDelay caps the delay between cycles while the channel is
	// not writable. Each unwritable cycle multiplies the delay by four.
	MaxRetryDelay time.Duration
	// MaxBuffered bounds stream reassembly; see NewReassembler.
	MaxBuffered int
	// RequestTimeout is used by Call. Defaults to DefaultTimeout.
	RequestTimeout time.Duration
}

// Conn runs a Handler over a Channel with coalesced, timer-driven
// drain cycles.
type Conn struct {
	handler *Handler
	channel Channel
	clock   clock.Clock
	logger  *slog.Logger

	drainDelay    time.Duration
	pendingDelay  time.Duration
	maxRetryDelay time.Duration
	timeout       time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// cycle serializes drain cycles.
	cycle sync.Mutex

	mu          sync.Mutex
	timer       *clock.Timer
	generation  uint64
	closed      bool
	reassembler *Reassembler
}

// NewConn creates a Conn that sends on channel. Call Close to stop
// its timers.
func NewConn(channel Channel, config ConnConfig) *Conn {
	handler := NewHandler(config.Handler)
	ctx, cancel := context.WithCancel(context.Background())
	conn := &Conn{
		handler:       handler,
		channel:       channel,
		clock:         handler.clock,
		logger:        handler.logger,
		drainDelay:    orDefault(config.DrainDelay, DefaultDrainDelay),
		pendingDelay:  orDefault(config.PendingDelay, DefaultPendingDelay),
		maxRetryDelay: orDefault(config.MaxRetryDelay, DefaultMaxRetryDelay),
		timeout:       orDefault(config.RequestTimeout, DefaultTimeout),
		ctx:           ctx,
		cancel:        cancel,
		reassembler:   NewReassembler(config.MaxBuffered),
	}
	return conn
}

func orDefault(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

// Handler returns the underlying Handler, for method registration
// before the first drain.
func (c *Conn) Handler() *Handler { return c.handler }

// Go sends a request and returns without waiting.
func (c *Conn) Go(method string, params any, timeout time.Duration) (*Call, error) {
	return c.GoFunc(method, params, timeout, nil)
}

// GoFunc is Go with a settle callback; see Handler.SendRequestFunc.
func (c *Conn) GoFunc(method string, params any, timeout time.Duration, onSettle func(json.RawMessage, error)) (*Call, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	call, err := c.handler.SendRequestFunc(method, params, timeout, onSettle)
	if err != nil {
		return nil, err
	}
	c.Schedule()
	return call, nil
}

// Timeout returns the timeout Call applies.
func (c *Conn) Timeout() time.Duration { return c.timeout }

// Call sends a request with the configured timeout, waits for it, and
// decodes the result into result unless result is nil.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	call, err := c.Go(method, params, c.timeout)
	if err != nil {
		return err
	}
	raw, err := call.Wait(ctx)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}

// Notify sends a notification.
func (c *Conn) Notify(method string, params any) error {
	if c.isClosed() {
		return ErrClosed
	}
	if err := c.handler.SendNotification(method, params); err != nil {
		return err
	}
	c.Schedule()
	return nil
}

// Receive accepts one complete frame from the peer.
func (c *Conn) Receive(frame []byte) {
	c.handler.ReceiveMessage(frame)
	c.Schedule()
}

// ReceiveStream accepts bytes from a transport that does not preserve
// frame boundaries.
func (c *Conn) ReceiveStream(chunk []byte) {
	c.mu.Lock()
	values, err := c.reassembler.Feed(chunk)
	c.mu.Unlock()
	if err != nil {
		c.logger.Error("dropping stream data", "error", err)
		return
	}
	if len(values) == 0 {
		c.logger.Debug("holding partial stream data", "chunk_bytes", len(chunk))
		return
	}
	for _, value := range values {
		c.handler.ReceiveMessage(value)
	}
	c.Schedule()
}

// Schedule arranges a drain cycle after the drain delay unless one is
// already scheduled.
func (c *Conn) Schedule() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduleLocked(c.drainDelay)
}

// Kick replaces any scheduled cycle, including one delayed by an
// unwritable channel, with one after the drain delay. Transports call
// it when the channel becomes writable.
func (c *Conn) Kick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.scheduleLocked(c.drainDelay)
}

func (c *Conn) scheduleLocked(delay time.Duration) {
	if c.closed || c.timer != nil {
		return
	}
	c.generation++
	generation := c.generation
	c.timer = c.clock.AfterFunc(delay, func() { c.drain(generation, delay) })
}

func (c *Conn) drain(generation uint64, delay time.Duration) {
	c.mu.Lock()
	if c.generation == generation {
		c.timer = nil
	}
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	c.cycle.Lock()
	defer c.cycle.Unlock()

	c.handler.DrainIncoming(c.ctx)

	if !c.channel.Writable() {
		next := min(delay*4, c.maxRetryDelay)
		c.logger.Debug("channel not writable, delaying drain", "retry_in", next)
		c.mu.Lock()
		c.scheduleLocked(next)
		c.mu.Unlock()
		return
	}

	for _, frame := range c.handler.DrainOutgoing() {
		if err := c.channel.Send([]byte(frame)); err != nil {
			c.logger.Warn("dropping outbound frame", "error", err, "bytes", len(frame))
		}
	}
	if c.handler.HasPending() {
		c.mu.Lock()
		c.scheduleLocked(c.pendingDelay)
		c.mu.Unlock()
	}
}

// Close stops scheduling and cancels the context passed to method
// handlers. Outstanding calls still settle by timeout.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.cancel()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
