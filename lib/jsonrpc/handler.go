// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bureau-foundation/pairview/lib/clock"
)

// DefaultTimeout applies to SendRequest calls that pass a non-positive
// timeout.
const DefaultTimeout = 30 * time.Second

// MethodFunc handles one inbound request. Its result is encoded as the
// response result; a returned error becomes an error response (see
// Coder). For notifications both are discarded.
type MethodFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Methods maps method names to their handlers.
type Methods map[string]MethodFunc

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// Methods is the initial method table. It is copied.
	Methods Methods

	// Unbatched frames every outbound message separately instead of
	// joining responses and requests into one array each.
	Unbatched bool

	// Clock drives request timeouts. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives protocol anomalies. Defaults to slog.Default().
	Logger *slog.Logger
}

// Handler is the message codec and request correlator for one
// connection. It is safe for concurrent use.
type Handler struct {
	clock    clock.Clock
	logger   *slog.Logger
	batching bool

	mu      sync.Mutex
	methods Methods
	sealed  bool
	nextID  int64
	pending map[int64]*Call

	inbound      []inboundItem
	outResponses [][]byte
	outRequests  [][]byte
}

// inboundItem is one inbound message. Exactly one of request and
// response is set. A response with a problem is malformed and settles
// its call with CodeInvalidResponse.
type inboundItem struct {
	request  *Request
	response *Response
	problem  string
}

// NewHandler returns a Handler with the given configuration.
func NewHandler(config HandlerConfig) *Handler {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	methods := make(Methods, len(config.Methods))
	for name, fn := range config.Methods {
		methods[name] = fn
	}
	return &Handler{
		clock:    config.Clock,
		logger:   config.Logger,
		batching: !config.Unbatched,
		methods:  methods,
		nextID:   1,
		pending:  make(map[int64]*Call),
	}
}

// RegisterMethod adds a method. It fails with ErrMethodsSealed once
// either drain has run.
func (h *Handler) RegisterMethod(name string, fn MethodFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sealed {
		return fmt.Errorf("registering %q: %w", name, ErrMethodsSealed)
	}
	h.methods[name] = fn
	return nil
}

// Call is an outstanding request. It settles exactly once: with the
// peer's result, the peer's error, or a CodeTimeout or
// CodeInvalidResponse error.
type Call struct {
	ID     int64
	Method string

	done     chan struct{}
	result   json.RawMessage
	err      error
	timer    *clock.Timer
	onSettle func(json.RawMessage, error)
}

// finish records the outcome, runs the settle callback, and releases
// waiters.
func (c *Call) finish(result json.RawMessage, err error) {
	c.result, c.err = result, err
	if c.onSettle != nil {
		c.onSettle(result, err)
	}
	close(c.done)
}

// Done is closed when the call settles.
func (c *Call) Done() <-chan struct{} { return c.done }

// Result returns the outcome. It is valid only after Done is closed.
func (c *Call) Result() (json.RawMessage, error) { return c.result, c.err }

// Wait blocks until the call settles or ctx is done. Cancelling ctx
// abandons the wait only; the request stays outstanding until its
// response or timeout.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendRequest queues a request and returns its Call. A non-positive
// timeout means DefaultTimeout. The only error is a failure to encode
// params.
func (h *Handler) SendRequest(method string, params any, timeout time.Duration) (*Call, error) {
	return h.SendRequestFunc(method, params, timeout, nil)
}

// SendRequestFunc is SendRequest with a callback that runs once with
// the outcome, before Done is closed. For a response it runs inside
// DrainIncoming, before the next inbound message is processed, so its
// effects are ordered with the handlers of later messages. It must
// not block.
func (h *Handler) SendRequestFunc(method string, params any, timeout time.Duration, onSettle func(json.RawMessage, error)) (*Call, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	id := IntID(h.nextID)
	data, err := encodeRequest(&id, method, params)
	if err != nil {
		return nil, err
	}
	h.nextID++

	call := &Call{ID: id.num, Method: method, done: make(chan struct{}), onSettle: onSettle}
	h.pending[call.ID] = call
	call.timer = h.clock.AfterFunc(timeout, func() { h.expire(call.ID, timeout) })
	h.outRequests = append(h.outRequests, data)
	return call, nil
}

// SendNotification queues a notification.
func (h *Handler) SendNotification(method string, params any) error {
	data, err := encodeRequest(nil, method, params)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.outRequests = append(h.outRequests, data)
	h.mu.Unlock()
	return nil
}

func (h *Handler) expire(id int64, after time.Duration) {
	h.mu.Lock()
	call, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	h.logger.Warn("request timed out", "method", call.Method, "id", id, "timeout", after)
	call.finish(nil, &Error{Code: CodeTimeout, Message: "Timeout"})
}

// settle completes and forgets the call for id. It reports false when
// no call is outstanding under that id.
func (h *Handler) settle(id int64, result json.RawMessage, err error) bool {
	h.mu.Lock()
	call, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	call.timer.Stop()
	call.finish(result, err)
	return true
}

// Outstanding returns the number of requests awaiting a response.
func (h *Handler) Outstanding() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// HasPending reports whether inbound messages await DrainIncoming or
// outbound messages await DrainOutgoing.
func (h *Handler) HasPending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inbound) > 0 || len(h.outResponses) > 0 || len(h.outRequests) > 0
}

// ReceiveMessage buffers one complete JSON value: a message object or
// a batch array. Malformed input queues an error response; it never
// panics.
func (h *Handler) ReceiveMessage(raw []byte) {
	raw = bytes.TrimSpace(raw)
	if !json.Valid(raw) {
		h.logger.Warn("discarding unparseable message", "bytes", len(raw))
		h.respondError(nil, &Error{Code: CodeParseError, Message: "Parse error"})
		return
	}
	if raw[0] != '[' {
		h.receiveElement(raw)
		return
	}
	var batch []json.RawMessage
	if err := json.Unmarshal(raw, &batch); err != nil {
		h.respondError(nil, NewError(CodeInvalidRequest, "Invalid Request", err.Error()))
		return
	}
	if len(batch) == 0 {
		h.respondError(nil, NewError(CodeInvalidRequest, "Invalid Request", "empty batch"))
		return
	}
	for _, element := range batch {
		h.receiveElement(element)
	}
}

func (h *Handler) receiveElement(raw json.RawMessage) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		h.invalid(nil, "message is not an object")
		return
	}
	if _, ok := fields["method"]; ok {
		h.receiveRequest(fields)
		return
	}
	_, hasResult := fields["result"]
	_, hasError := fields["error"]
	if hasResult || hasError {
		h.receiveResponse(fields)
		return
	}
	id, _ := optionalID(fields)
	h.invalid(id, "message has neither method nor result or error")
}

func (h *Handler) receiveRequest(fields map[string]json.RawMessage) {
	id, idErr := optionalID(fields)
	if !hasVersion(fields) {
		h.invalid(id, "jsonrpc is not 2.0")
		return
	}
	if idErr != nil {
		h.invalid(nil, "request "+idErr.Error())
		return
	}
	var method string
	if err := json.Unmarshal(fields["method"], &method); err != nil {
		h.invalid(id, "method must be a string")
		return
	}
	params := bytes.TrimSpace(fields["params"])
	if bytes.Equal(params, []byte("null")) {
		params = nil
	}
	if len(params) > 0 && params[0] != '{' && params[0] != '[' {
		h.invalid(id, "params must be an object or array")
		return
	}
	h.mu.Lock()
	h.inbound = append(h.inbound, inboundItem{request: &Request{ID: id, Method: method, Params: params}})
	h.mu.Unlock()
}

func (h *Handler) receiveResponse(fields map[string]json.RawMessage) {
	rawID, hasID := fields["id"]
	if !hasID {
		h.invalid(nil, "response must have an id")
		return
	}
	var id ID
	if err := json.Unmarshal(rawID, &id); err != nil {
		// A null id is how a peer reports a request it could not parse.
		h.logger.Warn("peer reported an error without a request id", "error", string(fields["error"]))
		return
	}

	_, hasResult := fields["result"]
	errorField, hasError := fields["error"]
	var rpcErr *Error
	problem := ""
	switch {
	case !hasVersion(fields):
		problem = "jsonrpc is not 2.0"
	case hasResult && hasError:
		problem = "response has both result and error"
	case hasError:
		if err := json.Unmarshal(errorField, &rpcErr); err != nil || rpcErr == nil {
			problem = "error is not an error object"
		}
	}
	if problem != "" {
		h.logger.Warn("malformed response", "id", id.String(), "problem", problem)
		h.respondError(nil, NewError(CodeInvalidRequest, "Invalid Request", problem))
		h.mu.Lock()
		h.inbound = append(h.inbound, inboundItem{response: &Response{ID: id}, problem: problem})
		h.mu.Unlock()
		return
	}

	response := &Response{ID: id, Error: rpcErr}
	if hasResult {
		response.Result = fields["result"]
	}
	h.mu.Lock()
	h.inbound = append(h.inbound, inboundItem{response: response})
	h.mu.Unlock()
}

func hasVersion(fields map[string]json.RawMessage) bool {
	var version string
	return json.Unmarshal(fields["jsonrpc"], &version) == nil && version == Version
}

// optionalID returns the id field, nil when it is absent, and an error
// when it is present but null or not an integer or string.
func optionalID(fields map[string]json.RawMessage) (*ID, error) {
	raw, ok := fields["id"]
	if !ok {
		return nil, nil
	}
	var id ID
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

func (h *Handler) invalid(id *ID, reason string) {
	h.logger.Warn("invalid message", "reason", reason)
	h.respondError(id, NewError(CodeInvalidRequest, "Invalid Request", reason))
}

func (h *Handler) respondError(id *ID, rpcErr *Error) {
	data := encodeError(id, rpcErr)
	h.mu.Lock()
	h.outResponses = append(h.outResponses, data)
	h.mu.Unlock()
}

// DrainIncoming processes every buffered inbound message in arrival
// order. Responses settle their calls; requests run their method
// handlers with ctx, and those with an id queue a response.
func (h *Handler) DrainIncoming(ctx context.Context) {
	h.mu.Lock()
	h.sealed = true
	items := h.inbound
	h.inbound = nil
	h.mu.Unlock()

	for _, item := range items {
		if item.response != nil {
			h.deliver(item.response, item.problem)
			continue
		}
		h.dispatch(ctx, item.request)
	}
}

func (h *Handler) deliver(response *Response, problem string) {
	n, isInt := response.ID.Int()
	var err error
	switch {
	case problem != "":
		err = NewError(CodeInvalidResponse, "Invalid response", problem)
	case response.Error != nil:
		err = response.Error
	}
	if !isInt || !h.settle(n, response.Result, err) {
		h.logger.Warn("response for unknown request", "id", response.ID.String())
	}
}

func (h *Handler) dispatch(ctx context.Context, request *Request) {
	h.mu.Lock()
	fn, ok := h.methods[request.Method]
	h.mu.Unlock()
	if !ok {
		h.logger.Warn("method not found", "method", request.Method)
		if request.ID != nil {
			h.respondError(request.ID, NewError(CodeMethodNotFound, "Method not found",
				fmt.Sprintf("Method %s is not found", request.Method)))
		}
		return
	}

	result, err := h.invoke(ctx, fn, request)
	if err != nil {
		h.logger.Warn("method failed", "method", request.Method, "error", err)
	}
	if request.ID == nil {
		return
	}
	var data []byte
	if err != nil {
		data = encodeError(request.ID, toError(err))
	} else {
		data = encodeResult(request.ID, result)
	}
	h.mu.Lock()
	h.outResponses = append(h.outResponses, data)
	h.mu.Unlock()
}

func (h *Handler) invoke(ctx context.Context, fn MethodFunc, request *Request) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			h.logger.Error("method panicked", "method", request.Method, "panic", recovered, "stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("%s: panic: %v", request.Method, recovered)
		}
	}()
	return fn(ctx, request.Params)
}

// DrainOutgoing removes and frames every buffered outbound message,
// responses first.
func (h *Handler) DrainOutgoing() []string {
	h.mu.Lock()
	h.sealed = true
	responses, requests := h.outResponses, h.outRequests
	h.outResponses, h.outRequests = nil, nil
	h.mu.Unlock()

	frames := make([]string, 0, len(responses)+len(requests))
	for _, group := range [][][]byte{responses, requests} {
		if len(group) == 0 {
			continue
		}
		if h.batching {
			frames = append(frames, joinBatch(group))
			continue
		}
		for _, message := range group {
			frames = append(frames, string(message))
		}
	}
	return frames
}
