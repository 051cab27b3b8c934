// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes. The negative codes are the JSON-RPC 2.0 reserved codes;
// the positive ones are application codes shared with the editor side.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601

	// CodeGeneral is used for a handler failure that carries no code of
	// its own.
	CodeGeneral = 1
	// CodeTimeout settles a request that got no response in time.
	CodeTimeout = 2
	// CodeInvalidResponse settles a request whose response was
	// malformed.
	CodeInvalidResponse = 3
)

// ErrMethodsSealed is returned by RegisterMethod once the Handler has
// drained for the first time.
var ErrMethodsSealed = errors.New("jsonrpc: method table is sealed")

// ErrClosed is returned for sends on a closed Conn.
var ErrClosed = errors.New("jsonrpc: connection closed")

// Error is the error object of a JSON-RPC response. It is also the
// error value a Call settles with.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("jsonrpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// RPCErrorCode returns e.Code.
func (e *Error) RPCErrorCode() int { return e.Code }

// Coder is implemented by errors that choose their own response code.
// A method handler returning a Coder produces an error response with
// that code instead of CodeGeneral.
type Coder interface {
	error
	RPCErrorCode() int
}

// NewError builds an Error whose data is the JSON encoding of data, or
// omitted when data is nil or cannot be encoded.
func NewError(code int, message string, data any) *Error {
	rpcErr := &Error{Code: code, Message: message}
	if data != nil {
		if encoded, err := json.Marshal(data); err == nil {
			rpcErr.Data = encoded
		}
	}
	return rpcErr
}

// ErrorCode returns the JSON-RPC code carried by err, or 0 if err is
// not an RPC error.
func ErrorCode(err error) int {
	var coder Coder
	if errors.As(err, &coder) {
		return coder.RPCErrorCode()
	}
	return 0
}

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool { return ErrorCode(err) == CodeTimeout }

// toError converts a method handler failure into a response error.
func toError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var coder Coder
	if errors.As(err, &coder) {
		return &Error{Code: coder.RPCErrorCode(), Message: err.Error()}
	}
	return &Error{Code: CodeGeneral, Message: err.Error()}
}
