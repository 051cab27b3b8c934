// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Version is the only protocol version accepted on the wire.
const Version = "2.0"

// ID is a request id: an integer or a string. Ids this side assigns
// are always integers.
type ID struct {
	num   int64
	str   string
	isStr bool
}

// IntID returns an integer id.
func IntID(n int64) ID { return ID{num: n} }

// StringID returns a string id.
func StringID(s string) ID { return ID{str: s, isStr: true} }

// Int returns the integer value and whether the id is an integer.
func (id ID) Int() (int64, bool) { return id.num, !id.isStr }

func (id ID) String() string {
	if id.isStr {
		return strconv.Quote(id.str)
	}
	return strconv.FormatInt(id.num, 10)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return strconv.AppendInt(nil, id.num, 10), nil
}

var errNullID = errors.New("id must not be null")

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0:
		return errors.New("empty id")
	case bytes.Equal(data, []byte("null")):
		return errNullID
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("id must be an integer or a string, got %s", data)
	}
	*id = IntID(n)
	return nil
}

// Request is an inbound request or notification. ID is nil for a
// notification.
type Request struct {
	ID     *ID
	Method string
	Params json.RawMessage
}

// Response is an inbound response. Exactly one of Result and Error is
// set.
type Response struct {
	ID     ID
	Result json.RawMessage
	Error  *Error
}

type wireRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      *ID             `json:"id,omitempty"`
}

type wireResult struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id"`
	Result  json.RawMessage `json:"result"`
}

type wireError struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *ID    `json:"id"`
	Error   *Error `json:"error"`
}

func encodeRequest(id *ID, method string, params any) ([]byte, error) {
	request := wireRequest{JSONRPC: Version, Method: method, ID: id}
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encoding params for %s: %w", method, err)
		}
		request.Params = encoded
	}
	return json.Marshal(request)
}

// encodeResult falls back to an error response when result cannot be
// encoded, so a reply is always produced.
func encodeResult(id *ID, result any) []byte {
	encoded, err := json.Marshal(result)
	if err != nil {
		return encodeError(id, &Error{Code: CodeGeneral, Message: "encoding result: " + err.Error()})
	}
	data, err := json.Marshal(wireResult{JSONRPC: Version, ID: id, Result: encoded})
	if err != nil {
		return encodeError(id, &Error{Code: CodeGeneral, Message: err.Error()})
	}
	return data
}

func encodeError(id *ID, rpcErr *Error) []byte {
	data, err := json.Marshal(wireError{JSONRPC: Version, ID: id, Error: rpcErr})
	if err != nil {
		// Only Data can fail to encode, and it is already raw JSON that
		// json.Marshal validated; drop it rather than lose the reply.
		data, _ = json.Marshal(wireError{JSONRPC: Version, ID: id, Error: &Error{Code: rpcErr.Code, Message: rpcErr.Message}})
	}
	return data
}

// joinBatch frames already-encoded messages as one JSON array.
func joinBatch(messages [][]byte) string {
	var buffer bytes.Buffer
	buffer.WriteByte('[')
	for i, message := range messages {
		if i > 0 {
			buffer.WriteByte(',')
		}
		buffer.Write(message)
	}
	buffer.WriteByte(']')
	return buffer.String()
}
