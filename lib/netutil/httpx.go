// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP and connection helpers shared by the
// signaling and login clients.
//
// Response helpers (ReadResponse, DecodeResponse, ErrorBody) bound body
// reads at MaxResponseSize. PostJSON wraps the request/decode cycle used
// by every small JSON endpoint the viewer talks to, returning a
// *StatusError for non-2xx replies. IsExpectedCloseError classifies
// errors seen while a connection is being torn down.
package netutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// MaxResponseSize bounds JSON response body reads: 16 MB. Signaling
// answers carry one session description and are far smaller.
const MaxResponseSize int64 = 16 << 20

// StatusError is returned by PostJSON for a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("POST %s: %s", e.URL, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("POST %s: %s: %s", e.URL, http.StatusText(e.StatusCode), e.Body)
}

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a response body (up to MaxResponseSize bytes)
// and JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an error response body for use in a message. Read
// errors are ignored; a partial body is still useful.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	return string(bytes.TrimSpace(data))
}

// PostJSON posts request as JSON to url and decodes the reply into
// response. A nil response discards the body. A nil client uses
// http.DefaultClient.
func PostJSON(ctx context.Context, client *http.Client, url string, request, response any) error {
	if client == nil {
		client = http.DefaultClient
	}
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encoding request for %s: %w", url, err)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request for %s: %w", url, err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, err := client.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return &StatusError{URL: url, StatusCode: httpResponse.StatusCode, Body: ErrorBody(httpResponse.Body)}
	}
	if response == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResponse.Body, MaxResponseSize))
		return nil
	}
	if err := DecodeResponse(httpResponse.Body, response); err != nil {
		return fmt.Errorf("decoding response from %s: %w", url, err)
	}
	return nil
}
