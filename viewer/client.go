// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package viewer

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/pairview/lib/jsonrpc"
	"github.com/bureau-foundation/pairview/observe"
)

// Config configures the JSON-RPC side shared by both clients.
type Config struct {
	// Store receives the editor's state. Required.
	Store *observe.Store

	// RPC tunes the connection. Its method table may add methods; the
	// editor notifications are always registered and win on conflict.
	RPC jsonrpc.ConnConfig

	// Prefetch fetches the active file's text whenever it is missing.
	Prefetch bool

	Logger *slog.Logger
}

// Client translates editor messages into store actions.
type Client struct {
	conn   *jsonrpc.Conn
	store  *observe.Store
	logger *slog.Logger

	fetches singleflight.Group

	// attempted holds files a prefetch has been started for since the
	// last initialize, so a failing fetch is not retried on every
	// state change.
	attemptedMu sync.Mutex
	attempted   map[observe.FileID]bool

	unsubscribe func()
}

func newClient(channel jsonrpc.Channel, config Config) *Client {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := &Client{
		store:     config.Store,
		logger:    logger,
		attempted: make(map[observe.FileID]bool),
	}

	rpc := config.RPC
	methods := maps.Clone(rpc.Handler.Methods)
	if methods == nil {
		methods = jsonrpc.Methods{}
	}
	maps.Copy(methods, client.methods())
	rpc.Handler.Methods = methods
	if rpc.Handler.Logger == nil {
		rpc.Handler.Logger = logger
	}
	client.conn = jsonrpc.NewConn(channel, rpc)

	if config.Prefetch {
		client.unsubscribe = config.Store.Subscribe(client.prefetchActive)
	}
	return client
}

// Conn returns the underlying connection.
func (c *Client) Conn() *jsonrpc.Conn { return c.conn }

// Store returns the store the client dispatches to.
func (c *Client) Store() *observe.Store { return c.store }

func (c *Client) methods() jsonrpc.Methods {
	return jsonrpc.Methods{
		"initialize":   c.onInitialize,
		"openFile":     c.onOpenFile,
		"closeFile":    c.onCloseFile,
		"textReplaced": c.onTextReplaced,
		"updateText":   c.onUpdateText,
		"updateView":   c.onUpdateView,
	}
}

func decodeParams[T any](method string, params json.RawMessage) (T, error) {
	var value T
	if len(params) == 0 {
		return value, fmt.Errorf("%s: missing params", method)
	}
	if err := json.Unmarshal(params, &value); err != nil {
		return value, fmt.Errorf("decoding %s params: %w", method, err)
	}
	return value, nil
}

type initializeParams struct {
	View  *observe.View   `json:"view"`
	Files json.RawMessage `json:"files"`
}

func (c *Client) onInitialize(_ context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[initializeParams]("initialize", params)
	if err != nil {
		return nil, err
	}
	files, err := decodeFiles(p.Files)
	if err != nil {
		return nil, err
	}
	c.attemptedMu.Lock()
	clear(c.attempted)
	c.attemptedMu.Unlock()
	c.store.Dispatch(observe.Initialize{View: p.View, Files: files})
	return nil, nil
}

// decodeFiles accepts the file list as an array or as an object keyed
// by file id. Either way the result is ordered by id.
func decodeFiles(raw json.RawMessage) ([]observe.File, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var files []observe.File
	if raw[0] == '{' {
		var byID map[string]observe.File
		if err := json.Unmarshal(raw, &byID); err != nil {
			return nil, fmt.Errorf("decoding initialize files: %w", err)
		}
		files = slices.Collect(maps.Values(byID))
	} else if err := json.Unmarshal(raw, &files); err != nil {
		return nil, fmt.Errorf("decoding initialize files: %w", err)
	}
	slices.SortFunc(files, func(a, b observe.File) int { return cmp.Compare(a.ID, b.ID) })
	return files, nil
}

type openFileParams struct {
	ID       observe.FileID `json:"id"`
	Filename string         `json:"filename"`
	Language string         `json:"language"`
}

func (c *Client) onOpenFile(_ context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[openFileParams]("openFile", params)
	if err != nil {
		return nil, err
	}
	c.attemptedMu.Lock()
	delete(c.attempted, p.ID)
	c.attemptedMu.Unlock()
	c.store.Dispatch(observe.OpenFile{ID: p.ID, Filename: p.Filename, Language: p.Language})
	return nil, nil
}

type closeFileParams struct {
	FileID observe.FileID `json:"file_id"`
}

func (c *Client) onCloseFile(_ context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[closeFileParams]("closeFile", params)
	if err != nil {
		return nil, err
	}
	c.store.Dispatch(observe.CloseFile{FileID: p.FileID})
	return nil, nil
}

type textReplacedParams struct {
	FileID observe.FileID `json:"file_id"`
	Text   []string       `json:"text"`
}

func (c *Client) onTextReplaced(_ context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[textReplacedParams]("textReplaced", params)
	if err != nil {
		return nil, err
	}
	lines := p.Text
	if lines == nil {
		lines = []string{}
	}
	c.store.Dispatch(observe.SetText{FileID: p.FileID, Lines: lines})
	return nil, nil
}

type updateTextParams struct {
	FileID  observe.FileID       `json:"file_id"`
	Changes []observe.TextChange `json:"changes"`
}

func (c *Client) onUpdateText(_ context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[updateTextParams]("updateText", params)
	if err != nil {
		return nil, err
	}
	c.store.Dispatch(observe.UpdateText{FileID: p.FileID, Changes: p.Changes})
	return nil, nil
}

type updateViewParams struct {
	View observe.View `json:"view"`
}

func (c *Client) onUpdateView(_ context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[updateViewParams]("updateView", params)
	if err != nil {
		return nil, err
	}
	c.store.Dispatch(observe.UpdateView{View: p.View})
	return nil, nil
}

type getTextParams struct {
	Filename string `json:"filename"`
}

// GetText fetches the text of filename. Concurrent calls for the same
// filename share one request. On success the text is dispatched as a
// SetText for the file id the editor returns; on failure an error
// toast is posted. Cancelling ctx abandons the wait, not the fetch.
func (c *Client) GetText(ctx context.Context, filename string) ([]string, error) {
	result := c.fetches.DoChan(filename, func() (any, error) {
		return c.fetchText(filename)
	})
	select {
	case r := <-result:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]string), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fetchText requests filename's text. The SetText is dispatched from
// the settle callback, inside the drain that delivers the response, so
// an updateText arriving right after the response patches the fetched
// text rather than an unloaded file.
func (c *Client) fetchText(filename string) ([]string, error) {
	var (
		lines     []string
		decodeErr error
	)
	call, err := c.conn.GoFunc("getText", getTextParams{Filename: filename}, c.conn.Timeout(),
		func(raw json.RawMessage, err error) {
			if err != nil {
				return
			}
			var file observe.File
			if decodeErr = json.Unmarshal(raw, &file); decodeErr != nil {
				decodeErr = fmt.Errorf("decoding getText result: %w", decodeErr)
				return
			}
			lines = file.Lines
			if lines == nil {
				lines = []string{}
			}
			c.store.Dispatch(observe.SetText{FileID: file.ID, Lines: lines})
		})
	if err == nil {
		<-call.Done()
		_, err = call.Result()
		if err == nil {
			err = decodeErr
		}
	}
	if err != nil {
		c.logger.Warn("fetching file text failed", "filename", filename, "error", err)
		c.store.Toast(fmt.Sprintf("Error fetching file text: %v", err), observe.SeverityError)
		return nil, err
	}
	return lines, nil
}

// prefetchActive starts a fetch for the active file when its text is
// missing. It runs as a store subscriber, so it must not block.
func (c *Client) prefetchActive(state observe.State) {
	file, ok := state.ActiveFile()
	if !ok || file.Loaded() {
		return
	}
	c.attemptedMu.Lock()
	if c.attempted[file.ID] {
		c.attemptedMu.Unlock()
		return
	}
	c.attempted[file.ID] = true
	c.attemptedMu.Unlock()

	c.logger.Debug("prefetching active file", "filename", file.Filename)
	c.fetches.DoChan(file.Filename, func() (any, error) {
		return c.fetchText(file.Filename)
	})
}

// Close stops the connection and the prefetcher.
func (c *Client) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.conn.Close()
}
