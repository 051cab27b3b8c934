// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package viewer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/pairview/lib/testutil"
	"github.com/bureau-foundation/pairview/observe"
	"github.com/bureau-foundation/pairview/transport"
)

// authEditor is a WebSocket editor that accepts one password token,
// then sends initialize. Each accepted connection is published on
// conns.
type authEditor struct {
	*httptest.Server
	token string
	auths atomic.Int32
	conns chan *websocket.Conn
}

func newAuthEditor(t *testing.T, token string) *authEditor {
	t.Helper()
	editor := &authEditor{token: token, conns: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{}
	editor.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		editor.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var request struct {
				ID     *int64 `json:"id"`
				Method string `json:"method"`
				Params struct {
					Token string `json:"token"`
				} `json:"params"`
			}
			if json.Unmarshal(data, &request) != nil || request.Method != "auth" || request.ID == nil {
				continue
			}
			editor.auths.Add(1)
			if request.Params.Token != editor.token {
				conn.WriteJSON(map[string]any{
					"jsonrpc": "2.0", "id": *request.ID,
					"error": map[string]any{"code": 401, "message": "Invalid auth token"},
				})
				continue
			}
			conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": *request.ID, "result": nil})
			conn.WriteJSON(map[string]any{
				"jsonrpc": "2.0", "method": "initialize",
				"params": map[string]any{
					"view":  map[string]any{"file_id": 1, "line": 0, "character": 0},
					"files": map[string]any{"1": map[string]any{"id": 1, "filename": "main.go", "language": "go", "lines": []string{"package main"}}},
				},
			})
		}
	}))
	t.Cleanup(editor.Close)
	return editor
}

func (e *authEditor) wsURL() string { return "ws" + strings.TrimPrefix(e.URL, "http") }

func newTestSocketClient(t *testing.T, editor *authEditor, token string) *SocketClient {
	t.Helper()
	store := observe.NewStore(observe.NewState("tokyonight-night"), observe.StoreConfig{Logger: discardLogger()})
	client := NewSocketClient(SocketClientConfig{
		Client: Config{Store: store, Logger: discardLogger()},
		Socket: transport.SocketConfig{URL: editor.wsURL(), InitialBackoff: 20 * time.Millisecond},
		Token:  token,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func hasAlert(s observe.State, text string) bool {
	return slices.ContainsFunc(s.Alerts, func(a observe.Toast) bool { return a.Text == text })
}

func TestSocketClientAuthenticatesAndInitializes(t *testing.T) {
	editor := newAuthEditor(t, "secret-token")
	client := newTestSocketClient(t, editor, "secret-token")
	client.Start()

	state := waitState(t, client.Store(), "initialize", func(s observe.State) bool { return len(s.Files) == 1 })
	if !slices.Equal(state.Files[1].Lines, []string{"package main"}) {
		t.Errorf("lines = %q", state.Files[1].Lines)
	}
	if len(state.Alerts) != 0 {
		t.Errorf("unexpected toasts on first connect: %+v", state.Alerts)
	}
}

func TestSocketClientAuthFailureIsTerminal(t *testing.T) {
	editor := newAuthEditor(t, "secret-token")
	client := newTestSocketClient(t, editor, "wrong")
	client.Start()

	testutil.RequireClosed(t, client.Done(), waitTimeout, "client shutdown")
	state := waitState(t, client.Store(), "auth toast", func(s observe.State) bool { return hasAlert(s, AuthFailedText) })
	if hasAlert(state, ReconnectingText) {
		t.Errorf("reconnect toast shown after auth failure: %+v", state.Alerts)
	}
	time.Sleep(100 * time.Millisecond)
	if n := editor.auths.Load(); n != 1 {
		t.Errorf("editor saw %d auth requests, want 1", n)
	}
	if got := client.Socket().Phase(); got != transport.PhaseClosedByUser {
		t.Errorf("Phase() = %v, want closed_by_user", got)
	}
}

func TestSocketClientReconnectNotices(t *testing.T) {
	editor := newAuthEditor(t, "secret-token")
	client := newTestSocketClient(t, editor, "secret-token")
	client.Start()

	conn := testutil.RequireReceive(t, editor.conns, waitTimeout, "first connection")
	waitState(t, client.Store(), "initialize", func(s observe.State) bool { return len(s.Files) == 1 })

	conn.Close()
	state := waitState(t, client.Store(), "reconnect toast", func(s observe.State) bool { return hasAlert(s, ReconnectingText) })
	index := slices.IndexFunc(state.Alerts, func(a observe.Toast) bool { return a.Text == ReconnectingText })
	if state.Alerts[index].CountdownFormat != ReconnectFormat {
		t.Errorf("countdown format = %q", state.Alerts[index].CountdownFormat)
	}

	testutil.RequireReceive(t, editor.conns, waitTimeout, "second connection")
	state = waitState(t, client.Store(), "restored toast", func(s observe.State) bool { return hasAlert(s, RestoredText) })
	if hasAlert(state, ReconnectingText) {
		t.Errorf("reconnect toast still shown after restore: %+v", state.Alerts)
	}
	if n := editor.auths.Load(); n != 2 {
		t.Errorf("editor saw %d auth requests, want one per connection", n)
	}
}

func TestSocketClientCloseShowsNoReconnectNotice(t *testing.T) {
	editor := newAuthEditor(t, "secret-token")
	client := newTestSocketClient(t, editor, "secret-token")
	client.Start()
	waitState(t, client.Store(), "initialize", func(s observe.State) bool { return len(s.Files) == 1 })

	client.Close()
	testutil.RequireClosed(t, client.Done(), waitTimeout, "client shutdown")
	if hasAlert(client.Store().State(), ReconnectingText) {
		t.Error("reconnect toast shown after Close")
	}
}
