// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package viewer connects a session [observe.Store] to a remote editor.
//
// [Client] owns the JSON-RPC connection and its method table: each
// editor notification (initialize, openFile, closeFile, textReplaced,
// updateText, updateView) becomes one store action. It also fetches
// file text on demand with getText, coalescing concurrent fetches for
// the same filename into one request.
//
// Two clients wrap it with a transport:
//
//   - [SocketClient] runs over a reconnecting WebSocket, authenticates
//     after every open, and posts reconnect notices as toasts.
//   - [PeerClient] runs over a WebRTC data channel, either signaled
//     through an HTTP relay or negotiated by pasting tokens, and
//     publishes a coarse connection [Status].
//
// [Login] exchanges a password for the editor's auth token and caches
// the token, sealed, in the preferences store.
package viewer
