// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package viewui is the terminal front end of pairview: a bubbletea
// program that renders session snapshots from an observe.Store and
// turns key presses into store actions.
//
// The screen is a row of file tabs, the active file's text with syntax
// highlighting and the editor's cursor line marked, and a status bar
// carrying the connection status, follow mode, toasts, and recent
// warnings routed from slog through [LogHandler]. A fuzzy file picker
// (fzf's matcher) opens on "/".
//
// Color schemes are chroma styles. The scheme drives both the syntax
// colors and the chrome around them.
package viewui
