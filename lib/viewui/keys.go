// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package viewui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the viewer's key bindings.
type KeyMap struct {
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Home     key.Binding
	End      key.Binding

	NextFile     key.Binding
	PreviousFile key.Binding
	Picker       key.Binding // Open the fuzzy file picker.

	Follow  key.Binding
	Scheme  key.Binding // Cycle color schemes.
	Preview key.Binding // Toggle rendered markdown.
	Dismiss key.Binding // Dismiss the newest notice, or close the picker.

	Quit key.Binding
}

// DefaultKeyMap uses vim-style movement alongside arrows.
var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("ctrl+u", "pgup"),
		key.WithHelp("C-u", "page up"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("ctrl+d", "pgdown"),
		key.WithHelp("C-d", "page down"),
	),
	Home: key.NewBinding(
		key.WithKeys("g", "home"),
		key.WithHelp("g", "top"),
	),
	End: key.NewBinding(
		key.WithKeys("G", "end"),
		key.WithHelp("G", "bottom"),
	),
	NextFile: key.NewBinding(
		key.WithKeys("tab", "l"),
		key.WithHelp("tab", "next file"),
	),
	PreviousFile: key.NewBinding(
		key.WithKeys("shift+tab", "h"),
		key.WithHelp("S-tab", "prev file"),
	),
	Picker: key.NewBinding(
		key.WithKeys("/", "ctrl+p"),
		key.WithHelp("/", "find file"),
	),
	Follow: key.NewBinding(
		key.WithKeys("f"),
		key.WithHelp("f", "follow"),
	),
	Scheme: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "colors"),
	),
	Preview: key.NewBinding(
		key.WithKeys("p"),
		key.WithHelp("p", "preview"),
	),
	Dismiss: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "dismiss"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
