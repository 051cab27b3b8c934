// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package viewui

import (
	"slices"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Default schemes for dark and light terminals.
const (
	DarkScheme  = "tokyonight-night"
	LightScheme = "solarized-light"
)

// Schemes returns the names of every available color scheme, sorted.
func Schemes() []string {
	names := styles.Names()
	slices.Sort(names)
	return names
}

// KnownScheme reports whether name is an available scheme.
func KnownScheme(name string) bool {
	_, ok := styles.Registry[name]
	return ok
}

// DetectScheme picks DarkScheme or LightScheme from the terminal's
// background color.
func DetectScheme() string {
	if termenv.HasDarkBackground() {
		return DarkScheme
	}
	return LightScheme
}

// NextScheme returns the scheme after current in Schemes order,
// wrapping around.
func NextScheme(current string) string {
	names := Schemes()
	index := slices.Index(names, current)
	return names[(index+1)%len(names)]
}

// Theme is the chrome palette derived from a color scheme.
type Theme struct {
	Background lipgloss.Color
	Foreground lipgloss.Color
	FaintText  lipgloss.Color

	// CursorLine tints the editor's cursor line and selection.
	CursorLine lipgloss.Color

	TabActive   lipgloss.Color
	TabInactive lipgloss.Color
	// TabCursor marks the tab of the file the editor's cursor is in.
	TabCursor lipgloss.Color

	Info    lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
}

// fallbackTheme is used for anything a chroma style leaves unset.
var fallbackTheme = Theme{
	Background:  lipgloss.Color("235"),
	Foreground:  lipgloss.Color("252"),
	FaintText:   lipgloss.Color("245"),
	CursorLine:  lipgloss.Color("237"),
	TabActive:   lipgloss.Color("255"),
	TabInactive: lipgloss.Color("243"),
	TabCursor:   lipgloss.Color("75"),
	Info:        lipgloss.Color("75"),
	Success:     lipgloss.Color("114"),
	Warning:     lipgloss.Color("220"),
	Error:       lipgloss.Color("196"),
}

// ThemeFor builds the palette for scheme. Unknown schemes get the
// fallback palette.
func ThemeFor(scheme string) Theme {
	style, ok := styles.Registry[scheme]
	if !ok {
		return fallbackTheme
	}
	theme := fallbackTheme
	pick := func(target *lipgloss.Color, colour chroma.Colour) {
		if colour.IsSet() {
			*target = lipgloss.Color(colour.String())
		}
	}
	background := style.Get(chroma.Background)
	pick(&theme.Background, background.Background)
	pick(&theme.Foreground, background.Colour)
	pick(&theme.TabActive, background.Colour)
	pick(&theme.FaintText, style.Get(chroma.LineNumbers).Colour)
	pick(&theme.TabInactive, style.Get(chroma.Comment).Colour)
	pick(&theme.CursorLine, style.Get(chroma.LineHighlight).Background)
	pick(&theme.TabCursor, style.Get(chroma.Keyword).Colour)
	pick(&theme.Info, style.Get(chroma.NameFunction).Colour)
	pick(&theme.Success, style.Get(chroma.LiteralString).Colour)
	pick(&theme.Warning, style.Get(chroma.LiteralNumber).Colour)
	pick(&theme.Error, style.Get(chroma.GenericDeleted).Colour)
	return theme
}
