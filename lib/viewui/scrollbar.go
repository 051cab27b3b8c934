// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package viewui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// scrollbar describes one frame of the body's right-hand column.
type scrollbar struct {
	height  int
	total   int
	visible int
	offset  int
	// cursor is the editor's cursor line in the shown file, or -1.
	cursor int
}

// render returns height rows, one cell wide. The thumb covers the
// visible window in proportion to total. When the editor's cursor is
// in the shown file its row carries a marker, so a reader who turned
// follow off can see where the editor is.
func (bar scrollbar) render(theme Theme) string {
	if bar.height <= 0 {
		return ""
	}
	track := lipgloss.NewStyle().Foreground(theme.CursorLine).Render("│")
	thumb := lipgloss.NewStyle().Foreground(theme.FaintText).Render("┃")
	marker := lipgloss.NewStyle().Foreground(theme.TabCursor).Render("◆")

	thumbStart, thumbSize := 0, bar.height
	if bar.total > bar.visible && bar.total > 0 {
		thumbSize = max(bar.height*bar.visible/bar.total, 1)
		if scrollable, trackRange := bar.total-bar.visible, bar.height-thumbSize; trackRange > 0 {
			thumbStart = min(bar.offset*trackRange/scrollable, trackRange)
		}
	}
	markerRow := -1
	if bar.cursor >= 0 && bar.total > 0 {
		markerRow = min(bar.cursor*bar.height/bar.total, bar.height-1)
	}

	rows := make([]string, bar.height)
	for row := range rows {
		switch {
		case row == markerRow:
			rows[row] = marker
		case row >= thumbStart && row < thumbStart+thumbSize:
			rows[row] = thumb
		default:
			rows[row] = track
		}
	}
	return strings.Join(rows, "\n")
}
