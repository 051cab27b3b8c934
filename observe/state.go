// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"time"
)

// FileID identifies a file within one editor session.
type FileID int

// NoFile is the ActiveFileID of a state with no active file.
const NoFile FileID = -1

// File is one file open in the editor. Lines is nil until its text has
// been fetched or pushed.
type File struct {
	ID       FileID   `json:"id"`
	Filename string   `json:"filename"`
	Language string   `json:"language"`
	Lines    []string `json:"lines,omitempty"`
}

// Loaded reports whether the file's text is known.
func (f File) Loaded() bool { return f.Lines != nil }

// Position is a zero-based line and character offset.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a selection in the editor.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// View is the editor's cursor: the file it is in, its position, and
// the selection if there is one.
type View struct {
	FileID    FileID `json:"file_id"`
	Line      int    `json:"line"`
	Character int    `json:"character"`
	Range     *Range `json:"range,omitempty"`
}

// TextChange replaces lines StartLine through EndLine, inclusive, with
// Text. EndLine < StartLine inserts before StartLine; an empty Text
// deletes.
type TextChange struct {
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	Text      []string `json:"text"`
}

// Severity grades a toast.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Toast is a transient notice shown to the user.
type Toast struct {
	ID       int      `json:"id"`
	Text     string   `json:"text"`
	Severity Severity `json:"severity"`

	// Countdown, when set, is a moment the notice counts down to.
	// Until then it renders as CountdownFormat applied to the whole
	// seconds remaining; afterwards as Text.
	Countdown       time.Time `json:"countdown,omitzero"`
	CountdownFormat string    `json:"countdown_format,omitempty"`
}

// Render returns the text to display at now.
func (t Toast) Render(now time.Time) string {
	if t.Countdown.IsZero() || t.CountdownFormat == "" {
		return t.Text
	}
	seconds := int(t.Countdown.Sub(now) / time.Second)
	if seconds <= 0 {
		return t.Text
	}
	return fmt.Sprintf(t.CountdownFormat, seconds)
}

// State is one snapshot of the session. A State and everything it
// references are never modified once published; reducers copy what
// they change.
type State struct {
	// ActiveFileID is the file being displayed, or NoFile. When set it
	// keys an entry in Files.
	ActiveFileID FileID `json:"active_file_id"`

	// Follow keeps the active file on the editor's cursor.
	Follow bool `json:"follow"`

	Files map[FileID]File `json:"files"`

	// View is the last cursor reported by the editor, nil before the
	// first.
	View *View `json:"view,omitempty"`

	// Alerts are the visible toasts, oldest first.
	Alerts []Toast `json:"alerts"`

	ColorScheme string `json:"color_scheme"`

	// NextAlertID is the id the next toast receives.
	NextAlertID int `json:"next_alert_id"`
}

// NewState returns the state of a viewer that has not yet heard from
// the editor: no files, follow mode on.
func NewState(colorScheme string) State {
	return State{
		ActiveFileID: NoFile,
		Follow:       true,
		Files:        map[FileID]File{},
		ColorScheme:  colorScheme,
	}
}

// ActiveFile returns the active file, if any.
func (s State) ActiveFile() (File, bool) {
	if s.ActiveFileID == NoFile {
		return File{}, false
	}
	file, ok := s.Files[s.ActiveFileID]
	return file, ok
}

// SortedFiles returns the open files ordered by id, which is the order
// the editor opened them in.
func (s State) SortedFiles() []File {
	files := slices.Collect(maps.Values(s.Files))
	slices.SortFunc(files, func(a, b File) int { return cmp.Compare(a.ID, b.ID) })
	return files
}
