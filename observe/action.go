// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import "time"

// Action is a state transition. The set is closed: only the types in
// this file implement it.
type Action interface {
	isAction()
}

// Initialize replaces the session with the editor's full file list and
// cursor.
type Initialize struct {
	View  *View
	Files []File
}

// OpenFile records a file the editor opened. Its text is not known
// yet.
type OpenFile struct {
	ID       FileID
	Filename string
	Language string
}

// CloseFile forgets a file the editor closed.
type CloseFile struct {
	FileID FileID
}

// SetText replaces a file's text.
type SetText struct {
	FileID FileID
	Lines  []string
}

// UpdateText applies line-range changes to a file's text, in order.
type UpdateText struct {
	FileID  FileID
	Changes []TextChange
}

// UpdateView records the editor's cursor.
type UpdateView struct {
	View View
}

// ToggleFollow turns follow mode on or off.
type ToggleFollow struct{}

// SelectFile makes a file active by user choice and leaves follow
// mode.
type SelectFile struct {
	FileID FileID
}

// SetColorScheme changes the color scheme.
type SetColorScheme struct {
	Scheme string
}

// ShowToast posts a notice. Its id is the state's NextAlertID.
type ShowToast struct {
	Text            string
	Severity        Severity
	Countdown       time.Time
	CountdownFormat string
}

// RemoveToast dismisses a notice. Unknown ids are ignored.
type RemoveToast struct {
	ID int
}

func (Initialize) isAction()     {}
func (OpenFile) isAction()       {}
func (CloseFile) isAction()      {}
func (SetText) isAction()        {}
func (UpdateText) isAction()     {}
func (UpdateView) isAction()     {}
func (ToggleFollow) isAction()   {}
func (SelectFile) isAction()     {}
func (SetColorScheme) isAction() {}
func (ShowToast) isAction()      {}
func (RemoveToast) isAction()    {}
