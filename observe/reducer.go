// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// SchemePersister stores the chosen color scheme.
type SchemePersister interface {
	SaveColorScheme(scheme string) error
}

// Reducer applies actions with the one side effect a transition may
// have: persisting the color scheme on SetColorScheme.
type Reducer struct {
	// Schemes, if set, receives every SetColorScheme.
	Schemes SchemePersister

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Reduce returns the state after action. state is not modified.
func (r Reducer) Reduce(state State, action Action) State {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if change, ok := action.(SetColorScheme); ok && r.Schemes != nil {
		if err := r.Schemes.SaveColorScheme(change.Scheme); err != nil {
			logger.Warn("saving color scheme", "scheme", change.Scheme, "error", err)
		}
	}
	return reduce(state, action, logger)
}

// Reduce applies action to state without side effects.
func Reduce(state State, action Action) State {
	return reduce(state, action, slog.Default())
}

func reduce(state State, action Action, logger *slog.Logger) State {
	switch action := action.(type) {
	case Initialize:
		return initialize(state, action)

	case OpenFile:
		files := maps.Clone(state.Files)
		if files == nil {
			files = map[FileID]File{}
		}
		files[action.ID] = File{ID: action.ID, Filename: action.Filename, Language: action.Language}
		state.Files = files
		if state.ActiveFileID == NoFile {
			state.ActiveFileID = action.ID
		}
		return state

	case CloseFile:
		if _, ok := state.Files[action.FileID]; !ok {
			return state
		}
		files := maps.Clone(state.Files)
		delete(files, action.FileID)
		state.Files = files
		if state.ActiveFileID == action.FileID {
			state.ActiveFileID = fallbackFile(state)
		}
		return state

	case SetText:
		return withFile(state, action.FileID, func(file File) (File, bool) {
			file.Lines = slices.Clone(action.Lines)
			if file.Lines == nil {
				file.Lines = []string{}
			}
			return file, true
		})

	case UpdateText:
		return withFile(state, action.FileID, func(file File) (File, bool) {
			if !file.Loaded() {
				// The fetch in flight already includes these changes.
				return file, false
			}
			file.Lines = ApplyChanges(file.Lines, action.Changes)
			return file, true
		})

	case UpdateView:
		view := action.View
		state.View = &view
		if state.Follow {
			if _, ok := state.Files[view.FileID]; ok {
				state.ActiveFileID = view.FileID
			}
		}
		return state

	case ToggleFollow:
		state.Follow = !state.Follow
		if state.Follow && state.View != nil {
			if _, ok := state.Files[state.View.FileID]; ok {
				state.ActiveFileID = state.View.FileID
			}
		}
		return state

	case SelectFile:
		state.Follow = false
		if _, ok := state.Files[action.FileID]; ok {
			state.ActiveFileID = action.FileID
		}
		return state

	case SetColorScheme:
		state.ColorScheme = action.Scheme
		return state

	case ShowToast:
		toast := Toast{
			ID:              state.NextAlertID,
			Text:            action.Text,
			Severity:        action.Severity,
			Countdown:       action.Countdown,
			CountdownFormat: action.CountdownFormat,
		}
		state.Alerts = append(slices.Clip(state.Alerts), toast)
		state.NextAlertID++
		return state

	case RemoveToast:
		index := slices.IndexFunc(state.Alerts, func(toast Toast) bool { return toast.ID == action.ID })
		if index < 0 {
			return state
		}
		state.Alerts = slices.Delete(slices.Clone(state.Alerts), index, index+1)
		return state

	default:
		logger.Error("unknown session action", "action", fmt.Sprintf("%T", action))
		return state
	}
}

func initialize(state State, action Initialize) State {
	files := make(map[FileID]File, len(action.Files))
	for _, file := range action.Files {
		file.Lines = slices.Clone(file.Lines)
		files[file.ID] = file
	}
	state.Files = files
	if action.View != nil {
		view := *action.View
		state.View = &view
	} else {
		state.View = nil
	}

	state.ActiveFileID = NoFile
	if state.View != nil {
		if _, ok := files[state.View.FileID]; ok {
			state.ActiveFileID = state.View.FileID
			return state
		}
	}
	if len(action.Files) > 0 {
		state.ActiveFileID = action.Files[0].ID
	}
	return state
}

// withFile replaces the file with the given id by update's result.
// Unknown ids and updates that report no change return state as is.
func withFile(state State, id FileID, update func(File) (File, bool)) State {
	file, ok := state.Files[id]
	if !ok {
		return state
	}
	updated, changed := update(file)
	if !changed {
		return state
	}
	files := maps.Clone(state.Files)
	files[id] = updated
	state.Files = files
	return state
}

// fallbackFile picks a new active file after the active one closed:
// the file under the editor's cursor, else the earliest opened, else
// none.
func fallbackFile(state State) FileID {
	if state.View != nil {
		if _, ok := state.Files[state.View.FileID]; ok {
			return state.View.FileID
		}
	}
	if len(state.Files) == 0 {
		return NoFile
	}
	return slices.Min(slices.Collect(maps.Keys(state.Files)))
}
