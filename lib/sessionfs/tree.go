// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionfs

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/bureau-foundation/pairview/observe"
)

// CursorFileName is the root file describing the editor's cursor.
const CursorFileName = ".cursor"

// entry is one name inside a directory of the tree.
type entry struct {
	name  string
	dir   bool
	file  observe.FileID
	isDot bool
}

// cleanName maps an editor file name to its path under the mount, or ""
// when the name cannot be represented.
func cleanName(filename string) string {
	cleaned := strings.TrimPrefix(path.Clean("/"+filename), "/")
	if cleaned == "" || cleaned == "." {
		return ""
	}
	return cleaned
}

// children lists the entries directly under prefix ("" for the root,
// else "dir/" with a trailing slash). When two editor files map to the
// same path the lower id wins.
func children(state observe.State, prefix string) []entry {
	seen := make(map[string]bool)
	var entries []entry
	if prefix == "" && state.View != nil {
		entries = append(entries, entry{name: CursorFileName, isDot: true})
		seen[CursorFileName] = true
	}
	for _, file := range state.SortedFiles() {
		name := cleanName(file.Filename)
		relative, ok := strings.CutPrefix(name, prefix)
		if !ok || relative == "" {
			continue
		}
		component, _, isDir := strings.Cut(relative, "/")
		if seen[component] {
			continue
		}
		seen[component] = true
		entries = append(entries, entry{name: component, dir: isDir, file: file.ID})
	}
	slices.SortFunc(entries, func(a, b entry) int { return strings.Compare(a.name, b.name) })
	return entries
}

// lookup finds name under prefix.
func lookup(state observe.State, prefix, name string) (entry, bool) {
	for _, candidate := range children(state, prefix) {
		if candidate.name == name {
			return candidate, true
		}
	}
	return entry{}, false
}

// fileContent renders lines as file bytes: one newline-terminated line
// each.
func fileContent(lines []string) []byte {
	if len(lines) == 0 {
		return nil
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

// cursorContent renders the editor's cursor, or nothing when it is
// unknown.
func cursorContent(state observe.State) []byte {
	if state.View == nil {
		return nil
	}
	file, ok := state.Files[state.View.FileID]
	if !ok {
		return nil
	}
	return fmt.Appendf(nil, "%s:%d:%d\n", file.Filename, state.View.Line+1, state.View.Character+1)
}
