// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package viewui

import (
	"strings"

	"github.com/bureau-foundation/pairview/observe"
)

// TabLabels returns a short label per file: its base name, extended
// leftward one path component at a time until no two files share a
// label. Files with identical names keep their full names.
func TabLabels(files []observe.File) map[observe.FileID]string {
	parts := make(map[observe.FileID][]string, len(files))
	depth := make(map[observe.FileID]int, len(files))
	for _, file := range files {
		parts[file.ID] = strings.Split(strings.Trim(file.Filename, "/"), "/")
		depth[file.ID] = 1
	}

	label := func(id observe.FileID) string {
		components := parts[id]
		n := min(depth[id], len(components))
		return strings.Join(components[len(components)-n:], "/")
	}

	for {
		byLabel := make(map[string][]observe.FileID, len(files))
		for _, file := range files {
			byLabel[label(file.ID)] = append(byLabel[label(file.ID)], file.ID)
		}
		grew := false
		for _, ids := range byLabel {
			if len(ids) < 2 {
				continue
			}
			for _, id := range ids {
				if depth[id] < len(parts[id]) {
					depth[id]++
					grew = true
				}
			}
		}
		if !grew {
			break
		}
	}

	labels := make(map[observe.FileID]string, len(files))
	for _, file := range files {
		labels[file.ID] = label(file.ID)
	}
	return labels
}
