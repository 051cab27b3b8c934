// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import "slices"

// ApplyChanges returns lines with changes applied in order. lines is
// not modified. Ranges are clamped to the text, so a change past the
// end appends.
func ApplyChanges(lines []string, changes []TextChange) []string {
	result := slices.Clone(lines)
	if result == nil {
		result = []string{}
	}
	for _, change := range changes {
		start := min(max(change.StartLine, 0), len(result))
		deleteCount := min(max(change.EndLine-change.StartLine+1, 0), len(result)-start)
		result = slices.Replace(result, start, start+deleteCount, change.Text...)
	}
	return result
}
