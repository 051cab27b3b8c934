// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package viewui

import (
	"cmp"
	"slices"
	"strings"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"

	"github.com/bureau-foundation/pairview/observe"
)

// FuzzyResult is one fzf match. Score is zero when the pattern does
// not match.
type FuzzyResult struct {
	Score     int
	Positions []int
}

// FuzzyMatch scores text against pattern, case-insensitively, with
// fzf's V2 algorithm. A nil slab allocates.
func FuzzyMatch(text string, pattern []rune, slab *util.Slab) FuzzyResult {
	if len(pattern) == 0 {
		return FuzzyResult{}
	}
	lowered := []rune(strings.ToLower(string(pattern)))
	chars := util.ToChars([]byte(text))
	result, positions := algo.FuzzyMatchV2(false, true, true, &chars, lowered, true, slab)
	if result.Start < 0 || result.Score <= 0 {
		return FuzzyResult{}
	}
	match := FuzzyResult{Score: result.Score}
	if positions != nil {
		match.Positions = slices.Clone(*positions)
		slices.Sort(match.Positions)
	}
	return match
}

// RankFiles returns the files matching query, best first. Ties keep
// the editor's open order. An empty query returns every file in open
// order.
func RankFiles(files []observe.File, query string) []observe.File {
	if query == "" {
		return files
	}
	pattern := []rune(query)
	slab := util.MakeSlab(100*1024, 2048)
	type ranked struct {
		file  observe.File
		score int
	}
	var matches []ranked
	for _, file := range files {
		if result := FuzzyMatch(file.Filename, pattern, slab); result.Score > 0 {
			matches = append(matches, ranked{file, result.Score})
		}
	}
	slices.SortStableFunc(matches, func(a, b ranked) int { return cmp.Compare(b.score, a.score) })
	out := make([]observe.File, len(matches))
	for i, match := range matches {
		out[i] = match.file
	}
	return out
}
