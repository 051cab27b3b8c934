// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package viewui

import (
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/bureau-foundation/pairview/observe"
)

// Highlighter renders file text as ANSI-colored lines. It remembers
// the last result per file; since snapshots never mutate a file's
// lines, an identical slice means identical text.
type Highlighter struct {
	mu    sync.Mutex
	cache map[observe.FileID]highlighted
}

type highlighted struct {
	source []string
	scheme string
	lines  []string
}

// NewHighlighter returns an empty Highlighter.
func NewHighlighter() *Highlighter {
	return &Highlighter{cache: make(map[observe.FileID]highlighted)}
}

func sameSlice(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

// Lines returns file's text highlighted with scheme, one entry per
// source line. Files whose language is unknown come back uncolored.
func (h *Highlighter) Lines(file observe.File, scheme string) []string {
	h.mu.Lock()
	entry, ok := h.cache[file.ID]
	h.mu.Unlock()
	if ok && entry.scheme == scheme && sameSlice(entry.source, file.Lines) {
		return entry.lines
	}

	lines := Highlight(file.Filename, file.Language, file.Lines, scheme)
	h.mu.Lock()
	h.cache[file.ID] = highlighted{source: file.Lines, scheme: scheme, lines: lines}
	h.mu.Unlock()
	return lines
}

// Forget drops cached results for files not in keep.
func (h *Highlighter) Forget(keep map[observe.FileID]observe.File) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.cache {
		if _, ok := keep[id]; !ok {
			delete(h.cache, id)
		}
	}
}

func lexerFor(filename, language string) chroma.Lexer {
	if language != "" {
		if lexer := lexers.Get(language); lexer != nil {
			return lexer
		}
	}
	if lexer := lexers.Match(filename); lexer != nil {
		return lexer
	}
	return nil
}

// Highlight colors lines as the language named by language, or failing
// that as guessed from filename.
func Highlight(filename, language string, lines []string, scheme string) []string {
	lexer := lexerFor(filename, language)
	if lexer == nil || len(lines) == 0 {
		return lines
	}
	iterator, err := chroma.Coalesce(lexer).Tokenise(nil, strings.Join(lines, "\n"))
	if err != nil {
		return lines
	}
	style := styles.Get(scheme)
	formatter := formatters.TTY256

	out := make([]string, 0, len(lines))
	var buffer strings.Builder
	for _, tokens := range chroma.SplitTokensIntoLines(iterator.Tokens()) {
		for i := range tokens {
			tokens[i].Value = strings.TrimSuffix(tokens[i].Value, "\n")
		}
		buffer.Reset()
		if err := formatter.Format(&buffer, style, chroma.Literator(tokens...)); err != nil {
			return lines
		}
		out = append(out, buffer.String())
	}
	// The lexer may drop a trailing empty line or add one.
	for len(out) < len(lines) {
		out = append(out, lines[len(out)])
	}
	return out[:len(lines)]
}
