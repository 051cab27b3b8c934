// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package viewui

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// logRecordMsg carries a log record into the status bar.
type logRecordMsg struct {
	Summary string
	Level   slog.Level
	seq     uint64
}

// logRecordFadeMsg clears the log line if no newer record replaced it.
type logRecordFadeMsg struct{ seq uint64 }

const logRecordFadeDelay = 5 * time.Second

// LogHandler is a slog.Handler that shows records at or above its level
// in the viewer's status bar. Records are dropped until SetProgram is
// called. Handlers derived with WithAttrs or WithGroup share the
// program.
type LogHandler struct {
	level   slog.Leveler
	program *atomic.Pointer[tea.Program]
	seq     *atomic.Uint64
	next    slog.Handler
	attrs   []slog.Attr
	group   string
}

// NewLogHandler returns a handler for records at level and above. Every
// record, including those below level, is also passed to next when next
// is non-nil.
func NewLogHandler(level slog.Leveler, next slog.Handler) *LogHandler {
	return &LogHandler{
		level:   level,
		program: &atomic.Pointer[tea.Program]{},
		seq:     &atomic.Uint64{},
		next:    next,
	}
}

// SetProgram starts delivery to program. Safe from any goroutine.
func (h *LogHandler) SetProgram(program *tea.Program) {
	h.program.Store(program)
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= h.level.Level() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

func (h *LogHandler) Handle(ctx context.Context, record slog.Record) error {
	var err error
	if h.next != nil && h.next.Enabled(ctx, record.Level) {
		err = h.next.Handle(ctx, record)
	}
	if record.Level < h.level.Level() {
		return err
	}
	program := h.program.Load()
	if program == nil {
		return err
	}
	program.Send(logRecordMsg{Summary: h.summary(record), Level: record.Level, seq: h.seq.Add(1)})
	return err
}

// summary formats "message (key=value, ...)".
func (h *LogHandler) summary(record slog.Record) string {
	var parts []string
	add := func(attr slog.Attr) bool {
		key := attr.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		parts = append(parts, key+"="+attr.Value.String())
		return true
	}
	for _, attr := range h.attrs {
		add(attr)
	}
	record.Attrs(add)
	if len(parts) == 0 {
		return record.Message
	}
	return record.Message + " (" + strings.Join(parts, ", ") + ")"
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := *h
	derived.attrs = append(slices.Clone(h.attrs), attrs...)
	if h.next != nil {
		derived.next = h.next.WithAttrs(attrs)
	}
	return &derived
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	derived := *h
	derived.attrs = slices.Clone(h.attrs)
	if h.group == "" {
		derived.group = name
	} else {
		derived.group = h.group + "." + name
	}
	if h.next != nil {
		derived.next = h.next.WithGroup(name)
	}
	return &derived
}
