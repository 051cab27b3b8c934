// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package observe holds the observer's view of a remote editing
// session: which files the editor has open, their text, the editor's
// cursor, and the local presentation settings.
//
// [State] is an immutable snapshot. [Reduce] applies one [Action] to a
// snapshot and returns the next one without modifying its input, so a
// snapshot handed to a renderer stays consistent while later actions
// are applied. Actions come from two directions: the editor (file
// opened, closed, replaced, patched; cursor moved) and the local user
// (select a file, toggle follow mode, change color scheme, dismiss a
// notice).
//
// In follow mode every cursor update from the editor switches the
// active file to the one the cursor is in. Selecting a file by hand
// leaves follow mode.
//
// [Store] owns the current snapshot for a running viewer. It
// serializes dispatches, notifies subscribers, and expires toasts on
// its clock.
package observe
