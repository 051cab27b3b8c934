// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionfs mounts the files of a live editor session as a
// read-only FUSE filesystem, so ordinary tools (grep, less, diff) can
// read what the editor has open.
//
// The tree mirrors the editor's file names: "/src/main.go" appears as
// src/main.go under the mountpoint. Directories and files are computed
// from the session state on every lookup, so opening and closing files
// in the editor shows up immediately. A file whose text has not been
// fetched yet is fetched on first read.
//
// The root also holds a .cursor file containing the editor's cursor as
// "filename:line:column", one-based.
package sessionfs
