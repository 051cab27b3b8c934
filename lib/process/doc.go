// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers for the pairview binary:
// reporting a fatal error before the logger exists, and exiting after
// an unrecoverable error in main.
package process
