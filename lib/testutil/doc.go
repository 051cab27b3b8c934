// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the channel-wait helpers shared by pairview
// tests. They are the only place tests wait on wall-clock time; every
// other timer in a test runs on a clock.FakeClock.
package testutil
