// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for every timer in pairview: RPC
// request deadlines, drain scheduling, reconnect backoff, the reconnect
// countdown, and toast auto-dismissal.
//
// Production code holds a [Clock] (usually [Real]). Tests hold a
// [FakeClock] whose time moves only on [FakeClock.Advance]:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	socket := transport.NewSocket(transport.SocketConfig{Clock: fake, ...})
//	fake.WaitForTimers(1)      // the reconnect timer is armed
//	fake.Advance(time.Second)  // fire it
//
// AfterFunc callbacks registered on a FakeClock run synchronously inside
// Advance, in deadline order. A callback that schedules another timer
// whose deadline is already due runs in the same Advance call.
package clock
