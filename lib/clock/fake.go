// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock for tests. It is safe for
// concurrent use. Do not call Advance from inside an AfterFunc
// callback.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*entry
	changed *sync.Cond
}

// entry is one registered timer or After channel.
type entry struct {
	due      time.Time
	fn       func() // AfterFunc only
	ch       chan time.Time
	canceled bool
	done     bool
}

func (e *entry) active() bool { return !e.canceled && !e.done }

// Fake returns a FakeClock reading start.
func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.changed = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.addLocked(&entry{due: c.now.Add(d), ch: ch})
	return ch
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}
	c.mu.Lock()
	e := &entry{due: c.now.Add(d), fn: f}
	c.addLocked(e)
	c.mu.Unlock()

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := e.active()
			e.canceled = true
			return wasActive
		},
	}
}

func (c *FakeClock) addLocked(e *entry) {
	c.pending = append(c.pending, e)
	c.changed.Broadcast()
}

// Advance moves time forward by d and fires everything that comes due,
// earliest first.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		e := c.popDue(target)
		if e == nil {
			return
		}
		if e.fn != nil {
			e.fn()
			continue
		}
		select {
		case e.ch <- target:
		default:
		}
	}
}

// popDue removes and returns the earliest active entry due at or
// before target.
func (c *FakeClock) popDue(target time.Time) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = slices.DeleteFunc(c.pending, func(e *entry) bool { return !e.active() })
	best := -1
	for i, e := range c.pending {
		if e.due.After(target) {
			continue
		}
		if best < 0 || e.due.Before(c.pending[best].due) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	e := c.pending[best]
	e.done = true
	c.pending = slices.Delete(c.pending, best, best+1)
	return e
}

// WaitForTimers blocks until at least n entries are pending. Call it
// before Advance when the timer is registered by another goroutine.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.countLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of active entries.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countLocked()
}

func (c *FakeClock) countLocked() int {
	n := 0
	for _, e := range c.pending {
		if e.active() {
			n++
		}
	}
	return n
}
