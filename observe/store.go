// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/pairview/lib/clock"
)

// DefaultToastLifetime is how long a non-sticky toast stays visible.
const DefaultToastLifetime = 4 * time.Second

// StoreConfig configures a Store.
type StoreConfig struct {
	Reducer Reducer

	// Clock expires toasts. Defaults to clock.Real().
	Clock clock.Clock

	// ToastLifetime defaults to DefaultToastLifetime.
	ToastLifetime time.Duration

	Logger *slog.Logger
}

// Store holds the current State of a running viewer. It is safe for
// concurrent use.
type Store struct {
	reducer  Reducer
	clock    clock.Clock
	lifetime time.Duration

	// dispatchMutex orders dispatches and their notifications.
	dispatchMutex sync.Mutex

	mutex       sync.Mutex
	state       State
	subscribers map[int]func(State)
	nextSubID   int
}

// NewStore returns a Store holding initial.
func NewStore(initial State, config StoreConfig) *Store {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.ToastLifetime <= 0 {
		config.ToastLifetime = DefaultToastLifetime
	}
	if config.Reducer.Logger == nil {
		config.Reducer.Logger = config.Logger
	}
	return &Store{
		reducer:     config.Reducer,
		clock:       config.Clock,
		lifetime:    config.ToastLifetime,
		state:       initial,
		subscribers: make(map[int]func(State)),
	}
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

// Dispatch applies action and notifies subscribers with the result,
// which it also returns. Subscribers run on the dispatching goroutine
// and must not dispatch.
func (s *Store) Dispatch(action Action) State {
	_, next := s.apply(action)
	return next
}

func (s *Store) apply(action Action) (previous, next State) {
	s.dispatchMutex.Lock()
	defer s.dispatchMutex.Unlock()

	s.mutex.Lock()
	previous = s.state
	next = s.reducer.Reduce(previous, action)
	s.state = next
	subscribers := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subscribers = append(subscribers, fn)
	}
	s.mutex.Unlock()

	for _, fn := range subscribers {
		fn(next)
	}
	return previous, next
}

// Subscribe registers fn for every future snapshot and returns a
// function that removes it.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mutex.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mutex.Unlock()

	return func() {
		s.mutex.Lock()
		delete(s.subscribers, id)
		s.mutex.Unlock()
	}
}

// Toast posts a notice that dismisses itself after the toast lifetime
// and returns its id.
func (s *Store) Toast(text string, severity Severity) int {
	id := s.post(ShowToast{Text: text, Severity: severity})
	s.clock.AfterFunc(s.lifetime, func() { s.Dismiss(id) })
	return id
}

// StickyToast posts a notice that stays until dismissed.
func (s *Store) StickyToast(text string, severity Severity) int {
	return s.post(ShowToast{Text: text, Severity: severity})
}

// CountdownToast posts a sticky notice that renders format with the
// seconds left until until, then text.
func (s *Store) CountdownToast(format, text string, severity Severity, until time.Time) int {
	return s.post(ShowToast{Text: text, Severity: severity, Countdown: until, CountdownFormat: format})
}

// Dismiss removes a notice. Dismissing twice is harmless.
func (s *Store) Dismiss(id int) {
	s.Dispatch(RemoveToast{ID: id})
}

func (s *Store) post(toast ShowToast) int {
	previous, _ := s.apply(toast)
	return previous.NextAlertID
}
