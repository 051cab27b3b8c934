// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"maps"
	"slices"
	"sync"
)

// listenerSet holds callbacks in registration order. Removal funcs are
// idempotent.
type listenerSet[F any] struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]F
}

func (l *listenerSet[F]) add(fn F) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[uint64]F)
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

// snapshot returns the current callbacks so they can be invoked
// without holding the lock.
func (l *listenerSet[F]) snapshot() []F {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := slices.Sorted(maps.Keys(l.fns))
	fns := make([]F, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, l.fns[id])
	}
	return fns
}
