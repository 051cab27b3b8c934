// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"testing"
	"time"

	"github.com/bureau-foundation/pairview/lib/clock"
)

func TestStoreNotifiesSubscribers(t *testing.T) {
	store := NewStore(NewState(""), StoreConfig{Clock: clock.Fake(time.Unix(0, 0))})
	var seen []FileID
	unsubscribe := store.Subscribe(func(state State) { seen = append(seen, state.ActiveFileID) })
	store.Dispatch(OpenFile{ID: 4, Filename: "x"})
	unsubscribe()
	store.Dispatch(OpenFile{ID: 5, Filename: "y"})

	if len(seen) != 1 || seen[0] != 4 {
		t.Errorf("notifications = %v, want [4]", seen)
	}
	if got := len(store.State().Files); got != 2 {
		t.Errorf("files = %d, want 2", got)
	}
}

func TestStoreToastExpires(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	store := NewStore(NewState(""), StoreConfig{Clock: fake})

	first := store.Toast("saved", SeverityInfo)
	sticky := store.StickyToast("disconnected", SeverityWarning)
	if first == sticky {
		t.Fatalf("toasts share id %d", first)
	}
	fake.Advance(DefaultToastLifetime)

	alerts := store.State().Alerts
	if len(alerts) != 1 || alerts[0].ID != sticky {
		t.Fatalf("alerts after expiry = %+v, want only the sticky toast", alerts)
	}
	store.Dismiss(sticky)
	store.Dismiss(sticky)
	if n := len(store.State().Alerts); n != 0 {
		t.Errorf("alerts after dismiss = %d", n)
	}
}

func TestToastCountdownRender(t *testing.T) {
	now := time.Unix(100, 0)
	toast := Toast{
		Text:            "Reconnecting...",
		Countdown:       now.Add(2500 * time.Millisecond),
		CountdownFormat: "Lost connection. Reconnecting in %ds",
	}
	if got := toast.Render(now); got != "Lost connection. Reconnecting in 2s" {
		t.Errorf("Render = %q", got)
	}
	if got := toast.Render(now.Add(2 * time.Second)); got != "Reconnecting..." {
		t.Errorf("Render under a second left = %q", got)
	}
	if got := (Toast{Text: "plain"}).Render(now); got != "plain" {
		t.Errorf("Render = %q", got)
	}
}
