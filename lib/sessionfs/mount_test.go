// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionfs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/pairview/observe"
)

// fuseAvailable skips tests that need a real mount when /dev/fuse is
// absent.
func fuseAvailable(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

func testMount(t *testing.T, store *observe.Store, fetch func(context.Context, string) ([]string, error)) string {
	t.Helper()
	fuseAvailable(t)
	mountpoint := filepath.Join(t.TempDir(), "mount")
	server, err := Mount(Options{
		Mountpoint: mountpoint,
		Source:     store,
		Fetch:      fetch,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Unmount(); err != nil {
			t.Errorf("Unmount: %v", err)
		}
	})
	return mountpoint
}

func TestMountReadsSessionFiles(t *testing.T) {
	store := observe.NewStore(testState(), observe.StoreConfig{})
	var fetches atomic.Int32
	fetch := func(_ context.Context, filename string) ([]string, error) {
		fetches.Add(1)
		lines := []string{"package lib", "", "func Util() {}"}
		for _, file := range store.State().Files {
			if file.Filename == filename {
				store.Dispatch(observe.SetText{FileID: file.ID, Lines: lines})
			}
		}
		return lines, nil
	}
	mountpoint := testMount(t, store, fetch)

	entries, err := os.ReadDir(mountpoint)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	if !slices.Equal(got, []string{".cursor", "README.md", "home"}) {
		t.Errorf("root entries = %v", got)
	}

	data, err := os.ReadFile(filepath.Join(mountpoint, "home/dev/proj/main.go"))
	if err != nil {
		t.Fatalf("ReadFile(main.go): %v", err)
	}
	if string(data) != "package main\n" {
		t.Errorf("main.go = %q", data)
	}

	data, err = os.ReadFile(filepath.Join(mountpoint, "home/dev/proj/lib/util.go"))
	if err != nil {
		t.Fatalf("ReadFile(util.go): %v", err)
	}
	if string(data) != "package lib\n\nfunc Util() {}\n" {
		t.Errorf("util.go = %q", data)
	}
	if fetches.Load() != 1 {
		t.Errorf("fetches = %d, want 1", fetches.Load())
	}

	data, err = os.ReadFile(filepath.Join(mountpoint, CursorFileName))
	if err != nil {
		t.Fatalf("ReadFile(.cursor): %v", err)
	}
	if string(data) != "/home/dev/proj/lib/util.go:5:2\n" {
		t.Errorf(".cursor = %q", data)
	}
}

func TestMountFollowsEdits(t *testing.T) {
	store := observe.NewStore(testState(), observe.StoreConfig{})
	mountpoint := testMount(t, store, nil)
	readme := filepath.Join(mountpoint, "README.md")

	store.Dispatch(observe.UpdateText{FileID: 3, Changes: []observe.TextChange{
		{StartLine: 1, EndLine: 1, Text: []string{"updated"}},
	}})
	data, err := os.ReadFile(readme)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "# hi\nupdated\n" {
		t.Errorf("README.md after edit = %q", data)
	}

	if err := os.WriteFile(readme, []byte("x"), 0o644); err == nil {
		t.Error("write to read-only mount succeeded")
	}

	// The kernel may answer from its entry cache until it expires.
	store.Dispatch(observe.CloseFile{FileID: 3})
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := os.Stat(readme)
		if os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Stat after close = %v, want not exist", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
