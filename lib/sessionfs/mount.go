// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bureau-foundation/pairview/observe"
)

// Source is the session being mounted. *observe.Store implements it.
type Source interface {
	State() observe.State
}

// Options configures the mount.
type Options struct {
	// Mountpoint is created if it does not exist.
	Mountpoint string

	Source Source

	// Fetch, if set, loads a file's text the first time an unloaded
	// file is read. Without it unloaded files read as empty.
	Fetch func(ctx context.Context, filename string) ([]string, error)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Mount mounts the session at options.Mountpoint. The caller must
// Unmount the returned server.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	// Contents change under the kernel's feet; keep its caches short.
	entryTimeout := 100 * time.Millisecond
	attrTimeout := 100 * time.Millisecond
	negativeTimeout := 100 * time.Millisecond

	root := &dirNode{options: &options}
	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName: "pairview",
			Name:   "pairview",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting session at %s: %w", options.Mountpoint, err)
	}
	options.Logger.Info("session mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

// dirNode is a directory of the tree, identified by its path prefix.
type dirNode struct {
	gofuse.Inode
	options *Options
	prefix  string
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	found, ok := lookup(d.options.Source.State(), d.prefix, name)
	if !ok {
		return nil, syscall.ENOENT
	}
	switch {
	case found.dir:
		child := d.NewInode(ctx, &dirNode{options: d.options, prefix: d.prefix + name + "/"},
			gofuse.StableAttr{Mode: syscall.S_IFDIR})
		out.Mode = syscall.S_IFDIR | 0o555
		return child, 0
	case found.isDot:
		node := &fileNode{options: d.options, cursor: true}
		out.Mode = syscall.S_IFREG | 0o444
		out.Size = uint64(len(node.content(ctx)))
		return d.NewInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFREG}), 0
	default:
		node := &fileNode{options: d.options, id: found.file}
		out.Mode = syscall.S_IFREG | 0o444
		out.Size = uint64(len(node.loaded()))
		return d.NewInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFREG}), 0
	}
}

func (d *dirNode) Readdir(_ context.Context) (gofuse.DirStream, syscall.Errno) {
	var entries []fuse.DirEntry
	for _, child := range children(d.options.Source.State(), d.prefix) {
		mode := uint32(syscall.S_IFREG)
		if child.dir {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: child.name, Mode: mode})
	}
	return gofuse.NewListDirStream(entries), 0
}

// fileNode is an editor file, or the cursor file.
type fileNode struct {
	gofuse.Inode
	options *Options
	id      observe.FileID
	cursor  bool
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)

// loaded returns the file's text without fetching.
func (f *fileNode) loaded() []byte {
	state := f.options.Source.State()
	if f.cursor {
		return cursorContent(state)
	}
	return fileContent(state.Files[f.id].Lines)
}

// content returns the file's text, fetching it first if needed.
func (f *fileNode) content(ctx context.Context) []byte {
	if f.cursor {
		return cursorContent(f.options.Source.State())
	}
	file, ok := f.options.Source.State().Files[f.id]
	if !ok || file.Loaded() || f.options.Fetch == nil {
		return fileContent(file.Lines)
	}
	lines, err := f.options.Fetch(ctx, file.Filename)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			f.options.Logger.Warn("fetching file for read", "file", file.Filename, "error", err)
		}
		return nil
	}
	return fileContent(lines)
}

func (f *fileNode) Getattr(ctx context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if _, ok := f.options.Source.State().Files[f.id]; !ok && !f.cursor {
		return syscall.ENOENT
	}
	out.Mode = syscall.S_IFREG | 0o444
	out.Size = uint64(len(f.loaded()))
	return 0
}

func (f *fileNode) Open(_ context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	// Sizes change with every edit; bypass the page cache.
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (f *fileNode) Read(ctx context.Context, _ gofuse.FileHandle, dest []byte, offset int64) (fuse.ReadResult, syscall.Errno) {
	data := f.content(ctx)
	if offset >= int64(len(data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := min(offset+int64(len(dest)), int64(len(data)))
	return fuse.ReadResultData(data[offset:end]), 0
}
