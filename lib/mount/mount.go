// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bureau-foundation/vault/lib/drive"
)

// Drive is the subset of *drive.Drive the filesystem uses.
type Drive interface {
	Entries(ctx context.Context, prefix string) ([]drive.Entry, error)
	GetFile(ctx context.Context, path string) (data []byte, found bool, err error)
	PutFile(ctx context.Context, folder, name string, data []byte) (string, error)
	DeleteFile(ctx context.Context, path string) (bool, error)
	CreateFolder(ctx context.Context, folder string) (string, error)
	DeleteFolder(ctx context.Context, folder string) (string, error)
}

var _ Drive = (*drive.Drive)(nil)

// Options configures a mount.
type Options struct {
	// Mountpoint is created if it does not exist.
	Mountpoint string

	Drive Drive

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	Logger *slog.Logger
}

// Mount mounts the drive at options.Mountpoint. The caller unmounts
// the returned server.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, errors.New("mount: mountpoint is required")
	}
	if options.Drive == nil {
		return nil, errors.New("mount: drive is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("mount: creating mountpoint %s: %w", options.Mountpoint, err)
	}

	// Short timeouts: peers change the drive underneath the kernel.
	entryTimeout := time.Second
	attrTimeout := time.Second
	negativeTimeout := 100 * time.Millisecond

	root := &dirNode{fs: &filesystem{drive: options.Drive, logger: options.Logger}}
	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "vault",
			Name:       "vault",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mount: mounting at %s: %w", options.Mountpoint, err)
	}
	options.Logger.Info("drive mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

type filesystem struct {
	drive  Drive
	logger *slog.Logger
}

// errno maps drive errors to the errno the kernel reports.
func (f *filesystem) errno(operation, path string, err error) syscall.Errno {
	switch {
	case errors.Is(err, drive.ErrInvalidPath):
		return syscall.EINVAL
	case errors.Is(err, drive.ErrNotReady):
		return syscall.EAGAIN
	}
	f.logger.Error("drive operation failed", "operation", operation, "path", path, "error", err)
	return syscall.EIO
}

// child is one name directly under a directory.
type child struct {
	name string
	dir  bool
	key  string
	size int
}

// listChildren returns the immediate children of dir ("" for the
// root, else "/a/b") among entries, sorted by name. Sentinels and
// links are not listed; a folder whose only entry is its sentinel is.
func listChildren(entries []drive.Entry, dir string) []child {
	prefix := dir + "/"
	seen := make(map[string]int)
	var children []child
	for _, entry := range entries {
		relative, ok := strings.CutPrefix(entry.Key, prefix)
		if !ok || relative == "" {
			continue
		}
		name, _, nested := strings.Cut(relative, "/")
		if name == "" {
			continue
		}
		if !nested && (entry.IsSentinel || entry.IsLink) {
			continue
		}
		if index, ok := seen[name]; ok {
			// A folder shadows a file of the same name.
			if nested {
				children[index] = child{name: name, dir: true}
			}
			continue
		}
		seen[name] = len(children)
		if nested {
			children = append(children, child{name: name, dir: true})
		} else {
			children = append(children, child{name: name, key: entry.Key, size: len(entry.Value)})
		}
	}
	slices.SortFunc(children, func(a, b child) int { return strings.Compare(a.name, b.name) })
	return children
}

func (f *filesystem) children(ctx context.Context, dir string) ([]child, syscall.Errno) {
	entries, err := f.drive.Entries(ctx, dir+"/")
	if err != nil {
		return nil, f.errno("list", dir, err)
	}
	return listChildren(entries, dir), 0
}

// dirNode is a folder. The root has an empty path.
type dirNode struct {
	gofuse.Inode
	fs   *filesystem
	path string
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeMkdirer = (*dirNode)(nil)
var _ gofuse.NodeRmdirer = (*dirNode)(nil)
var _ gofuse.NodeCreater = (*dirNode)(nil)
var _ gofuse.NodeUnlinker = (*dirNode)(nil)

func (d *dirNode) Getattr(_ context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0o755
	return 0
}

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	children, errno := d.fs.children(ctx, d.path)
	if errno != 0 {
		return nil, errno
	}
	index := slices.IndexFunc(children, func(c child) bool { return c.name == name })
	if index < 0 {
		return nil, syscall.ENOENT
	}
	found := children[index]
	if found.dir {
		out.Mode = syscall.S_IFDIR | 0o755
		return d.NewInode(ctx, &dirNode{fs: d.fs, path: d.path + "/" + name}, gofuse.StableAttr{Mode: syscall.S_IFDIR}), 0
	}
	out.Mode = syscall.S_IFREG | 0o644
	out.Size = uint64(found.size)
	return d.NewInode(ctx, &fileNode{fs: d.fs, key: found.key}, gofuse.StableAttr{Mode: syscall.S_IFREG}), 0
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	children, errno := d.fs.children(ctx, d.path)
	if errno != 0 {
		return nil, errno
	}
	entries := make([]fuse.DirEntry, 0, len(children))
	for _, c := range children {
		mode := uint32(syscall.S_IFREG)
		if c.dir {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: c.name, Mode: mode})
	}
	return gofuse.NewListDirStream(entries), 0
}

func (d *dirNode) Mkdir(ctx context.Context, name string, _ uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	path := d.path + "/" + name
	if _, err := d.fs.drive.CreateFolder(ctx, path); err != nil {
		return nil, d.fs.errno("mkdir", path, err)
	}
	out.Mode = syscall.S_IFDIR | 0o755
	return d.NewInode(ctx, &dirNode{fs: d.fs, path: path}, gofuse.StableAttr{Mode: syscall.S_IFDIR}), 0
}

// Rmdir removes an empty folder's sentinel.
func (d *dirNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	path := d.path + "/" + name
	children, errno := d.fs.children(ctx, path)
	if errno != 0 {
		return errno
	}
	if len(children) > 0 {
		return syscall.ENOTEMPTY
	}
	if _, err := d.fs.drive.DeleteFolder(ctx, path); err != nil {
		return d.fs.errno("rmdir", path, err)
	}
	return 0
}

func (d *dirNode) Create(ctx context.Context, name string, _ uint32, _ uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	if d.path == "" {
		return nil, nil, 0, syscall.EACCES
	}
	key := d.path + "/" + name
	handle := &writeHandle{fs: d.fs, key: key, dirty: true}
	node := &fileNode{fs: d.fs, key: key}
	out.Mode = syscall.S_IFREG | 0o644
	return d.NewInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFREG}), handle, 0, 0
}

func (d *dirNode) Unlink(ctx context.Context, name string) syscall.Errno {
	key := d.path + "/" + name
	existed, err := d.fs.drive.DeleteFile(ctx, key)
	if err != nil {
		return d.fs.errno("unlink", key, err)
	}
	if !existed {
		return syscall.ENOENT
	}
	return 0
}
