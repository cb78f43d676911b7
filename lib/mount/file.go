// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"context"
	"path"
	"sync"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// fileNode is one drive file, addressed by its key.
type fileNode struct {
	gofuse.Inode
	fs  *filesystem
	key string
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeSetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)

func (f *fileNode) Getattr(ctx context.Context, handle gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | 0o644
	if writer, ok := handle.(*writeHandle); ok {
		out.Size = uint64(writer.size())
		return 0
	}
	data, found, err := f.fs.drive.GetFile(ctx, f.key)
	if err != nil {
		return f.fs.errno("getattr", f.key, err)
	}
	if !found {
		// Created but not yet flushed.
		return 0
	}
	out.Size = uint64(len(data))
	return 0
}

// Setattr supports truncation through an open write handle; other
// attribute changes are accepted and ignored.
func (f *fileNode) Setattr(ctx context.Context, handle gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		writer, ok := handle.(*writeHandle)
		if !ok {
			return syscall.EBADF
		}
		writer.truncate(int(size))
	}
	return f.Getattr(ctx, handle, out)
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	data, found, err := f.fs.drive.GetFile(ctx, f.key)
	if err != nil {
		return nil, 0, f.fs.errno("open", f.key, err)
	}
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		handle := &writeHandle{fs: f.fs, key: f.key}
		if flags&syscall.O_TRUNC != 0 {
			handle.dirty = true
		} else if found {
			handle.buffer = data
		}
		return handle, fuse.FOPEN_DIRECT_IO, 0
	}
	if !found {
		return nil, 0, syscall.ENOENT
	}
	return &readHandle{data: data}, fuse.FOPEN_DIRECT_IO, 0
}

// readHandle serves reads from the contents at open time.
type readHandle struct {
	data []byte
}

var _ gofuse.FileReader = (*readHandle)(nil)

func (h *readHandle) Read(_ context.Context, dest []byte, offset int64) (fuse.ReadResult, syscall.Errno) {
	if offset >= int64(len(h.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := min(int64(len(h.data)), offset+int64(len(dest)))
	return fuse.ReadResultData(h.data[offset:end]), 0
}

// writeHandle buffers a file and stores it on Flush. Repeated flushes
// (dup'd descriptors) store only when something changed.
type writeHandle struct {
	fs  *filesystem
	key string

	mu     sync.Mutex
	buffer []byte
	dirty  bool
}

var _ gofuse.FileWriter = (*writeHandle)(nil)
var _ gofuse.FileReader = (*writeHandle)(nil)
var _ gofuse.FileFlusher = (*writeHandle)(nil)

func (h *writeHandle) Write(_ context.Context, data []byte, offset int64) (uint32, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	end := offset + int64(len(data))
	if end > int64(len(h.buffer)) {
		grown := make([]byte, end)
		copy(grown, h.buffer)
		h.buffer = grown
	}
	copy(h.buffer[offset:], data)
	h.dirty = true
	return uint32(len(data)), 0
}

func (h *writeHandle) Read(_ context.Context, dest []byte, offset int64) (fuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if offset >= int64(len(h.buffer)) {
		return fuse.ReadResultData(nil), 0
	}
	end := min(int64(len(h.buffer)), offset+int64(len(dest)))
	return fuse.ReadResultData(append([]byte(nil), h.buffer[offset:end]...)), 0
}

func (h *writeHandle) Flush(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty {
		return 0
	}
	folder, name := path.Split(h.key)
	if _, err := h.fs.drive.PutFile(ctx, folder, name, h.buffer); err != nil {
		return h.fs.errno("write", h.key, err)
	}
	h.dirty = false
	return 0
}

func (h *writeHandle) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.buffer)
}

func (h *writeHandle) truncate(size int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if size < len(h.buffer) {
		h.buffer = h.buffer[:size]
	} else if size > len(h.buffer) {
		h.buffer = append(h.buffer, make([]byte, size-len(h.buffer))...)
	}
	h.dirty = true
}
