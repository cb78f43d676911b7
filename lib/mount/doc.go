// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mount exposes a vault drive as a FUSE filesystem.
//
// Directories are the drive's folders and regular files are its
// files. Listings are computed from the drive's keys on every Readdir
// and Lookup, so files replicated from peers appear without remounting
// (after the kernel's entry timeout). Writes are buffered per open
// handle and stored with a single PutFile when the handle is flushed.
//
// The root directory holds folders only: files cannot be created at
// the root, matching the drive's rule that every file lives in a
// folder. Files already at the root (written by other consumers) are
// listed and readable.
package mount
