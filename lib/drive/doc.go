// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package drive layers folders and files over a flat, ordered
// key-value store.
//
// Keys are absolute slash-separated paths. There are no folder
// records: a folder exists while at least one key lies beneath it.
// An otherwise-empty folder is kept visible by a zero-byte sentinel
// entry named [SentinelName] inside it. Deleting a folder removes only
// that sentinel, so a folder that still holds files keeps appearing in
// listings.
//
// Which folders a key makes visible is decided by a [FolderIndex].
// [ParentFolders] records only the immediate parent of each key;
// [AncestorFolders] records every ancestor.
//
// Reads decode file contents into a [FileRecord] whose type comes from
// the file extension. Images and PDFs are carried as base64. Anything
// else is text, except that a text body holding a JSON object with
// string "type" and "content" fields describes itself and is returned
// as that record.
//
// A Drive is created before its store is open. Until [Drive.Attach]
// supplies the store, every operation fails with [ErrNotReady].
package drive
