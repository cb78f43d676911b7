// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/vault/lib/kvstore"
)

var (
	// ErrNotReady is returned by every operation before Attach.
	ErrNotReady = errors.New("drive: store not ready")

	// ErrInvalidPath is returned for empty, root, or malformed paths
	// and file names.
	ErrInvalidPath = errors.New("drive: invalid path")
)

// defaultClearConcurrency bounds the parallel deletes of ClearAll.
const defaultClearConcurrency = 16

// Store is the key-value contract the drive needs. *kvstore.Store
// implements it.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Delete(ctx context.Context, key string) (existed bool, err error)
	List(ctx context.Context, prefix string) ([]kvstore.Item, error)
}

var _ Store = (*kvstore.Store)(nil)

// Entry is one stored key. Sentinel entries exist only to keep an
// empty folder visible.
type Entry struct {
	Key        string
	Value      []byte
	IsSentinel bool
	IsLink     bool
}

// Listing is the full state of the drive.
type Listing struct {
	Folders []string     `json:"folders"`
	Files   []FileRecord `json:"files"`
}

// ClearResult reports a ClearAll pass. Attempted counts the keys
// found; Remaining counts those still present afterwards.
type ClearResult struct {
	Attempted int
	Remaining int
}

// Config configures a Drive.
type Config struct {
	// Folders decides which folders each key makes visible. Nil
	// uses ParentFolders.
	Folders FolderIndex

	// ClearConcurrency bounds the parallel deletes in ClearAll.
	ClearConcurrency int

	Logger *slog.Logger
}

// Drive is the folder and file view of one store.
type Drive struct {
	folders          FolderIndex
	clearConcurrency int
	logger           *slog.Logger

	mu    sync.RWMutex
	store Store
}

// New creates a drive with no store. Operations fail with ErrNotReady
// until Attach.
func New(config Config) *Drive {
	drive := &Drive{
		folders:          config.Folders,
		clearConcurrency: config.ClearConcurrency,
		logger:           config.Logger,
	}
	if drive.folders == nil {
		drive.folders = ParentFolders
	}
	if drive.clearConcurrency <= 0 {
		drive.clearConcurrency = defaultClearConcurrency
	}
	if drive.logger == nil {
		drive.logger = slog.New(slog.DiscardHandler)
	}
	return drive
}

// Attach supplies the opened store.
func (d *Drive) Attach(store Store) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store = store
}

// Ready reports whether a store is attached.
func (d *Drive) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.store != nil
}

func (d *Drive) backing() (Store, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.store == nil {
		return nil, ErrNotReady
	}
	return d.store, nil
}

// CreateFolder writes the folder's sentinel and returns the normalized
// folder path with its trailing slash. Creating an existing folder
// succeeds without writing.
func (d *Drive) CreateFolder(ctx context.Context, folder string) (string, error) {
	store, err := d.backing()
	if err != nil {
		return "", err
	}
	prefix, err := folderKey(folder)
	if err != nil {
		return "", err
	}
	sentinel := prefix + SentinelName
	if _, found, err := store.Get(ctx, sentinel); err != nil {
		return "", fmt.Errorf("checking folder %s: %w", prefix, err)
	} else if found {
		return prefix, nil
	}
	if err := store.Put(ctx, sentinel, nil); err != nil {
		return "", fmt.Errorf("creating folder %s: %w", prefix, err)
	}
	d.logger.Debug("folder created", "folder", prefix)
	return prefix, nil
}

// DeleteFolder removes the folder's sentinel. Files inside the folder
// are left alone and keep it visible.
func (d *Drive) DeleteFolder(ctx context.Context, folder string) (string, error) {
	store, err := d.backing()
	if err != nil {
		return "", err
	}
	prefix, err := folderKey(folder)
	if err != nil {
		return "", err
	}
	existed, err := store.Delete(ctx, prefix+SentinelName)
	if err != nil {
		return "", fmt.Errorf("deleting folder %s: %w", prefix, err)
	}
	d.logger.Debug("folder sentinel removed", "folder", prefix, "existed", existed)
	return prefix, nil
}

// PutFile stores data at folder/name, replacing any previous content,
// and returns the file's key.
func (d *Drive) PutFile(ctx context.Context, folder, name string, data []byte) (string, error) {
	store, err := d.backing()
	if err != nil {
		return "", err
	}
	key, err := fileKey(folder, name)
	if err != nil {
		return "", err
	}
	if err := store.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("writing %s: %w", key, err)
	}
	d.logger.Debug("file stored", "key", key, "size", len(data))
	return key, nil
}

// GetFile returns the content stored at path.
func (d *Drive) GetFile(ctx context.Context, path string) (data []byte, found bool, err error) {
	store, err := d.backing()
	if err != nil {
		return nil, false, err
	}
	key, err := entryKey(path)
	if err != nil {
		return nil, false, err
	}
	data, found, err = store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, found, nil
}

// DeleteFile removes the entry at path.
func (d *Drive) DeleteFile(ctx context.Context, path string) (bool, error) {
	store, err := d.backing()
	if err != nil {
		return false, err
	}
	key, err := entryKey(path)
	if err != nil {
		return false, err
	}
	existed, err := store.Delete(ctx, key)
	if err != nil {
		return false, fmt.Errorf("deleting %s: %w", key, err)
	}
	return existed, nil
}

// Entries returns every stored entry under prefix in key order,
// sentinels included.
func (d *Drive) Entries(ctx context.Context, prefix string) ([]Entry, error) {
	store, err := d.backing()
	if err != nil {
		return nil, err
	}
	items, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, Entry{
			Key:        item.Key,
			Value:      item.Value,
			IsSentinel: isSentinel(item.Key),
			IsLink:     item.IsLink,
		})
	}
	return entries, nil
}

// ListAll returns every visible folder and every file. Folders come
// from each key's path under the folder index whether or not the
// folder has a sentinel. Sentinels and links are not files.
func (d *Drive) ListAll(ctx context.Context) (Listing, error) {
	entries, err := d.Entries(ctx, "/")
	if err != nil {
		return Listing{}, err
	}

	folderSet := make(map[string]struct{})
	listing := Listing{Folders: []string{}, Files: []FileRecord{}}
	for _, entry := range entries {
		for _, folder := range d.folders(entry.Key) {
			folderSet[folder] = struct{}{}
		}
		if entry.IsSentinel || entry.IsLink {
			continue
		}
		listing.Files = append(listing.Files, DecodeFile(entry.Key, entry.Value))
	}
	for folder := range folderSet {
		listing.Folders = append(listing.Folders, folder)
	}
	slices.Sort(listing.Folders)
	return listing, nil
}

// Folders returns the visible folders without decoding any file.
func (d *Drive) Folders(ctx context.Context) ([]string, error) {
	entries, err := d.Entries(ctx, "/")
	if err != nil {
		return nil, err
	}
	folderSet := make(map[string]struct{})
	for _, entry := range entries {
		for _, folder := range d.folders(entry.Key) {
			folderSet[folder] = struct{}{}
		}
	}
	folders := make([]string, 0, len(folderSet))
	for folder := range folderSet {
		folders = append(folders, folder)
	}
	slices.Sort(folders)
	return folders, nil
}

// ClearAll deletes every key in parallel, then lists again and reports
// how many keys it found and how many remain. Individual delete
// failures are logged, not returned; they show up in Remaining.
func (d *Drive) ClearAll(ctx context.Context) (ClearResult, error) {
	store, err := d.backing()
	if err != nil {
		return ClearResult{}, err
	}
	before, err := store.List(ctx, "/")
	if err != nil {
		return ClearResult{}, fmt.Errorf("listing before clear: %w", err)
	}

	slots := make(chan struct{}, d.clearConcurrency)
	var wg sync.WaitGroup
	for _, item := range before {
		wg.Add(1)
		slots <- struct{}{}
		go func(key string) {
			defer func() {
				<-slots
				wg.Done()
			}()
			if _, err := store.Delete(ctx, key); err != nil {
				d.logger.Warn("clear: delete failed", "key", key, "error", err)
			}
		}(item.Key)
	}
	wg.Wait()

	after, err := store.List(ctx, "/")
	if err != nil {
		return ClearResult{}, fmt.Errorf("listing after clear: %w", err)
	}
	result := ClearResult{Attempted: len(before), Remaining: len(after)}
	d.logger.Info("drive cleared", "attempted", result.Attempted, "remaining", result.Remaining)
	return result, nil
}
