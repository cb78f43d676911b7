// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another engine holds the storage
// directory.
var ErrLocked = errors.New("engine: storage directory is in use by another engine")

// lockFileName sits in the persistent directory.
const lockFileName = ".lock"

// directoryLock is an exclusive flock held for the engine's lifetime.
type directoryLock struct {
	file *os.File
}

func lockDirectory(directory string) (*directoryLock, error) {
	path := filepath.Join(directory, lockFileName)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("engine: opening lock file: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, directory)
		}
		return nil, fmt.Errorf("engine: locking %s: %w", path, err)
	}
	return &directoryLock{file: file}, nil
}

func (l *directoryLock) release() error {
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	return l.file.Close()
}
