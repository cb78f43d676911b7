// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// KeyFileName is the drive key file inside the persistent directory.
const KeyFileName = "drive-key.txt"

// LoadKeyFile reads a saved drive key. A missing file returns
// found=false with no error; an unreadable or malformed file is an
// error.
func LoadKeyFile(path string) (key DriveKey, found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DriveKey{}, false, nil
	}
	if err != nil {
		return DriveKey{}, false, fmt.Errorf("identity: reading %s: %w", path, err)
	}
	key, err = ParseDriveKey(string(data))
	if err != nil {
		return DriveKey{}, false, fmt.Errorf("identity: %s: %w", path, err)
	}
	return key, true, nil
}

// SaveKeyFile writes key as hex text. The write goes to a temporary
// file renamed into place, so a crash leaves either the old key or the
// new one.
func SaveKeyFile(path string, key DriveKey) error {
	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("identity: creating %s: %w", directory, err)
	}
	temporary, err := os.CreateTemp(directory, ".drive-key-*")
	if err != nil {
		return fmt.Errorf("identity: creating temporary key file: %w", err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	if _, err := temporary.WriteString(key.String()); err != nil {
		temporary.Close()
		return fmt.Errorf("identity: writing key file: %w", err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		return fmt.Errorf("identity: syncing key file: %w", err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("identity: closing key file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		return fmt.Errorf("identity: installing key file: %w", err)
	}
	return nil
}
