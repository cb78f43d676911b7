// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package drive

import (
	"fmt"
	"strings"
)

// SentinelName is the entry that keeps an empty folder visible.
const SentinelName = ".gitkeep"

// folderKey normalizes a folder path to "/a/b/": one leading slash,
// one trailing slash, no empty or dot segments.
func folderKey(folder string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(folder), "/")
	if trimmed == "" {
		return "", fmt.Errorf("%w: folder path %q is empty", ErrInvalidPath, folder)
	}
	for segment := range strings.SplitSeq(trimmed, "/") {
		if err := checkSegment(segment); err != nil {
			return "", fmt.Errorf("%w: folder path %q: %v", ErrInvalidPath, folder, err)
		}
	}
	return "/" + trimmed + "/", nil
}

// fileKey joins a folder and a file name into "/folder/name".
func fileKey(folder, name string) (string, error) {
	prefix, err := folderKey(folder)
	if err != nil {
		return "", err
	}
	if err := checkSegment(name); err != nil {
		return "", fmt.Errorf("%w: file name %q: %v", ErrInvalidPath, name, err)
	}
	if strings.Contains(name, "/") {
		return "", fmt.Errorf("%w: file name %q contains a slash", ErrInvalidPath, name)
	}
	if name == SentinelName {
		return "", fmt.Errorf("%w: file name %q is reserved", ErrInvalidPath, name)
	}
	return prefix + name, nil
}

// entryKey normalizes a path naming a single entry to a leading slash.
func entryKey(path string) (string, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(path), "/")
	if trimmed == "" || strings.HasSuffix(trimmed, "/") {
		return "", fmt.Errorf("%w: %q does not name a file", ErrInvalidPath, path)
	}
	for segment := range strings.SplitSeq(trimmed, "/") {
		if err := checkSegment(segment); err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidPath, path, err)
		}
	}
	return "/" + trimmed, nil
}

func checkSegment(segment string) error {
	switch segment {
	case "":
		return fmt.Errorf("empty path segment")
	case ".", "..":
		return fmt.Errorf("%q segment", segment)
	}
	return nil
}

// isSentinel reports whether key is a folder sentinel.
func isSentinel(key string) bool {
	return key == "/"+SentinelName || strings.HasSuffix(key, "/"+SentinelName)
}
