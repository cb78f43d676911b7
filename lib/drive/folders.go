// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package drive

import (
	"fmt"
	"strings"
)

// FolderIndex returns the folders that key makes visible, without
// trailing slashes. Keys at the root contribute none.
type FolderIndex func(key string) []string

// ParentFolders makes the immediate parent of each key visible. A
// folder nested in an otherwise empty folder does not surface the
// outer one.
func ParentFolders(key string) []string {
	index := strings.LastIndexByte(key, '/')
	if index <= 0 {
		return nil
	}
	return []string{key[:index]}
}

// AncestorFolders makes every ancestor of each key visible.
func AncestorFolders(key string) []string {
	var folders []string
	for index := 1; index < len(key); index++ {
		if key[index] == '/' {
			folders = append(folders, key[:index])
		}
	}
	return folders
}

// ParseFolderIndex maps a configuration name to a strategy: "parent"
// (or empty) or "ancestors".
func ParseFolderIndex(name string) (FolderIndex, error) {
	switch name {
	case "", "parent":
		return ParentFolders, nil
	case "ancestors":
		return AncestorFolders, nil
	default:
		return nil, fmt.Errorf("drive: unknown folder index %q (want parent or ancestors)", name)
	}
}
