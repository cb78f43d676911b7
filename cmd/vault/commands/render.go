// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"encoding/base64"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/vault/lib/drive"
	"github.com/bureau-foundation/vault/lib/rpc"
)

var (
	folderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	typeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// fileSize is the stored size of a record's file.
func fileSize(record drive.FileRecord) int {
	if raw, ok := record.Fields["content"]; ok {
		return len(raw)
	}
	if record.IsBinary {
		return base64.StdEncoding.DecodedLen(len(record.Content)) - strings.Count(record.Content, "=")
	}
	return len(record.Content)
}

// contents returns the file's bytes from its record. A self-described
// record whose content is not a string yields the content's JSON.
func contents(record drive.FileRecord) ([]byte, error) {
	if raw, ok := record.Fields["content"]; ok {
		return raw, nil
	}
	if record.IsBinary {
		return base64.StdEncoding.DecodeString(record.Content)
	}
	return []byte(record.Content), nil
}

// renderListing writes folders then files grouped under their folder.
// A non-empty folder filter limits output to that folder.
func renderListing(w io.Writer, all rpc.AllData, folder string) {
	folder = strings.TrimSuffix(folder, "/")
	if folder != "" && !strings.HasPrefix(folder, "/") {
		folder = "/" + folder
	}

	files := slices.Clone(all.Files)
	slices.SortFunc(files, func(a, b drive.FileRecord) int { return strings.Compare(a.Filename, b.Filename) })

	groups := make(map[string][]drive.FileRecord)
	for _, file := range files {
		parent := path.Dir(file.Filename)
		groups[parent] = append(groups[parent], file)
	}

	folders := slices.Clone(all.Folders)
	if len(groups["/"]) > 0 {
		folders = append(folders, "/")
	}
	slices.Sort(folders)
	folders = slices.Compact(folders)

	width := 0
	for _, file := range files {
		width = max(width, len(path.Base(file.Filename)))
	}

	shown := 0
	for _, name := range folders {
		if folder != "" && name != folder {
			continue
		}
		shown++
		entries := groups[name]
		fmt.Fprintf(w, "%s %s\n", folderStyle.Render(name), typeStyle.Render(fmt.Sprintf("(%d files)", len(entries))))
		for _, file := range entries {
			fmt.Fprintf(w, "  %-*s  %8s  %s\n",
				width, path.Base(file.Filename),
				humanize.Bytes(uint64(fileSize(file))),
				typeStyle.Render(typeLabel(file)))
		}
	}
	if shown == 0 {
		if folder != "" {
			fmt.Fprintf(w, "no folder %s\n", folder)
		} else {
			fmt.Fprintln(w, "drive is empty")
		}
	}
}

// renderPeers writes one line per replication connection.
func renderPeers(w io.Writer, peers rpc.PeersResult) {
	if peers.Count == 0 {
		fmt.Fprintln(w, "no peers connected")
		return
	}
	fmt.Fprintf(w, "%s\n", headerStyle.Render(fmt.Sprintf("%-16s  %-9s  %s", "PEER", "DIRECTION", "ADDRESS")))
	for _, peer := range peers.Peers {
		direction := "inbound"
		if peer.Initiator {
			direction = "outbound"
		}
		id := peer.ID
		if len(id) > 16 {
			id = id[:16]
		}
		fmt.Fprintf(w, "%-16s  %-9s  %s\n", id, direction, peer.Address)
	}
}
