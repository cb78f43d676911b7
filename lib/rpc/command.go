// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"fmt"
	"strings"
)

// Command identifies what a frame asks for or carries.
type Command uint8

const (
	// CommandReset is pushed before a full reload: discard the
	// current entry list.
	CommandReset Command = iota

	// CommandMessage pushes a single file record.
	CommandMessage

	// CommandInvite pushes the drive key of a new drive, or
	// "connected" after joining an existing one.
	CommandInvite

	CommandCreateFolder
	CommandListFolders
	CommandGetPeers
	CommandGetDriveKey
	CommandDeleteFolder
	CommandUploadFile
	CommandClearAll
	CommandLoadAllData
	CommandGetFile
)

var commandNames = [...]string{
	CommandReset:        "RESET",
	CommandMessage:      "MESSAGE",
	CommandInvite:       "INVITE",
	CommandCreateFolder: "CREATE_FOLDER",
	CommandListFolders:  "LIST_FOLDERS",
	CommandGetPeers:     "GET_PEERS",
	CommandGetDriveKey:  "GET_DRIVE_KEY",
	CommandDeleteFolder: "DELETE_FOLDER",
	CommandUploadFile:   "UPLOAD_FILE",
	CommandClearAll:     "CLEAR_ALL",
	CommandLoadAllData:  "LOAD_ALL_DATA",
	CommandGetFile:      "GET_FILE",
}

func (c Command) String() string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("Command(%d)", uint8(c))
}

// Valid reports whether c is a known command.
func (c Command) Valid() bool { return int(c) < len(commandNames) }

// ParseCommand maps a command name, in any case, to its value.
func ParseCommand(name string) (Command, error) {
	upper := strings.ToUpper(name)
	for index, candidate := range commandNames {
		if candidate == upper {
			return Command(index), nil
		}
	}
	return 0, fmt.Errorf("rpc: unknown command %q", name)
}
