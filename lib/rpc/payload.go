// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/bureau-foundation/vault/lib/drive"
)

// ConnectedInvite is the INVITE payload after joining an existing
// drive. Any other INVITE payload is the hex key of a new drive.
const ConnectedInvite = "connected"

// ResetPayload is carried by RESET pushes.
const ResetPayload = "data"

// Failure is the response to a command that failed validation or
// storage. Every structured response decodes into it first so callers
// can check Success.
type Failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
}

// FolderResult answers CREATE_FOLDER and DELETE_FOLDER.
type FolderResult struct {
	Success    bool   `json:"success"`
	FolderPath string `json:"folderPath,omitempty"`
	Error      string `json:"error,omitempty"`
	Message    string `json:"message"`
}

// UploadRequest is the UPLOAD_FILE payload.
type UploadRequest struct {
	FolderName string `json:"folderName"`

	FileName string `json:"fileName"`

	// FileData is the file content, base64 with padding.
	FileData string `json:"fileData"`

	// FileType is the consumer's guess at the content type. The
	// engine classifies by extension and only logs it.
	FileType string `json:"fileType,omitempty"`
}

// UploadResult answers UPLOAD_FILE.
type UploadResult struct {
	Success  bool   `json:"success"`
	FilePath string `json:"filePath,omitempty"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message"`
}

// ClearResult answers CLEAR_ALL.
type ClearResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	Error          string `json:"error,omitempty"`
	DeletedCount   int    `json:"deletedCount"`
	RemainingCount int    `json:"remainingCount"`
}

// AllData is the LOAD_ALL_DATA payload: the whole drive.
type AllData struct {
	Folders  []string           `json:"folders"`
	Files    []drive.FileRecord `json:"files"`
	DriveKey string             `json:"driveKey"`
}

// Peer describes one replication connection in GET_PEERS.
type Peer struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Initiator bool   `json:"initiator"`
	Address   string `json:"address"`
}

// PeersResult answers GET_PEERS.
type PeersResult struct {
	Peers []Peer `json:"peers"`
	Count int    `json:"count"`
}

// EncodePayload marshals a JSON payload.
func EncodePayload(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: encoding payload: %w", err)
	}
	return data, nil
}

// DecodePayload unmarshals a JSON payload into v.
func DecodePayload(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	return nil
}
