// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/bureau-foundation/vault/lib/drive"
)

// CommandError is a structured failure response.
type CommandError struct {
	Command Command
	Failure Failure
}

func (e *CommandError) Error() string {
	if e.Failure.Error != "" {
		return fmt.Sprintf("%s: %s: %s", e.Command, e.Failure.Message, e.Failure.Error)
	}
	return fmt.Sprintf("%s: %s", e.Command, e.Failure.Message)
}

// callJSON sends a request and decodes a JSON response into result,
// turning {success:false} responses into a *CommandError.
func (c *Client) callJSON(ctx context.Context, command Command, payload []byte, want Command, result any) error {
	frame, err := c.Call(ctx, command, payload)
	if err != nil {
		return err
	}
	var status struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := DecodePayload(frame.Payload, &status); err != nil {
		return err
	}
	if status.Success != nil && !*status.Success {
		return &CommandError{Command: command, Failure: Failure{Error: status.Error, Message: status.Message}}
	}
	if frame.Command != want {
		return fmt.Errorf("%w: %s answered with %s", ErrMalformed, command, frame.Command)
	}
	return DecodePayload(frame.Payload, result)
}

// CreateFolder asks the engine to create a folder.
func (c *Client) CreateFolder(ctx context.Context, folder string) (FolderResult, error) {
	var result FolderResult
	err := c.callJSON(ctx, CommandCreateFolder, []byte(folder), CommandCreateFolder, &result)
	return result, err
}

// DeleteFolder asks the engine to remove a folder's sentinel.
func (c *Client) DeleteFolder(ctx context.Context, folder string) (FolderResult, error) {
	var result FolderResult
	err := c.callJSON(ctx, CommandDeleteFolder, []byte(folder), CommandDeleteFolder, &result)
	return result, err
}

// Upload stores data as folder/name.
func (c *Client) Upload(ctx context.Context, folder, name string, data []byte) (UploadResult, error) {
	fileType, _ := drive.Classify(name)
	payload, err := EncodePayload(UploadRequest{
		FolderName: folder,
		FileName:   name,
		FileData:   base64.StdEncoding.EncodeToString(data),
		FileType:   fileType,
	})
	if err != nil {
		return UploadResult{}, err
	}
	var result UploadResult
	err = c.callJSON(ctx, CommandUploadFile, payload, CommandUploadFile, &result)
	return result, err
}

// LoadAll fetches the whole drive.
func (c *Client) LoadAll(ctx context.Context) (AllData, error) {
	var result AllData
	err := c.callJSON(ctx, CommandLoadAllData, nil, CommandLoadAllData, &result)
	return result, err
}

// ListFolders fetches the whole drive through LIST_FOLDERS, which the
// engine answers with LOAD_ALL_DATA.
func (c *Client) ListFolders(ctx context.Context) (AllData, error) {
	var result AllData
	err := c.callJSON(ctx, CommandListFolders, nil, CommandLoadAllData, &result)
	return result, err
}

// ClearAll deletes everything in the drive.
func (c *Client) ClearAll(ctx context.Context) (ClearResult, error) {
	var result ClearResult
	err := c.callJSON(ctx, CommandClearAll, nil, CommandClearAll, &result)
	return result, err
}

// Peers lists the engine's replication connections.
func (c *Client) Peers(ctx context.Context) (PeersResult, error) {
	var result PeersResult
	err := c.callJSON(ctx, CommandGetPeers, nil, CommandGetPeers, &result)
	return result, err
}

// GetFile fetches one file.
func (c *Client) GetFile(ctx context.Context, path string) (drive.FileRecord, error) {
	var record drive.FileRecord
	err := c.callJSON(ctx, CommandGetFile, []byte(path), CommandMessage, &record)
	return record, err
}

// DriveKey fetches the drive's hex key.
func (c *Client) DriveKey(ctx context.Context) (string, error) {
	frame, err := c.Call(ctx, CommandGetDriveKey, nil)
	if err != nil {
		return "", err
	}
	if frame.Command != CommandGetDriveKey {
		return "", fmt.Errorf("%w: %s answered with %s", ErrMalformed, CommandGetDriveKey, frame.Command)
	}
	return string(frame.Payload), nil
}
