// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bureau-foundation/vault/lib/drive"
	"github.com/bureau-foundation/vault/lib/rpc"
)

// route is one dispatcher entry. Mutating routes hold the store's
// change notifications until they finish, so each command produces a
// single watcher reload.
type route struct {
	mutates bool
	handle  func(ctx context.Context, session *rpc.Session, request rpc.Frame) error
}

// dispatcher routes command requests to drive operations.
type dispatcher struct {
	engine *Engine
	logger *slog.Logger
	routes map[rpc.Command]route
}

var _ rpc.Handler = (*dispatcher)(nil)

func newDispatcher(e *Engine) *dispatcher {
	d := &dispatcher{engine: e, logger: e.logger}
	d.routes = map[rpc.Command]route{
		rpc.CommandCreateFolder: {mutates: true, handle: d.createFolder},
		rpc.CommandDeleteFolder: {mutates: true, handle: d.deleteFolder},
		rpc.CommandUploadFile:   {mutates: true, handle: d.uploadFile},
		rpc.CommandClearAll:     {mutates: true, handle: d.clearAll},
		rpc.CommandListFolders:  {handle: d.loadAll},
		rpc.CommandLoadAllData:  {handle: d.loadAll},
		rpc.CommandGetDriveKey:  {handle: d.driveKey},
		rpc.CommandGetPeers:     {handle: d.peers},
		rpc.CommandGetFile:      {handle: d.getFile},
	}
	return d
}

// HandleRequest runs the route for request. Requests arriving before
// the drive is ready, and commands without a route, are dropped.
func (d *dispatcher) HandleRequest(ctx context.Context, session *rpc.Session, request rpc.Frame) {
	logger := d.logger.With("command", request.Command.String(), "request_id", request.ID)

	route, ok := d.routes[request.Command]
	if !ok {
		logger.Warn("no handler for command")
		return
	}

	d.engine.mu.Lock()
	store := d.engine.store
	d.engine.mu.Unlock()
	if store == nil || !d.engine.drive.Ready() {
		logger.Warn("drive not ready, dropping command")
		return
	}

	if route.mutates {
		release := store.Defer()
		defer release()
	}
	if err := route.handle(ctx, session, request); err != nil {
		if errors.Is(err, rpc.ErrMalformed) {
			logger.Warn("skipping malformed command", "error", err)
			return
		}
		logger.Warn("command failed", "error", err)
	}
}

// respond encodes payload as JSON and answers request with command.
func (d *dispatcher) respond(ctx context.Context, session *rpc.Session, request rpc.Frame, command rpc.Command, payload any) error {
	data, err := rpc.EncodePayload(payload)
	if err != nil {
		return err
	}
	return session.Respond(ctx, request, command, data)
}

func (d *dispatcher) fail(ctx context.Context, session *rpc.Session, request rpc.Frame, message string, cause error) error {
	if err := d.respond(ctx, session, request, request.Command, rpc.Failure{
		Success: false,
		Error:   cause.Error(),
		Message: message,
	}); err != nil {
		return err
	}
	return fmt.Errorf("%s: %w", message, cause)
}

func (d *dispatcher) createFolder(ctx context.Context, session *rpc.Session, request rpc.Frame) error {
	folder, err := d.engine.drive.CreateFolder(ctx, string(request.Payload))
	if err != nil {
		return d.fail(ctx, session, request, "Failed to create folder", err)
	}
	return d.respond(ctx, session, request, rpc.CommandCreateFolder, rpc.FolderResult{
		Success:    true,
		FolderPath: folder,
		Message:    "Folder created successfully",
	})
}

func (d *dispatcher) deleteFolder(ctx context.Context, session *rpc.Session, request rpc.Frame) error {
	folder, err := d.engine.drive.DeleteFolder(ctx, string(request.Payload))
	if err != nil {
		return d.fail(ctx, session, request, "Failed to delete folder", err)
	}
	return d.respond(ctx, session, request, rpc.CommandDeleteFolder, rpc.FolderResult{
		Success:    true,
		FolderPath: folder,
		Message:    "Folder deleted successfully",
	})
}

// uploadFile stores the file, pushes it to every session as a MESSAGE,
// then answers the uploader.
func (d *dispatcher) uploadFile(ctx context.Context, session *rpc.Session, request rpc.Frame) error {
	var upload rpc.UploadRequest
	if err := rpc.DecodePayload(request.Payload, &upload); err != nil {
		return err
	}
	data, err := base64.StdEncoding.DecodeString(upload.FileData)
	if err != nil {
		return d.fail(ctx, session, request, "Failed to upload file", fmt.Errorf("decoding file data: %w", err))
	}

	fileType, _ := drive.Classify(upload.FileName)
	if upload.FileType != "" && !strings.EqualFold(upload.FileType, fileType) {
		d.logger.Debug("upload type differs from classification",
			"declared", upload.FileType,
			"classified", fileType,
		)
	}

	path, err := d.engine.drive.PutFile(ctx, upload.FolderName, upload.FileName, data)
	if err != nil {
		return d.fail(ctx, session, request, "Failed to upload file", err)
	}

	stored, found, err := d.engine.drive.GetFile(ctx, path)
	if err != nil {
		return d.fail(ctx, session, request, "Failed to upload file", err)
	}
	if found {
		message, err := rpc.EncodePayload(drive.DecodeFile(path, stored))
		if err != nil {
			return err
		}
		d.engine.hub.broadcast(event(rpc.CommandMessage, message))
	}

	d.logger.Info("file uploaded", "path", path, "size", len(data))
	return d.respond(ctx, session, request, rpc.CommandUploadFile, rpc.UploadResult{
		Success:  true,
		FilePath: path,
		Message:  "File uploaded successfully",
	})
}

func (d *dispatcher) clearAll(ctx context.Context, session *rpc.Session, request rpc.Frame) error {
	result, err := d.engine.drive.ClearAll(ctx)
	if err != nil {
		return d.fail(ctx, session, request, "Failed to clear all data", err)
	}
	return d.respond(ctx, session, request, rpc.CommandClearAll, rpc.ClearResult{
		Success: true,
		Message: fmt.Sprintf("All data cleared. Deleted %d files, %d remaining.",
			result.Attempted, result.Remaining),
		DeletedCount:   result.Attempted,
		RemainingCount: result.Remaining,
	})
}

// loadAll answers both LIST_FOLDERS and LOAD_ALL_DATA with the full
// drive under LOAD_ALL_DATA.
func (d *dispatcher) loadAll(ctx context.Context, session *rpc.Session, request rpc.Frame) error {
	payload, err := d.engine.loadAll(ctx)
	if err != nil {
		return d.fail(ctx, session, request, "Failed to load data", err)
	}
	return session.Respond(ctx, request, rpc.CommandLoadAllData, payload)
}

func (d *dispatcher) driveKey(ctx context.Context, session *rpc.Session, request rpc.Frame) error {
	return session.Respond(ctx, request, rpc.CommandGetDriveKey, []byte(d.engine.Key().String()))
}

func (d *dispatcher) peers(ctx context.Context, session *rpc.Session, request rpc.Frame) error {
	connections := d.engine.Peers()
	result := rpc.PeersResult{Peers: make([]rpc.Peer, 0, len(connections)), Count: len(connections)}
	for _, info := range connections {
		result.Peers = append(result.Peers, rpc.Peer{
			ID:        info.Peer.String(),
			Topic:     info.Topic.String(),
			Initiator: info.Initiator,
			Address:   info.Address,
		})
	}
	return d.respond(ctx, session, request, rpc.CommandGetPeers, result)
}

// getFile answers with the file as a MESSAGE-shaped record.
func (d *dispatcher) getFile(ctx context.Context, session *rpc.Session, request rpc.Frame) error {
	path := string(request.Payload)
	data, found, err := d.engine.drive.GetFile(ctx, path)
	if err != nil {
		return d.fail(ctx, session, request, "Failed to read file", err)
	}
	if !found {
		return d.fail(ctx, session, request, "File not found", fmt.Errorf("no file at %q", path))
	}
	return d.respond(ctx, session, request, rpc.CommandMessage, drive.DecodeFile(path, data))
}
