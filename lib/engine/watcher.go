// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"

	"github.com/bureau-foundation/vault/lib/kvstore"
	"github.com/bureau-foundation/vault/lib/rpc"
)

// watch reloads every session each time the drive changes, until the
// engine closes. Changes that arrive while a reload is in flight
// coalesce into one more reload.
func (e *Engine) watch(changes <-chan kvstore.Change) {
	defer e.workers.Done()
	for change := range changes {
		e.logger.Debug("drive changed", "version", change.Version, "keys", len(change.Keys))
		e.reload(e.ctx)
	}
}

// reload pushes RESET followed by the full drive to every session.
func (e *Engine) reload(ctx context.Context) {
	payload, err := e.loadAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error("loading drive for reload failed", "error", err)
		}
		return
	}
	e.hub.broadcast(
		event(rpc.CommandReset, []byte(rpc.ResetPayload)),
		event(rpc.CommandLoadAllData, payload),
	)
}

// loadAll encodes the LOAD_ALL_DATA payload for the current drive.
func (e *Engine) loadAll(ctx context.Context) ([]byte, error) {
	listing, err := e.drive.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return rpc.EncodePayload(rpc.AllData{
		Folders:  listing.Folders,
		Files:    listing.Files,
		DriveKey: e.Key().String(),
	})
}
