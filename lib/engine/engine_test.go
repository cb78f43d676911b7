// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/bureau-foundation/vault/lib/drive"
	"github.com/bureau-foundation/vault/lib/identity"
	"github.com/bureau-foundation/vault/lib/rpc"
	"github.com/bureau-foundation/vault/lib/swarm"
	"github.com/bureau-foundation/vault/lib/testutil"
	"github.com/bureau-foundation/vault/transport"
)

const eventTimeout = 5 * time.Second

func newEngine(t *testing.T, dir, joinKey string, network Network) *Engine {
	t.Helper()
	e, err := New(Config{
		StorageDir:   dir,
		JoinKey:      joinKey,
		Network:      network,
		FlushTimeout: 5 * time.Second,
		Logger:       testutil.Logger(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func startEngine(t *testing.T, dir, joinKey string, network Network) *Engine {
	t.Helper()
	e := newEngine(t, dir, joinKey, network)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return e
}

// attach serves a session over a pipe and returns the consumer's
// client.
func attach(t *testing.T, e *Engine, config rpc.ClientConfig) *rpc.Client {
	t.Helper()
	engineEnd, consumerEnd := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		e.Serve(ctx, engineEnd)
	}()
	if config.Logger == nil {
		config.Logger = testutil.Logger(t)
	}
	client := rpc.NewClient(consumerEnd, config)
	t.Cleanup(func() {
		client.Close()
		cancel()
		<-served
	})
	return client
}

func nextEvent(t *testing.T, client *rpc.Client, want rpc.Command) rpc.Frame {
	t.Helper()
	frame := testutil.RequireReceive(t, client.Events(), eventTimeout, "waiting for %s", want)
	if frame.Command != want {
		t.Fatalf("event = %s (%q), want %s", frame.Command, frame.Payload, want)
	}
	return frame
}

func newTestNetwork(t *testing.T, discovery swarm.Discovery) *swarm.Swarm {
	t.Helper()
	listener, err := transport.NewTCPListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewTCPListener: %v", err)
	}
	s, err := swarm.New(swarm.Config{
		Listeners: []transport.Listener{listener},
		Dialers:   map[string]transport.Dialer{"tcp": &transport.TCPDialer{Timeout: 2 * time.Second}},
		Discovery: discovery,
		Logger:    testutil.Logger(t),
	})
	if err != nil {
		t.Fatalf("swarm.New: %v", err)
	}
	t.Cleanup(func() { s.Destroy() })
	return s
}

func TestFreshDriveInvitesWithKey(t *testing.T) {
	e := startEngine(t, t.TempDir(), "", nil)
	client := attach(t, e, rpc.ClientConfig{})
	ctx := context.Background()

	invite := nextEvent(t, client, rpc.CommandInvite)
	key, err := identity.ParseDriveKey(string(invite.Payload))
	if err != nil {
		t.Fatalf("INVITE payload %q is not a drive key: %v", invite.Payload, err)
	}
	if len(invite.Payload) != 64 || key != e.Key() {
		t.Errorf("INVITE = %q, engine key %s", invite.Payload, e.Key())
	}

	all, err := client.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all.Folders) != 0 || len(all.Files) != 0 || all.DriveKey != e.Key().String() {
		t.Errorf("fresh LoadAll = %+v", all)
	}

	driveKey, err := client.DriveKey(ctx)
	if err != nil || driveKey != e.Key().String() {
		t.Errorf("DriveKey = %q, %v", driveKey, err)
	}
}

func TestMutationsReloadOnce(t *testing.T) {
	e := startEngine(t, t.TempDir(), "", nil)
	client := attach(t, e, rpc.ClientConfig{})
	ctx := context.Background()
	nextEvent(t, client, rpc.CommandInvite)

	created, err := client.CreateFolder(ctx, "Vacation")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if !created.Success || created.FolderPath != "/Vacation/" || created.Message != "Folder created successfully" {
		t.Errorf("CreateFolder = %+v", created)
	}
	nextEvent(t, client, rpc.CommandReset)
	load := nextEvent(t, client, rpc.CommandLoadAllData)
	var all rpc.AllData
	if err := rpc.DecodePayload(load.Payload, &all); err != nil {
		t.Fatal(err)
	}
	if len(all.Folders) != 1 || all.Folders[0] != "/Vacation" {
		t.Errorf("folders after create = %v", all.Folders)
	}
	testutil.RequireNoReceive(t, client.Events(), 200*time.Millisecond, "extra reload after create")

	uploaded, err := client.Upload(ctx, "Vacation", "notes.txt", []byte("sunny"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if uploaded.FilePath != "/Vacation/notes.txt" || uploaded.Message != "File uploaded successfully" {
		t.Errorf("Upload = %+v", uploaded)
	}
	message := nextEvent(t, client, rpc.CommandMessage)
	var record drive.FileRecord
	if err := rpc.DecodePayload(message.Payload, &record); err != nil {
		t.Fatal(err)
	}
	if record.Type != drive.TypeText || record.Content != "sunny" || record.Filename != "/Vacation/notes.txt" {
		t.Errorf("MESSAGE = %+v", record)
	}
	nextEvent(t, client, rpc.CommandReset)
	nextEvent(t, client, rpc.CommandLoadAllData)
	testutil.RequireNoReceive(t, client.Events(), 200*time.Millisecond, "extra reload after upload")

	cleared, err := client.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if cleared.DeletedCount != 2 || cleared.RemainingCount != 0 ||
		cleared.Message != "All data cleared. Deleted 2 files, 0 remaining." {
		t.Errorf("ClearAll = %+v", cleared)
	}
	nextEvent(t, client, rpc.CommandReset)
	nextEvent(t, client, rpc.CommandLoadAllData)
	testutil.RequireNoReceive(t, client.Events(), 200*time.Millisecond, "extra reload after clear")
}

func TestFailuresAreReported(t *testing.T) {
	e := startEngine(t, t.TempDir(), "", nil)
	client := attach(t, e, rpc.ClientConfig{})
	ctx := context.Background()

	_, err := client.CreateFolder(ctx, "  ")
	var commandErr *rpc.CommandError
	if !errors.As(err, &commandErr) || commandErr.Failure.Message != "Failed to create folder" {
		t.Fatalf("CreateFolder(blank) error = %v", err)
	}

	_, err = client.GetFile(ctx, "/missing.txt")
	if !errors.As(err, &commandErr) || commandErr.Command != rpc.CommandGetFile {
		t.Fatalf("GetFile(missing) error = %v", err)
	}

	// A malformed upload is skipped without a response.
	short := attach(t, e, rpc.ClientConfig{Timeout: 300 * time.Millisecond})
	if _, err := short.Call(ctx, rpc.CommandUploadFile, []byte("{not json")); !errors.Is(err, rpc.ErrTimeout) {
		t.Errorf("malformed upload error = %v, want ErrTimeout", err)
	}

	// The session keeps serving afterwards.
	if _, err := short.DriveKey(ctx); err != nil {
		t.Errorf("DriveKey after malformed upload: %v", err)
	}
}

func TestGetFile(t *testing.T) {
	e := startEngine(t, t.TempDir(), "", nil)
	client := attach(t, e, rpc.ClientConfig{})
	ctx := context.Background()

	if _, err := client.Upload(ctx, "docs", "report.pdf", []byte("%PDF-1.7")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	record, err := client.GetFile(ctx, "/docs/report.pdf")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if record.Type != drive.TypePDF || !record.IsBinary {
		t.Errorf("GetFile = %+v", record)
	}
}

func TestCommandsDroppedUntilReady(t *testing.T) {
	e := newEngine(t, t.TempDir(), "", nil)
	client := attach(t, e, rpc.ClientConfig{Timeout: 200 * time.Millisecond})

	if _, err := client.LoadAll(context.Background()); !errors.Is(err, rpc.ErrTimeout) {
		t.Fatalf("LoadAll before Start = %v, want ErrTimeout", err)
	}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	nextEvent(t, client, rpc.CommandInvite)
	if _, err := client.LoadAll(context.Background()); err != nil {
		t.Errorf("LoadAll after Start: %v", err)
	}
}

func TestInviteReplayedToLateSessions(t *testing.T) {
	e := startEngine(t, t.TempDir(), "", nil)
	first := attach(t, e, rpc.ClientConfig{})
	second := attach(t, e, rpc.ClientConfig{})

	a := nextEvent(t, first, rpc.CommandInvite)
	b := nextEvent(t, second, rpc.CommandInvite)
	if string(a.Payload) != string(b.Payload) {
		t.Errorf("invites differ: %q vs %q", a.Payload, b.Payload)
	}
}

func TestStalledSessionDoesNotBlockCommands(t *testing.T) {
	e := startEngine(t, t.TempDir(), "", nil)
	ctx := context.Background()

	// A consumer that never reads its end of the pipe.
	engineEnd, stalledEnd := net.Pipe()
	t.Cleanup(func() { stalledEnd.Close() })
	served := make(chan struct{})
	go func() {
		defer close(served)
		e.Serve(ctx, engineEnd)
	}()

	client := attach(t, e, rpc.ClientConfig{Timeout: 5 * time.Second})
	nextEvent(t, client, rpc.CommandInvite)
	deadline := time.Now().Add(eventTimeout)
	for e.hub.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("stalled session never attached")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Every upload pushes MESSAGE, RESET and LOAD_ALL_DATA, well past
	// the stalled session's queue.
	for i := range 40 {
		name := fmt.Sprintf("file-%02d.txt", i)
		if _, err := client.Upload(ctx, "bulk", name, []byte(name)); err != nil {
			t.Fatalf("Upload #%d: %v", i, err)
		}
	}

	testutil.RequireClosed(t, served, eventTimeout, "stalled session dropped")
	if count := e.hub.count(); count != 1 {
		t.Errorf("hub holds %d sessions, want 1", count)
	}
	if _, err := client.DriveKey(ctx); err != nil {
		t.Errorf("DriveKey after dropping stalled session: %v", err)
	}
}

func TestReopenSavedDrive(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := startEngine(t, dir, "", nil)
	key := first.Key()
	if _, err := first.Drive().PutFile(ctx, "notes", "todo.txt", []byte("milk")); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := startEngine(t, dir, "", nil)
	if second.Key() != key {
		t.Fatalf("reopened key %s, want %s", second.Key(), key)
	}
	client := attach(t, second, rpc.ClientConfig{})
	invite := nextEvent(t, client, rpc.CommandInvite)
	if string(invite.Payload) != rpc.ConnectedInvite {
		t.Errorf("INVITE = %q, want %q", invite.Payload, rpc.ConnectedInvite)
	}
	all, err := client.ListFolders(ctx)
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	if len(all.Files) != 1 || all.Files[0].Content != "milk" {
		t.Errorf("reopened files = %+v", all.Files)
	}
}

func TestStorageDirectoryLocked(t *testing.T) {
	dir := t.TempDir()
	startEngine(t, dir, "", nil)

	second := newEngine(t, dir, "", nil)
	if err := second.Start(context.Background()); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Start = %v, want ErrLocked", err)
	}
}

func TestInvalidJoinKey(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, dir, "not-a-key", nil)
	if err := e.Start(context.Background()); err == nil {
		t.Fatal("Start accepted an invalid join key")
	}
	// The failed start released the lock.
	startEngine(t, dir, "", nil)
}

func TestJoinReplicatesRemoteDrive(t *testing.T) {
	discovery := swarm.NewMemoryDiscovery()
	ctx := context.Background()

	origin := startEngine(t, t.TempDir(), "", newTestNetwork(t, discovery))
	if _, err := origin.Drive().PutFile(ctx, "photos", "caption.txt", []byte("beach")); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	joiner := startEngine(t, t.TempDir(), origin.Key().String(), newTestNetwork(t, discovery))
	client := attach(t, joiner, rpc.ClientConfig{})
	invite := nextEvent(t, client, rpc.CommandInvite)
	if string(invite.Payload) != rpc.ConnectedInvite {
		t.Fatalf("INVITE = %q, want %q", invite.Payload, rpc.ConnectedInvite)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		all, err := client.LoadAll(ctx)
		if err != nil {
			t.Fatalf("LoadAll: %v", err)
		}
		if len(all.Files) == 1 && all.Files[0].Content == "beach" {
			if all.DriveKey != origin.Key().String() {
				t.Errorf("joined drive key %s, want %s", all.DriveKey, origin.Key())
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("remote file never replicated; have %+v", all)
		}
		time.Sleep(50 * time.Millisecond)
	}

	peers, err := client.Peers(ctx)
	if err != nil {
		t.Fatalf("Peers: %v", err)
	}
	if peers.Count != 1 || peers.Peers[0].Topic != origin.Key().DiscoveryKey().String() {
		t.Errorf("Peers = %+v", peers)
	}
}
