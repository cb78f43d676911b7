// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/vault/lib/clock"
	"github.com/bureau-foundation/vault/lib/drive"
	"github.com/bureau-foundation/vault/lib/identity"
	"github.com/bureau-foundation/vault/lib/kvstore"
	"github.com/bureau-foundation/vault/lib/rpc"
	"github.com/bureau-foundation/vault/lib/swarm"
)

// defaultFlushTimeout bounds the wait for the first peer lookup at
// startup. Startup continues without peers when it expires.
const defaultFlushTimeout = 30 * time.Second

// Layout of the storage directory.
const (
	persistentDirectory = "persistent"
	drivesDirectory     = "drives"
)

// ErrClosed is returned by Start and Serve after Close.
var ErrClosed = errors.New("engine: closed")

// Network is the peer network the engine replicates over.
// *swarm.Swarm implements it.
type Network interface {
	Join(ctx context.Context, topic identity.DiscoveryKey) error
	OnConnection(handler swarm.ConnectionHandler)
	Flush(ctx context.Context) error
	Peers() []swarm.ConnInfo
	Destroy() error
}

var _ Network = (*swarm.Swarm)(nil)

// Config configures an Engine.
type Config struct {
	// StorageDir is the per-install base directory. Required.
	StorageDir string

	// JoinKey is the hex key of an existing drive to open. Empty opens
	// the saved drive, or creates one.
	JoinKey string

	// Network replicates the drive with peers. Nil runs offline.
	Network Network

	// Folders selects the folder inference rule. Nil uses
	// drive.ParentFolders.
	Folders drive.FolderIndex

	// FlushTimeout bounds the wait for the first peer lookup.
	FlushTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Engine owns the store, network, watcher, and command sessions of one
// vault.
type Engine struct {
	storageDir   string
	joinKey      string
	network      Network
	flushTimeout time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	drive      *drive.Drive
	hub        *hub
	dispatcher *dispatcher

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup

	mu       sync.Mutex
	store    *kvstore.Store
	key      identity.DriveKey
	lock     *directoryLock
	started  bool
	closed   bool
	sessions atomic.Uint64
}

// New creates an engine. Nothing touches disk or network until Start.
func New(config Config) (*Engine, error) {
	if config.StorageDir == "" {
		return nil, errors.New("engine: StorageDir is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	flushTimeout := config.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = defaultFlushTimeout
	}

	e := &Engine{
		storageDir:   config.StorageDir,
		joinKey:      strings.TrimSpace(config.JoinKey),
		network:      config.Network,
		flushTimeout: flushTimeout,
		clock:        clk,
		logger:       logger,
		drive:        drive.New(drive.Config{Folders: config.Folders, Logger: logger}),
		hub:          newHub(logger),
	}
	e.dispatcher = newDispatcher(e)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// Drive returns the engine's drive. It reports ErrNotReady until Start
// has opened the store.
func (e *Engine) Drive() *drive.Drive { return e.drive }

// Key returns the open drive's key, or the zero key before Start.
func (e *Engine) Key() identity.DriveKey {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.key
}

// Peers returns the network's current connections.
func (e *Engine) Peers() []swarm.ConnInfo {
	if e.network == nil {
		return nil
	}
	return e.network.Peers()
}

// Start opens the drive, joins the network, pushes the startup events,
// and starts watching for changes. It returns once the drive is ready.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return errors.New("engine: already started")
	}
	e.started = true
	e.mu.Unlock()

	persistent := filepath.Join(e.storageDir, persistentDirectory)
	if err := os.MkdirAll(filepath.Join(persistent, drivesDirectory), 0o700); err != nil {
		return fmt.Errorf("engine: creating storage directory: %w", err)
	}
	lock, err := lockDirectory(persistent)
	if err != nil {
		return err
	}

	key, created, err := e.resolveKey(persistent)
	if err != nil {
		lock.release()
		return err
	}

	discovery := key.DiscoveryKey()
	store, err := kvstore.Open(ctx, kvstore.Config{
		Path:     filepath.Join(persistent, drivesDirectory, discovery.String()+".db"),
		DriveKey: key,
		Clock:    e.clock,
		Logger:   e.logger,
	})
	if err != nil {
		lock.release()
		return fmt.Errorf("engine: opening drive: %w", err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		store.Close()
		lock.release()
		return ErrClosed
	}
	e.store = store
	e.key = key
	e.lock = lock
	e.mu.Unlock()

	// Subscribe before joining so data replicated during startup is
	// reloaded once the watcher runs.
	changes := store.Watch(e.ctx, "/")
	e.drive.Attach(store)

	if e.network != nil {
		e.network.OnConnection(e.replicate)
		if err := e.network.Join(ctx, discovery); err != nil {
			return fmt.Errorf("engine: joining network: %w", err)
		}
		flushCtx, cancel := context.WithTimeout(ctx, e.flushTimeout)
		err := e.network.Flush(flushCtx)
		cancel()
		if err != nil {
			e.logger.Warn("initial peer lookup incomplete", "error", err)
		}
	}

	if created {
		e.hub.setInvite([]byte(key.String()))
	} else {
		e.reload(ctx)
		e.hub.setInvite([]byte(rpc.ConnectedInvite))
	}

	e.workers.Add(1)
	go e.watch(changes)

	e.logger.Info("engine started",
		"discovery_key", discovery.String(),
		"created", created,
		"online", e.network != nil,
	)
	return nil
}

// resolveKey picks the drive to open: the join key, else the saved
// key, else a new key which is saved.
func (e *Engine) resolveKey(persistent string) (key identity.DriveKey, created bool, err error) {
	if e.joinKey != "" {
		key, err := identity.ParseDriveKey(e.joinKey)
		if err != nil {
			return identity.DriveKey{}, false, fmt.Errorf("engine: join key: %w", err)
		}
		e.logger.Info("joining drive", "discovery_key", key.DiscoveryKey().String())
		return key, false, nil
	}

	keyPath := filepath.Join(persistent, identity.KeyFileName)
	saved, found, err := identity.LoadKeyFile(keyPath)
	if err != nil {
		return identity.DriveKey{}, false, err
	}
	if found {
		e.logger.Info("opening saved drive", "discovery_key", saved.DiscoveryKey().String())
		return saved, false, nil
	}

	key, err = identity.NewDriveKey()
	if err != nil {
		return identity.DriveKey{}, false, err
	}
	if err := identity.SaveKeyFile(keyPath, key); err != nil {
		return identity.DriveKey{}, false, err
	}
	e.logger.Info("created drive", "discovery_key", key.DiscoveryKey().String())
	return key, true, nil
}

// replicate runs the replication protocol on one peer connection.
func (e *Engine) replicate(conn *swarm.Conn, info swarm.ConnInfo) {
	e.mu.Lock()
	store := e.store
	if e.closed || store == nil {
		e.mu.Unlock()
		conn.Close()
		return
	}
	e.workers.Add(1)
	e.mu.Unlock()
	defer e.workers.Done()

	logger := e.logger.With("peer", info.Peer.Short(), "initiator", info.Initiator)
	logger.Info("replicating with peer", "address", info.Address)
	if err := store.Replicate(e.ctx, conn); err != nil {
		logger.Warn("replication ended", "error", err)
		return
	}
	logger.Info("peer disconnected")
}

// Serve runs one command session on conn until the consumer hangs up,
// ctx ends, or the engine closes.
func (e *Engine) Serve(ctx context.Context, conn io.ReadWriteCloser) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	e.mu.Unlock()

	id := e.sessions.Add(1)
	logger := e.logger.With("session", id)
	session := rpc.NewSession(conn, logger)

	stop := context.AfterFunc(e.ctx, func() { session.Close() })
	defer stop()

	e.hub.attach(session)
	defer e.hub.detach(session)

	logger.Debug("session attached", "sessions", e.hub.count())
	err := session.Serve(ctx, e.dispatcher)
	logger.Debug("session ended", "error", err)
	return err
}

// Close stops the watcher and sessions, destroys the network, and
// closes the store.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()

	var errs []error
	if e.network != nil {
		if err := e.network.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("destroying network: %w", err))
		}
	}
	e.workers.Wait()

	e.mu.Lock()
	store, lock := e.store, e.lock
	e.mu.Unlock()
	if store != nil {
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store: %w", err))
		}
	}
	if lock != nil {
		if err := lock.release(); err != nil {
			errs = append(errs, fmt.Errorf("releasing lock: %w", err))
		}
	}
	e.logger.Info("engine closed")
	return errors.Join(errs...)
}
