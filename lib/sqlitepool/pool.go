// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Config describes a pool to open.
type Config struct {
	// Path of the database file. Its directory must exist; the file is
	// created on first use. ":memory:" is accepted only with PoolSize
	// 1, since each in-memory connection is a separate database.
	Path string

	// PoolSize is the number of connections, and so the number of
	// goroutines that can hold one at a time. Take blocks once all are
	// borrowed. WAL mode lets every connection read concurrently, but
	// writes still serialize on SQLite's single writer lock, so sizes
	// beyond a handful only help read-heavy callers. Zero or negative
	// means 4.
	PoolSize int

	// Migrations are schema scripts applied in order the first time a
	// connection is prepared. PRAGMA user_version records how many
	// have run: scripts at or below it are skipped, and a database
	// whose version exceeds len(Migrations) is refused. Append new
	// scripts; never edit or reorder applied ones.
	Migrations []string

	// Logger receives open, migrate and close events. Nil discards
	// them.
	Logger *slog.Logger
}

// Pool is a fixed set of prepared connections. Safe for concurrent
// use; a taken connection belongs to one goroutine until Put.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string

	// migrateOnce serializes the schema upgrade so concurrent first
	// Takes do not race to apply the same script.
	migrateOnce sync.Mutex
	migrated    bool
	migrations  []string

	closeOnce sync.Once
	closeErr  error
}

const defaultPoolSize = 4

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
	"PRAGMA cache_size=-8192",
	"PRAGMA temp_store=MEMORY",
}

// Open creates the pool. Connections are opened lazily, so a bad path
// or failed migration surfaces from the first Take rather than here.
// Every connection gets WAL journaling, a 5s busy timeout and foreign
// keys enabled before it is handed out.
func Open(config Config) (*Pool, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	size := config.PoolSize
	if size <= 0 {
		size = defaultPoolSize
	}
	if config.Path == ":memory:" && size != 1 {
		return nil, fmt.Errorf("sqlitepool: in-memory database requires PoolSize 1, got %d", size)
	}

	pool := &Pool{logger: logger, path: config.Path, migrations: config.Migrations}
	inner, err := sqlitex.NewPool(config.Path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: pool.prepare,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", config.Path, err)
	}
	pool.inner = inner

	logger.Debug("sqlite pool opened", "path", config.Path, "pool_size", size)
	return pool, nil
}

// Take borrows a connection, blocking until one is free or ctx ends.
// Every successful Take must be paired with Put, usually deferred;
// a leaked connection shrinks the pool for good and makes Close wait
// forever.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection. Put(nil) is a no-op.
func (p *Pool) Put(conn *sqlite.Conn) {
	if conn == nil {
		return
	}
	p.inner.Put(conn)
}

// Path returns the database file path.
func (p *Pool) Path() string { return p.path }

// Close waits for borrowed connections and closes them all. Later
// calls do nothing and return the first call's error.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		if err := p.inner.Close(); err != nil {
			p.logger.Error("closing sqlite pool", "path", p.path, "error", err)
			p.closeErr = fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
			return
		}
		p.logger.Debug("sqlite pool closed", "path", p.path)
	})
	return p.closeErr
}

func (p *Pool) prepare(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}

	p.migrateOnce.Lock()
	defer p.migrateOnce.Unlock()
	if p.migrated {
		return nil
	}
	if err := migrate(conn, p.migrations, p.logger); err != nil {
		return err
	}
	p.migrated = true
	return nil
}

// UserVersion reads PRAGMA user_version.
func UserVersion(conn *sqlite.Conn) (int, error) {
	var version int
	err := sqlitex.ExecuteTransient(conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitepool: reading user_version: %w", err)
	}
	return version, nil
}

func migrate(conn *sqlite.Conn, migrations []string, logger *slog.Logger) (err error) {
	current, err := UserVersion(conn)
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("sqlitepool: database schema version %d is newer than this binary (%d)", current, len(migrations))
	}
	if current == len(migrations) {
		return nil
	}

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlitepool: starting migration: %w", err)
	}
	defer endTransaction(&err)

	for index := current; index < len(migrations); index++ {
		if err = sqlitex.ExecuteScript(conn, migrations[index], nil); err != nil {
			return fmt.Errorf("sqlitepool: migration %d: %w", index+1, err)
		}
	}
	// PRAGMA does not accept bound parameters.
	if err = sqlitex.ExecuteTransient(conn, fmt.Sprintf("PRAGMA user_version=%d", len(migrations)), nil); err != nil {
		return fmt.Errorf("sqlitepool: recording schema version: %w", err)
	}
	logger.Info("sqlite schema migrated", "from", current, "to", len(migrations))
	return nil
}
