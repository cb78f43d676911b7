// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases the way vault wants them:
// a fixed pool of zombiezen.com/go/sqlite connections, each configured
// with the same pragmas, with the schema brought up to date before the
// first caller sees the connection.
//
// Each drive's log store is one database file. The engine writes to
// it from the command dispatcher and the replication goroutines while
// the watcher and listing paths read from it, so the pool runs in WAL
// mode: readers never wait for the writer.
//
// Pragmas applied to every connection:
//
//   - journal_mode=WAL
//   - synchronous=NORMAL: a committed record survives a process
//     crash. Peers re-replicate anything lost to a power failure.
//   - busy_timeout=5000
//   - foreign_keys=ON: block rows reference records.
//   - cache_size=-8192 (8 MB per connection)
//   - temp_store=MEMORY
//
// Schema changes are expressed as an ordered list of scripts. The
// pool records how many have run in PRAGMA user_version and applies
// the rest on first connect:
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:       filepath.Join(storage, "drives", name+".db"),
//	    Migrations: []string{schemaV1, schemaV2},
//	    Logger:     logger,
//	})
//	conn, err := pool.Take(ctx)
//	defer pool.Put(conn)
package sqlitepool
