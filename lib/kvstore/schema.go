// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package kvstore

// migrations are applied in order by sqlitepool. Append; never edit a
// released script.
var migrations = []string{
	`
	CREATE TABLE meta (
		name  TEXT PRIMARY KEY,
		value BLOB NOT NULL
	) WITHOUT ROWID;

	-- Content-addressed values, stored compressed.
	CREATE TABLE blocks (
		hash        BLOB PRIMARY KEY,
		compression INTEGER NOT NULL,
		size        INTEGER NOT NULL,
		data        BLOB NOT NULL
	) WITHOUT ROWID;

	-- Every verified record of every writer's log.
	CREATE TABLE records (
		writer  BLOB NOT NULL,
		seq     INTEGER NOT NULL,
		hash    BLOB NOT NULL,
		clock   INTEGER NOT NULL,
		key     TEXT NOT NULL,
		block   BLOB REFERENCES blocks (hash),
		encoded BLOB NOT NULL,
		PRIMARY KEY (writer, seq)
	) WITHOUT ROWID;

	-- Last-writer-wins view: one row per key ever written. op = 2 is a
	-- tombstone.
	CREATE TABLE entries (
		key    TEXT PRIMARY KEY,
		clock  INTEGER NOT NULL,
		writer BLOB NOT NULL,
		seq    INTEGER NOT NULL,
		op     INTEGER NOT NULL,
		block  BLOB,
		size   INTEGER NOT NULL
	) WITHOUT ROWID;
	`,
}

const (
	metaDriveKey   = "drive_key"
	metaWriterSeed = "writer_seed"
)
