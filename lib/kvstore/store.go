// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/vault/lib/clock"
	"github.com/bureau-foundation/vault/lib/codec"
	"github.com/bureau-foundation/vault/lib/identity"
	"github.com/bureau-foundation/vault/lib/sqlitepool"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("kvstore: store is closed")

	// ErrInvalidKey is returned for keys that are not absolute paths.
	ErrInvalidKey = errors.New("kvstore: key must be an absolute path")

	// ErrDriveMismatch is returned by Open when the database belongs
	// to a different drive.
	ErrDriveMismatch = errors.New("kvstore: database belongs to a different drive")

	// ErrValueTooLarge is returned for values over MaxValueSize.
	ErrValueTooLarge = errors.New("kvstore: value too large")
)

// MaxValueSize bounds a single value. Replicated records claiming a
// larger block are rejected before their block is decompressed.
const MaxValueSize = 64 << 20

// Config describes a store to open.
type Config struct {
	// Path of the SQLite database. Created if missing.
	Path string

	// DriveKey is the drive this database holds. Recorded on first
	// open and checked on every later one.
	DriveKey identity.DriveKey

	// Logger defaults to a discard logger.
	Logger *slog.Logger

	// Clock stamps record timestamps. Defaults to clock.Real().
	Clock clock.Clock

	// PoolSize is passed to sqlitepool.
	PoolSize int
}

// Item is one visible entry.
type Item struct {
	Key   string
	Value []byte
	// IsLink marks a symbolic link; Value holds the target path.
	IsLink bool
}

// Info describes an entry without loading its value.
type Info struct {
	Key    string
	Size   int64
	IsLink bool
	Writer identity.WriterID
	Clock  uint64
}

// Head is the newest sequence number of one writer's log.
type Head struct {
	Writer identity.WriterID `cbor:"w"`
	Seq    uint64            `cbor:"s"`
}

type logHead struct {
	seq  uint64
	hash Hash
}

type storedBlock struct {
	compression Compression
	data        []byte
}

// Store is a handle on one drive's database. Writes are serialized
// within the process; reads run concurrently.
type Store struct {
	pool     *sqlitepool.Pool
	logger   *slog.Logger
	clock    clock.Clock
	driveKey identity.DriveKey
	writer   *identity.Writer
	notifier *notifier
	version  atomic.Uint64
	closed   atomic.Bool

	// writeMu serializes appends and guards lamport and head.
	writeMu sync.Mutex
	lamport uint64
	head    logHead
}

// Open opens or creates the store at config.Path.
func Open(ctx context.Context, config Config) (*Store, error) {
	if config.DriveKey.IsZero() {
		return nil, errors.New("kvstore: DriveKey is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:       config.Path,
		PoolSize:   config.PoolSize,
		Migrations: migrations,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	store := &Store{
		pool:     pool,
		logger:   logger,
		clock:    clk,
		driveKey: config.DriveKey,
		notifier: newNotifier(),
	}
	if err := store.load(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("drive store opened",
		"path", config.Path,
		"discovery_key", config.DriveKey.DiscoveryKey().String(),
		"writer", store.writer.ID().Short(),
		"version", store.version.Load(),
	)
	return store, nil
}

// load reads identity and counters, initializing a fresh database.
func (s *Store) load(ctx context.Context) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("kvstore: starting load: %w", err)
	}
	defer endTransaction(&err)

	storedKey, found, err := readMeta(conn, metaDriveKey)
	if err != nil {
		return err
	}
	if !found {
		if err = writeMeta(conn, metaDriveKey, s.driveKey[:]); err != nil {
			return err
		}
	} else if !bytes.Equal(storedKey, s.driveKey[:]) {
		return fmt.Errorf("%w: %s", ErrDriveMismatch, s.pool.Path())
	}

	seed, found, err := readMeta(conn, metaWriterSeed)
	if err != nil {
		return err
	}
	if found {
		s.writer, err = identity.WriterFromSeed(seed)
	} else {
		s.writer, err = identity.NewWriter()
		if err == nil {
			err = writeMeta(conn, metaWriterSeed, s.writer.Seed())
		}
	}
	if err != nil {
		return err
	}

	var count uint64
	err = sqlitex.Execute(conn, "SELECT count(*), coalesce(max(clock), 0) FROM records", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = uint64(stmt.ColumnInt64(0))
			s.lamport = uint64(stmt.ColumnInt64(1))
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("kvstore: reading counters: %w", err)
	}
	s.version.Store(count)

	s.head, err = writerHead(conn, s.writer.ID())
	return err
}

// Key returns the drive key.
func (s *Store) Key() identity.DriveKey { return s.driveKey }

// DiscoveryKey returns the drive's discovery topic.
func (s *Store) DiscoveryKey() identity.DiscoveryKey { return s.driveKey.DiscoveryKey() }

// WriterID returns this install's writer id.
func (s *Store) WriterID() identity.WriterID { return s.writer.ID() }

// Version returns the number of records applied to this store.
func (s *Store) Version() uint64 { return s.version.Load() }

// Put sets key to value. Writing the value a key already holds is a
// no-op: no record is appended and no watcher fires.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.append(ctx, OpPut, key, value)
	return err
}

// Link sets key to a symbolic link pointing at target.
func (s *Store) Link(ctx context.Context, key, target string) error {
	_, err := s.append(ctx, OpLink, key, []byte(target))
	return err
}

// Delete removes key, reporting whether it existed. Deleting an
// absent key appends nothing.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	return s.append(ctx, OpDelete, key, nil)
}

func (s *Store) append(ctx context.Context, op Op, key string, value []byte) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if len(value) > MaxValueSize {
		return false, fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(value))
	}
	if s.closed.Load() {
		return false, ErrClosed
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := readEntry(conn, key)
	if err != nil {
		return false, err
	}

	record := Record{
		Writer:    s.writer.ID(),
		Seq:       s.head.seq + 1,
		Clock:     s.lamport + 1,
		Op:        op,
		Key:       key,
		Previous:  s.head.hash,
		Timestamp: s.clock.Now().UnixMilli(),
	}
	var block *storedBlock
	if op == OpDelete {
		if !current.live() {
			return false, nil
		}
	} else {
		record.Block = HashBlock(value)
		record.Size = int64(len(value))
		if current.live() && current.op == op && current.block == record.Block {
			return false, nil
		}
		compression, data := compressBlock(key, value)
		block = &storedBlock{compression: compression, data: data}
	}

	hash, err := record.sign(s.writer)
	if err != nil {
		return false, err
	}
	encoded, err := codec.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("kvstore: encoding record: %w", err)
	}
	if err := s.applyLocked(conn, record, hash, encoded, block); err != nil {
		return false, err
	}
	return true, nil
}

// applyLocked commits a verified record and publishes it. Caller
// holds writeMu.
func (s *Store) applyLocked(conn *sqlite.Conn, record Record, hash Hash, encoded []byte, block *storedBlock) error {
	viewChanged, err := commitRecord(conn, record, hash, encoded, block)
	if err != nil {
		return err
	}

	s.lamport = max(s.lamport, record.Clock)
	if record.Writer == s.writer.ID() {
		s.head = logHead{seq: record.Seq, hash: hash}
	}
	version := s.version.Add(1)

	s.logger.Debug("record applied",
		"writer", record.Writer.Short(),
		"seq", record.Seq,
		"op", record.Op.String(),
		"key", record.Key,
		"view_changed", viewChanged,
	)
	s.notifier.appended()
	if viewChanged {
		s.notifier.changed(version, record.Key)
	}
	return nil
}

func commitRecord(conn *sqlite.Conn, record Record, hash Hash, encoded []byte, block *storedBlock) (viewChanged bool, err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return false, fmt.Errorf("kvstore: starting append: %w", err)
	}
	defer endTransaction(&err)

	var blockHash any
	if block != nil {
		blockHash = record.Block[:]
		err = sqlitex.Execute(conn,
			"INSERT OR IGNORE INTO blocks (hash, compression, size, data) VALUES (?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{record.Block[:], int64(block.compression), record.Size, block.data}})
		if err != nil {
			return false, fmt.Errorf("kvstore: storing block: %w", err)
		}
	}

	err = sqlitex.Execute(conn,
		"INSERT INTO records (writer, seq, hash, clock, key, block, encoded) VALUES (?, ?, ?, ?, ?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{record.Writer[:], int64(record.Seq), hash[:], int64(record.Clock), record.Key, blockHash, encoded}})
	if err != nil {
		return false, fmt.Errorf("kvstore: storing record: %w", err)
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO entries (key, clock, writer, seq, op, block, size) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			clock = excluded.clock, writer = excluded.writer, seq = excluded.seq,
			op = excluded.op, block = excluded.block, size = excluded.size
		WHERE excluded.clock > entries.clock
			OR (excluded.clock = entries.clock AND excluded.writer > entries.writer)`,
		&sqlitex.ExecOptions{Args: []any{record.Key, int64(record.Clock), record.Writer[:], int64(record.Seq), int64(record.Op), blockHash, record.Size}})
	if err != nil {
		return false, fmt.Errorf("kvstore: updating entry: %w", err)
	}
	return conn.Changes() > 0, nil
}

// Get returns the value of key. A missing or deleted key returns
// found=false and no error.
func (s *Store) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, false, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		SELECT b.compression, e.size, b.data
		FROM entries e JOIN blocks b ON b.hash = e.block
		WHERE e.key = ? AND e.op != ?`,
		&sqlitex.ExecOptions{
			Args: []any{key, int64(OpDelete)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				decoded, decodeErr := decompressBlock(Compression(stmt.ColumnInt(0)), columnBlob(stmt, 2), stmt.ColumnInt64(1))
				if decodeErr != nil {
					return fmt.Errorf("%s: %w", key, decodeErr)
				}
				value, found = decoded, true
				return nil
			},
		})
	if err != nil {
		return nil, false, fmt.Errorf("kvstore: reading %s: %w", key, err)
	}
	return value, found, nil
}

// Stat returns metadata for key without reading its value.
func (s *Store) Stat(ctx context.Context, key string) (info Info, found bool, err error) {
	if s.closed.Load() {
		return Info{}, false, ErrClosed
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Info{}, false, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"SELECT size, op, writer, clock FROM entries WHERE key = ? AND op != ?",
		&sqlitex.ExecOptions{
			Args: []any{key, int64(OpDelete)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				info = Info{Key: key, Size: stmt.ColumnInt64(0), IsLink: Op(stmt.ColumnInt(1)) == OpLink, Clock: uint64(stmt.ColumnInt64(3))}
				stmt.ColumnBytes(2, info.Writer[:])
				found = true
				return nil
			},
		})
	if err != nil {
		return Info{}, false, fmt.Errorf("kvstore: stat %s: %w", key, err)
	}
	return info, found, nil
}

// List returns every visible entry whose key starts with prefix, in
// key order.
func (s *Store) List(ctx context.Context, prefix string) ([]Item, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	query, args := prefixQuery(`
		SELECT e.key, e.op, b.compression, e.size, b.data
		FROM entries e JOIN blocks b ON b.hash = e.block
		WHERE e.op != ?`, "e.key", prefix)

	var items []Item
	err = sqlitex.Execute(conn, query+" ORDER BY e.key", &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			key := stmt.ColumnText(0)
			value, decodeErr := decompressBlock(Compression(stmt.ColumnInt(2)), columnBlob(stmt, 4), stmt.ColumnInt64(3))
			if decodeErr != nil {
				return fmt.Errorf("%s: %w", key, decodeErr)
			}
			items = append(items, Item{Key: key, Value: value, IsLink: Op(stmt.ColumnInt(1)) == OpLink})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: listing %q: %w", prefix, err)
	}
	return items, nil
}

// Keys returns the visible keys under prefix, in order, without
// loading values.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	query, args := prefixQuery("SELECT key FROM entries WHERE op != ?", "key", prefix)
	var keys []string
	err = sqlitex.Execute(conn, query+" ORDER BY key", &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			keys = append(keys, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: listing keys %q: %w", prefix, err)
	}
	return keys, nil
}

// Heads returns the newest sequence number of every known log.
func (s *Store) Heads(ctx context.Context) ([]Head, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var heads []Head
	err = sqlitex.Execute(conn, "SELECT writer, max(seq) FROM records GROUP BY writer ORDER BY writer", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var head Head
			stmt.ColumnBytes(0, head.Writer[:])
			head.Seq = uint64(stmt.ColumnInt64(1))
			heads = append(heads, head)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: reading heads: %w", err)
	}
	return heads, nil
}

// Watch returns a channel of changes to keys under prefix. The
// channel is closed when ctx ends or the store closes.
func (s *Store) Watch(ctx context.Context, prefix string) <-chan Change {
	return s.notifier.watch(ctx, prefix)
}

// Defer holds change notifications until the returned release
// function is called. Nested deferrals release when the outermost
// does. Release is idempotent.
func (s *Store) Defer() (release func()) {
	return s.notifier.hold()
}

// Close closes watchers and the database. Waits for in-flight writes.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.notifier.close()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.pool.Close()
}

type entryState struct {
	found bool
	op    Op
	block Hash
}

func (e entryState) live() bool { return e.found && e.op != OpDelete }

func readEntry(conn *sqlite.Conn, key string) (entryState, error) {
	var state entryState
	err := sqlitex.Execute(conn, "SELECT op, block FROM entries WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			state.found = true
			state.op = Op(stmt.ColumnInt(0))
			if !stmt.ColumnIsNull(1) {
				stmt.ColumnBytes(1, state.block[:])
			}
			return nil
		},
	})
	if err != nil {
		return entryState{}, fmt.Errorf("kvstore: reading entry %s: %w", key, err)
	}
	return state, nil
}

func writerHead(conn *sqlite.Conn, writer identity.WriterID) (logHead, error) {
	var head logHead
	err := sqlitex.Execute(conn, "SELECT seq, hash FROM records WHERE writer = ? ORDER BY seq DESC LIMIT 1", &sqlitex.ExecOptions{
		Args: []any{writer[:]},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			head.seq = uint64(stmt.ColumnInt64(0))
			stmt.ColumnBytes(1, head.hash[:])
			return nil
		},
	})
	if err != nil {
		return logHead{}, fmt.Errorf("kvstore: reading head of %s: %w", writer.Short(), err)
	}
	return head, nil
}

func readMeta(conn *sqlite.Conn, name string) (value []byte, found bool, err error) {
	err = sqlitex.Execute(conn, "SELECT value FROM meta WHERE name = ?", &sqlitex.ExecOptions{
		Args: []any{name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value, found = columnBlob(stmt, 0), true
			return nil
		},
	})
	if err != nil {
		return nil, false, fmt.Errorf("kvstore: reading meta %s: %w", name, err)
	}
	return value, found, nil
}

func writeMeta(conn *sqlite.Conn, name string, value []byte) error {
	err := sqlitex.Execute(conn, "INSERT OR REPLACE INTO meta (name, value) VALUES (?, ?)", &sqlitex.ExecOptions{
		Args: []any{name, value},
	})
	if err != nil {
		return fmt.Errorf("kvstore: writing meta %s: %w", name, err)
	}
	return nil
}

func columnBlob(stmt *sqlite.Stmt, column int) []byte {
	buffer := make([]byte, stmt.ColumnLen(column))
	stmt.ColumnBytes(column, buffer)
	return buffer
}

// prefixQuery appends a key range condition for prefix to base, whose
// only placeholder is the excluded op.
func prefixQuery(base, column, prefix string) (string, []any) {
	args := []any{int64(OpDelete)}
	if prefix == "" {
		return base, args
	}
	query := base + " AND " + column + " >= ?"
	args = append(args, prefix)
	if end, ok := prefixEnd(prefix); ok {
		query += " AND " + column + " < ?"
		args = append(args, end)
	}
	return query, args
}

// prefixEnd returns the smallest string greater than every string with
// the given prefix. ok is false when no such bound exists.
func prefixEnd(prefix string) (string, bool) {
	end := []byte(prefix)
	for index := len(end) - 1; index >= 0; index-- {
		if end[index] < 0xff {
			end[index]++
			return string(end[:index+1]), true
		}
	}
	return "", false
}

func validateKey(key string) error {
	if len(key) < 2 || !strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
