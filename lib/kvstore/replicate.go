// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/vault/lib/codec"
	"github.com/bureau-foundation/vault/lib/identity"
)

// ProtocolName identifies the replication protocol in the hello.
const ProtocolName = "vault-replicate/1"

// replicationBatch bounds how many records one catch-up query loads.
const replicationBatch = 256

var (
	// ErrCapability is returned when the remote cannot prove it holds
	// the drive key.
	ErrCapability = errors.New("kvstore: peer failed drive key proof")

	// ErrProtocol is returned for malformed replication messages.
	ErrProtocol = errors.New("kvstore: replication protocol violation")
)

// Stream is a duplex connection to one peer, produced by a secure
// channel handshake. Both ends see the same HandshakeHash and opposite
// Initiator values.
type Stream interface {
	io.ReadWriteCloser
	HandshakeHash() []byte
	Initiator() bool
}

const (
	messageHello  = "hello"
	messageAppend = "append"
	messageSynced = "synced"
	messageWant   = "want"
)

type envelope struct {
	Type string           `cbor:"t"`
	Body codec.RawMessage `cbor:"b,omitempty"`
}

type helloMessage struct {
	Protocol   string                `cbor:"protocol"`
	Discovery  identity.DiscoveryKey `cbor:"discovery"`
	Capability [identity.KeySize]byte `cbor:"capability"`
	Heads      []Head                `cbor:"heads"`
}

type appendMessage struct {
	// Record is the record's stored encoding, signature included.
	Record      []byte      `cbor:"r"`
	Compression Compression `cbor:"c"`
	Block       []byte      `cbor:"d,omitempty"`
}

type wantMessage struct {
	Writer identity.WriterID `cbor:"w"`
	From   uint64            `cbor:"f"`
}

// Replicate exchanges logs with the peer on stream until the stream
// fails, ctx ends, or the store closes. Replicate owns stream and
// closes it before returning. A clean hang-up or cancellation returns
// nil; failed proofs and invalid records return an error.
func (s *Store) Replicate(ctx context.Context, stream Stream) error {
	defer stream.Close()
	if s.closed.Load() {
		return ErrClosed
	}

	heads, err := s.Heads(ctx)
	if err != nil {
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := &replication{
		store:    s,
		logger:   s.logger.With("session", fmt.Sprintf("%x", stream.HandshakeHash()[:4])),
		stream:   stream,
		encoder:  codec.NewEncoder(stream),
		cursors:  make(map[identity.WriterID]uint64),
		wanted:   make(map[identity.WriterID]uint64),
		wake:     make(chan struct{}, 1),
		verified: make(chan struct{}),
	}
	hello := helloMessage{
		Protocol:   ProtocolName,
		Discovery:  s.DiscoveryKey(),
		Capability: s.capability(stream, stream.Initiator()),
		Heads:      heads,
	}

	errs := make(chan error, 2)
	go func() { errs <- session.sendLoop(sessionCtx, hello) }()
	go func() { errs <- session.receiveLoop(sessionCtx) }()

	err = <-errs
	cancel()
	stream.Close()
	<-errs

	if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// capability binds the drive key proof to the channel and to the
// sending side, so a peer cannot reflect our own proof back at us.
func (s *Store) capability(stream Stream, initiator bool) [identity.KeySize]byte {
	role := byte('R')
	if initiator {
		role = 'I'
	}
	transcript := append([]byte{role}, stream.HandshakeHash()...)
	return s.driveKey.Capability(transcript)
}

type replication struct {
	store   *Store
	logger  *slog.Logger
	stream  Stream
	encoder *codec.Encoder

	// verified is closed once the remote hello checks out. The sender
	// waits on it before streaming records.
	verified chan struct{}
	wake     chan struct{}

	mu sync.Mutex
	// cursors is the newest seq per writer the remote is known to
	// hold.
	cursors map[identity.WriterID]uint64
	// wanted tracks gap requests already sent, by writer.
	wanted map[identity.WriterID]uint64
	// outbox holds want messages for the sender to write.
	outbox []wantMessage
}

func (r *replication) send(messageType string, body any) error {
	var raw codec.RawMessage
	if body != nil {
		encoded, err := codec.Marshal(body)
		if err != nil {
			return fmt.Errorf("kvstore: encoding %s: %w", messageType, err)
		}
		raw = encoded
	}
	if err := r.encoder.Encode(envelope{Type: messageType, Body: raw}); err != nil {
		return fmt.Errorf("kvstore: sending %s: %w", messageType, err)
	}
	return nil
}

func (r *replication) sendLoop(ctx context.Context, hello helloMessage) error {
	if err := r.send(messageHello, hello); err != nil {
		return err
	}
	select {
	case <-r.verified:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Subscribe before the first catch-up so no append falls between
	// the query and the subscription.
	appends, unsubscribe := r.store.notifier.subscribeAppends()
	defer unsubscribe()

	synced := false
	for {
		if err := r.flushWants(); err != nil {
			return err
		}
		caughtUp, err := r.pushMissing(ctx)
		if err != nil {
			return err
		}
		if !caughtUp {
			continue
		}
		if !synced {
			if err := r.send(messageSynced, nil); err != nil {
				return err
			}
			synced = true
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-appends:
			if !ok {
				return ErrClosed
			}
		case <-r.wake:
		}
	}
}

func (r *replication) flushWants() error {
	r.mu.Lock()
	pending := r.outbox
	r.outbox = nil
	r.mu.Unlock()

	for _, want := range pending {
		r.logger.Debug("requesting missing records", "writer", want.Writer.Short(), "from", want.From)
		if err := r.send(messageWant, want); err != nil {
			return err
		}
	}
	return nil
}

// pushMissing sends at most one batch per log the remote is behind
// on. Reports whether the remote is now caught up on every log.
func (r *replication) pushMissing(ctx context.Context) (bool, error) {
	heads, err := r.store.Heads(ctx)
	if err != nil {
		return false, err
	}

	caughtUp := true
	for _, head := range heads {
		cursor := r.cursor(head.Writer)
		if head.Seq <= cursor {
			continue
		}
		batch, err := r.store.recordsAfter(ctx, head.Writer, cursor, replicationBatch)
		if err != nil {
			return false, err
		}
		for _, message := range batch.messages {
			if err := r.send(messageAppend, message); err != nil {
				return false, err
			}
		}
		r.advance(head.Writer, batch.last)
		if batch.last < head.Seq {
			caughtUp = false
		}
	}
	return caughtUp, nil
}

func (r *replication) receiveLoop(ctx context.Context) error {
	decoder := codec.NewDecoder(r.stream)

	var first envelope
	if err := decoder.Decode(&first); err != nil {
		return err
	}
	if first.Type != messageHello {
		return fmt.Errorf("%w: expected hello, got %q", ErrProtocol, first.Type)
	}
	var hello helloMessage
	if err := codec.Unmarshal(first.Body, &hello); err != nil {
		return fmt.Errorf("%w: hello: %w", ErrProtocol, err)
	}
	if err := r.checkHello(hello); err != nil {
		return err
	}
	r.mu.Lock()
	for _, head := range hello.Heads {
		r.cursors[head.Writer] = head.Seq
	}
	r.mu.Unlock()
	close(r.verified)
	r.logger.Debug("replication peer verified", "remote_logs", len(hello.Heads))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var message envelope
		if err := decoder.Decode(&message); err != nil {
			return err
		}
		switch message.Type {
		case messageAppend:
			var body appendMessage
			if err := codec.Unmarshal(message.Body, &body); err != nil {
				return fmt.Errorf("%w: append: %w", ErrProtocol, err)
			}
			if err := r.receiveAppend(ctx, body); err != nil {
				return err
			}
		case messageWant:
			var body wantMessage
			if err := codec.Unmarshal(message.Body, &body); err != nil {
				return fmt.Errorf("%w: want: %w", ErrProtocol, err)
			}
			r.rewind(body.Writer, body.From)
		case messageSynced:
			r.logger.Debug("replication peer caught up with us")
		default:
			// Unknown message types come from newer peers.
			r.logger.Debug("ignoring replication message", "type", message.Type)
		}
	}
}

func (r *replication) checkHello(hello helloMessage) error {
	if hello.Protocol != ProtocolName {
		return fmt.Errorf("%w: protocol %q", ErrProtocol, hello.Protocol)
	}
	if hello.Discovery != r.store.DiscoveryKey() {
		return fmt.Errorf("%w: peer is replicating a different drive", ErrCapability)
	}
	expected := r.store.capability(r.stream, !r.stream.Initiator())
	if subtle.ConstantTimeCompare(expected[:], hello.Capability[:]) != 1 {
		return ErrCapability
	}
	return nil
}

func (r *replication) receiveAppend(ctx context.Context, message appendMessage) error {
	var record Record
	if err := codec.Unmarshal(message.Record, &record); err != nil {
		return fmt.Errorf("%w: record: %w", ErrProtocol, err)
	}
	// Whatever the remote sends, it holds.
	r.advance(record.Writer, record.Seq)

	outcome, next, err := r.store.applyReplicated(ctx, record, message)
	if err != nil {
		return err
	}
	if outcome != replicaGap {
		r.mu.Lock()
		delete(r.wanted, record.Writer)
		r.mu.Unlock()
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wanted[record.Writer] == next {
		return nil
	}
	r.wanted[record.Writer] = next
	r.outbox = append(r.outbox, wantMessage{Writer: record.Writer, From: next})
	select {
	case r.wake <- struct{}{}:
	default:
	}
	return nil
}

func (r *replication) cursor(writer identity.WriterID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursors[writer]
}

func (r *replication) advance(writer identity.WriterID, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq > r.cursors[writer] {
		r.cursors[writer] = seq
	}
}

// rewind handles a want: the remote is missing records from seq
// from onward.
func (r *replication) rewind(writer identity.WriterID, from uint64) {
	r.mu.Lock()
	if from > 0 && from-1 < r.cursors[writer] {
		r.cursors[writer] = from - 1
	}
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

type replicaOutcome int

const (
	replicaApplied replicaOutcome = iota
	replicaDuplicate
	replicaGap
)

// applyReplicated verifies and applies a record received from a peer.
// For a gap, next is the first seq this store lacks for the writer.
func (s *Store) applyReplicated(ctx context.Context, record Record, message appendMessage) (outcome replicaOutcome, next uint64, err error) {
	if s.closed.Load() {
		return 0, 0, ErrClosed
	}
	hash, err := record.verify()
	if err != nil {
		return 0, 0, err
	}
	if err := validateKey(record.Key); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if record.Op != OpPut && record.Op != OpDelete && record.Op != OpLink {
		return 0, 0, fmt.Errorf("%w: unknown op %d", ErrProtocol, record.Op)
	}
	if record.Size < 0 || record.Size > MaxValueSize {
		return 0, 0, fmt.Errorf("%w: block size %d out of range", ErrProtocol, record.Size)
	}

	var block *storedBlock
	if record.Op != OpDelete {
		plain, err := decompressBlock(message.Compression, message.Block, record.Size)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %w", ErrBadBlock, err)
		}
		if HashBlock(plain) != record.Block {
			return 0, 0, fmt.Errorf("%w: %s seq %d", ErrBadBlock, record.Writer.Short(), record.Seq)
		}
		block = &storedBlock{compression: message.Compression, data: message.Block}
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer s.pool.Put(conn)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	head, err := writerHead(conn, record.Writer)
	if err != nil {
		return 0, 0, err
	}
	switch {
	case record.Seq <= head.seq:
		return replicaDuplicate, 0, nil
	case record.Seq > head.seq+1:
		return replicaGap, head.seq + 1, nil
	case record.Previous != head.hash:
		return 0, 0, fmt.Errorf("%w: %s seq %d", ErrBrokenChain, record.Writer.Short(), record.Seq)
	}

	if err := s.applyLocked(conn, record, hash, message.Record, block); err != nil {
		return 0, 0, err
	}
	return replicaApplied, 0, nil
}

type recordBatch struct {
	messages []appendMessage
	last     uint64
}

// recordsAfter loads up to limit records of writer with seq > after.
func (s *Store) recordsAfter(ctx context.Context, writer identity.WriterID, after uint64, limit int) (recordBatch, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return recordBatch{}, err
	}
	defer s.pool.Put(conn)

	batch := recordBatch{last: after}
	err = sqlitex.Execute(conn, `
		SELECT r.seq, r.encoded, b.compression, b.data
		FROM records r LEFT JOIN blocks b ON b.hash = r.block
		WHERE r.writer = ? AND r.seq > ?
		ORDER BY r.seq LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{writer[:], int64(after), int64(limit)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				message := appendMessage{Record: columnBlob(stmt, 1)}
				if !stmt.ColumnIsNull(2) {
					message.Compression = Compression(stmt.ColumnInt(2))
					message.Block = columnBlob(stmt, 3)
				}
				batch.messages = append(batch.messages, message)
				batch.last = uint64(stmt.ColumnInt64(0))
				return nil
			},
		})
	if err != nil {
		return recordBatch{}, fmt.Errorf("kvstore: reading log of %s: %w", writer.Short(), err)
	}
	return batch, nil
}
