// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// secureMagic prefixes the handshake message so a peer speaking some
// other protocol fails fast instead of deriving garbage keys.
var secureMagic = [4]byte{'v', 'l', 't', '1'}

// maxFramePayload is the largest plaintext carried by a single frame.
// Larger writes are split.
const maxFramePayload = 64 << 10

// frameHeaderSize is the big-endian ciphertext length prefix.
const frameHeaderSize = 4

// secureKeyInfo is the HKDF info string for traffic key derivation.
const secureKeyInfo = "vault secure channel v1"

// transcriptKey is the blake3 domain key for the handshake transcript,
// zero-padded to 32 bytes.
var transcriptKey = func() []byte {
	key := make([]byte, 32)
	copy(key, "vault.transport.handshake")
	return key
}()

// ErrHandshake is returned when the secure channel handshake fails
// because the peer sent something other than a valid handshake message.
var ErrHandshake = errors.New("transport: secure handshake failed")

// ErrFrame is returned by Read when a frame fails authentication or
// exceeds the size limit. The connection is unusable afterwards.
var ErrFrame = errors.New("transport: invalid secure frame")

// Compile-time interface check.
var _ net.Conn = (*SecureConn)(nil)

// SecureConn is an encrypted, authenticated stream over a raw
// connection. Both sides contribute an ephemeral X25519 key; traffic
// keys come from HKDF over the shared secret salted with the
// handshake transcript, and every frame is sealed with
// XChaCha20-Poly1305 under a per-direction counter nonce.
//
// The handshake is unauthenticated: it proves nothing about who the
// peer is. Callers bind identity or key possession to the channel by
// proving knowledge of a secret over [SecureConn.HandshakeHash], which
// differs between the two ends if anything sat in the middle.
type SecureConn struct {
	conn       net.Conn
	initiator  bool
	transcript [32]byte

	writeMu     sync.Mutex
	send        cipher.AEAD
	sendCounter uint64

	readMu      sync.Mutex
	receive     cipher.AEAD
	recvCounter uint64
	pending     []byte
	readErr     error
}

// Secure runs the handshake over conn and returns the encrypted
// stream. Exactly one end must pass initiator=true; the dialer is the
// initiator by convention. On failure conn is left open and the
// caller closes it.
func Secure(ctx context.Context, conn net.Conn, initiator bool) (*SecureConn, error) {
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer func() {
		stop()
		conn.SetDeadline(time.Time{})
	}()

	private := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(private); err != nil {
		return nil, fmt.Errorf("generating ephemeral key: %w", err)
	}
	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("deriving ephemeral public key: %w", err)
	}

	hello := make([]byte, 0, len(secureMagic)+len(public))
	hello = append(hello, secureMagic[:]...)
	hello = append(hello, public...)

	// Both ends write first. On synchronous pipes a Write blocks until
	// the peer reads, so the write runs concurrently with the read.
	writeErrors := make(chan error, 1)
	go func() {
		_, err := conn.Write(hello)
		writeErrors <- err
	}()

	remote := make([]byte, len(hello))
	if _, err := io.ReadFull(conn, remote); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading handshake: %w", err)
	}
	if err := <-writeErrors; err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("sending handshake: %w", err)
	}
	if [4]byte(remote[:4]) != secureMagic {
		return nil, fmt.Errorf("%w: unexpected magic %x", ErrHandshake, remote[:4])
	}
	remotePublic := remote[4:]

	shared, err := curve25519.X25519(private, remotePublic)
	if err != nil {
		// Low-order point: the peer tried to force a known secret.
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	initiatorPublic, responderPublic := public, remotePublic
	if !initiator {
		initiatorPublic, responderPublic = remotePublic, public
	}
	hasher, err := blake3.NewKeyed(transcriptKey)
	if err != nil {
		return nil, fmt.Errorf("creating transcript hasher: %w", err)
	}
	hasher.Write(initiatorPublic)
	hasher.Write(responderPublic)

	secure := &SecureConn{conn: conn, initiator: initiator}
	copy(secure.transcript[:], hasher.Sum(nil))

	keys := make([]byte, 2*chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, secure.transcript[:], []byte(secureKeyInfo)), keys); err != nil {
		return nil, fmt.Errorf("deriving traffic keys: %w", err)
	}
	outbound, inbound := keys[:chacha20poly1305.KeySize], keys[chacha20poly1305.KeySize:]
	if !initiator {
		outbound, inbound = inbound, outbound
	}
	if secure.send, err = chacha20poly1305.NewX(outbound); err != nil {
		return nil, fmt.Errorf("creating send cipher: %w", err)
	}
	if secure.receive, err = chacha20poly1305.NewX(inbound); err != nil {
		return nil, fmt.Errorf("creating receive cipher: %w", err)
	}
	return secure, nil
}

// HandshakeHash returns the transcript hash of the handshake. Both
// ends of an untampered channel hold the same value.
func (c *SecureConn) HandshakeHash() []byte {
	hash := c.transcript
	return hash[:]
}

// Initiator reports whether this end initiated the handshake.
func (c *SecureConn) Initiator() bool {
	return c.initiator
}

// Read decrypts the next frame into p. A partially consumed frame is
// served from the internal buffer first.
func (c *SecureConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for len(c.pending) == 0 {
		if c.readErr != nil {
			return 0, c.readErr
		}
		if err := c.readFrameLocked(); err != nil {
			c.readErr = err
			return 0, err
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *SecureConn) readFrameLocked() error {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length < uint32(c.receive.Overhead()) || length > uint32(maxFramePayload+c.receive.Overhead()) {
		return fmt.Errorf("%w: length %d", ErrFrame, length)
	}
	sealed := make([]byte, length)
	if _, err := io.ReadFull(c.conn, sealed); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	plain, err := c.receive.Open(sealed[:0], frameNonce(c.recvCounter), sealed, header[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFrame, err)
	}
	c.recvCounter++
	c.pending = plain
	return nil
}

// Write seals p into one or more frames. Each frame goes out in a
// single Write on the underlying connection.
func (c *SecureConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	written := 0
	for written < len(p) {
		chunk := p[written:min(len(p), written+maxFramePayload)]
		frame := make([]byte, frameHeaderSize, frameHeaderSize+len(chunk)+c.send.Overhead())
		binary.BigEndian.PutUint32(frame, uint32(len(chunk)+c.send.Overhead()))
		frame = c.send.Seal(frame, frameNonce(c.sendCounter), chunk, frame[:frameHeaderSize])
		if _, err := c.conn.Write(frame); err != nil {
			return written, err
		}
		c.sendCounter++
		written += len(chunk)
	}
	return written, nil
}

// frameNonce encodes the frame counter into the low eight bytes of an
// XChaCha20 nonce.
func frameNonce(counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	binary.BigEndian.PutUint64(nonce[len(nonce)-8:], counter)
	return nonce
}

// Close closes the underlying connection.
func (c *SecureConn) Close() error { return c.conn.Close() }

// LocalAddr returns the underlying connection's local address.
func (c *SecureConn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the underlying connection's remote address.
func (c *SecureConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *SecureConn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *SecureConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *SecureConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }
