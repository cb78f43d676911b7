// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package swarm

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bureau-foundation/vault/lib/codec"
	"github.com/bureau-foundation/vault/lib/identity"
	"github.com/bureau-foundation/vault/transport"
)

// headerTimeout bounds the header exchange that follows the secure
// handshake.
const headerTimeout = 10 * time.Second

// maxHeaderSize bounds the encoded header a peer may send.
const maxHeaderSize = 1024

// headerDomain prefixes every signed header message.
const headerDomain = "vault.swarm.header\x00"

// Role bytes bind a header signature to one side of the channel, so a
// peer cannot reflect the other side's header back at it.
const (
	roleInitiator byte = 'I'
	roleResponder byte = 'R'
)

var (
	// ErrUnknownTopic is returned to a responder whose swarm has not
	// joined the topic the initiator asked for.
	ErrUnknownTopic = errors.New("swarm: topic not joined")

	// ErrPeerAuth is returned when a header signature does not verify.
	ErrPeerAuth = errors.New("swarm: peer failed authentication")
)

// header is the first message inside a secure channel. The initiator
// names the topic; the responder echoes it. Signature covers the role,
// the channel's handshake hash, and the topic, proving the sender holds
// the private key for Peer on this very channel.
type header struct {
	Peer      PeerID                `cbor:"1,keyasint"`
	Topic     identity.DiscoveryKey `cbor:"2,keyasint"`
	Signature []byte                `cbor:"3,keyasint"`
}

func headerMessage(role byte, handshake []byte, topic identity.DiscoveryKey) []byte {
	message := make([]byte, 0, len(headerDomain)+1+len(handshake)+len(topic))
	message = append(message, headerDomain...)
	message = append(message, role)
	message = append(message, handshake...)
	message = append(message, topic[:]...)
	return message
}

func signHeader(key ed25519.PrivateKey, role byte, conn *transport.SecureConn, topic identity.DiscoveryKey) header {
	var self PeerID
	copy(self[:], key.Public().(ed25519.PublicKey))
	return header{
		Peer:      self,
		Topic:     topic,
		Signature: ed25519.Sign(key, headerMessage(role, conn.HandshakeHash(), topic)),
	}
}

func verifyHeader(received header, role byte, conn *transport.SecureConn) error {
	message := headerMessage(role, conn.HandshakeHash(), received.Topic)
	if len(received.Signature) != ed25519.SignatureSize ||
		!ed25519.Verify(ed25519.PublicKey(received.Peer[:]), message, received.Signature) {
		return fmt.Errorf("%w: %s", ErrPeerAuth, received.Peer.Short())
	}
	return nil
}

// initiateHeader sends our header for topic and verifies the echo.
func initiateHeader(conn *transport.SecureConn, key ed25519.PrivateKey, topic identity.DiscoveryKey) (PeerID, error) {
	conn.SetDeadline(time.Now().Add(headerTimeout))
	defer conn.SetDeadline(time.Time{})

	if err := writeHeader(conn, signHeader(key, roleInitiator, conn, topic)); err != nil {
		return PeerID{}, fmt.Errorf("sending header: %w", err)
	}
	remote, err := readHeader(conn)
	if err != nil {
		return PeerID{}, fmt.Errorf("reading header: %w", err)
	}
	if err := verifyHeader(remote, roleResponder, conn); err != nil {
		return PeerID{}, err
	}
	if remote.Topic != topic {
		return PeerID{}, fmt.Errorf("swarm: peer answered topic %s, asked for %s", remote.Topic, topic)
	}
	return remote.Peer, nil
}

// respondHeader reads the initiator's header, checks the topic with
// joined, and answers.
func respondHeader(conn *transport.SecureConn, key ed25519.PrivateKey, joined func(identity.DiscoveryKey) bool) (PeerID, identity.DiscoveryKey, error) {
	conn.SetDeadline(time.Now().Add(headerTimeout))
	defer conn.SetDeadline(time.Time{})

	remote, err := readHeader(conn)
	if err != nil {
		return PeerID{}, identity.DiscoveryKey{}, fmt.Errorf("reading header: %w", err)
	}
	if err := verifyHeader(remote, roleInitiator, conn); err != nil {
		return PeerID{}, identity.DiscoveryKey{}, err
	}
	if !joined(remote.Topic) {
		return PeerID{}, identity.DiscoveryKey{}, fmt.Errorf("%w: %s", ErrUnknownTopic, remote.Topic)
	}
	if err := writeHeader(conn, signHeader(key, roleResponder, conn, remote.Topic)); err != nil {
		return PeerID{}, identity.DiscoveryKey{}, fmt.Errorf("sending header: %w", err)
	}
	return remote.Peer, remote.Topic, nil
}

// writeHeader frames the header with a length prefix. The replication
// stream that follows uses its own decoder, so the header must not be
// read through a buffering decoder.
func writeHeader(w io.Writer, h header) error {
	data, err := codec.Marshal(h)
	if err != nil {
		return err
	}
	frame := make([]byte, 2, 2+len(data))
	binary.BigEndian.PutUint16(frame, uint16(len(data)))
	_, err = w.Write(append(frame, data...))
	return err
}

func readHeader(r io.Reader) (header, error) {
	var prefix [2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return header{}, err
	}
	size := binary.BigEndian.Uint16(prefix[:])
	if size == 0 || size > maxHeaderSize {
		return header{}, fmt.Errorf("swarm: header size %d out of range", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return header{}, err
	}
	var h header
	if err := codec.Unmarshal(data, &h); err != nil {
		return header{}, fmt.Errorf("decoding header: %w", err)
	}
	return h, nil
}
