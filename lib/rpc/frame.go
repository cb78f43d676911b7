// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/vault/lib/codec"
)

// MaxFrameSize bounds an encoded frame. Uploads travel base64-encoded
// inside a single frame, so this is also the practical upload limit.
const MaxFrameSize = 64 << 20

var (
	// ErrMalformed is returned for frames or payloads that cannot be
	// decoded. The frame has been consumed and the stream stays usable.
	ErrMalformed = errors.New("rpc: malformed frame")

	// ErrFrameTooLarge is returned for a length prefix over
	// MaxFrameSize. The stream cannot be resynchronized.
	ErrFrameTooLarge = errors.New("rpc: frame too large")
)

// FrameType distinguishes requests, responses, and events.
type FrameType string

const (
	TypeRequest  FrameType = "request"
	TypeResponse FrameType = "response"
	TypeEvent    FrameType = "event"
)

// Frame is one message on the channel.
type Frame struct {
	Type FrameType `cbor:"type"`

	// ID correlates a response with its request. Events carry zero.
	ID uint64 `cbor:"id,omitempty"`

	Command Command `cbor:"command"`
	Payload []byte  `cbor:"payload,omitempty"`
}

// WriteFrame encodes frame with its length prefix in a single write.
func WriteFrame(w io.Writer, frame Frame) error {
	data, err := codec.Marshal(frame)
	if err != nil {
		return fmt.Errorf("rpc: encoding frame: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %s frame of %d bytes", ErrFrameTooLarge, frame.Command, len(data))
	}
	buffer := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint32(buffer, uint32(len(data)))
	_, err = w.Write(append(buffer, data...))
	return err
}

// ReadFrame reads the next frame.
func ReadFrame(r io.Reader) (Frame, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Frame{}, err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxFrameSize {
		return Frame{}, fmt.Errorf("%w: length %d exceeds %d", ErrFrameTooLarge, size, MaxFrameSize)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	var frame Frame
	if err := codec.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch frame.Type {
	case TypeRequest, TypeResponse, TypeEvent:
	default:
		return Frame{}, fmt.Errorf("%w: frame type %q", ErrMalformed, frame.Type)
	}
	if !frame.Command.Valid() {
		return Frame{}, fmt.Errorf("%w: %s", ErrMalformed, frame.Command)
	}
	return frame, nil
}
