// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/vault/lib/codec"
	"github.com/bureau-foundation/vault/lib/identity"
)

// Op is the kind of mutation a record makes.
type Op uint8

const (
	// OpPut sets a key to the record's block.
	OpPut Op = 1
	// OpDelete removes a key.
	OpDelete Op = 2
	// OpLink sets a key to a symbolic link whose target is the
	// record's block.
	OpLink Op = 3
)

func (op Op) String() string {
	switch op {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpLink:
		return "link"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// Record is one entry in a writer's log. Records are encoded with the
// deterministic CBOR encoder; the record hash covers every field
// except Signature.
type Record struct {
	Writer    identity.WriterID `cbor:"1,keyasint"`
	Seq       uint64            `cbor:"2,keyasint"`
	Clock     uint64            `cbor:"3,keyasint"`
	Op        Op                `cbor:"4,keyasint"`
	Key       string            `cbor:"5,keyasint"`
	Block     Hash              `cbor:"6,keyasint"`
	Size      int64             `cbor:"7,keyasint"`
	Previous  Hash              `cbor:"8,keyasint"`
	Timestamp int64             `cbor:"9,keyasint"`
	Signature []byte            `cbor:"10,keyasint,omitempty"`
}

// Errors returned when a replicated record fails verification.
var (
	ErrBadSignature = errors.New("kvstore: record signature does not verify")
	ErrBrokenChain  = errors.New("kvstore: record does not extend the writer's log")
	ErrBadBlock     = errors.New("kvstore: block does not match record")
)

// Hash returns the record's identity: the keyed hash of its encoding
// without the signature.
func (r Record) Hash() (Hash, error) {
	unsigned := r
	unsigned.Signature = nil
	encoded, err := codec.Marshal(unsigned)
	if err != nil {
		return Hash{}, fmt.Errorf("kvstore: encoding record: %w", err)
	}
	return keyedHash(recordDomainKey, encoded), nil
}

// sign fills in Signature and returns the record hash.
func (r *Record) sign(writer *identity.Writer) (Hash, error) {
	hash, err := r.Hash()
	if err != nil {
		return Hash{}, err
	}
	r.Signature = writer.Sign(hash[:])
	return hash, nil
}

// verify checks the signature and returns the record hash.
func (r Record) verify() (Hash, error) {
	hash, err := r.Hash()
	if err != nil {
		return Hash{}, err
	}
	if !r.Writer.Verify(hash[:], r.Signature) {
		return Hash{}, fmt.Errorf("%w: %s seq %d", ErrBadSignature, r.Writer.Short(), r.Seq)
	}
	return hash, nil
}

// wins reports whether r supersedes an entry written at (clock,
// writer).
func (r Record) wins(clock uint64, writer identity.WriterID) bool {
	if r.Clock != clock {
		return r.Clock > clock
	}
	return r.Writer.Compare(writer) > 0
}
