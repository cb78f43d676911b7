// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest naming a block or a record.
type Hash [32]byte

type domainKey [32]byte

// Domain keys are the ASCII domain names zero-padded to 32 bytes.
// Changing either invalidates every stored hash.
var (
	blockDomainKey = domainKey{
		'v', 'a', 'u', 'l', 't', '.', 'k', 'v', 's', 't', 'o', 'r', 'e', '.',
		'b', 'l', 'o', 'c', 'k', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	recordDomainKey = domainKey{
		'v', 'a', 'u', 'l', 't', '.', 'k', 'v', 's', 't', 'o', 'r', 'e', '.',
		'r', 'e', 'c', 'o', 'r', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// HashBlock returns the content address of a value.
func HashBlock(data []byte) Hash {
	return keyedHash(blockDomainKey, data)
}

func keyedHash(key domainKey, data []byte) Hash {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("kvstore: blake3.NewKeyed rejected a 32-byte key: " + err.Error())
	}
	hasher.Write(data)
	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result
}

// String returns the hex form.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Short returns the first twelve hex characters.
func (h Hash) Short() string { return h.String()[:12] }

// IsZero reports whether h is unset.
func (h Hash) IsZero() bool { return h == Hash{} }
