// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a block is stored. Values are persisted
// and sent to peers.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// minimumCompressibleSize is the smallest value worth compressing.
const minimumCompressibleSize = 64

// precompressedExtensions are formats whose payload is already
// entropy-coded.
var precompressedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".heic": true, ".heif": true, ".pdf": true, ".zip": true, ".gz": true,
	".zst": true, ".xz": true, ".bz2": true, ".7z": true, ".mp3": true,
	".mp4": true, ".mov": true, ".mkv": true, ".webm": true, ".avif": true,
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("kvstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("kvstore: zstd decoder initialization failed: " + err.Error())
	}
}

// compressBlock picks an encoding for the value stored under key and
// returns the stored form. Falls back to CompressionNone whenever the
// chosen codec does not shrink the data.
func compressBlock(key string, data []byte) (Compression, []byte) {
	if len(data) < minimumCompressibleSize || precompressedExtensions[strings.ToLower(path.Ext(key))] {
		return CompressionNone, data
	}

	if utf8.Valid(data) {
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) < len(data) {
			return CompressionZstd, compressed
		}
		return CompressionNone, data
	}

	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil || written == 0 || written >= len(data) {
		return CompressionNone, data
	}
	return CompressionLZ4, destination[:written]
}

// decompressBlock reverses compressBlock and checks the result length.
func decompressBlock(compression Compression, stored []byte, size int64) ([]byte, error) {
	if size < 0 || size > MaxValueSize {
		return nil, fmt.Errorf("kvstore: block size %d out of range", size)
	}
	switch compression {
	case CompressionNone:
		if int64(len(stored)) != size {
			return nil, fmt.Errorf("kvstore: stored block is %d bytes, record says %d", len(stored), size)
		}
		return stored, nil

	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(stored, destination)
		if err != nil {
			return nil, fmt.Errorf("kvstore: lz4 decompress: %w", err)
		}
		if int64(read) != size {
			return nil, fmt.Errorf("kvstore: lz4 produced %d bytes, record says %d", read, size)
		}
		return destination, nil

	case CompressionZstd:
		decoded, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("kvstore: zstd decompress: %w", err)
		}
		if int64(len(decoded)) != size {
			return nil, fmt.Errorf("kvstore: zstd produced %d bytes, record says %d", len(decoded), size)
		}
		return decoded, nil

	default:
		return nil, fmt.Errorf("kvstore: unknown block compression %d", compression)
	}
}
