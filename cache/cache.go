// Package cache defines storage for files extracted from an archive.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"io/fs"
)

// Cache stores reconstructed file content.
//
// Keys identify a file record by the data file it lives in and its offset.
// The data file identity includes its size and modification time, so a
// patch that rewrites a data file makes earlier keys unreachable. Caches
// that also implement SourceDropper let the archive reclaim that space.
//
// Implementations should handle their own size limits and eviction policies.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns an fs.File for reading cached content.
	// Returns nil, false if content is not cached.
	// Each call returns a new file handle (safe for concurrent use).
	Get(key []byte) (fs.File, bool)

	// Put stores content by reading from the provided fs.File.
	// The cache reads the file to completion; caller still owns/closes the file.
	Put(key []byte, f fs.File) error

	// Delete removes cached content for the given key.
	// Implementations should treat missing entries as a no-op.
	Delete(key []byte) error

	// MaxBytes returns the configured cache size limit (0 = unlimited).
	MaxBytes() int64

	// SizeBytes returns the current cache size in bytes.
	SizeBytes() int64

	// Prune removes cached entries until the cache is at or below targetBytes.
	// Returns the number of bytes freed.
	Prune(targetBytes int64) (int64, error)
}

const (
	// SourceKeySize is the length of the data file part of a key.
	SourceKeySize = 16
	// KeySize is the length of keys returned by Key.
	KeySize = SourceKeySize + 8
)

// SourceKey returns the prefix shared by every key of one data file.
func SourceKey(sourceID string) []byte {
	sum := sha256.Sum256([]byte(sourceID))
	return sum[:SourceKeySize]
}

// Key derives the cache key of the record at offset in the data file
// identified by sourceID: the source key followed by the big-endian offset.
func Key(sourceID string, offset uint64) []byte {
	return binary.BigEndian.AppendUint64(SourceKey(sourceID), offset)
}

// SplitKey returns the source and offset parts of a key made by Key.
func SplitKey(key []byte) (source []byte, offset uint64, ok bool) {
	if len(key) != KeySize {
		return nil, 0, false
	}
	return key[:SourceKeySize], binary.BigEndian.Uint64(key[SourceKeySize:]), true
}

// SourceDropper is implemented by caches that can forget every entry of
// one data file at once. The archive uses it to discard entries of data
// files a patch rewrote.
type SourceDropper interface {
	// DropSource removes every entry whose key starts with source and
	// returns the bytes freed.
	DropSource(source []byte) (int64, error)
}
