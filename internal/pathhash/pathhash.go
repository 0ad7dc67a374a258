// Package pathhash computes the hashes SqPack index tables are keyed by.
//
// Both hashes use JAMCRC: the reflected CRC-32 (polynomial 0xEDB88320,
// initial value 0xFFFFFFFF) without the final inversion. Paths are
// lower-cased and use forward slashes before hashing, so lookups are
// insensitive to case and separator style.
package pathhash

import (
	"hash/crc32"
	"strings"
)

// Checksum returns the JAMCRC of b.
func Checksum(b []byte) uint32 {
	return ^crc32.ChecksumIEEE(b)
}

// Normalize lower-cases path, converts backslashes to slashes and trims
// leading slashes.
func Normalize(path string) string {
	path = strings.ReplaceAll(path, `\`, "/")
	path = strings.TrimLeft(path, "/")
	return strings.ToLower(path)
}

// Index1 returns the composite hash used by .index tables: the directory
// hash in the high 32 bits and the file name hash in the low 32 bits.
// A path without a directory hashes whole into the low bits.
func Index1(path string) uint64 {
	p := Normalize(path)
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return uint64(Checksum([]byte(p)))
	}
	dir := Checksum([]byte(p[:i]))
	file := Checksum([]byte(p[i+1:]))
	return uint64(dir)<<32 | uint64(file)
}

// Index2 returns the full-path hash used by .index2 tables.
func Index2(path string) uint32 {
	return Checksum([]byte(Normalize(path)))
}
