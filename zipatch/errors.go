package zipatch

import (
	"errors"
	"fmt"
)

// Sentinel errors for patch parsing and application.
var (
	// ErrTruncatedPatch is returned when a chunk extends past the end of the
	// stream or the stream ends without an EOF_ chunk.
	ErrTruncatedPatch = errors.New("zipatch: truncated patch")

	// ErrUnknownChunk is returned for an SQPK operation whose effect cannot
	// be determined.
	ErrUnknownChunk = errors.New("zipatch: unknown operation")

	// ErrPatchCorrupt is returned when a chunk fails its checksum or its
	// payload is malformed. The chunk is never applied.
	ErrPatchCorrupt = errors.New("zipatch: corrupt patch")

	// ErrPatchAborted is returned when the patch targets a different archive.
	// No file is touched by the aborting chunk or any later one.
	ErrPatchAborted = errors.New("zipatch: patch targets a different archive")

	// ErrPatchFailed is returned when a file operation fails mid-patch.
	ErrPatchFailed = errors.New("zipatch: patch application failed")
)

// ApplyError reports where a patch stopped.
type ApplyError struct {
	// Chunk is the index of the chunk that failed.
	Chunk int
	// Offset is the byte offset of that chunk in the stream.
	Offset int64
	// Magic is the failed chunk's magic, zero if the chunk could not be framed.
	Magic Magic
	// LastApplied is the index of the last chunk fully applied, or -1.
	LastApplied int
	Err         error
}

func (e *ApplyError) Error() string {
	if e.Magic == (Magic{}) {
		return fmt.Sprintf("zipatch: chunk %d at %#x (last applied %d): %v", e.Chunk, e.Offset, e.LastApplied, e.Err)
	}
	return fmt.Sprintf("zipatch: chunk %d %s at %#x (last applied %d): %v", e.Chunk, e.Magic, e.Offset, e.LastApplied, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}
