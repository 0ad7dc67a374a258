package sqpack

import (
	"github.com/meigma/sqpack/internal/sqtype"
	"github.com/meigma/sqpack/zipatch"
)

// Sentinel errors re-exported from internal/sqtype.
var (
	// ErrParse is returned when an index or data header is malformed.
	ErrParse = sqtype.ErrParse

	// ErrNotFound is returned when a path does not resolve to an archive entry.
	ErrNotFound = sqtype.ErrNotFound

	// ErrUnsupportedFormat is returned for content types the reader does not handle.
	ErrUnsupportedFormat = sqtype.ErrUnsupportedFormat

	// ErrDecode is returned when block decompression fails or sizes disagree.
	ErrDecode = sqtype.ErrDecode

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = sqtype.ErrSizeOverflow
)

// Errors re-exported from zipatch.
var (
	// ErrTruncatedPatch is returned when a chunk extends past the end of the patch.
	ErrTruncatedPatch = zipatch.ErrTruncatedPatch

	// ErrPatchCorrupt is returned when a chunk fails its checksum.
	ErrPatchCorrupt = zipatch.ErrPatchCorrupt

	// ErrUnknownChunk is returned for an unrecognized operation.
	ErrUnknownChunk = zipatch.ErrUnknownChunk

	// ErrPatchAborted is returned when a patch targets a different archive.
	ErrPatchAborted = zipatch.ErrPatchAborted

	// ErrPatchFailed is returned when writing to the archive fails mid-patch.
	ErrPatchFailed = zipatch.ErrPatchFailed
)
