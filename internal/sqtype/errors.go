package sqtype

import "errors"

// Sentinel errors for archive operations.
var (
	// ErrParse is returned when an index or data header is malformed.
	ErrParse = errors.New("sqpack: malformed archive structure")

	// ErrNotFound is returned when a path does not resolve to an archive entry.
	ErrNotFound = errors.New("sqpack: file not found")

	// ErrUnsupportedFormat is returned for content types or layouts the reader does not handle.
	ErrUnsupportedFormat = errors.New("sqpack: unsupported format")

	// ErrDecode is returned when block decompression fails or sizes disagree.
	ErrDecode = errors.New("sqpack: block decode failed")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("sqpack: size overflow")
)
