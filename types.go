package sqpack

import (
	"fmt"

	"github.com/meigma/sqpack/internal/index"
	"github.com/meigma/sqpack/internal/sqtype"
)

// Re-export types from internal/sqtype for public API.
type (
	// Platform identifies the console or OS an archive was built for.
	Platform = sqtype.Platform

	// Category is the top-level asset class of an archive path.
	Category = sqtype.Category

	// ContentType identifies how a file's blocks are laid out.
	ContentType = sqtype.ContentType
)

// Re-export platform constants.
const (
	PlatformWin32 = sqtype.PlatformWin32
	PlatformPS3   = sqtype.PlatformPS3
	PlatformPS4   = sqtype.PlatformPS4
	PlatformPS5   = sqtype.PlatformPS5
	PlatformXbox  = sqtype.PlatformXbox
)

// ParsePlatform resolves a platform from its file suffix ("win32", "ps4", ...).
var ParsePlatform = sqtype.ParsePlatform

// Location is where a file record lives.
type Location struct {
	// Segment is the CCEEKK stem of the segment files.
	Segment string
	// Expansion is the repository the segment belongs to.
	Expansion uint8
	// DataFile is the N of the .datN file.
	DataFile uint8
	// Offset is the byte offset of the record header.
	Offset uint64
	// Synonym is set when the hash collides with another path.
	Synonym bool
}

func newLocation(seg *segment, loc index.Location) Location {
	return Location{
		Segment:   seg.id.String(),
		Expansion: seg.id.Expansion,
		DataFile:  loc.DataFileID(),
		Offset:    loc.Offset(),
		Synonym:   loc.Synonym(),
	}
}

// String formats the location as CCEEKK.datN:offset.
func (l Location) String() string {
	return fmt.Sprintf("%s.dat%d:%#x", l.Segment, l.DataFile, l.Offset)
}

// Repository describes one expansion folder.
type Repository struct {
	Expansion uint8
	Name      string
	// Version is the content of the repository's version file, if any.
	Version  string
	Segments int
}

// IndexEntry is one row of an index table.
type IndexEntry struct {
	Segment  string
	Table    string // "index" or "index2"
	Hash     uint64
	Location Location
}
