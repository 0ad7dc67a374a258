// Package layout names the files of a SqPack tree.
//
// A game root holds sqpack/<repository>/ folders, one per expansion
// ("ffxiv" for the base game, "exN" for expansion N). Each folder holds
// segment files named CCEEKK.<platform>.<ext> where CC is the category,
// EE the expansion and KK the chunk, all in hex.
package layout

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/meigma/sqpack/internal/sqtype"
)

const (
	// SqpackDir is the folder under the game root holding repositories.
	SqpackDir = "sqpack"

	// BaseRepository is the folder name of expansion 0.
	BaseRepository = "ffxiv"

	// GameVersionFile is the version file of the base game, relative to the root.
	GameVersionFile = "ffxivgame.ver"

	// MaxDataFiles is the number of dat files a segment can use.
	MaxDataFiles = 8
)

// RepositoryName returns the folder name for an expansion.
func RepositoryName(expansion uint8) string {
	if expansion == 0 {
		return BaseRepository
	}
	return "ex" + strconv.Itoa(int(expansion))
}

// ParseRepositoryName returns the expansion number for a folder name.
func ParseRepositoryName(name string) (uint8, bool) {
	if name == BaseRepository {
		return 0, true
	}
	rest, ok := strings.CutPrefix(name, "ex")
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 8)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint8(n), true
}

// RepositoryDir returns the slash-separated repository folder relative to the root.
func RepositoryDir(expansion uint8) string {
	return path.Join(SqpackDir, RepositoryName(expansion))
}

// VersionFile returns the slash-separated version file path for an expansion.
func VersionFile(expansion uint8) string {
	if expansion == 0 {
		return GameVersionFile
	}
	name := RepositoryName(expansion)
	return path.Join(SqpackDir, name, name+".ver")
}

// Segment identifies one index/data file family.
type Segment struct {
	Category  sqtype.Category
	Expansion uint8
	Chunk     uint8
}

// SegmentFromIDs builds a segment from the patch format's main and sub ids.
// The sub id carries the expansion in its high byte and the chunk in its low byte.
func SegmentFromIDs(main, sub uint16) Segment {
	return Segment{
		Category:  sqtype.Category(main), //nolint:gosec // categories are one byte
		Expansion: uint8(sub >> 8),
		Chunk:     uint8(sub), //nolint:gosec // low byte
	}
}

// SubID returns the patch format's sub id for the segment.
func (s Segment) SubID() uint16 {
	return uint16(s.Expansion)<<8 | uint16(s.Chunk)
}

// String returns the CCEEKK file name stem.
func (s Segment) String() string {
	return fmt.Sprintf("%02x%02x%02x", uint8(s.Category), s.Expansion, s.Chunk)
}

// IndexFile returns the slash-separated path of the segment's index file.
// ext is "index" or "index2".
func IndexFile(s Segment, p sqtype.Platform, ext string) string {
	return path.Join(RepositoryDir(s.Expansion), fmt.Sprintf("%s.%s.%s", s, p, ext))
}

// DatFile returns the slash-separated path of the segment's nth data file.
func DatFile(s Segment, p sqtype.Platform, n uint32) string {
	return path.Join(RepositoryDir(s.Expansion), fmt.Sprintf("%s.%s.dat%d", s, p, n))
}

// FileName describes a parsed segment file name.
type FileName struct {
	Segment  Segment
	Platform sqtype.Platform
	// Ext is "index", "index2" or "datN".
	Ext string
}

// DatNumber returns N for a "datN" extension.
func (f FileName) DatNumber() (uint32, bool) {
	rest, ok := strings.CutPrefix(f.Ext, "dat")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// ParseFileName parses a segment file name such as "0a0000.win32.dat0".
func ParseFileName(name string) (FileName, bool) {
	parts := strings.Split(name, ".")
	if len(parts) != 3 || len(parts[0]) != 6 {
		return FileName{}, false
	}
	id, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return FileName{}, false
	}
	p, err := sqtype.ParsePlatform(parts[1])
	if err != nil {
		return FileName{}, false
	}
	f := FileName{
		Segment: Segment{
			Category:  sqtype.Category(id >> 16),
			Expansion: uint8(id >> 8), //nolint:gosec // byte extraction
			Chunk:     uint8(id),      //nolint:gosec // byte extraction
		},
		Platform: p,
		Ext:      parts[2],
	}
	switch {
	case f.Ext == "index", f.Ext == "index2":
	case strings.HasPrefix(f.Ext, "dat"):
		if _, ok := f.DatNumber(); !ok {
			return FileName{}, false
		}
	default:
		return FileName{}, false
	}
	return f, true
}

// Resolve maps an archive path to its category and expansion.
// The category comes from the first path element. The expansion comes
// from a second element of the form "exN" when hasExpansion reports that
// repository exists, and is 0 otherwise.
func Resolve(archivePath string, hasExpansion func(uint8) bool) (sqtype.Category, uint8, bool) {
	elems := strings.SplitN(archivePath, "/", 3)
	cat, ok := sqtype.ParseCategory(elems[0])
	if !ok {
		return 0, 0, false
	}
	if len(elems) < 3 {
		return cat, 0, true
	}
	if ex, ok := ParseRepositoryName(elems[1]); ok && ex != 0 && hasExpansion != nil && hasExpansion(ex) {
		return cat, ex, true
	}
	return cat, 0, true
}
