package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/meigma/sqpack/internal/dat"
	"github.com/meigma/sqpack/internal/index"
	"github.com/meigma/sqpack/internal/layout"
	"github.com/meigma/sqpack/internal/pathhash"
	"github.com/meigma/sqpack/internal/sizing"
	"github.com/meigma/sqpack/internal/sqtype"
)

// DatDataStart is where the first record of a built data file begins,
// after the SqPack header and the data segment header.
const DatDataStart = 2 * sqtype.HeaderSize

// ArchiveBuilder assembles a game root on disk for tests.
type ArchiveBuilder struct {
	tb       testing.TB
	root     string
	platform sqtype.Platform
	segments map[layout.Segment]*segmentFiles
	versions map[uint8]string
}

type segmentFiles struct {
	dats    [][]byte
	entries []index.Entry
	hashes2 []index.Entry
}

// NewArchive returns a builder rooted in a fresh temporary directory.
func NewArchive(tb testing.TB, p sqtype.Platform) *ArchiveBuilder {
	tb.Helper()
	return &ArchiveBuilder{
		tb:       tb,
		root:     tb.TempDir(),
		platform: p,
		segments: make(map[layout.Segment]*segmentFiles),
		versions: make(map[uint8]string),
	}
}

// Root returns the game root the archive is written to.
func (b *ArchiveBuilder) Root() string {
	return b.root
}

// SegmentFor resolves the segment a path is stored in, chunk 0.
// Any exN path element creates that expansion.
func (b *ArchiveBuilder) SegmentFor(path string) layout.Segment {
	b.tb.Helper()
	cat, ex, ok := layout.Resolve(pathhash.Normalize(path), func(uint8) bool { return true })
	if !ok {
		b.tb.Fatalf("testutil: path %q has no category", path)
	}
	return layout.Segment{Category: cat, Expansion: ex}
}

// AddFile stores data as a compressed standard file in dat0 of the
// path's segment and indexes it under path.
func (b *ArchiveBuilder) AddFile(path string, data []byte) index.Location {
	b.tb.Helper()
	record, err := dat.AppendStandardFile(nil, data, true, b.platform.ByteOrder())
	if err != nil {
		b.tb.Fatalf("testutil: encode %q: %v", path, err)
	}
	return b.AddRecord(b.SegmentFor(path), 0, path, record)
}

// AddRecord appends a pre-encoded record to a data file and indexes it
// under path. It returns the record's location.
func (b *ArchiveBuilder) AddRecord(seg layout.Segment, datID uint8, path string, record []byte) index.Location {
	b.tb.Helper()
	loc := b.AppendRecord(seg, datID, record)
	b.Map(seg, path, loc)
	return loc
}

// AppendRecord appends a record to a data file without indexing it.
func (b *ArchiveBuilder) AppendRecord(seg layout.Segment, datID uint8, record []byte) index.Location {
	b.tb.Helper()
	sf := b.segment(seg)
	for len(sf.dats) <= int(datID) {
		sf.dats = append(sf.dats, b.newDat())
	}
	d := sf.dats[datID]
	off := uint64(len(d))
	d = append(d, record...)
	pad := sizing.AlignUp(uint64(len(d)), index.OffsetAlign) - uint64(len(d))
	sf.dats[datID] = append(d, make([]byte, pad)...)

	loc, err := index.Pack(datID, off, false)
	if err != nil {
		b.tb.Fatalf("testutil: pack location: %v", err)
	}
	return loc
}

// Map indexes path at loc in both the index and index2 tables of seg.
func (b *ArchiveBuilder) Map(seg layout.Segment, path string, loc index.Location) {
	sf := b.segment(seg)
	sf.entries = append(sf.entries, index.Entry{Hash: pathhash.Index1(path), Location: loc})
	sf.hashes2 = append(sf.hashes2, index.Entry{Hash: uint64(pathhash.Index2(path)), Location: loc})
}

// SetVersion records the version string of an expansion.
func (b *ArchiveBuilder) SetVersion(expansion uint8, version string) {
	b.versions[expansion] = version
}

// Build writes every segment and version file and returns the root.
func (b *ArchiveBuilder) Build() string {
	b.tb.Helper()
	for seg, sf := range b.segments {
		b.write(layout.IndexFile(seg, b.platform, index.KindIndex1.String()), index.Encode(b.platform, index.KindIndex1, sf.entries))
		b.write(layout.IndexFile(seg, b.platform, index.KindIndex2.String()), index.Encode(b.platform, index.KindIndex2, sf.hashes2))
		for i, d := range sf.dats {
			b.write(layout.DatFile(seg, b.platform, uint32(i)), d) //nolint:gosec // at most eight files
		}
	}
	for ex, v := range b.versions {
		b.write(layout.VersionFile(ex), []byte(v))
	}
	return b.root
}

// Path returns the absolute path of a slash-separated file under the root.
func (b *ArchiveBuilder) Path(rel string) string {
	return filepath.Join(b.root, filepath.FromSlash(rel))
}

func (b *ArchiveBuilder) segment(seg layout.Segment) *segmentFiles {
	sf, ok := b.segments[seg]
	if !ok {
		sf = &segmentFiles{}
		b.segments[seg] = sf
	}
	return sf
}

func (b *ArchiveBuilder) newDat() []byte {
	d := sqtype.AppendHeader(nil, sqtype.Header{Platform: b.platform, Version: 1, Type: sqtype.FileTypeData})
	return append(d, make([]byte, sqtype.HeaderSize)...)
}

func (b *ArchiveBuilder) write(rel string, data []byte) {
	b.tb.Helper()
	path := b.Path(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		b.tb.Fatalf("testutil: mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // test fixture
		b.tb.Fatalf("testutil: write %s: %v", rel, err)
	}
}
