package index

import (
	"fmt"
	"iter"
	"slices"

	"github.com/meigma/sqpack/internal/sqtype"
)

// Kind distinguishes .index tables (composite 64-bit hashes) from
// .index2 tables (full-path 32-bit hashes).
type Kind uint8

const (
	KindIndex1 Kind = 1
	KindIndex2 Kind = 2
)

// EntrySize returns the on-disk size of one table entry.
func (k Kind) EntrySize() int {
	if k == KindIndex2 {
		return 8
	}
	return 16
}

// String returns the file extension for the kind.
func (k Kind) String() string {
	if k == KindIndex2 {
		return "index2"
	}
	return "index"
}

// Segment header field offsets, relative to the end of the SqPack header.
const (
	segmentTableOffset = 0x08
	segmentTableSize   = 0x0c
	segmentMinLen      = 0x10
)

// Entry is one resolved hash table entry.
type Entry struct {
	Hash     uint64
	Location Location
}

// DataFileID returns the data file number the entry lives in.
func (e Entry) DataFileID() uint8 { return e.Location.DataFileID() }

// Offset returns the byte offset of the file header in the data file.
func (e Entry) Offset() uint64 { return e.Location.Offset() }

type slot struct {
	loc Location
	pos int64
}

// Table is a parsed index or index2 hash table.
//
// Table is immutable after Parse and safe for concurrent use.
type Table struct {
	kind     Kind
	platform sqtype.Platform
	version  uint32
	slots    map[uint64]slot
	hashes   []uint64
}

// Parse decodes an index file.
//
// The SqPack header is read first to learn the byte order and where the
// segment header starts; the segment header then locates the hash table.
// Every offset is bounds-checked against data. Empty slots are skipped and
// a repeated hash is reported as a parse error.
func Parse(data []byte, kind Kind) (*Table, error) {
	hdr, err := sqtype.ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if hdr.Type != sqtype.FileTypeIndex {
		return nil, fmt.Errorf("%w: file type %d is not an index", sqtype.ErrParse, hdr.Type)
	}
	order := hdr.Platform.ByteOrder()

	seg := uint64(hdr.Size)
	if seg+segmentMinLen > uint64(len(data)) {
		return nil, fmt.Errorf("%w: segment header at %#x beyond %d bytes", sqtype.ErrParse, seg, len(data))
	}
	tableOff := uint64(order.Uint32(data[seg+segmentTableOffset:]))
	tableLen := uint64(order.Uint32(data[seg+segmentTableSize:]))
	if tableOff+tableLen > uint64(len(data)) {
		return nil, fmt.Errorf("%w: hash table %#x+%#x beyond %d bytes", sqtype.ErrParse, tableOff, tableLen, len(data))
	}
	width := uint64(kind.EntrySize())
	if tableLen%width != 0 {
		return nil, fmt.Errorf("%w: hash table length %d is not a multiple of %d", sqtype.ErrParse, tableLen, width)
	}

	n := int(tableLen / width)
	t := &Table{
		kind:     kind,
		platform: hdr.Platform,
		version:  hdr.Version,
		slots:    make(map[uint64]slot, n),
		hashes:   make([]uint64, 0, n),
	}
	for i := range n {
		pos := tableOff + uint64(i)*width
		rec := data[pos : pos+width]

		var hash uint64
		var loc Location
		if kind == KindIndex2 {
			hash = uint64(order.Uint32(rec))
			loc = Location(order.Uint32(rec[4:]))
		} else {
			hash = order.Uint64(rec)
			loc = Location(order.Uint32(rec[8:]))
		}
		if hash == 0 && loc == 0 {
			continue
		}
		if _, dup := t.slots[hash]; dup {
			return nil, fmt.Errorf("%w: duplicate hash %#x", sqtype.ErrParse, hash)
		}
		t.slots[hash] = slot{loc: loc, pos: int64(pos)} //nolint:gosec // bounded by len(data)
		t.hashes = append(t.hashes, hash)
	}
	slices.Sort(t.hashes)
	return t, nil
}

// Kind returns whether the table was parsed as index or index2.
func (t *Table) Kind() Kind { return t.kind }

// Platform returns the platform recorded in the file header.
func (t *Table) Platform() sqtype.Platform { return t.platform }

// Version returns the header version field.
func (t *Table) Version() uint32 { return t.version }

// Len returns the number of non-empty entries.
func (t *Table) Len() int { return len(t.hashes) }

// Lookup returns the entry for hash. A miss is not an error.
func (t *Table) Lookup(hash uint64) (Entry, bool) {
	s, ok := t.slots[hash]
	if !ok {
		return Entry{}, false
	}
	return Entry{Hash: hash, Location: s.loc}, true
}

// Position returns the byte position of the entry for hash within the
// index file.
func (t *Table) Position(hash uint64) (int64, bool) {
	s, ok := t.slots[hash]
	return s.pos, ok
}

// Entries returns an iterator over all entries in hash order.
func (t *Table) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, h := range t.hashes {
			if !yield(Entry{Hash: h, Location: t.slots[h].loc}) {
				return
			}
		}
	}
}
