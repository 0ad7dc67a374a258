package index

import (
	"slices"

	"github.com/meigma/sqpack/internal/sqtype"
)

// Encode serializes entries as an index file for platform.
// Entries are written in hash order after a SqPack header and a segment
// header; index2 tables keep only the low 32 bits of each hash.
func Encode(p sqtype.Platform, kind Kind, entries []Entry) []byte {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b Entry) int {
		switch {
		case a.Hash < b.Hash:
			return -1
		case a.Hash > b.Hash:
			return 1
		}
		return 0
	})

	order := p.ByteOrder()
	width := kind.EntrySize()
	tableOff := 2 * sqtype.HeaderSize

	buf := sqtype.AppendHeader(make([]byte, 0, tableOff+len(sorted)*width), sqtype.Header{
		Platform: p,
		Version:  1,
		Type:     sqtype.FileTypeIndex,
	})
	seg := make([]byte, sqtype.HeaderSize)
	order.PutUint32(seg, sqtype.HeaderSize)
	order.PutUint32(seg[segmentTableOffset:], uint32(tableOff))           //nolint:gosec // constant
	order.PutUint32(seg[segmentTableSize:], uint32(len(sorted)*width)) //nolint:gosec // test-sized tables
	buf = append(buf, seg...)

	rec := make([]byte, width)
	for _, e := range sorted {
		clear(rec)
		if kind == KindIndex2 {
			order.PutUint32(rec, uint32(e.Hash)) //nolint:gosec // index2 hashes are 32-bit
			order.PutUint32(rec[4:], uint32(e.Location))
		} else {
			order.PutUint64(rec, e.Hash)
			order.PutUint32(rec[8:], uint32(e.Location))
		}
		buf = append(buf, rec...)
	}
	return buf
}
