package index

import (
	"fmt"

	"github.com/meigma/sqpack/internal/sqtype"
)

// Location is the packed 32-bit field stored beside each hash.
//
//	bit  0     synonym flag
//	bits 1-3   data file id (dat0..dat7)
//	bits 4-31  byte offset >> 7
type Location uint32

const (
	synonymBit     = 0x1
	dataFileShift  = 1
	dataFileMask   = 0x7
	offsetShift    = 4
	offsetUnitBits = 7

	// OffsetAlign is the alignment of every file offset in a data file.
	OffsetAlign = 1 << offsetUnitBits

	// MaxDataFileID is the largest data file id a location can address.
	MaxDataFileID = dataFileMask

	// MaxOffset is the largest offset a location can address.
	MaxOffset = uint64(1<<(32-offsetShift)-1) << offsetUnitBits
)

// Pack builds a location from its parts.
// The offset must be a multiple of OffsetAlign and no larger than MaxOffset.
func Pack(dataFileID uint8, offset uint64, synonym bool) (Location, error) {
	if dataFileID > MaxDataFileID {
		return 0, fmt.Errorf("%w: data file id %d exceeds %d", sqtype.ErrParse, dataFileID, MaxDataFileID)
	}
	if offset%OffsetAlign != 0 || offset > MaxOffset {
		return 0, fmt.Errorf("%w: offset %#x not addressable", sqtype.ErrParse, offset)
	}
	loc := Location(offset>>offsetUnitBits) << offsetShift
	loc |= Location(dataFileID) << dataFileShift
	if synonym {
		loc |= synonymBit
	}
	return loc, nil
}

// Synonym reports whether the hash collides with another path.
func (l Location) Synonym() bool {
	return l&synonymBit != 0
}

// DataFileID returns the data file number the entry lives in.
func (l Location) DataFileID() uint8 {
	return uint8(l>>dataFileShift) & dataFileMask
}

// Offset returns the byte offset of the file header in the data file.
func (l Location) Offset() uint64 {
	return uint64(l>>offsetShift) << offsetUnitBits
}

// String formats the location as dat<N>:<offset>.
func (l Location) String() string {
	return fmt.Sprintf("dat%d:%#x", l.DataFileID(), l.Offset())
}
