package dat

import (
	"encoding/binary"
	"fmt"

	"github.com/meigma/sqpack/internal/sqtype"
)

// Common file header field offsets.
const (
	fileHeaderSizeOffset = 0x00
	fileTypeOffset       = 0x04
	fileSizeOffset       = 0x08
	filePrefixLen        = 0x0c

	standardBlockCountOffset = 0x14
	standardBlockTableOffset = 0x18
	standardBlockEntrySize   = 8

	textureLODCountOffset = 0x14
	textureLODTableOffset = 0x18
	textureLODEntrySize   = 20

	modelInfoOffset      = 0x0c
	modelSizesTableBytes = modelSections * 4
	modelCountTableBytes = modelSections * 2
	modelBlockTableStart = modelInfoOffset + 12 + 3*modelSizesTableBytes + 2*modelCountTableBytes + 8

	// MaxHeaderSize bounds the header length a file may declare.
	MaxHeaderSize = 1 << 20
)

// LODCount is the number of levels of detail a model carries.
const LODCount = 3

// Model sections in storage order.
const (
	sectionStack = iota
	sectionRuntime
	sectionVertex
	sectionEdge    = sectionVertex + LODCount
	sectionIndex   = sectionEdge + LODCount
	modelSections  = sectionIndex + LODCount
)

// BlockEntry is one row of a standard file's block table.
type BlockEntry struct {
	Offset           uint32
	CompressedSize   uint16
	UncompressedSize uint16
}

// ModelSections holds one value per model section: stack, runtime, then
// vertex, edge and index buffers for each LOD.
type ModelSections[T uint16 | uint32] struct {
	Stack   T
	Runtime T
	Vertex  [LODCount]T
	Edge    [LODCount]T
	Index   [LODCount]T
}

func (s *ModelSections[T]) at(i int) *T {
	switch {
	case i == sectionStack:
		return &s.Stack
	case i == sectionRuntime:
		return &s.Runtime
	case i < sectionEdge:
		return &s.Vertex[i-sectionVertex]
	case i < sectionIndex:
		return &s.Edge[i-sectionEdge]
	default:
		return &s.Index[i-sectionIndex]
	}
}

// ModelInfo is the block layout of a model file.
type ModelInfo struct {
	NumBlocks         uint32
	NumUsedBlocks     uint32
	Version           uint32
	UncompressedSizes ModelSections[uint32]
	CompressedSizes   ModelSections[uint32]
	Offsets           ModelSections[uint32]
	BlockIndex        ModelSections[uint16]
	BlockCount        ModelSections[uint16]
	VertexDeclCount   uint16
	MaterialCount     uint16
	LODs              uint8
	IndexStreaming    uint8
	EdgeGeometry      uint8
	BlockSizes        []uint16
}

// TextureLOD is one mip level of a texture file.
type TextureLOD struct {
	CompressedOffset uint32
	CompressedSize   uint32
	DecompressedSize uint32
	BlockOffset      uint32
	BlockCount       uint32
}

// TextureInfo is the block layout of a texture file.
type TextureInfo struct {
	LODs       []TextureLOD
	BlockSizes []uint16
}

// FileHeader describes a file stored in a data file.
type FileHeader struct {
	// HeaderSize is the length of this header; block offsets are relative to its end.
	HeaderSize uint32
	Type       sqtype.ContentType
	// Size is the reconstructed file length.
	Size uint32

	Blocks  []BlockEntry
	Model   *ModelInfo
	Texture *TextureInfo
}

// parseFilePrefix decodes the fields shared by every content type.
func parseFilePrefix(b []byte, order binary.ByteOrder) (headerSize uint32, ct sqtype.ContentType, size uint32) {
	return order.Uint32(b[fileHeaderSizeOffset:]),
		sqtype.ContentType(order.Uint32(b[fileTypeOffset:])),
		order.Uint32(b[fileSizeOffset:])
}

// parseFileHeader decodes a full file header. b holds exactly HeaderSize bytes.
func parseFileHeader(b []byte, order binary.ByteOrder) (*FileHeader, error) {
	h := &FileHeader{}
	h.HeaderSize, h.Type, h.Size = parseFilePrefix(b, order)

	var err error
	switch h.Type {
	case sqtype.ContentStandard:
		h.Blocks, err = parseStandard(b, order)
	case sqtype.ContentModel:
		h.Model, err = parseModel(b, order)
	case sqtype.ContentTexture:
		h.Texture, err = parseTexture(b, order)
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

func parseStandard(b []byte, order binary.ByteOrder) ([]BlockEntry, error) {
	if len(b) < standardBlockTableOffset {
		return nil, fmt.Errorf("%w: standard header is %d bytes", sqtype.ErrParse, len(b))
	}
	n := uint64(order.Uint32(b[standardBlockCountOffset:]))
	end := standardBlockTableOffset + n*standardBlockEntrySize
	if end > uint64(len(b)) {
		return nil, fmt.Errorf("%w: %d block entries overrun %d-byte header", sqtype.ErrParse, n, len(b))
	}
	blocks := make([]BlockEntry, n)
	for i := range blocks {
		rec := b[standardBlockTableOffset+i*standardBlockEntrySize:]
		blocks[i] = BlockEntry{
			Offset:           order.Uint32(rec),
			CompressedSize:   order.Uint16(rec[4:]),
			UncompressedSize: order.Uint16(rec[6:]),
		}
	}
	return blocks, nil
}

func parseTexture(b []byte, order binary.ByteOrder) (*TextureInfo, error) {
	if len(b) < textureLODTableOffset {
		return nil, fmt.Errorf("%w: texture header is %d bytes", sqtype.ErrParse, len(b))
	}
	n := uint64(order.Uint32(b[textureLODCountOffset:]))
	end := textureLODTableOffset + n*textureLODEntrySize
	if end > uint64(len(b)) {
		return nil, fmt.Errorf("%w: %d texture lods overrun %d-byte header", sqtype.ErrParse, n, len(b))
	}
	info := &TextureInfo{LODs: make([]TextureLOD, n)}
	var blocks uint64
	for i := range info.LODs {
		rec := b[textureLODTableOffset+i*textureLODEntrySize:]
		info.LODs[i] = TextureLOD{
			CompressedOffset: order.Uint32(rec),
			CompressedSize:   order.Uint32(rec[4:]),
			DecompressedSize: order.Uint32(rec[8:]),
			BlockOffset:      order.Uint32(rec[12:]),
			BlockCount:       order.Uint32(rec[16:]),
		}
		blocks += uint64(info.LODs[i].BlockCount)
	}
	sizes, err := parseBlockSizes(b, int(end), blocks, order) //nolint:gosec // end bounded by len(b)
	if err != nil {
		return nil, err
	}
	info.BlockSizes = sizes
	return info, nil
}

func parseModel(b []byte, order binary.ByteOrder) (*ModelInfo, error) {
	if len(b) < modelBlockTableStart {
		return nil, fmt.Errorf("%w: model header is %d bytes", sqtype.ErrParse, len(b))
	}
	m := &ModelInfo{}
	pos := modelInfoOffset
	u32 := func() uint32 {
		v := order.Uint32(b[pos:])
		pos += 4
		return v
	}
	u16 := func() uint16 {
		v := order.Uint16(b[pos:])
		pos += 2
		return v
	}

	m.NumBlocks = u32()
	m.NumUsedBlocks = u32()
	m.Version = u32()
	for _, s := range []*ModelSections[uint32]{&m.UncompressedSizes, &m.CompressedSizes, &m.Offsets} {
		for i := range modelSections {
			*s.at(i) = u32()
		}
	}
	for _, s := range []*ModelSections[uint16]{&m.BlockIndex, &m.BlockCount} {
		for i := range modelSections {
			*s.at(i) = u16()
		}
	}
	m.VertexDeclCount = u16()
	m.MaterialCount = u16()
	m.LODs = b[pos]
	m.IndexStreaming = b[pos+1]
	m.EdgeGeometry = b[pos+2]

	var total uint64
	for i := range modelSections {
		total += uint64(*m.BlockCount.at(i))
	}
	sizes, err := parseBlockSizes(b, modelBlockTableStart, total, order)
	if err != nil {
		return nil, err
	}
	m.BlockSizes = sizes
	return m, nil
}

func parseBlockSizes(b []byte, start int, n uint64, order binary.ByteOrder) ([]uint16, error) {
	if uint64(start)+n*2 > uint64(len(b)) { //nolint:gosec // start is non-negative
		return nil, fmt.Errorf("%w: %d block sizes overrun %d-byte header", sqtype.ErrParse, n, len(b))
	}
	sizes := make([]uint16, n)
	for i := range sizes {
		sizes[i] = order.Uint16(b[start+2*i:])
	}
	return sizes, nil
}
