package dat

import (
	"encoding/binary"

	"github.com/meigma/sqpack/internal/sizing"
	"github.com/meigma/sqpack/internal/sqtype"
)

// encodeBlocks splits data into blocks of at most MaxBlockPayload bytes.
// It returns the stored bytes and the stored length of each block.
func encodeBlocks(data []byte, compress bool, order binary.ByteOrder) ([]byte, []uint16, error) {
	var out []byte
	var sizes []uint16
	for len(data) > 0 {
		n := min(len(data), MaxBlockPayload)
		start := len(out)
		var err error
		if out, err = AppendBlock(out, data[:n], compress, order); err != nil {
			return nil, nil, err
		}
		sizes = append(sizes, uint16(len(out)-start)) //nolint:gosec // padded block fits
		data = data[n:]
	}
	return out, sizes, nil
}

func putPrefix(hdr []byte, order binary.ByteOrder, ct sqtype.ContentType, size int) {
	order.PutUint32(hdr[fileHeaderSizeOffset:], uint32(len(hdr))) //nolint:gosec // headers are small
	order.PutUint32(hdr[fileTypeOffset:], uint32(ct))
	order.PutUint32(hdr[fileSizeOffset:], uint32(size)) //nolint:gosec // bounded by caller
}

// AppendStandardFile appends a standard file record holding data: a
// header with its block table, padded to BlockAlign, then the blocks.
func AppendStandardFile(dst, data []byte, compress bool, order binary.ByteOrder) ([]byte, error) {
	body, sizes, err := encodeBlocks(data, compress, order)
	if err != nil {
		return nil, err
	}
	hdr := make([]byte, sizing.AlignUp(uint64(standardBlockTableOffset+len(sizes)*standardBlockEntrySize), BlockAlign))
	putPrefix(hdr, order, sqtype.ContentStandard, len(data))
	order.PutUint32(hdr[standardBlockCountOffset:], uint32(len(sizes))) //nolint:gosec // bounded by data

	var off uint32
	for i, s := range sizes {
		rec := hdr[standardBlockTableOffset+i*standardBlockEntrySize:]
		order.PutUint32(rec, off)
		order.PutUint16(rec[4:], s)
		chunk := min(len(data)-i*MaxBlockPayload, MaxBlockPayload)
		order.PutUint16(rec[6:], uint16(chunk)) //nolint:gosec // <= MaxBlockPayload
		off += uint32(s)
	}
	dst = append(dst, hdr...)
	return append(dst, body...), nil
}

// AppendEmptyFile appends a record of content type Empty.
func AppendEmptyFile(dst []byte, order binary.ByteOrder) []byte {
	hdr := make([]byte, BlockAlign)
	putPrefix(hdr, order, sqtype.ContentEmpty, 0)
	return append(dst, hdr...)
}

// AppendTextureFile appends a texture record: texHeader is stored raw in
// front of the first LOD and each LOD is stored as its own block run.
func AppendTextureFile(dst, texHeader []byte, lods [][]byte, compress bool, order binary.ByteOrder) ([]byte, error) {
	table := make([]TextureLOD, len(lods))
	var body []byte
	var sizes []uint16
	size := len(texHeader)
	body = append(body, texHeader...)
	for i, lod := range lods {
		stored, s, err := encodeBlocks(lod, compress, order)
		if err != nil {
			return nil, err
		}
		table[i] = TextureLOD{
			CompressedOffset: uint32(len(body)),   //nolint:gosec // bounded by input
			CompressedSize:   uint32(len(stored)), //nolint:gosec // bounded by input
			DecompressedSize: uint32(len(lod)),    //nolint:gosec // bounded by input
			BlockOffset:      uint32(len(sizes)),  //nolint:gosec // bounded by input
			BlockCount:       uint32(len(s)),      //nolint:gosec // bounded by input
		}
		body = append(body, stored...)
		sizes = append(sizes, s...)
		size += len(lod)
	}

	sizesAt := textureLODTableOffset + len(table)*textureLODEntrySize
	hdr := make([]byte, sizing.AlignUp(uint64(sizesAt+2*len(sizes)), BlockAlign))
	putPrefix(hdr, order, sqtype.ContentTexture, size)
	order.PutUint32(hdr[textureLODCountOffset:], uint32(len(table))) //nolint:gosec // bounded by input
	for i, l := range table {
		rec := hdr[textureLODTableOffset+i*textureLODEntrySize:]
		order.PutUint32(rec, l.CompressedOffset)
		order.PutUint32(rec[4:], l.CompressedSize)
		order.PutUint32(rec[8:], l.DecompressedSize)
		order.PutUint32(rec[12:], l.BlockOffset)
		order.PutUint32(rec[16:], l.BlockCount)
	}
	for i, s := range sizes {
		order.PutUint16(hdr[sizesAt+2*i:], s)
	}
	dst = append(dst, hdr...)
	return append(dst, body...), nil
}

// ModelData holds the decoded sections of a model file.
type ModelData struct {
	Version         uint32
	VertexDeclCount uint16
	MaterialCount   uint16
	Stack           []byte
	Runtime         []byte
	Vertex          [LODCount][]byte
	Index           [LODCount][]byte
}

// AppendModelFile appends a model record for m.
func AppendModelFile(dst []byte, m ModelData, compress bool, order binary.ByteOrder) ([]byte, error) {
	var info ModelInfo
	info.Version = m.Version
	info.VertexDeclCount = m.VertexDeclCount
	info.MaterialCount = m.MaterialCount
	info.LODs = LODCount

	sections := make([][]byte, modelSections)
	sections[sectionStack] = m.Stack
	sections[sectionRuntime] = m.Runtime
	for lod := range LODCount {
		sections[sectionVertex+lod] = m.Vertex[lod]
		sections[sectionIndex+lod] = m.Index[lod]
	}

	var body []byte
	size := 0
	for i, data := range sections {
		stored, s, err := encodeBlocks(data, compress, order)
		if err != nil {
			return nil, err
		}
		*info.Offsets.at(i) = uint32(len(body))                 //nolint:gosec // bounded by input
		*info.UncompressedSizes.at(i) = uint32(len(data))       //nolint:gosec // bounded by input
		*info.CompressedSizes.at(i) = uint32(len(stored))       //nolint:gosec // bounded by input
		*info.BlockIndex.at(i) = uint16(len(info.BlockSizes))   //nolint:gosec // bounded by input
		*info.BlockCount.at(i) = uint16(len(s))                 //nolint:gosec // bounded by input
		body = append(body, stored...)
		info.BlockSizes = append(info.BlockSizes, s...)
		size += len(data)
	}
	info.NumBlocks = uint32(len(info.BlockSizes)) //nolint:gosec // bounded by input
	info.NumUsedBlocks = info.NumBlocks

	hdr := make([]byte, sizing.AlignUp(uint64(modelBlockTableStart+2*len(info.BlockSizes)), BlockAlign))
	putPrefix(hdr, order, sqtype.ContentModel, ModelHeaderSize+size)
	pos := modelInfoOffset
	put32 := func(v uint32) { order.PutUint32(hdr[pos:], v); pos += 4 }
	put16 := func(v uint16) { order.PutUint16(hdr[pos:], v); pos += 2 }
	put32(info.NumBlocks)
	put32(info.NumUsedBlocks)
	put32(info.Version)
	for _, s := range []*ModelSections[uint32]{&info.UncompressedSizes, &info.CompressedSizes, &info.Offsets} {
		for i := range modelSections {
			put32(*s.at(i))
		}
	}
	for _, s := range []*ModelSections[uint16]{&info.BlockIndex, &info.BlockCount} {
		for i := range modelSections {
			put16(*s.at(i))
		}
	}
	put16(info.VertexDeclCount)
	put16(info.MaterialCount)
	hdr[pos] = info.LODs
	for i, s := range info.BlockSizes {
		order.PutUint16(hdr[modelBlockTableStart+2*i:], s)
	}

	dst = append(dst, hdr...)
	return append(dst, body...), nil
}
