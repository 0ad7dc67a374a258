package dat

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/meigma/sqpack/internal/sqtype"
)

// ModelHeaderSize is the size of the header rebuilt in front of model data.
const ModelHeaderSize = 0x44

// ModelHeader is the header of a reassembled model file.
type ModelHeader struct {
	Version         uint32
	StackSize       uint32
	RuntimeSize     uint32
	VertexDeclCount uint16
	MaterialCount   uint16
	VertexOffsets   [LODCount]uint32
	IndexOffsets    [LODCount]uint32
	VertexSizes     [LODCount]uint32
	IndexSizes      [LODCount]uint32
	LODs            uint8
	IndexStreaming  uint8
	EdgeGeometry    uint8
	_               uint8
}

// ParseModelHeader decodes the header of a reassembled model file.
func ParseModelHeader(b []byte, order binary.ByteOrder) (ModelHeader, error) {
	var h ModelHeader
	if _, err := binary.Decode(b, order, &h); err != nil {
		return ModelHeader{}, fmt.Errorf("%w: model header: %v", sqtype.ErrParse, err)
	}
	return h, nil
}

// copyModel reassembles a model: a rebuilt header, then the stack and
// runtime sections, then each LOD's vertex and index buffers.
func (r *Reader) copyModel(w io.Writer, base uint64, h *FileHeader) (int64, error) {
	m := h.Model
	var body bytes.Buffer

	section := func(i int) (uint32, error) {
		start := uint64(*m.BlockIndex.at(i))
		count := uint64(*m.BlockCount.at(i))
		if start+count > uint64(len(m.BlockSizes)) {
			return 0, fmt.Errorf("%w: model section %d blocks %d+%d overrun table of %d", sqtype.ErrParse, i, start, count, len(m.BlockSizes))
		}
		pos := base + uint64(*m.Offsets.at(i))
		before := body.Len()
		for k := start; k < start+count; k++ {
			if _, err := r.copyBlock(&body, pos, 0); err != nil {
				return 0, fmt.Errorf("model section %d: %w", i, err)
			}
			pos += uint64(m.BlockSizes[k])
		}
		return uint32(body.Len() - before), nil //nolint:gosec // bounded by file size
	}

	out := ModelHeader{
		Version:         m.Version,
		VertexDeclCount: m.VertexDeclCount,
		MaterialCount:   m.MaterialCount,
		LODs:            m.LODs,
		IndexStreaming:  m.IndexStreaming,
		EdgeGeometry:    m.EdgeGeometry,
	}
	var err error
	if out.StackSize, err = section(sectionStack); err != nil {
		return 0, err
	}
	if out.RuntimeSize, err = section(sectionRuntime); err != nil {
		return 0, err
	}

	// Offsets are positions in the reassembled file. A LOD that starts
	// where the previous one did shares its buffer and records 0.
	place := func(lod, sec int, offsets, sizes *[LODCount]uint32) error {
		if *m.BlockCount.at(sec) == 0 {
			return nil
		}
		at := uint32(ModelHeaderSize + body.Len()) //nolint:gosec // bounded by file size
		if lod == 0 || at != offsets[lod-1] {
			offsets[lod] = at
		}
		n, err := section(sec)
		if err != nil {
			return err
		}
		sizes[lod] = n
		return nil
	}
	for lod := range LODCount {
		if err := place(lod, sectionVertex+lod, &out.VertexOffsets, &out.VertexSizes); err != nil {
			return 0, err
		}
		if err := place(lod, sectionIndex+lod, &out.IndexOffsets, &out.IndexSizes); err != nil {
			return 0, err
		}
	}

	hdr, err := binary.Append(make([]byte, 0, ModelHeaderSize), r.order, &out)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(hdr)
	total := int64(n)
	if err != nil {
		return total, err
	}
	m64, err := body.WriteTo(w)
	return total + m64, err
}
