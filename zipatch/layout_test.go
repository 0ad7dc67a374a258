package zipatch

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/meigma/sqpack/internal/sqtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The payloads below are laid out by hand, field by field, as shipped
// patches store them, so decoding does not depend on this package's encoder.

func sqpkBody(code byte, fields ...[]byte) []byte {
	var body []byte
	for _, f := range fields {
		body = append(body, f...)
	}
	out := binary.BigEndian.AppendUint32(nil, uint32(sqpkPrefixSize+len(body))) //nolint:gosec // test sizes are small
	return append(append(out, code), body...)
}

func u16(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }
func u32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }
func u64(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }
func le64(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

func decodeSqpkOp(t *testing.T, payload []byte) Operation {
	t.Helper()
	op, err := Decode(&Chunk{Magic: MagicSqpk, Payload: payload})
	require.NoError(t, err)
	return op
}

func TestDecodeAddDataSizeInUnits(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0xAB}, 256)
	payload := sqpkBody('A',
		[]byte{0, 0, 0},
		u16(0x0a), u16(0x0000), u32(1),
		u32(16), // offset, 2048 bytes
		u32(2),  // data, 256 bytes
		u32(3),  // zero fill after the data, 384 bytes
		data,
	)

	op := decodeSqpkOp(t, payload)
	add, ok := op.(*AddData)
	require.True(t, ok, "got %T", op)
	assert.Equal(t, SegmentID{Main: 0x0a, Sub: 0, File: 1}, add.Segment)
	assert.Equal(t, uint64(2048), add.Offset)
	assert.Equal(t, data, add.Data)
	assert.Equal(t, uint64(384), add.DeleteLength)
}

func TestDecodeAddDataSizeMismatch(t *testing.T) {
	t.Parallel()

	payload := sqpkBody('A',
		[]byte{0, 0, 0},
		u16(0x0a), u16(0), u32(0),
		u32(0),
		u32(3), // neither 3 bytes nor 3 units
		u32(0),
		make([]byte, 128),
	)
	_, err := Decode(&Chunk{Magic: MagicSqpk, Payload: payload})
	require.ErrorIs(t, err, ErrPatchCorrupt)
}

func TestAddDataEncodesSizeField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		data  []byte
		field uint32
	}{
		{"whole units", make([]byte, 384), 3},
		{"literal bytes", []byte("sixteen bytes!!!"), 16},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			op := &AddData{Offset: 2048, Data: tt.data}
			payload, err := op.appendPayload(nil)
			require.NoError(t, err)
			assert.Equal(t, tt.field, binary.BigEndian.Uint32(payload[20:]))

			got, ok := decodeSqpkOp(t, payload).(*AddData)
			require.True(t, ok)
			assert.Len(t, got.Data, len(tt.data))
		})
	}
}

func TestDecodeBlockRanges(t *testing.T) {
	t.Parallel()

	body := [][]byte{
		{0, 0, 0},
		u16(0x04), u16(0x0201), u32(0),
		u32(0x2000), // offset, 1 MiB
		u32(40),     // block count
		{0, 0, 0, 0},
	}

	del, ok := decodeSqpkOp(t, sqpkBody('D', body...)).(*DeleteData)
	require.True(t, ok)
	assert.Equal(t, &DeleteData{Segment: SegmentID{Main: 0x04, Sub: 0x0201}, Offset: 1 << 20, Blocks: 40}, del)

	exp, ok := decodeSqpkOp(t, sqpkBody('E', body...)).(*ExpandData)
	require.True(t, ok)
	assert.Equal(t, &ExpandData{Segment: SegmentID{Main: 0x04, Sub: 0x0201}, Offset: 1 << 20, Blocks: 40}, exp)
}

func TestDecodeFileOperationAddFile(t *testing.T) {
	t.Parallel()

	content := []byte("2024.07.01.0000.0000")
	block := binary.LittleEndian.AppendUint32(nil, 16) // header size
	block = binary.LittleEndian.AppendUint32(block, 0)
	block = binary.LittleEndian.AppendUint32(block, 32000) // stored raw
	block = binary.LittleEndian.AppendUint32(block, uint32(len(content)))
	block = append(block, content...)
	block = append(block, make([]byte, 128-len(block))...)

	name := []byte("sqpack\\ex1\\ex1.ver\x00")
	payload := sqpkBody('F',
		[]byte{'A', 0, 0},
		u64(0),
		u64(uint64(len(content))),
		u32(uint32(len(name))), //nolint:gosec // short name
		u16(1),
		[]byte{0, 0},
		name,
		block,
	)

	op, ok := decodeSqpkOp(t, payload).(*FileOperation)
	require.True(t, ok)
	assert.Equal(t, FileAdd, op.Kind)
	assert.Equal(t, "sqpack/ex1/ex1.ver", op.Path)
	assert.Equal(t, uint16(1), op.Expansion)
	assert.Equal(t, uint64(len(content)), op.FileSize)
	assert.Equal(t, content, op.Data)
}

func TestDecodeTargetInfo(t *testing.T) {
	t.Parallel()

	fields := func(platform uint16) []byte {
		return sqpkBody('T',
			[]byte{0, 0, 0},
			u16(platform),
			u16(0xffff), // global region
			u16(0),
			u16(7),
			le64(1<<20),
			le64(12),
			make([]byte, 96),
		)
	}

	info, ok := decodeSqpkOp(t, fields(uint16(sqtype.PlatformPS4))).(*TargetInfo)
	require.True(t, ok)
	assert.Equal(t, &TargetInfo{
		Platform:        sqtype.PlatformPS4,
		Region:          -1,
		Version:         7,
		DeletedDataSize: 1 << 20,
		SeekCount:       12,
	}, info)

	_, err := Decode(&Chunk{Magic: MagicSqpk, Payload: fields(0x0100)})
	require.ErrorIs(t, err, ErrPatchCorrupt)
}

func TestApplyHandWrittenAddData(t *testing.T) {
	t.Parallel()

	target, before := newGameRoot(t)
	data := bytes.Repeat([]byte{0xAB}, 128)
	payload := sqpkBody('A',
		[]byte{0, 0, 0},
		u16(0), u16(0), u32(0),
		u32(16), // offset, 2048 bytes
		u32(1),  // one 128-byte unit
		u32(0),
		data,
	)
	stream := withSignature(rawChunk(MagicSqpk, payload, nil), rawChunk(MagicEndOfFile, nil, nil))

	_, err := Apply(context.Background(), bytes.NewReader(stream), target)
	require.NoError(t, err)

	after := readFile(t, target.root, baseDat)
	assert.Equal(t, data, after[2048:2176])
	assert.Equal(t, before[:2048], after[:2048])
	assert.Equal(t, before[2176:], after[2176:])
}
