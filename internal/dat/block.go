package dat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/meigma/sqpack/internal/sizing"
	"github.com/meigma/sqpack/internal/sqtype"
)

const (
	// BlockHeaderSize is the size of the header preceding every block.
	BlockHeaderSize = 16

	// RawBlockSentinel in the compressed length field marks a block stored
	// without compression.
	RawBlockSentinel = 32000

	// BlockAlign is the alignment of blocks inside data files and patches.
	BlockAlign = 128

	// MaxBlockPayload is the largest decompressed block the encoder emits.
	MaxBlockPayload = 16000

	// DefaultMaxBlockSize bounds the decompressed length a block header may declare.
	DefaultMaxBlockSize = 1 << 20
)

// BlockHeader precedes the payload of every data block.
type BlockHeader struct {
	// Size is the length of this header; payload starts Size bytes in.
	Size               uint32
	CompressedLength   uint32
	DecompressedLength uint32
}

// Raw reports whether the payload is stored uncompressed.
func (h BlockHeader) Raw() bool {
	return h.CompressedLength == RawBlockSentinel
}

// StoredLength returns the number of payload bytes following the header.
func (h BlockHeader) StoredLength() uint32 {
	if h.Raw() {
		return h.DecompressedLength
	}
	return h.CompressedLength
}

// ParseBlockHeader decodes a block header.
func ParseBlockHeader(b []byte, order binary.ByteOrder) (BlockHeader, error) {
	if len(b) < BlockHeaderSize {
		return BlockHeader{}, fmt.Errorf("%w: block header needs %d bytes, have %d", sqtype.ErrDecode, BlockHeaderSize, len(b))
	}
	h := BlockHeader{
		Size:               order.Uint32(b[0:]),
		CompressedLength:   order.Uint32(b[8:]),
		DecompressedLength: order.Uint32(b[12:]),
	}
	if h.Size < BlockHeaderSize || h.Size > BlockAlign {
		return BlockHeader{}, fmt.Errorf("%w: block header size %d", sqtype.ErrDecode, h.Size)
	}
	return h, nil
}

// inflate decodes a raw-deflate payload into dst, which must have exactly
// the declared decompressed length. Output that is shorter or longer than
// dst is a decode error.
func inflate(pool *DecompressPool, dst, src []byte) error {
	fr, release, err := pool.Get(bytes.NewReader(src))
	if err != nil {
		return fmt.Errorf("%w: %v", sqtype.ErrDecode, err)
	}
	defer release()

	if _, err := io.ReadFull(fr, dst); err != nil {
		return fmt.Errorf("%w: inflate: %v", sqtype.ErrDecode, err)
	}
	var extra [1]byte
	n, err := fr.Read(extra[:])
	if n != 0 {
		return fmt.Errorf("%w: block inflates past %d bytes", sqtype.ErrDecode, len(dst))
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: inflate: %v", sqtype.ErrDecode, err)
	}
	return nil
}

// AppendBlock encodes data as one block (header plus payload, padded to
// BlockAlign) and appends it to dst. When compress is false, or deflate
// does not shrink the data, the payload is stored raw.
func AppendBlock(dst, data []byte, compress bool, order binary.ByteOrder) ([]byte, error) {
	payload := data
	compressed := false
	if compress {
		var buf bytes.Buffer
		fw, err := flate.NewWriter(&buf, flate.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(data); err != nil {
			return nil, err
		}
		if err := fw.Close(); err != nil {
			return nil, err
		}
		if buf.Len() < len(data) && buf.Len() != RawBlockSentinel {
			payload = buf.Bytes()
			compressed = true
		}
	}

	var hdr [BlockHeaderSize]byte
	order.PutUint32(hdr[0:], BlockHeaderSize)
	if compressed {
		order.PutUint32(hdr[8:], uint32(len(payload))) //nolint:gosec // blocks are small
	} else {
		order.PutUint32(hdr[8:], RawBlockSentinel)
	}
	order.PutUint32(hdr[12:], uint32(len(data))) //nolint:gosec // blocks are small

	start := len(dst)
	dst = append(dst, hdr[:]...)
	dst = append(dst, payload...)
	total := sizing.AlignUp(uint64(len(dst)-start), BlockAlign)
	return append(dst, make([]byte, int(total)-(len(dst)-start))...), nil //nolint:gosec // bounded by block size
}

// DecodePaddedBlocks decodes a run of BlockAlign-padded blocks from src,
// as carried by patch file operations, until src is exhausted.
func DecodePaddedBlocks(pool *DecompressPool, src []byte, order binary.ByteOrder, maxBlock uint32) ([]byte, error) {
	var out []byte
	for len(src) > 0 {
		h, err := ParseBlockHeader(src, order)
		if err != nil {
			return nil, err
		}
		if h.DecompressedLength > maxBlock {
			return nil, fmt.Errorf("%w: block declares %d bytes", sqtype.ErrDecode, h.DecompressedLength)
		}
		stored := uint64(h.Size) + uint64(h.StoredLength())
		if stored > uint64(len(src)) {
			return nil, fmt.Errorf("%w: block payload %d bytes past end", sqtype.ErrDecode, stored-uint64(len(src)))
		}
		payload := src[h.Size:stored]

		start := len(out)
		out = append(out, make([]byte, h.DecompressedLength)...)
		if h.Raw() {
			copy(out[start:], payload)
		} else if err := inflate(pool, out[start:], payload); err != nil {
			return nil, err
		}

		next := sizing.AlignUp(stored, BlockAlign)
		if next >= uint64(len(src)) {
			break
		}
		src = src[next:]
	}
	return out, nil
}
