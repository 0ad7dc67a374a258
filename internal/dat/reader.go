package dat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/sqpack/internal/sizing"
	"github.com/meigma/sqpack/internal/sqtype"
)

// ByteSource provides random access to a data file.
type ByteSource interface {
	io.ReaderAt
	Size() int64
	SourceID() string
}

// Reader reconstructs files stored in one data file.
//
// Reader is safe for concurrent use when the underlying source is.
type Reader struct {
	source       ByteSource
	order        binary.ByteOrder
	pool         *DecompressPool
	buffers      *bufferPool
	maxFileSize  uint64
	maxBlockSize uint32
}

// Option configures a Reader.
type Option func(*Reader)

// WithByteOrder sets the byte order of headers (big-endian on PS3).
func WithByteOrder(order binary.ByteOrder) Option {
	return func(r *Reader) {
		r.order = order
	}
}

// WithMaxFileSize limits the reconstructed size of a single file.
// Use 0 to disable the limit.
func WithMaxFileSize(limit uint64) Option {
	return func(r *Reader) {
		r.maxFileSize = limit
	}
}

// WithMaxBlockSize limits the decompressed length a block may declare.
func WithMaxBlockSize(limit uint32) Option {
	return func(r *Reader) {
		r.maxBlockSize = limit
	}
}

// WithPool shares a decompressor pool between readers.
func WithPool(pool *DecompressPool) Option {
	return func(r *Reader) {
		r.pool = pool
	}
}

// NewReader creates a Reader over source.
func NewReader(source ByteSource, opts ...Option) *Reader {
	r := &Reader{
		source:       source,
		order:        binary.LittleEndian,
		maxBlockSize: DefaultMaxBlockSize,
		buffers:      &bufferPool{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.pool == nil {
		r.pool = NewDecompressPool()
	}
	return r
}

// Source returns the underlying byte source.
func (r *Reader) Source() ByteSource {
	return r.source
}

// ReadHeader decodes the file header at offset.
//
// The fixed prefix is read first to learn the header length, then the
// full header is read and decoded.
func (r *Reader) ReadHeader(offset uint64) (*FileHeader, error) {
	if !sizing.Within(offset, filePrefixLen, r.source.Size()) {
		return nil, fmt.Errorf("%w: file header at %#x beyond %d-byte data file", sqtype.ErrParse, offset, r.source.Size())
	}
	var prefix [filePrefixLen]byte
	if err := r.readAt(prefix[:], offset); err != nil {
		return nil, err
	}
	headerSize, _, _ := parseFilePrefix(prefix[:], r.order)
	if headerSize < filePrefixLen || headerSize > MaxHeaderSize {
		return nil, fmt.Errorf("%w: file header size %d", sqtype.ErrParse, headerSize)
	}
	if !sizing.Within(offset, uint64(headerSize), r.source.Size()) {
		return nil, fmt.Errorf("%w: %d-byte file header at %#x overruns data file", sqtype.ErrParse, headerSize, offset)
	}

	buf := make([]byte, headerSize)
	if err := r.readAt(buf, offset); err != nil {
		return nil, err
	}
	return parseFileHeader(buf, r.order)
}

// ReadFile reconstructs the file whose header is at offset.
func (r *Reader) ReadFile(offset uint64) ([]byte, error) {
	h, err := r.ReadHeader(offset)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if h.Size > 0 {
		buf.Grow(int(h.Size))
	}
	if _, err := r.copyFile(&buf, offset, h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CopyFile streams the file whose header is at offset to w.
func (r *Reader) CopyFile(w io.Writer, offset uint64) (int64, error) {
	h, err := r.ReadHeader(offset)
	if err != nil {
		return 0, err
	}
	return r.copyFile(w, offset, h)
}

func (r *Reader) copyFile(w io.Writer, offset uint64, h *FileHeader) (int64, error) {
	if r.maxFileSize > 0 && uint64(h.Size) > r.maxFileSize {
		return 0, fmt.Errorf("%w: file size %d exceeds limit %d", sqtype.ErrSizeOverflow, h.Size, r.maxFileSize)
	}
	base := offset + uint64(h.HeaderSize)

	switch h.Type {
	case sqtype.ContentEmpty:
		return 0, nil
	case sqtype.ContentPlaceholder:
		return 0, fmt.Errorf("%w: range at %#x was retired", sqtype.ErrNotFound, offset)
	case sqtype.ContentStandard:
		return r.copyStandard(w, base, h)
	case sqtype.ContentModel:
		return r.copyModel(w, base, h)
	case sqtype.ContentTexture:
		return r.copyTexture(w, base, h)
	default:
		return 0, fmt.Errorf("%w: content type %d", sqtype.ErrUnsupportedFormat, uint32(h.Type))
	}
}

func (r *Reader) copyStandard(w io.Writer, base uint64, h *FileHeader) (int64, error) {
	var total int64
	for i, b := range h.Blocks {
		n, err := r.copyBlock(w, base+uint64(b.Offset), uint32(b.UncompressedSize))
		total += n
		if err != nil {
			return total, fmt.Errorf("block %d: %w", i, err)
		}
	}
	if total != int64(h.Size) {
		return total, fmt.Errorf("%w: blocks produced %d bytes, header declares %d", sqtype.ErrDecode, total, h.Size)
	}
	return total, nil
}

func (r *Reader) copyTexture(w io.Writer, base uint64, h *FileHeader) (int64, error) {
	info := h.Texture
	var total int64
	if len(info.LODs) > 0 && info.LODs[0].CompressedSize != 0 {
		n, err := r.copyRaw(w, base, uint64(info.LODs[0].CompressedOffset))
		total += n
		if err != nil {
			return total, err
		}
	}

	next := 0
	for i, lod := range info.LODs {
		pos := base + uint64(lod.CompressedOffset)
		for range lod.BlockCount {
			if next >= len(info.BlockSizes) {
				return total, fmt.Errorf("%w: texture lod %d needs more block sizes", sqtype.ErrParse, i)
			}
			n, err := r.copyBlock(w, pos, 0)
			total += n
			if err != nil {
				return total, fmt.Errorf("texture lod %d: %w", i, err)
			}
			pos += uint64(info.BlockSizes[next])
			next++
		}
	}
	if total != int64(h.Size) {
		return total, fmt.Errorf("%w: texture produced %d bytes, header declares %d", sqtype.ErrDecode, total, h.Size)
	}
	return total, nil
}

// copyRaw copies n bytes stored verbatim at pos.
func (r *Reader) copyRaw(w io.Writer, pos, n uint64) (int64, error) {
	if !sizing.Within(pos, n, r.source.Size()) {
		return 0, fmt.Errorf("%w: raw range at %#x overruns data file", sqtype.ErrDecode, pos)
	}
	size, err := sizing.ToInt64(n, sqtype.ErrSizeOverflow)
	if err != nil {
		return 0, err
	}
	off, err := sizing.ToInt64(pos, sqtype.ErrSizeOverflow)
	if err != nil {
		return 0, err
	}
	return io.Copy(w, io.NewSectionReader(r.source, off, size))
}

// copyBlock decodes the block at pos and writes it to w. When want is
// non-zero the decoded length must match it.
func (r *Reader) copyBlock(w io.Writer, pos uint64, want uint32) (int64, error) {
	if !sizing.Within(pos, BlockHeaderSize, r.source.Size()) {
		return 0, fmt.Errorf("%w: block header at %#x beyond data file", sqtype.ErrDecode, pos)
	}
	var raw [BlockHeaderSize]byte
	if err := r.readAt(raw[:], pos); err != nil {
		return 0, err
	}
	h, err := ParseBlockHeader(raw[:], r.order)
	if err != nil {
		return 0, err
	}
	if h.DecompressedLength > r.maxBlockSize {
		return 0, fmt.Errorf("%w: block declares %d bytes, limit %d", sqtype.ErrDecode, h.DecompressedLength, r.maxBlockSize)
	}
	if want != 0 && h.DecompressedLength != want {
		return 0, fmt.Errorf("%w: block header declares %d bytes, table %d", sqtype.ErrDecode, h.DecompressedLength, want)
	}

	payloadPos := pos + uint64(h.Size)
	if !sizing.Within(payloadPos, uint64(h.StoredLength()), r.source.Size()) {
		return 0, fmt.Errorf("%w: block payload at %#x overruns data file", sqtype.ErrDecode, payloadPos)
	}

	outRef, out := r.buffers.get(int(h.DecompressedLength))
	defer r.buffers.put(outRef)

	if h.Raw() {
		if err := r.readAt(out, payloadPos); err != nil {
			return 0, err
		}
	} else {
		srcRef, src := r.buffers.get(int(h.CompressedLength))
		defer r.buffers.put(srcRef)
		if err := r.readAt(src, payloadPos); err != nil {
			return 0, err
		}
		if err := inflate(r.pool, out, src); err != nil {
			return 0, err
		}
	}

	n, err := w.Write(out)
	return int64(n), err
}

func (r *Reader) readAt(p []byte, off uint64) error {
	o, err := sizing.ToInt64(off, sqtype.ErrSizeOverflow)
	if err != nil {
		return err
	}
	n, err := r.source.ReadAt(p, o)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("read %s at %#x: %w", r.source.SourceID(), off, err)
}
