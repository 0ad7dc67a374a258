package zipatch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"iter"
	"log/slog"
)

// Parser reads framed chunks from a patch stream.
//
// Chunks are read lazily, one at a time; the stream is never held in
// memory as a whole. When the source is an io.Seeker its remaining length
// is measured once so oversized chunks are rejected before any payload is
// read. Otherwise payload reads are bounded by the bytes actually present.
type Parser struct {
	r            io.Reader
	logger       *slog.Logger
	maxChunkSize uint32

	remaining int64 // -1 when the source length is unknown
	offset    int64
	start     int64
	index     int
	done      bool
	err       error
}

// NewParser validates the patch signature and returns a parser positioned
// at the first chunk.
func NewParser(r io.Reader, opts ...Option) (*Parser, error) {
	o := newOptions(opts)
	p := &Parser{
		r:            r,
		logger:       o.logger,
		maxChunkSize: o.maxChunkSize,
		remaining:    -1,
	}
	if s, ok := r.(io.Seeker); ok {
		p.remaining = remainingLength(s)
	}

	var sig [len(Signature)]byte
	if _, err := io.ReadFull(r, sig[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: stream shorter than signature", ErrTruncatedPatch)
		}
		return nil, err
	}
	if sig != Signature {
		return nil, fmt.Errorf("%w: bad signature %x", ErrPatchCorrupt, sig[:])
	}
	p.advance(int64(len(sig)))
	return p, nil
}

// remainingLength returns the bytes between the current position and the
// end of s, or -1 if s cannot report it.
func remainingLength(s io.Seeker) int64 {
	cur, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return -1
	}
	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return -1
	}
	if _, err := s.Seek(cur, io.SeekStart); err != nil {
		return -1
	}
	return end - cur
}

func (p *Parser) advance(n int64) {
	p.offset += n
	if p.remaining >= 0 {
		p.remaining -= n
	}
}

// Offset returns the stream offset of the next chunk.
func (p *Parser) Offset() int64 {
	return p.offset
}

// ChunkOffset returns the stream offset of the chunk Next last read or
// tried to read.
func (p *Parser) ChunkOffset() int64 {
	return p.start
}

// Index returns the index the next chunk will have. After an error it is
// the index of the chunk that failed.
func (p *Parser) Index() int {
	return p.index
}

// Next returns the next recognized chunk.
//
// The EOF_ chunk is returned once; later calls return io.EOF. Chunks with
// an unrecognized magic are skipped. After an error, Next keeps returning
// that error.
func (p *Parser) Next() (*Chunk, error) {
	for {
		if p.err != nil {
			return nil, p.err
		}
		if p.done {
			return nil, io.EOF
		}
		c, err := p.readChunk()
		if err != nil {
			p.err = err
			return nil, err
		}
		p.index++
		if !c.Magic.Known() {
			p.logger.Warn("skipping unknown chunk", "magic", c.Magic.String(), "offset", c.Offset, "size", len(c.Payload))
			continue
		}
		if c.Magic == MagicEndOfFile {
			p.done = true
		}
		return c, nil
	}
}

// Chunks returns an iterator over the remaining chunks. Iteration stops
// after the EOF_ chunk or at the first error, which is yielded.
func (p *Parser) Chunks() iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		for {
			c, err := p.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(c, err) || err != nil {
				return
			}
		}
	}
}

// readChunk reads one framed chunk and verifies its checksum.
func (p *Parser) readChunk() (*Chunk, error) {
	start := p.offset
	p.start = start
	var hdr [chunkHeaderSize]byte
	n, err := io.ReadFull(p.r, hdr[:])
	switch {
	case n == 0 && errors.Is(err, io.EOF):
		return nil, fmt.Errorf("%w: stream ended at %#x without %s", ErrTruncatedPatch, start, MagicEndOfFile)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, fmt.Errorf("%w: chunk header at %#x", ErrTruncatedPatch, start)
	case err != nil:
		return nil, err
	}
	p.advance(chunkHeaderSize)

	c := &Chunk{Index: p.index, Offset: start}
	copy(c.Magic[:], hdr[:4])
	size := binary.BigEndian.Uint32(hdr[4:])

	if p.remaining >= 0 && int64(size)+chunkTrailerSize > p.remaining {
		return nil, fmt.Errorf("%w: %s chunk at %#x declares %d bytes, %d remain",
			ErrTruncatedPatch, c.Magic, start, size, max(p.remaining-chunkTrailerSize, 0))
	}
	if size > p.maxChunkSize {
		return nil, fmt.Errorf("%w: %s chunk at %#x declares %d bytes, limit %d",
			ErrPatchCorrupt, c.Magic, start, size, p.maxChunkSize)
	}

	// Grow with the bytes actually read rather than the declared size.
	var buf bytes.Buffer
	got, err := buf.ReadFrom(io.LimitReader(p.r, int64(size)))
	if err != nil {
		return nil, err
	}
	if got < int64(size) {
		return nil, fmt.Errorf("%w: %s chunk at %#x has %d of %d payload bytes", ErrTruncatedPatch, c.Magic, start, got, size)
	}
	p.advance(got)
	c.Payload = buf.Bytes()

	var trailer [chunkTrailerSize]byte
	if _, err := io.ReadFull(p.r, trailer[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %s chunk at %#x has no checksum", ErrTruncatedPatch, c.Magic, start)
		}
		return nil, err
	}
	p.advance(chunkTrailerSize)

	c.Checksum = binary.BigEndian.Uint32(trailer[:])
	if sum := crc32.ChecksumIEEE(c.Payload); sum != c.Checksum {
		return nil, fmt.Errorf("%w: %s chunk at %#x checksum %#08x, computed %#08x", ErrPatchCorrupt, c.Magic, start, c.Checksum, sum)
	}
	return c, nil
}
