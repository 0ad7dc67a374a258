package zipatch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Writer encodes a patch stream.
//
// NewWriter writes the signature; Close writes the EOF_ chunk. Writer
// does not close the underlying writer.
type Writer struct {
	w      io.Writer
	buf    []byte
	chunks int
	closed bool
	err    error
}

// NewWriter writes the patch signature to w.
func NewWriter(w io.Writer) (*Writer, error) {
	if _, err := w.Write(Signature[:]); err != nil {
		return nil, err
	}
	return &Writer{w: w}, nil
}

// Chunks returns the number of chunks written.
func (w *Writer) Chunks() int {
	return w.chunks
}

// WriteChunk frames payload under magic and writes it.
func (w *Writer) WriteChunk(magic Magic, payload []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return errors.New("zipatch: write to closed writer")
	}
	if uint64(len(payload)) > 1<<32-1 {
		return fmt.Errorf("zipatch: %s payload of %d bytes", magic, len(payload))
	}
	var hdr [chunkHeaderSize]byte
	copy(hdr[:], magic[:])
	binary.BigEndian.PutUint32(hdr[4:], uint32(len(payload))) //nolint:gosec // checked above
	var trailer [chunkTrailerSize]byte
	binary.BigEndian.PutUint32(trailer[:], crc32.ChecksumIEEE(payload))

	for _, b := range [][]byte{hdr[:], payload, trailer[:]} {
		if _, err := w.w.Write(b); err != nil {
			w.err = err
			return err
		}
	}
	w.chunks++
	return nil
}

// WriteOperation encodes op as a chunk.
func (w *Writer) WriteOperation(op Operation) error {
	if _, ok := op.(*EndOfFile); ok {
		return w.Close()
	}
	payload, err := op.appendPayload(w.buf[:0])
	if err != nil {
		return fmt.Errorf("encode %s: %w", op.Op(), err)
	}
	w.buf = payload
	return w.WriteChunk(op.magic(), payload)
}

// Close writes the EOF_ chunk. Calling Close more than once is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return w.err
	}
	err := w.WriteChunk(MagicEndOfFile, nil)
	w.closed = true
	return err
}
