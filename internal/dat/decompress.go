package dat

import (
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// DecompressPool manages reusable raw-deflate readers to reduce allocation overhead.
type DecompressPool struct {
	pool *sync.Pool
}

// NewDecompressPool creates a new pool for deflate readers.
func NewDecompressPool() *DecompressPool {
	return &DecompressPool{
		pool: &sync.Pool{
			New: func() any {
				return flate.NewReader(nil)
			},
		},
	}
}

// Get returns a reader inflating from r.
// The caller must call the returned release function when done.
// If an error is returned, no release function needs to be called.
func (p *DecompressPool) Get(r io.Reader) (io.ReadCloser, func(), error) {
	if p == nil || p.pool == nil {
		fr := flate.NewReader(r)
		return fr, func() { _ = fr.Close() }, nil
	}

	value := p.pool.Get()
	fr, ok := value.(io.ReadCloser)
	if !ok {
		fr = flate.NewReader(r)
		return fr, func() { _ = fr.Close() }, nil
	}

	resetter, ok := fr.(flate.Resetter)
	if !ok {
		fr = flate.NewReader(r)
		return fr, func() { _ = fr.Close() }, nil
	}
	if err := resetter.Reset(r, nil); err != nil {
		return nil, nil, err
	}

	return fr, func() {
		p.pool.Put(fr)
	}, nil
}

// bufferPool hands out byte slices for block scratch space.
type bufferPool struct {
	pool sync.Pool
}

func (b *bufferPool) get(n int) (*[]byte, []byte) {
	if v, ok := b.pool.Get().(*[]byte); ok && cap(*v) >= n {
		return v, (*v)[:n]
	}
	buf := make([]byte, n, max(n, defaultBufferSize))
	return &buf, buf
}

func (b *bufferPool) put(buf *[]byte) {
	if buf == nil || cap(*buf) > maxPooledBuffer {
		return
	}
	b.pool.Put(buf)
}

const (
	defaultBufferSize = 32 * 1024
	maxPooledBuffer   = 1 << 20
)
