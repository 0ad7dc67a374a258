package sqpack

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/meigma/sqpack/cache"
	"github.com/meigma/sqpack/internal/index"
	"github.com/meigma/sqpack/internal/layout"
	"github.com/meigma/sqpack/internal/pathhash"
	"github.com/meigma/sqpack/metrics"
)

// resolved is a path found in an index table.
type resolved struct {
	category string
	segment  *segment
	entry    index.Entry
}

// resolve finds the index entry for an archive path. Callers hold a.mu.
//
// The category comes from the first path element and the repository from
// an exN second element when that repository exists. Every chunk of the
// category is searched in ascending order, the index table before index2.
func (a *Archive) resolve(name string) (resolved, error) {
	norm := pathhash.Normalize(name)
	cat, ex, ok := layout.Resolve(norm, a.hasExpansion)
	if !ok {
		return resolved{}, fmt.Errorf("%w: no category for path", ErrNotFound)
	}
	res := resolved{category: cat.String()}
	repo, ok := a.repos[ex]
	if !ok {
		metrics.ObserveLookup(a.metrics, res.category, false)
		return res, fmt.Errorf("%w: no %s repository", ErrNotFound, layout.RepositoryName(ex))
	}

	h1 := pathhash.Index1(norm)
	h2 := uint64(pathhash.Index2(norm))
	for _, seg := range repo.segments[cat] {
		t1, t2, err := seg.tables()
		if err != nil {
			return res, err
		}
		if t1 != nil {
			if e, ok := t1.Lookup(h1); ok {
				res.segment, res.entry = seg, e
				break
			}
		}
		if t2 != nil {
			if e, ok := t2.Lookup(h2); ok {
				res.segment, res.entry = seg, e
				break
			}
		}
	}
	metrics.ObserveLookup(a.metrics, res.category, res.segment != nil)
	if res.segment == nil {
		return res, ErrNotFound
	}
	return res, nil
}

// datFor returns the data file an entry points into.
func (r resolved) datFor() (*datFile, error) {
	if r.entry.Location.Synonym() {
		return nil, fmt.Errorf("%w: hash collides with another path", ErrUnsupportedFormat)
	}
	d := r.segment.dats[r.entry.DataFileID()]
	if d == nil {
		return nil, fmt.Errorf("%w: %s.dat%d is missing", ErrParse, r.segment.id, r.entry.DataFileID())
	}
	return d, nil
}

// Lookup returns where path is stored without reading it.
func (a *Archive) Lookup(path string) (Location, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	res, err := a.resolve(path)
	if err != nil {
		return Location{}, false
	}
	return newLocation(res.segment, res.entry.Location), true
}

// Exists reports whether path resolves to an index entry.
func (a *Archive) Exists(path string) bool {
	_, ok := a.Lookup(path)
	return ok
}

// Extract returns the reconstructed content of path.
//
// A path with no index entry returns an error wrapping ErrNotFound.
// Failures are returned as *fs.PathError.
func (a *Archive) Extract(path string) ([]byte, error) {
	start := time.Now()
	a.mu.RLock()
	defer a.mu.RUnlock()

	res, err := a.resolve(path)
	if err != nil {
		return nil, a.extractError(path, res, start, err)
	}
	d, err := res.datFor()
	if err != nil {
		return nil, a.extractError(path, res, start, err)
	}
	content, err := a.read(d, res.entry.Offset())
	if err != nil {
		return nil, a.extractError(path, res, start, err)
	}
	metrics.ObserveExtract(a.metrics, res.category, int64(len(content)), time.Since(start), nil)
	a.log().Debug("extracted", "path", path, "location", res.entry.Location.String(), "bytes", len(content))
	return content, nil
}

// ExtractTo streams the reconstructed content of path to w.
// Model files are buffered in memory to rebuild their header.
func (a *Archive) ExtractTo(path string, w io.Writer) (int64, error) {
	start := time.Now()
	a.mu.RLock()
	defer a.mu.RUnlock()

	res, err := a.resolve(path)
	if err != nil {
		return 0, a.extractError(path, res, start, err)
	}
	d, err := res.datFor()
	if err != nil {
		return 0, a.extractError(path, res, start, err)
	}

	var n int64
	if a.cache != nil {
		var content []byte
		content, err = a.read(d, res.entry.Offset())
		if err == nil {
			var written int
			written, err = w.Write(content)
			n = int64(written)
		}
	} else {
		n, err = d.reader.CopyFile(w, res.entry.Offset())
	}
	if err != nil {
		return n, a.extractError(path, res, start, err)
	}
	metrics.ObserveExtract(a.metrics, res.category, n, time.Since(start), nil)
	return n, nil
}

func (a *Archive) extractError(path string, res resolved, start time.Time, err error) error {
	if res.category != "" {
		metrics.ObserveExtract(a.metrics, res.category, 0, time.Since(start), err)
	}
	a.log().Debug("extract failed", "path", path, "error", err)
	return &fs.PathError{Op: "extract", Path: path, Err: err}
}

// read reconstructs the record at offset, through the cache when one is set.
func (a *Archive) read(d *datFile, offset uint64) ([]byte, error) {
	if a.cache == nil {
		return d.reader.ReadFile(offset)
	}

	key := cache.Key(d.source.SourceID(), offset)
	if f, ok := a.cache.Get(key); ok {
		metrics.ObserveCache(a.metrics, true)
		defer f.Close()
		return io.ReadAll(f)
	}
	metrics.ObserveCache(a.metrics, false)

	// Cache miss with singleflight
	result, err, shared := a.readGroup.Do(string(key), func() (any, error) {
		if f, ok := a.cache.Get(key); ok {
			defer f.Close()
			return io.ReadAll(f)
		}
		content, err := d.reader.ReadFile(offset)
		if err != nil {
			return nil, err
		}
		_ = a.cache.Put(key, &bytesFile{ //nolint:errcheck // caching is opportunistic
			Reader: bytes.NewReader(content),
			size:   int64(len(content)),
		})
		return content, nil
	})
	if err != nil {
		return nil, err
	}
	content := result.([]byte) //nolint:errcheck // type assertion always succeeds when err is nil
	if shared {
		// Every caller of a shared call gets its own copy.
		content = bytes.Clone(content)
	}
	return content, nil
}

// bytesFile wraps []byte as fs.File for cache.Put.
type bytesFile struct {
	*bytes.Reader
	size int64
}

// Stat returns synthetic file info with the content size.
func (f *bytesFile) Stat() (fs.FileInfo, error) {
	return &fileInfo{size: f.size}, nil
}

// Close is a no-op.
func (f *bytesFile) Close() error { return nil }
