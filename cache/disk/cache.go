// Package disk implements cache.Cache on the local filesystem.
//
// Entries are grouped by data file: each source key gets a directory
// named by its hex form, holding one file per record offset. Dropping a
// data file's entries after a patch removes a single directory.
package disk

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/meigma/sqpack/cache"
)

const (
	defaultDirPerm = 0o700
	tempPattern    = "cache-*.tmp"
)

// Cache implements cache.Cache and cache.SourceDropper using the local
// filesystem. The cache is safe for concurrent use.
type Cache struct {
	dir      string       // root directory for cached files
	dirPerm  os.FileMode  // permissions for created directories
	maxBytes int64        // maximum cache size (0 = unlimited)
	bytes    atomic.Int64 // current total size of cached files
	pruneMu  sync.Mutex   // serializes prune and drop operations
}

var (
	_ cache.Cache         = (*Cache)(nil)
	_ cache.SourceDropper = (*Cache)(nil)
)

// ErrInvalidKey is returned for keys not made by cache.Key.
var ErrInvalidKey = errors.New("disk: invalid cache key")

// Option configures a disk cache.
type Option func(*Cache)

// WithDirPerm sets the directory permissions used for cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithMaxBytes sets the maximum cache size in bytes.
// Values < 0 are invalid. Use 0 to disable the limit.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = n
	}
}

// New creates a disk-backed cache rooted at dir.
// Leftover temporary files from interrupted writes are removed.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	c := &Cache{
		dir:     dir,
		dirPerm: defaultDirPerm,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxBytes < 0 {
		return nil, errors.New("max bytes must be >= 0")
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	entries, err := scan(dir, true)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, e := range entries {
		total += e.size
	}
	c.bytes.Store(total)
	return c, nil
}

// Get returns an fs.File for reading cached content.
// Returns nil, false if the content is not cached.
func (c *Cache) Get(key []byte) (fs.File, bool) {
	path, err := c.path(key)
	if err != nil {
		return nil, false
	}
	f, err := os.Open(path) //nolint:gosec // path is derived from the key
	if err != nil {
		return nil, false
	}
	return f, true
}

// Put stores content by reading from the provided fs.File.
// The content is written to a temporary file and renamed into place, so
// readers never observe a partial entry. Content larger than the size
// limit is silently not stored.
func (c *Cache) Put(key []byte, f fs.File) error {
	path, err := c.path(key)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(path); statErr == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	discard := func(err error) error {
		_ = os.Remove(tmpPath)
		return err
	}

	written, err := io.Copy(tmp, f)
	if cerr := tmp.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return discard(err)
	}

	ok, err := c.ensureCapacity(written)
	if err != nil || !ok {
		return discard(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return discard(err)
	}
	c.bytes.Add(written)
	return nil
}

// Delete removes cached content for the given key.
func (c *Cache) Delete(key []byte) error {
	path, err := c.path(key)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	c.bytes.Add(-info.Size())
	return nil
}

// DropSource removes every entry of the data file with the given source
// key and returns the bytes freed.
func (c *Cache) DropSource(source []byte) (int64, error) {
	if len(source) != cache.SourceKeySize {
		return 0, ErrInvalidKey
	}
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	dir := filepath.Join(c.dir, hex.EncodeToString(source))
	entries, err := scan(dir, false)
	if err != nil {
		return 0, err
	}
	var freed int64
	for _, e := range entries {
		freed += e.size
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("drop %s: %w", dir, err)
	}
	c.bytes.Add(-freed)
	return freed, nil
}

// MaxBytes returns the configured cache size limit (0 = unlimited).
func (c *Cache) MaxBytes() int64 {
	return c.maxBytes
}

// SizeBytes returns the current cache size in bytes.
func (c *Cache) SizeBytes() int64 {
	return c.bytes.Load()
}

// Prune removes the least recently written entries until the cache is at
// or below targetBytes.
func (c *Cache) Prune(targetBytes int64) (int64, error) {
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	freed, remaining, err := prune(c.dir, max(targetBytes, 0))
	if err != nil {
		return 0, err
	}
	c.bytes.Store(remaining)
	return freed, nil
}

// path maps a key to <dir>/<source hex>/<offset hex>.
func (c *Cache) path(key []byte) (string, error) {
	source, offset, ok := cache.SplitKey(key)
	if !ok {
		return "", ErrInvalidKey
	}
	return filepath.Join(c.dir, hex.EncodeToString(source), fmt.Sprintf("%012x", offset)), nil
}

func (c *Cache) ensureCapacity(need int64) (bool, error) {
	if c.maxBytes <= 0 {
		return true, nil
	}
	if need > c.maxBytes {
		return false, nil
	}
	if c.SizeBytes()+need <= c.maxBytes {
		return true, nil
	}
	if _, err := c.Prune(c.maxBytes - need); err != nil {
		return false, err
	}
	return c.SizeBytes()+need <= c.maxBytes, nil
}
