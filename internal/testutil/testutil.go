// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"io"
	"io/fs"
	"sync"
	"testing/fstest"

	"github.com/meigma/sqpack/cache"
)

// MemCache is an in-memory cache.Cache that groups entries by data file
// the way the disk cache does. It counts traffic so tests can observe it.
type MemCache struct {
	mu      sync.RWMutex
	sources map[string]map[uint64][]byte
	hits    int
	stores  int
	drops   int
}

var (
	_ cache.Cache         = (*MemCache)(nil)
	_ cache.SourceDropper = (*MemCache)(nil)
)

// NewMemCache constructs an empty cache.
func NewMemCache() *MemCache {
	return &MemCache{sources: make(map[string]map[uint64][]byte)}
}

// Get returns the cached record for key.
func (c *MemCache) Get(key []byte) (fs.File, bool) {
	source, offset, ok := cache.SplitKey(key)
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.sources[string(source)][offset]
	if !ok {
		return nil, false
	}
	c.hits++
	f, err := fstest.MapFS{"record": {Data: data}}.Open("record")
	if err != nil {
		return nil, false
	}
	return f, true
}

// Put reads f fully and stores it under key.
func (c *MemCache) Put(key []byte, f fs.File) error {
	source, offset, ok := cache.SplitKey(key)
	if !ok {
		return fs.ErrInvalid
	}
	content, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	records, ok := c.sources[string(source)]
	if !ok {
		records = make(map[uint64][]byte)
		c.sources[string(source)] = records
	}
	records[offset] = content
	c.stores++
	return nil
}

// Delete removes the record for key.
func (c *MemCache) Delete(key []byte) error {
	source, offset, ok := cache.SplitKey(key)
	if !ok {
		return fs.ErrInvalid
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sources[string(source)], offset)
	return nil
}

// DropSource removes every record of one data file.
func (c *MemCache) DropSource(source []byte) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var freed int64
	for _, data := range c.sources[string(source)] {
		freed += int64(len(data))
	}
	delete(c.sources, string(source))
	c.drops++
	return freed, nil
}

// MaxBytes reports no limit.
func (c *MemCache) MaxBytes() int64 { return 0 }

// SizeBytes returns the total size of cached records.
func (c *MemCache) SizeBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total int64
	for _, records := range c.sources {
		for _, data := range records {
			total += int64(len(data))
		}
	}
	return total
}

// Prune drops every record when targetBytes is below the current size.
func (c *MemCache) Prune(targetBytes int64) (int64, error) {
	size := c.SizeBytes()
	if size <= targetBytes {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.sources)
	return size, nil
}

// Hits returns how many Get calls found a record.
func (c *MemCache) Hits() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits
}

// Stores returns how many records were stored.
func (c *MemCache) Stores() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stores
}

// Drops returns how many data files were dropped.
func (c *MemCache) Drops() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.drops
}
