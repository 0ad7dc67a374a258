package sqpack

import (
	"fmt"
	"os"
	"path/filepath"
)

// dataSource is an open .datN file. It satisfies dat.ByteSource.
type dataSource struct {
	*os.File
	size int64
	id   string
}

// openDataSource opens a data file read-only and fixes its identity. The
// identity changes whenever a patch resizes or rewrites the file, which
// retires every cache key derived from it.
func openDataSource(path string) (*dataSource, error) {
	f, err := os.Open(path) //nolint:gosec // path is built from the archive layout
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat data file: %w", err)
	}
	if abs, aerr := filepath.Abs(path); aerr == nil {
		path = abs
	}
	return &dataSource{
		File: f,
		size: info.Size(),
		id:   fmt.Sprintf("file:%s:%d:%d", path, info.Size(), info.ModTime().UnixNano()),
	}, nil
}

// Size returns the file size observed at open.
func (d *dataSource) Size() int64 { return d.size }

// SourceID identifies this revision of the file.
func (d *dataSource) SourceID() string { return d.id }
