package sqpack

import (
	"bytes"
	"errors"
	"io/fs"
	"path"
	"time"

	"github.com/meigma/sqpack/internal/sqtype"
)

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
)

// Open implements fs.FS.
//
// The archive stores hashes rather than names, so only files can be
// opened. The content is reconstructed in full before Open returns.
func (a *Archive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	content, err := a.Extract(name)
	if err != nil {
		return nil, fsError("open", name, err)
	}
	return &memFile{
		Reader: bytes.NewReader(content),
		info:   &fileInfo{name: path.Base(name), size: int64(len(content))},
	}, nil
}

// Stat implements fs.StatFS.
//
// Stat reads the record header for the reconstructed size without
// decoding any blocks.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	res, err := a.resolve(name)
	if err != nil {
		return nil, fsError("stat", name, err)
	}
	d, err := res.datFor()
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	h, err := d.reader.ReadHeader(res.entry.Offset())
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	if h.Type == sqtype.ContentPlaceholder {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return &fileInfo{name: path.Base(name), size: int64(h.Size)}, nil
}

// ReadFile implements fs.ReadFileFS.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	content, err := a.Extract(name)
	if err != nil {
		return nil, fsError("readfile", name, err)
	}
	return content, nil
}

// fsError maps archive misses to fs.ErrNotExist for io/fs callers.
func fsError(op, name string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return &fs.PathError{Op: op, Path: name, Err: pe.Err}
	}
	return &fs.PathError{Op: op, Path: name, Err: err}
}

// memFile is an fs.File over reconstructed content.
type memFile struct {
	*bytes.Reader
	info *fileInfo
}

func (f *memFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *memFile) Close() error               { return nil }

// fileInfo implements fs.FileInfo for archive files.
type fileInfo struct {
	name string
	size int64
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) Mode() fs.FileMode  { return 0o444 }
func (fi *fileInfo) ModTime() time.Time { return time.Time{} }
func (fi *fileInfo) IsDir() bool        { return false }
func (fi *fileInfo) Sys() any           { return nil }
