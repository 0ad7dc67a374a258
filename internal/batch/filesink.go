package batch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sync/atomic"
)

// FileSink writes extracted files below a destination directory.
//
// All file system access goes through an os.Root, so a job path can never
// reach outside the destination. Content is staged in a hidden sibling file
// and renamed over the final name on Commit.
type FileSink struct {
	root      *os.Root
	overwrite bool
	seq       atomic.Uint64
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite replaces files that already exist.
// By default they are left untouched and their jobs skipped.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// NewFileSink creates destDir if needed and opens it as the sink root.
// The caller must Close the sink.
func NewFileSink(destDir string, opts ...FileSinkOption) (*FileSink, error) {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, fmt.Errorf("create %s: %w", destDir, err)
	}
	root, err := os.OpenRoot(destDir)
	if err != nil {
		return nil, err
	}
	s := &FileSink{root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the destination directory.
func (s *FileSink) Close() error {
	return s.root.Close()
}

// ShouldProcess reports false for files that exist when overwrite is off.
// Invalid paths are let through so Writer can report them.
func (s *FileSink) ShouldProcess(job Job) bool {
	if s.overwrite || !fs.ValidPath(job.Path) {
		return true
	}
	_, err := s.root.Stat(job.Path)
	return errors.Is(err, fs.ErrNotExist)
}

// Writer stages job's content in a temporary file next to its destination.
func (s *FileSink) Writer(job Job) (Committer, error) {
	if !fs.ValidPath(job.Path) || job.Path == "." {
		return nil, fmt.Errorf("invalid destination path %q", job.Path)
	}
	dir := path.Dir(job.Path)
	if err := s.root.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp := path.Join(dir, fmt.Sprintf(".sqpack-%d-%d.tmp", os.Getpid(), s.seq.Add(1)))
	f, err := s.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &fileCommitter{root: s.root, file: f, tmp: tmp, dest: job.Path}, nil
}

type fileCommitter struct {
	root *os.Root
	file *os.File
	tmp  string
	dest string
}

func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.file.Write(p)
}

// Commit moves the staged file into place.
func (c *fileCommitter) Commit() error {
	if err := c.file.Close(); err != nil {
		_ = c.root.Remove(c.tmp)
		return fmt.Errorf("close %s: %w", c.tmp, err)
	}
	if err := c.root.Rename(c.tmp, c.dest); err != nil {
		_ = c.root.Remove(c.tmp)
		return fmt.Errorf("rename to %s: %w", c.dest, err)
	}
	return nil
}

// Discard drops the staged file.
func (c *fileCommitter) Discard() error {
	_ = c.file.Close()
	return c.root.Remove(c.tmp)
}
