package sqpack

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/meigma/sqpack/internal/batch"
	"github.com/meigma/sqpack/internal/pathhash"
)

// CopyOption configures CopyTo.
type CopyOption func(*copyConfig)

type copyConfig struct {
	overwrite   bool
	skipMissing bool
	workers     int
}

// CopyWithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func CopyWithOverwrite(overwrite bool) CopyOption {
	return func(c *copyConfig) {
		c.overwrite = overwrite
	}
}

// CopyWithSkipMissing skips paths that have no index entry instead of
// failing.
func CopyWithSkipMissing(skip bool) CopyOption {
	return func(c *copyConfig) {
		c.skipMissing = skip
	}
}

// CopyWithWorkers sets the number of workers for parallel extraction.
// Values < 0 force serial processing. Zero uses GOMAXPROCS.
func CopyWithWorkers(n int) CopyOption {
	return func(c *copyConfig) {
		c.workers = n
	}
}

// CopyTo extracts paths into destDir, keeping their folder structure.
//
// Destination names are the normalised archive paths. Files are written
// atomically using temp files and renames, in data file order. By default
// existing files are skipped and a path with no index entry fails the
// copy before anything is written.
func (a *Archive) CopyTo(ctx context.Context, destDir string, paths []string, opts ...CopyOption) error {
	cfg := copyConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	jobs := make([]batch.Job, 0, len(paths))
	for _, p := range paths {
		loc, ok := a.Lookup(p)
		if !ok {
			if cfg.skipMissing {
				a.log().Warn("skipping missing file", "path", p)
				continue
			}
			return &fs.PathError{Op: "copy", Path: p, Err: ErrNotFound}
		}
		jobs = append(jobs, batch.Job{
			Path:   pathhash.Normalize(p),
			Source: fmt.Sprintf("%s.dat%d", loc.Segment, loc.DataFile),
			Offset: loc.Offset,
		})
	}

	read := func(j batch.Job) ([]byte, error) {
		return a.Extract(j.Path)
	}
	sink, err := batch.NewFileSink(destDir, batch.WithOverwrite(cfg.overwrite))
	if err != nil {
		return err
	}
	defer sink.Close()
	proc := batch.NewProcessor(read, batch.WithWorkers(cfg.workers))
	if err := proc.Process(ctx, jobs, sink); err != nil {
		return err
	}
	a.log().Debug("copied", "dest", destDir, "files", len(jobs))
	return nil
}
