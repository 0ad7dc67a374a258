// Package batch extracts many archive files with a bounded worker pool.
//
// Jobs are ordered by data file and record offset before they are read so
// each data file is walked front to back.
package batch

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// Job is one file to reconstruct and write.
type Job struct {
	// Path is the slash-separated archive path, also used as the
	// destination name.
	Path string
	// Source identifies the data file holding the record.
	Source string
	// Offset is the record offset within Source.
	Offset uint64
}

// ReadFunc reconstructs the content of a job.
type ReadFunc func(Job) ([]byte, error)

// Sink receives reconstructed files.
type Sink interface {
	// ShouldProcess reports whether the job needs to be read at all.
	ShouldProcess(job Job) bool
	// Writer returns a destination for the job's content.
	Writer(job Job) (Committer, error)
}

// Committer is a pending write that becomes visible on Commit.
type Committer interface {
	io.Writer
	Commit() error
	Discard() error
}

// Processor reads jobs and hands their content to a Sink.
type Processor struct {
	read    ReadFunc
	workers int // 0 = auto, <0 = serial, >0 = fixed count
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the number of workers for parallel processing.
// Values < 0 force serial processing. Zero uses GOMAXPROCS.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = n
	}
}

// NewProcessor creates a processor that reconstructs files with read.
func NewProcessor(read ReadFunc, opts ...ProcessorOption) *Processor {
	p := &Processor{read: read}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process reads every job accepted by sink and writes it.
//
// Processing stops on the first error. Files committed before the error
// stay in place; the failing file is discarded.
func (p *Processor) Process(ctx context.Context, jobs []Job, sink Sink) error {
	todo := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if sink.ShouldProcess(j) {
			todo = append(todo, j)
		}
	}
	if len(todo) == 0 {
		return nil
	}
	slices.SortStableFunc(todo, func(a, b Job) int {
		if c := cmp.Compare(a.Source, b.Source); c != 0 {
			return c
		}
		return cmp.Compare(a.Offset, b.Offset)
	})

	workers := p.workerCount(len(todo))
	if workers < 2 {
		for _, j := range todo {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := p.processJob(j, sink); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, j := range todo {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return p.processJob(j, sink)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *Processor) processJob(j Job, sink Sink) error {
	data, err := p.read(j)
	if err != nil {
		return fmt.Errorf("batch: %s: %w", j.Path, err)
	}
	w, err := sink.Writer(j)
	if err != nil {
		return fmt.Errorf("batch: %s: %w", j.Path, err)
	}
	if err := writeAll(w, data); err != nil {
		_ = w.Discard() //nolint:errcheck // the write error wins
		return fmt.Errorf("batch: %s: %w", j.Path, err)
	}
	if err := w.Commit(); err != nil {
		return fmt.Errorf("batch: %s: %w", j.Path, err)
	}
	return nil
}

// workerCount determines the number of workers to use for n jobs.
func (p *Processor) workerCount(n int) int {
	if p.workers < 0 || n < 2 {
		return 1
	}
	w := p.workers
	if w == 0 {
		w = runtime.GOMAXPROCS(0)
	}
	return min(w, n)
}

func writeAll(w io.Writer, data []byte) error {
	n, err := w.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return io.ErrShortWrite
	}
	return nil
}
