package zipatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/meigma/sqpack/internal/index"
	"github.com/meigma/sqpack/internal/layout"
	"github.com/meigma/sqpack/internal/sqtype"
	"github.com/meigma/sqpack/metrics"
)

const (
	// maxSingleFill is the largest zero range written with one WriteAt.
	maxSingleFill = 4 << 20
	// fillPiece is the write size for longer zero ranges.
	fillPiece = 1 << 20
	// placeholderHeaderSize is the stamp DeleteData and ExpandData leave.
	placeholderHeaderSize = 20

	dirPerm  = 0o755
	filePerm = 0o644
)

var zeroPiece = make([]byte, fillPiece)

// Target is the archive a patch is applied to.
type Target interface {
	// Root returns the game root holding sqpack/.
	Root() string
	// Platform returns the platform whose files are patched.
	Platform() Platform
}

// Result summarizes an applied patch.
type Result struct {
	// Chunks is the number of chunks applied.
	Chunks int
	// LastApplied is the index of the last chunk applied, or -1.
	LastApplied int
	// Bytes is the total payload size of the applied chunks.
	Bytes int64
	// Target is the patch's TargetInfo, if it carried one.
	Target *TargetInfo
	// Name is the name from the patch's file header.
	Name              string
	IgnoreMissing     bool
	IgnoreOldMismatch bool
	Duration          time.Duration
}

// Applier applies chunks to the files of a Target.
//
// Chunks must be applied one at a time in stream order. Every file access
// goes through an os.Root, so no operation reaches outside the game root.
// Write handles are kept open until Close.
type Applier struct {
	root     *os.Root
	platform Platform
	logger   *slog.Logger
	metrics  metrics.PatchMetrics

	files   map[string]*os.File
	aborted bool
	result  Result
}

// NewApplier opens the target's game root for patching.
func NewApplier(t Target, opts ...Option) (*Applier, error) {
	o := newOptions(opts)
	root, err := os.OpenRoot(t.Root())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPatchFailed, err)
	}
	return &Applier{
		root:     root,
		platform: t.Platform(),
		logger:   o.logger,
		metrics:  o.metrics,
		files:    make(map[string]*os.File),
		result:   Result{LastApplied: -1},
	}, nil
}

// Result returns the progress so far.
func (a *Applier) Result() Result {
	return a.result
}

// Close closes every write handle and the root.
func (a *Applier) Close() error {
	var errs []error
	for name, f := range a.files {
		errs = append(errs, f.Close())
		delete(a.files, name)
	}
	errs = append(errs, a.root.Close())
	return errors.Join(errs...)
}

// Apply decodes and applies one chunk.
//
// A chunk that fails to decode is not applied. I/O failures wrap
// ErrPatchFailed; a platform mismatch returns ErrPatchAborted and every
// later call returns it too.
func (a *Applier) Apply(c *Chunk) error {
	op, err := Decode(c)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := a.ApplyOperation(op); err != nil {
		return err
	}
	a.result.Chunks++
	a.result.LastApplied = c.Index
	a.result.Bytes += int64(len(c.Payload))
	metrics.ObserveChunk(a.metrics, op.Op(), int64(len(c.Payload)), time.Since(start))
	a.logger.Debug("chunk applied", "index", c.Index, "op", op.Op(), "bytes", len(c.Payload))
	return nil
}

// ApplyOperation applies a decoded operation.
func (a *Applier) ApplyOperation(op Operation) error {
	if a.aborted {
		return fmt.Errorf("%w: patch already aborted", ErrPatchAborted)
	}
	switch o := op.(type) {
	case *TargetInfo:
		return a.targetInfo(o)
	case *AddData:
		return a.addData(o)
	case *DeleteData:
		return a.retire(o.Segment, o.Offset, o.Blocks)
	case *ExpandData:
		return a.retire(o.Segment, o.Offset, o.Blocks)
	case *HeaderUpdate:
		return a.headerUpdate(o)
	case *FileOperation:
		return a.fileOperation(o)
	case *IndexUpdate:
		return a.indexUpdate(o)
	case *ApplyOption:
		a.applyOption(o)
	case *AddDirectory:
		if err := a.root.MkdirAll(filepath.FromSlash(o.Path), dirPerm); err != nil {
			return failed(err)
		}
	case *DeleteDirectory:
		a.forget(o.Path)
		if err := a.root.Remove(filepath.FromSlash(o.Path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return failed(err)
		}
	case *FileHeader:
		a.result.Name = o.Name
		a.logger.Debug("patch header", "name", o.Name, "version", o.Version, "files", o.EntryFiles)
	case *PatchInfo:
		a.logger.Debug("patch info", "status", o.Status, "version", o.Version, "install_size", o.InstallSize)
	case *EndOfFile:
	default:
		return fmt.Errorf("%w: %T", ErrUnknownChunk, op)
	}
	return nil
}

// failed wraps an I/O error as ErrPatchFailed. A nil error stays nil.
func failed(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPatchFailed, err)
}

func (a *Applier) targetInfo(o *TargetInfo) error {
	if o.Platform != a.platform {
		a.aborted = true
		return fmt.Errorf("%w: patch is for %s, archive is %s", ErrPatchAborted, o.Platform, a.platform)
	}
	a.result.Target = o
	a.logger.Debug("patch target", "platform", o.Platform.String(), "region", o.Region, "version", o.Version)
	return nil
}

func (a *Applier) applyOption(o *ApplyOption) {
	switch o.Option {
	case OptionIgnoreMissing:
		a.result.IgnoreMissing = o.Value != 0
	case OptionIgnoreOldMismatch:
		a.result.IgnoreOldMismatch = o.Value != 0
	default:
		a.logger.Warn("unknown apply option", "option", o.Option, "value", o.Value)
	}
}

// file returns a cached write handle, creating the file and its parents.
func (a *Applier) file(name string) (*os.File, error) {
	if f, ok := a.files[name]; ok {
		return f, nil
	}
	local := filepath.FromSlash(name)
	if dir := filepath.Dir(local); dir != "." {
		if err := a.root.MkdirAll(dir, dirPerm); err != nil {
			return nil, err
		}
	}
	f, err := a.root.OpenFile(local, os.O_RDWR|os.O_CREATE, filePerm)
	if err != nil {
		return nil, err
	}
	a.files[name] = f
	return f, nil
}

// forget closes handles for name and everything beneath it.
func (a *Applier) forget(name string) {
	for n, f := range a.files {
		if n == name || strings.HasPrefix(n, name+"/") {
			f.Close()
			delete(a.files, n)
		}
	}
}

func (a *Applier) addData(o *AddData) error {
	f, err := a.file(o.Segment.DatPath(a.platform))
	if err != nil {
		return failed(err)
	}
	off := int64(o.Offset) //nolint:gosec // 32-bit unit count times 128
	if o.DeleteLength <= maxSingleFill {
		buf := make([]byte, uint64(len(o.Data))+o.DeleteLength)
		copy(buf, o.Data)
		if _, err := f.WriteAt(buf, off); err != nil {
			return failed(err)
		}
		return nil
	}
	if _, err := f.WriteAt(o.Data, off); err != nil {
		return failed(err)
	}
	return failed(zeroFill(f, off+int64(len(o.Data)), o.DeleteLength))
}

// retire zeroes blocks 128-byte units at offset and stamps an empty
// placeholder header that readers report as a missing file.
func (a *Applier) retire(seg SegmentID, offset uint64, blocks uint32) error {
	if blocks == 0 {
		a.logger.Warn("empty block range", "segment", seg.String(), "offset", offset)
		return nil
	}
	f, err := a.file(seg.DatPath(a.platform))
	if err != nil {
		return failed(err)
	}
	order := a.platform.ByteOrder()
	var stamp [placeholderHeaderSize]byte
	order.PutUint32(stamp[0:], dataUnit)
	order.PutUint32(stamp[4:], uint32(sqtype.ContentPlaceholder))
	order.PutUint32(stamp[12:], blocks-1)

	off := int64(offset) //nolint:gosec // 32-bit unit count times 128
	n := uint64(blocks) * dataUnit
	if n <= maxSingleFill {
		buf := make([]byte, n)
		copy(buf, stamp[:])
		if _, err := f.WriteAt(buf, off); err != nil {
			return failed(err)
		}
		return nil
	}
	if err := zeroFill(f, off, n); err != nil {
		return failed(err)
	}
	if _, err := f.WriteAt(stamp[:], off); err != nil {
		return failed(err)
	}
	return nil
}

func zeroFill(f *os.File, off int64, n uint64) error {
	for n > 0 {
		piece := min(n, fillPiece)
		if _, err := f.WriteAt(zeroPiece[:piece], off); err != nil {
			return err
		}
		off += int64(piece) //nolint:gosec // at most fillPiece
		n -= piece
	}
	return nil
}

func (a *Applier) headerUpdate(o *HeaderUpdate) error {
	f, err := a.file(o.Path(a.platform))
	if err != nil {
		return failed(err)
	}
	if _, err := f.WriteAt(o.Header[:], o.Offset()); err != nil {
		return failed(err)
	}
	return nil
}

func (a *Applier) fileOperation(o *FileOperation) error {
	switch o.Kind {
	case FileAdd:
		f, err := a.file(o.Path)
		if err != nil {
			return failed(err)
		}
		if o.Offset == 0 {
			if err := f.Truncate(0); err != nil {
				return failed(err)
			}
		}
		if _, err := f.WriteAt(o.Data, int64(o.Offset)); err != nil { //nolint:gosec // file offsets fit int64
			return failed(err)
		}
	case FileDelete:
		a.forget(o.Path)
		if err := a.root.Remove(filepath.FromSlash(o.Path)); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return failed(err)
			}
			a.logger.Debug("file to delete is missing", "path", o.Path)
		}
	case FileRemoveAll:
		dir := layout.RepositoryDir(o.expansion())
		a.forget(dir)
		if err := a.root.RemoveAll(filepath.FromSlash(dir)); err != nil {
			return failed(err)
		}
	case FileMakeDir:
		if err := a.root.MkdirAll(filepath.FromSlash(o.Path), dirPerm); err != nil {
			return failed(err)
		}
	}
	return nil
}

func (o *FileOperation) expansion() uint8 {
	return uint8(o.Expansion) //nolint:gosec // expansion ids are one byte
}

func (a *Applier) indexUpdate(o *IndexUpdate) error {
	kind := index.KindIndex1
	switch o.Segment.File {
	case 0:
	case 2:
		kind = index.KindIndex2
	default:
		return fmt.Errorf("%w: index update for index%d", ErrPatchCorrupt, o.Segment.File)
	}
	if o.Command == IndexAdd && o.DataFile > index.MaxDataFileID {
		return fmt.Errorf("%w: index update to dat%d", ErrPatchCorrupt, o.DataFile)
	}

	name := o.Segment.IndexPath(a.platform)
	data, err := a.root.ReadFile(filepath.FromSlash(name))
	if errors.Is(err, fs.ErrNotExist) {
		a.logger.Warn("index update for missing index", "path", name)
		return nil
	}
	if err != nil {
		return failed(err)
	}
	t, err := index.Parse(data, kind)
	if err != nil {
		return failed(err)
	}

	hash := o.Hash
	if kind == index.KindIndex2 {
		hash = uint64(uint32(hash)) //nolint:gosec // index2 hashes are 32-bit
	}
	pos, ok := t.Position(hash)
	if !ok {
		a.logger.Warn("index update for missing entry", "path", name, "hash", fmt.Sprintf("%#x", hash))
		return nil
	}

	f, err := a.file(name)
	if err != nil {
		return failed(err)
	}
	if o.Command == IndexDelete {
		_, err = f.WriteAt(make([]byte, kind.EntrySize()), pos)
		return failed(err)
	}

	loc, err := index.Pack(uint8(o.DataFile), o.Offset, o.Synonym) //nolint:gosec // checked above
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPatchCorrupt, err)
	}
	var b [4]byte
	t.Platform().ByteOrder().PutUint32(b[:], uint32(loc))
	locAt := pos + 8
	if kind == index.KindIndex2 {
		locAt = pos + 4
	}
	_, err = f.WriteAt(b[:], locAt)
	return failed(err)
}

// Apply parses r and applies every chunk to t in order.
//
// It stops at the first error and returns an *ApplyError recording the
// failed chunk and the last chunk applied. Chunks applied before a failure
// stay applied. Cancellation is checked between chunks. The Result
// reflects the progress made even when an error is returned.
func Apply(ctx context.Context, r io.Reader, t Target, opts ...Option) (*Result, error) {
	o := newOptions(opts)
	start := time.Now()
	res := &Result{LastApplied: -1}

	finish := func(err error) (*Result, error) {
		res.Duration = time.Since(start)
		outcome := metrics.ResultApplied
		switch {
		case errors.Is(err, ErrPatchAborted):
			outcome = metrics.ResultAborted
		case err != nil:
			outcome = metrics.ResultFailed
		}
		metrics.ObservePatch(o.metrics, outcome, res.Chunks, res.Duration)
		if err != nil {
			o.logger.Warn("patch stopped", "root", t.Root(), "chunks", res.Chunks, "error", err)
		} else {
			o.logger.Info("patch applied", "root", t.Root(), "chunks", res.Chunks, "bytes", res.Bytes, "duration", res.Duration)
		}
		return res, err
	}

	p, err := NewParser(r, opts...)
	if err != nil {
		return finish(&ApplyError{LastApplied: -1, Err: err})
	}
	a, err := NewApplier(t, opts...)
	if err != nil {
		return finish(&ApplyError{Offset: p.Offset(), LastApplied: -1, Err: err})
	}

	err = a.run(ctx, p)
	*res = a.Result()
	if cerr := a.Close(); cerr != nil && err == nil {
		err = &ApplyError{Chunk: p.Index(), Offset: p.Offset(), LastApplied: res.LastApplied, Err: failed(cerr)}
	}
	return finish(err)
}

func (a *Applier) run(ctx context.Context, p *Parser) error {
	for {
		if err := ctx.Err(); err != nil {
			return &ApplyError{Chunk: p.Index(), Offset: p.Offset(), LastApplied: a.result.LastApplied, Err: err}
		}
		c, err := p.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &ApplyError{Chunk: p.Index(), Offset: p.ChunkOffset(), LastApplied: a.result.LastApplied, Err: err}
		}
		if err := a.Apply(c); err != nil {
			return &ApplyError{Chunk: c.Index, Offset: c.Offset, Magic: c.Magic, LastApplied: a.result.LastApplied, Err: err}
		}
	}
}

