package sqpack

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"maps"
	"path/filepath"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/sqpack/cache"
	"github.com/meigma/sqpack/internal/dat"
	"github.com/meigma/sqpack/internal/index"
	"github.com/meigma/sqpack/internal/layout"
	"github.com/meigma/sqpack/metrics"
)

// Archive provides read access to the SqPack repositories of a game root.
//
// Archive implements fs.FS, fs.StatFS and fs.ReadFileFS. Reads are safe
// for concurrent use. Reads must not run while a patch is being applied
// to the same files.
type Archive struct {
	root        string
	platform    Platform
	maxFileSize uint64
	cache       cache.Cache // nil = no caching
	metrics     metrics.ArchiveMetrics
	logger      *slog.Logger
	pool        *dat.DecompressPool

	mu        sync.RWMutex
	repos     map[uint8]*repository
	readGroup singleflight.Group // zero value is valid
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// Open opens the archive rooted at root, the game folder holding sqpack/.
//
// Data files of the selected platform are opened for random access. Index
// tables are parsed on first use; call Preload to parse them eagerly.
// The returned Archive must be closed to release file handles.
func Open(root string, opts ...Option) (*Archive, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: root, Err: err}
	}
	a := &Archive{
		root:        abs,
		platform:    PlatformWin32,
		maxFileSize: DefaultMaxFileSize,
		pool:        dat.NewDecompressPool(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if !a.platform.Valid() {
		return nil, fmt.Errorf("%w: platform %d", ErrUnsupportedFormat, uint8(a.platform))
	}

	repos, err := a.scanner().scan()
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: root, Err: err}
	}
	a.repos = repos
	a.log().Debug("archive opened", "root", a.root, "platform", a.platform.String(), "repositories", len(repos))
	return a, nil
}

func (a *Archive) scanner() *scanner {
	return &scanner{
		root:     a.root,
		platform: a.platform,
		readerOpts: []dat.Option{
			dat.WithByteOrder(a.platform.ByteOrder()),
			dat.WithMaxFileSize(a.maxFileSize),
			dat.WithPool(a.pool),
		},
		logger: a.log(),
	}
}

// Root returns the absolute game root.
func (a *Archive) Root() string {
	return a.root
}

// Platform returns the platform whose files the archive reads.
func (a *Archive) Platform() Platform {
	return a.platform
}

// Close releases every open data file.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := closeRepositories(a.repos)
	a.repos = nil
	return err
}

func closeRepositories(repos map[uint8]*repository) error {
	var errs []error
	for _, r := range repos {
		errs = append(errs, r.close())
	}
	return errors.Join(errs...)
}

// Reload discards parsed index tables and reopens every data file.
//
// Reload picks up segments, data files and version files created since the
// archive was opened. It is called after a patch is applied.
func (a *Archive) Reload() error {
	repos, err := a.scanner().scan()
	if err != nil {
		return &fs.PathError{Op: "reload", Path: a.root, Err: err}
	}
	a.mu.Lock()
	old := a.repos
	a.repos = repos
	a.mu.Unlock()
	a.log().Debug("archive reloaded", "root", a.root, "repositories", len(repos))
	a.dropStaleCache(old, repos)
	return closeRepositories(old)
}

// dropStaleCache discards cached records of data files that changed or
// disappeared, when the cache supports it.
func (a *Archive) dropStaleCache(old, current map[uint8]*repository) {
	dropper, ok := a.cache.(cache.SourceDropper)
	if !ok {
		return
	}
	live := sourceIDs(current)
	for id := range sourceIDs(old) {
		if _, ok := live[id]; ok {
			continue
		}
		freed, err := dropper.DropSource(cache.SourceKey(id))
		if err != nil {
			a.log().Warn("drop stale cache entries", "source", id, "error", err)
			continue
		}
		if freed > 0 {
			a.log().Debug("dropped stale cache entries", "source", id, "bytes", freed)
		}
	}
}

// Preload parses every index table in parallel.
// It returns the first parse error encountered.
func (a *Archive) Preload(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, repo := range a.repos {
		for _, seg := range repo.sortedSegments() {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				_, _, err := seg.tables()
				return err
			})
		}
	}
	return g.Wait()
}

// Version returns the version string of an expansion's repository.
// The base game is expansion 0. ok is false if the repository does not
// exist or has no version file.
func (a *Archive) Version(expansion uint8) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	repo, ok := a.repos[expansion]
	if !ok || repo.version == "" {
		return "", false
	}
	return repo.version, true
}

// Repositories describes every repository, ordered by expansion.
func (a *Archive) Repositories() []Repository {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Repository, 0, len(a.repos))
	for _, ex := range slices.Sorted(maps.Keys(a.repos)) {
		repo := a.repos[ex]
		out = append(out, Repository{
			Expansion: ex,
			Name:      layout.RepositoryName(ex),
			Version:   repo.version,
			Segments:  repo.segmentCount(),
		})
	}
	return out
}

// IndexEntries yields every entry of every index table, ordered by
// repository, segment and table, then by hash. A table that fails to
// parse yields its error and iteration continues with the next table.
func (a *Archive) IndexEntries() iter.Seq2[IndexEntry, error] {
	return func(yield func(IndexEntry, error) bool) {
		a.mu.RLock()
		defer a.mu.RUnlock()
		for _, ex := range slices.Sorted(maps.Keys(a.repos)) {
			for _, seg := range a.repos[ex].sortedSegments() {
				t1, t2, err := seg.tables()
				if err != nil {
					if !yield(IndexEntry{Segment: seg.id.String()}, err) {
						return
					}
					continue
				}
				for _, t := range []*index.Table{t1, t2} {
					if t == nil {
						continue
					}
					for e := range t.Entries() {
						ie := IndexEntry{
							Segment:  seg.id.String(),
							Table:    t.Kind().String(),
							Hash:     e.Hash,
							Location: newLocation(seg, e.Location),
						}
						if !yield(ie, nil) {
							return
						}
					}
				}
			}
		}
	}
}

// hasExpansion reports whether a repository exists. Callers hold a.mu.
func (a *Archive) hasExpansion(ex uint8) bool {
	_, ok := a.repos[ex]
	return ok
}

