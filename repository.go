package sqpack

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/meigma/sqpack/internal/dat"
	"github.com/meigma/sqpack/internal/index"
	"github.com/meigma/sqpack/internal/layout"
	"github.com/meigma/sqpack/internal/sqtype"
)

// repository is one expansion folder.
type repository struct {
	expansion uint8
	version   string
	// segments per category, sorted by chunk.
	segments map[sqtype.Category][]*segment
}

func (r *repository) close() error {
	var errs []error
	for _, segs := range r.segments {
		for _, s := range segs {
			errs = append(errs, s.close())
		}
	}
	return errors.Join(errs...)
}

func (r *repository) segmentCount() int {
	n := 0
	for _, segs := range r.segments {
		n += len(segs)
	}
	return n
}

// sourceIDs returns the identities of every open data file.
func sourceIDs(repos map[uint8]*repository) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, r := range repos {
		for _, segs := range r.segments {
			for _, s := range segs {
				for _, d := range s.dats {
					if d != nil {
						ids[d.source.SourceID()] = struct{}{}
					}
				}
			}
		}
	}
	return ids
}

// sortedSegments returns every segment ordered by category then chunk.
func (r *repository) sortedSegments() []*segment {
	out := make([]*segment, 0, r.segmentCount())
	for _, segs := range r.segments {
		out = append(out, segs...)
	}
	slices.SortFunc(out, func(a, b *segment) int {
		return cmp.Or(cmp.Compare(a.id.Category, b.id.Category), cmp.Compare(a.id.Chunk, b.id.Chunk))
	})
	return out
}

// datFile is an open data file and its record reader.
type datFile struct {
	source *dataSource
	reader *dat.Reader
}

// segment is one CCEEKK family of index and data files.
//
// Index tables are parsed on first use and kept until the archive is
// reloaded or closed.
type segment struct {
	id         layout.Segment
	index1Path string
	index2Path string
	dats       [layout.MaxDataFiles]*datFile

	mu      sync.Mutex
	loaded  bool
	index1  *index.Table
	index2  *index.Table
	loadErr error
}

// tables returns the segment's parsed index tables. A table whose file is
// absent is nil.
func (s *segment) tables() (*index.Table, *index.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.index1, s.index2, s.loadErr = s.load()
		s.loaded = true
	}
	return s.index1, s.index2, s.loadErr
}

func (s *segment) load() (*index.Table, *index.Table, error) {
	t1, err := loadTable(s.index1Path, index.KindIndex1)
	if err != nil {
		return nil, nil, err
	}
	t2, err := loadTable(s.index2Path, index.KindIndex2)
	if err != nil {
		return nil, nil, err
	}
	return t1, t2, nil
}

func loadTable(path string, kind index.Kind) (*index.Table, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from the archive layout
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", kind, err)
	}
	t, err := index.Parse(data, kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return t, nil
}

func (s *segment) close() error {
	var errs []error
	for i, d := range s.dats {
		if d == nil {
			continue
		}
		errs = append(errs, d.source.Close())
		s.dats[i] = nil
	}
	return errors.Join(errs...)
}

// scanner enumerates the repositories of a game root.
type scanner struct {
	root       string
	platform   sqtype.Platform
	readerOpts []dat.Option
	logger     *slog.Logger
}

// scan opens every repository under root/sqpack. On error, files opened so
// far are closed.
func (sc *scanner) scan() (map[uint8]*repository, error) {
	dir := filepath.Join(sc.root, layout.SqpackDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	repos := make(map[uint8]*repository)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ex, ok := layout.ParseRepositoryName(e.Name())
		if !ok {
			continue
		}
		repo, err := sc.scanRepository(filepath.Join(dir, e.Name()), ex)
		if err != nil {
			for _, r := range repos {
				r.close() //nolint:errcheck // already failing
			}
			return nil, err
		}
		repos[ex] = repo
	}
	return repos, nil
}

func (sc *scanner) scanRepository(dir string, ex uint8) (*repository, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	repo := &repository{
		expansion: ex,
		version:   sc.readVersion(ex),
		segments:  make(map[sqtype.Category][]*segment),
	}
	byID := make(map[layout.Segment]*segment)
	get := func(id layout.Segment) *segment {
		s, ok := byID[id]
		if !ok {
			s = &segment{id: id}
			byID[id] = s
			repo.segments[id.Category] = append(repo.segments[id.Category], s)
		}
		return s
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name, ok := layout.ParseFileName(e.Name())
		if !ok || name.Platform != sc.platform {
			continue
		}
		if name.Segment.Expansion != ex {
			sc.logger.Warn("segment file in wrong repository", "file", e.Name(), "repository", layout.RepositoryName(ex))
			continue
		}
		path := filepath.Join(dir, e.Name())
		s := get(name.Segment)
		switch name.Ext {
		case index.KindIndex1.String():
			s.index1Path = path
		case index.KindIndex2.String():
			s.index2Path = path
		default:
			n, _ := name.DatNumber()
			if n >= layout.MaxDataFiles {
				sc.logger.Warn("data file number out of range", "file", e.Name())
				continue
			}
			src, err := openDataSource(path)
			if err != nil {
				repo.close() //nolint:errcheck // already failing
				return nil, &fs.PathError{Op: "open", Path: path, Err: err}
			}
			s.dats[n] = &datFile{source: src, reader: dat.NewReader(src, sc.readerOpts...)}
		}
	}

	for _, segs := range repo.segments {
		slices.SortFunc(segs, func(a, b *segment) int {
			return cmp.Compare(a.id.Chunk, b.id.Chunk)
		})
	}
	sc.logger.Debug("repository opened",
		"repository", layout.RepositoryName(ex),
		"segments", repo.segmentCount(),
		"version", repo.version)
	return repo, nil
}

// readVersion returns the trimmed content of an expansion's version file,
// or "" when it is absent.
func (sc *scanner) readVersion(ex uint8) string {
	data, err := os.ReadFile(filepath.Join(sc.root, filepath.FromSlash(layout.VersionFile(ex))))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			sc.logger.Warn("read version file", "repository", layout.RepositoryName(ex), "error", err)
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}
