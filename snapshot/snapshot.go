// Package snapshot records and verifies content digests of a game root.
//
// A snapshot taken before a patch and verified afterwards tells which
// files the patch touched. Snapshots also serve as a cheap integrity check
// of an installation: Verify reports every file that was added, removed or
// changed since the manifest was created.
package snapshot

import (
	"cmp"
	"context"
	_ "crypto/sha256" // registers digest.SHA256
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// ManifestVersion is the manifest format written by Save.
const ManifestVersion = 1

// ErrInvalidManifest is returned when a manifest cannot be decoded or has
// an unsupported version.
var ErrInvalidManifest = errors.New("snapshot: invalid manifest")

// File is one entry of a manifest.
type File struct {
	Path   string        `yaml:"path"`
	Size   int64         `yaml:"size"`
	Digest digest.Digest `yaml:"digest"`
}

// Manifest lists the files of a game root with their digests, ordered by
// path.
type Manifest struct {
	Version   int       `yaml:"version"`
	Algorithm string    `yaml:"algorithm"`
	Created   time.Time `yaml:"created"`
	Files     []File    `yaml:"files"`
}

// Option configures Create.
type Option func(*config)

type config struct {
	workers   int
	algorithm digest.Algorithm
	logger    *slog.Logger
	include   func(string) bool
}

// WithWorkers sets how many files are hashed in parallel (default GOMAXPROCS).
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithAlgorithm selects the digest algorithm (default sha256).
func WithAlgorithm(a digest.Algorithm) Option {
	return func(c *config) {
		c.algorithm = a
	}
}

// WithLogger sets the logger. If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithInclude restricts the snapshot to slash-separated relative paths for
// which fn returns true.
func WithInclude(fn func(path string) bool) Option {
	return func(c *config) {
		c.include = fn
	}
}

// Create hashes every regular file under root.
func Create(ctx context.Context, root string, opts ...Option) (*Manifest, error) {
	cfg := config{
		workers:   runtime.GOMAXPROCS(0),
		algorithm: digest.SHA256,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	if !cfg.algorithm.Available() {
		return nil, fmt.Errorf("snapshot: digest algorithm %q unavailable", cfg.algorithm)
	}

	r, err := os.OpenRoot(root)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var names []string
	err = fs.WalkDir(r.FS(), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if cfg.include != nil && !cfg.include(p) {
			return nil
		}
		names = append(names, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	files := make([]File, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := hashFile(r, name, cfg.algorithm)
			if err != nil {
				return err
			}
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.SortFunc(files, func(a, b File) int { return cmp.Compare(a.Path, b.Path) })

	cfg.logger.Debug("snapshot created", "root", root, "files", len(files), "algorithm", cfg.algorithm)
	return &Manifest{
		Version:   ManifestVersion,
		Algorithm: cfg.algorithm.String(),
		Created:   time.Now().UTC(),
		Files:     files,
	}, nil
}

func hashFile(r *os.Root, name string, alg digest.Algorithm) (File, error) {
	f, err := r.Open(filepath.FromSlash(name))
	if err != nil {
		return File{}, err
	}
	defer f.Close()

	digester := alg.Digester()
	n, err := io.Copy(digester.Hash(), f)
	if err != nil {
		return File{}, &fs.PathError{Op: "hash", Path: name, Err: err}
	}
	return File{Path: path.Clean(name), Size: n, Digest: digester.Digest()}, nil
}

// Save writes m as YAML.
func (m *Manifest) Save(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}

// Load decodes a manifest written by Save and validates every digest.
func Load(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("%w: version %d", ErrInvalidManifest, m.Version)
	}
	for _, f := range m.Files {
		if err := f.Digest.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, f.Path, err)
		}
	}
	return &m, nil
}

// Change kinds reported by Verify.
const (
	Added   = "added"
	Removed = "removed"
	Changed = "changed"
)

// Change is one difference between a manifest and the files on disk.
type Change struct {
	Path string
	Kind string
}

// Verify compares root against m and returns the differences ordered by
// path. A file is changed when its size or digest differs.
func (m *Manifest) Verify(ctx context.Context, root string, opts ...Option) ([]Change, error) {
	alg := digest.Algorithm(m.Algorithm)
	if alg == "" {
		alg = digest.SHA256
	}
	current, err := Create(ctx, root, append(opts, WithAlgorithm(alg))...)
	if err != nil {
		return nil, err
	}

	want := make(map[string]File, len(m.Files))
	for _, f := range m.Files {
		want[f.Path] = f
	}
	have := make(map[string]File, len(current.Files))
	for _, f := range current.Files {
		have[f.Path] = f
	}

	var changes []Change
	add := func(p, kind string) {
		changes = append(changes, Change{Path: p, Kind: kind})
	}
	for p, f := range have {
		old, ok := want[p]
		switch {
		case !ok:
			add(p, Added)
		case old.Size != f.Size || old.Digest != f.Digest:
			add(p, Changed)
		}
	}
	for p := range want {
		if _, ok := have[p]; !ok {
			add(p, Removed)
		}
	}
	slices.SortFunc(changes, func(a, b Change) int { return cmp.Compare(a.Path, b.Path) })
	return changes, nil
}
