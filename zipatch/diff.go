package zipatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
)

// DiffStats counts the operations a diff produced.
type DiffStats struct {
	Added   int
	Changed int
	Deleted int
}

// Diff writes a patch that turns the loose-file tree at base into the one
// at target.
//
// Files that are new or whose content differs are written whole with
// FileAdd operations, split into pieces for large files. Files missing
// from target are removed with FileDelete. Paths are processed in sorted
// order so the output is deterministic.
func Diff(ctx context.Context, base, target string, w io.Writer) (DiffStats, error) {
	var stats DiffStats
	baseFiles, err := listFiles(base)
	if err != nil {
		return stats, err
	}
	targetFiles, err := listFiles(target)
	if err != nil {
		return stats, err
	}

	pw, err := NewWriter(w)
	if err != nil {
		return stats, err
	}
	if err := pw.WriteOperation(&FileHeader{Version: 3, Name: "DIFF"}); err != nil {
		return stats, err
	}

	for _, name := range slices.Sorted(maps.Keys(targetFiles)) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		data, err := os.ReadFile(filepath.Join(target, filepath.FromSlash(name)))
		if err != nil {
			return stats, err
		}
		if baseSize, ok := baseFiles[name]; ok {
			if baseSize == int64(len(data)) {
				old, err := os.ReadFile(filepath.Join(base, filepath.FromSlash(name)))
				if err != nil {
					return stats, err
				}
				if bytes.Equal(old, data) {
					continue
				}
			}
			stats.Changed++
		} else {
			stats.Added++
		}
		if err := writeFile(pw, name, data); err != nil {
			return stats, fmt.Errorf("add %s: %w", name, err)
		}
	}

	for _, name := range slices.Sorted(maps.Keys(baseFiles)) {
		if _, ok := targetFiles[name]; ok {
			continue
		}
		if err := pw.WriteOperation(&FileOperation{Kind: FileDelete, Path: name}); err != nil {
			return stats, fmt.Errorf("delete %s: %w", name, err)
		}
		stats.Deleted++
	}
	return stats, pw.Close()
}

// writeFile emits FileAdd operations for data, one per piece. The first
// piece is at offset 0 and truncates the file.
func writeFile(pw *Writer, name string, data []byte) error {
	var off uint64
	for {
		n := min(len(data), maxFileOpPieceSize)
		op := &FileOperation{Kind: FileAdd, Offset: off, Path: name, Data: data[:n]}
		if err := pw.WriteOperation(op); err != nil {
			return err
		}
		data = data[n:]
		off += uint64(n)
		if len(data) == 0 {
			return nil
		}
	}
}

// listFiles returns the regular files under root by slash-separated
// relative path, with their sizes.
func listFiles(root string) (map[string]int64, error) {
	files := make(map[string]int64)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files[path.Clean(filepath.ToSlash(rel))] = info.Size()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
