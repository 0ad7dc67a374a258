package sqpack

import (
	"context"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readDest(t *testing.T, dir, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
	require.NoError(t, err)
	return data
}

func TestCopyTo(t *testing.T) {
	t.Parallel()

	a := openArchive(t, buildArchive(t).Root())
	names := slices.Sorted(maps.Keys(testFiles))

	for _, workers := range []int{-1, 0, 3} {
		dest := t.TempDir()
		require.NoError(t, a.CopyTo(context.Background(), dest, names, CopyWithWorkers(workers)))
		for _, name := range names {
			assert.Equal(t, len(testFiles[name]), len(readDest(t, dest, name)), name)
		}
		assert.Equal(t, testFiles["exd/root.exl"], readDest(t, dest, "exd/root.exl"))
	}
}

func TestCopyToNormalisesNames(t *testing.T) {
	t.Parallel()

	a := openArchive(t, buildArchive(t).Root())
	dest := t.TempDir()
	require.NoError(t, a.CopyTo(context.Background(), dest, []string{`EXD\Root.exl`}))
	assert.Equal(t, testFiles["exd/root.exl"], readDest(t, dest, "exd/root.exl"))
}

func TestCopyToOverwrite(t *testing.T) {
	t.Parallel()

	a := openArchive(t, buildArchive(t).Root())
	dest := t.TempDir()
	existing := filepath.Join(dest, "exd", "root.exl")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte("stale"), 0o644))

	require.NoError(t, a.CopyTo(context.Background(), dest, []string{"exd/root.exl"}))
	assert.Equal(t, []byte("stale"), readDest(t, dest, "exd/root.exl"))

	require.NoError(t, a.CopyTo(context.Background(), dest, []string{"exd/root.exl"}, CopyWithOverwrite(true)))
	assert.Equal(t, testFiles["exd/root.exl"], readDest(t, dest, "exd/root.exl"))
}

func TestCopyToMissing(t *testing.T) {
	t.Parallel()

	a := openArchive(t, buildArchive(t).Root())
	paths := []string{"exd/root.exl", "exd/missing.exh"}

	dest := t.TempDir()
	err := a.CopyTo(context.Background(), dest, paths)
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoFileExists(t, filepath.Join(dest, "exd", "root.exl"))

	require.NoError(t, a.CopyTo(context.Background(), dest, paths, CopyWithSkipMissing(true)))
	assert.Equal(t, testFiles["exd/root.exl"], readDest(t, dest, "exd/root.exl"))
}
