package snapshot

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func TestCreate(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"ffxivgame.ver":                     "2024.07.01.0000.0000",
		"sqpack/ffxiv/0a0000.win32.index":   "index",
		"sqpack/ffxiv/0a0000.win32.dat0":    "dat",
		"sqpack/ex1/ex1.ver":                "2024.06.20.0000.0000",
		"sqpack/ex1/020100.win32.index2":    "",
		"boot/ffxivboot.exe":                "MZ",
		"sqpack/ffxiv/000000.win32.index":   "base",
		"sqpack/ffxiv/nested/deeper/file.x": "deep",
	})

	m, err := Create(context.Background(), root, WithWorkers(2))
	require.NoError(t, err)
	assert.Equal(t, ManifestVersion, m.Version)
	assert.Equal(t, "sha256", m.Algorithm)
	require.Len(t, m.Files, 8)

	for i := 1; i < len(m.Files); i++ {
		assert.Less(t, m.Files[i-1].Path, m.Files[i].Path)
	}
	assert.Equal(t, "boot/ffxivboot.exe", m.Files[0].Path)
	assert.Equal(t, int64(2), m.Files[0].Size)
	assert.Equal(t, digest.FromString("MZ"), m.Files[0].Digest)
}

func TestCreateInclude(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"sqpack/ffxiv/0a0000.win32.dat0": "dat",
		".sqpack.lock":                   "",
		"boot/ffxivboot.exe":             "MZ",
	})

	m, err := Create(context.Background(), root, WithInclude(func(p string) bool {
		return strings.HasPrefix(p, "sqpack/")
	}))
	require.NoError(t, err)
	require.Len(t, m.Files, 1)
	assert.Equal(t, "sqpack/ffxiv/0a0000.win32.dat0", m.Files[0].Path)
}

func TestCreateErrors(t *testing.T) {
	t.Parallel()

	_, err := Create(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	_, err = Create(context.Background(), t.TempDir(), WithAlgorithm("md4"))
	require.Error(t, err)

	root := t.TempDir()
	writeTree(t, root, map[string]string{"a": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Create(ctx, root)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{"a/b.txt": "hello", "c.bin": "world"})
	m, err := Create(context.Background(), root)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))
	assert.Contains(t, buf.String(), "digest: sha256:")

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, m.Files, loaded.Files)
	assert.True(t, m.Created.Equal(loaded.Created))
}

func TestLoadInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{name: "not yaml", data: "\t: ["},
		{name: "wrong version", data: "version: 7\nfiles: []\n"},
		{name: "bad digest", data: "version: 1\nfiles:\n  - path: a\n    size: 1\n    digest: sha256:xyz\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(strings.NewReader(tt.data))
			require.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"keep.txt":   "same",
		"edit.txt":   "before",
		"resize.txt": "1234",
		"gone.txt":   "bye",
	})
	m, err := Create(context.Background(), root)
	require.NoError(t, err)

	changes, err := m.Verify(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, changes)

	writeTree(t, root, map[string]string{
		"edit.txt":   "after!",
		"resize.txt": "12345",
		"new/a.txt":  "fresh",
	})
	require.NoError(t, os.Remove(filepath.Join(root, "gone.txt")))

	changes, err = m.Verify(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []Change{
		{Path: "edit.txt", Kind: Changed},
		{Path: "gone.txt", Kind: Removed},
		{Path: "new/a.txt", Kind: Added},
		{Path: "resize.txt", Kind: Changed},
	}, changes)
}
