package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/sqpack/internal/sqtype"
)

func TestRepositoryNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ffxiv", RepositoryName(0))
	assert.Equal(t, "ex3", RepositoryName(3))

	for _, tt := range []struct {
		name string
		ex   uint8
		ok   bool
	}{
		{"ffxiv", 0, true},
		{"ex1", 1, true},
		{"ex12", 12, true},
		{"ex0", 0, false},
		{"ex", 0, false},
		{"boot", 0, false},
	} {
		ex, ok := ParseRepositoryName(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.ex, ex, tt.name)
	}
}

func TestVersionFile(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ffxivgame.ver", VersionFile(0))
	assert.Equal(t, "sqpack/ex2/ex2.ver", VersionFile(2))
}

func TestSegmentFiles(t *testing.T) {
	t.Parallel()

	seg := SegmentFromIDs(0x0a, 0x0101)
	assert.Equal(t, Segment{Category: sqtype.CategoryExd, Expansion: 1, Chunk: 1}, seg)
	assert.Equal(t, uint16(0x0101), seg.SubID())
	assert.Equal(t, "sqpack/ex1/0a0101.win32.index", IndexFile(seg, sqtype.PlatformWin32, "index"))
	assert.Equal(t, "sqpack/ex1/0a0101.ps4.dat3", DatFile(seg, sqtype.PlatformPS4, 3))
}

func TestParseFileName(t *testing.T) {
	t.Parallel()

	f, ok := ParseFileName("0a0000.win32.dat2")
	require.True(t, ok)
	assert.Equal(t, sqtype.CategoryExd, f.Segment.Category)
	n, ok := f.DatNumber()
	require.True(t, ok)
	assert.Equal(t, uint32(2), n)

	f, ok = ParseFileName("040100.ps3.index2")
	require.True(t, ok)
	assert.Equal(t, sqtype.PlatformPS3, f.Platform)
	assert.Equal(t, uint8(1), f.Segment.Expansion)

	for _, bad := range []string{"0a0000.win32", "zz0000.win32.index", "0a0000.win64.index", "0a0000.win32.datx", "0a0000.win32.ver"} {
		_, ok := ParseFileName(bad)
		assert.False(t, ok, bad)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	has := func(ex uint8) bool { return ex == 1 }

	tests := []struct {
		path string
		cat  sqtype.Category
		ex   uint8
		ok   bool
	}{
		{"exd/root.exl", sqtype.CategoryExd, 0, true},
		{"bg/ex1/01_roc_r2/level.lgb", sqtype.CategoryBg, 1, true},
		{"bg/ex2/02_x/level.lgb", sqtype.CategoryBg, 0, true},
		{"bg/ex1", sqtype.CategoryBg, 0, true},
		{"nope/file", 0, 0, false},
	}
	for _, tt := range tests {
		cat, ex, ok := Resolve(tt.path, has)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.cat, cat, tt.path)
		assert.Equal(t, tt.ex, ex, tt.path)
	}
}
