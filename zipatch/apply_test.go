package zipatch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/sqpack/internal/index"
	"github.com/meigma/sqpack/internal/pathhash"
	"github.com/meigma/sqpack/internal/sqtype"
	"github.com/meigma/sqpack/internal/testutil"
	"github.com/meigma/sqpack/metrics"
)

type dirTarget struct {
	root     string
	platform Platform
}

func (d dirTarget) Root() string       { return d.root }
func (d dirTarget) Platform() Platform { return d.platform }

const baseDat = "sqpack/ffxiv/000000.win32.dat0"

// newGameRoot writes a 4 KiB patterned dat0 for segment 000000.
func newGameRoot(tb testing.TB) (dirTarget, []byte) {
	tb.Helper()
	root := tb.TempDir()
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	putFile(tb, root, baseDat, data)
	return dirTarget{root: root, platform: sqtype.PlatformWin32}, data
}

func putFile(tb testing.TB, root, rel string, data []byte) {
	tb.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(tb, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(tb, os.WriteFile(p, data, 0o644))
}

func readFile(tb testing.TB, root, rel string) []byte {
	tb.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(tb, err)
	return data
}

func apply(tb testing.TB, t Target, ops ...Operation) (*Result, error) {
	tb.Helper()
	return Apply(context.Background(), bytes.NewReader(buildPatch(tb, ops...)), t)
}

func TestApplyAddData(t *testing.T) {
	t.Parallel()

	target, before := newGameRoot(t)
	payload := []byte("0123456789abcdef")

	res, err := apply(t, target, &AddData{Offset: 2048, Data: payload})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, 1, res.LastApplied)

	after := readFile(t, target.root, baseDat)
	require.Len(t, after, len(before))
	assert.Equal(t, payload, after[2048:2064])
	assert.Equal(t, before[:2048], after[:2048])
	assert.Equal(t, before[2064:], after[2064:])
}

func TestApplyAddDataZeroesDeleteLength(t *testing.T) {
	t.Parallel()

	target, before := newGameRoot(t)
	res, err := apply(t, target, &AddData{Offset: 1024, Data: []byte("ab"), DeleteLength: 256})
	require.NoError(t, err)
	assert.Positive(t, res.Bytes)

	after := readFile(t, target.root, baseDat)
	assert.Equal(t, []byte("ab"), after[1024:1026])
	assert.Equal(t, make([]byte, 256), after[1026:1282])
	assert.Equal(t, before[1282:], after[1282:])
}

func TestApplyAddDataOverwrites(t *testing.T) {
	t.Parallel()

	target, _ := newGameRoot(t)
	_, err := apply(t, target,
		&AddData{Offset: 128, Data: []byte("first")},
		&AddData{Offset: 128, Data: []byte("later")},
	)
	require.NoError(t, err)
	assert.Equal(t, []byte("later"), readFile(t, target.root, baseDat)[128:133])
}

func TestApplyAddDataExtendsFile(t *testing.T) {
	t.Parallel()

	target, before := newGameRoot(t)
	seg := SegmentID{Main: uint16(sqtype.CategoryExd), File: 1}
	_, err := apply(t, target,
		&AddData{Offset: 8192, Data: []byte("tail")},
		&AddData{Segment: seg, Offset: 256, Data: []byte("new file")},
	)
	require.NoError(t, err)

	after := readFile(t, target.root, baseDat)
	require.Len(t, after, 8196)
	assert.Equal(t, before, after[:4096])
	assert.Equal(t, make([]byte, 4096), after[4096:8192])

	created := readFile(t, target.root, seg.DatPath(sqtype.PlatformWin32))
	assert.Equal(t, []byte("new file"), created[256:])
}

func TestApplyCorruptChunkLeavesFilesUntouched(t *testing.T) {
	t.Parallel()

	target, before := newGameRoot(t)
	sum := sha256.Sum256(before)

	payload, err := (&AddData{Offset: 2048, Data: []byte("0123456789abcdef")}).appendPayload(nil)
	require.NoError(t, err)
	bad := uint32(0x01020304)
	data := withSignature(rawChunk(MagicSqpk, payload, &bad), rawChunk(MagicEndOfFile, nil, nil))

	res, err := Apply(context.Background(), bytes.NewReader(data), target)
	require.ErrorIs(t, err, ErrPatchCorrupt)
	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, 0, applyErr.Chunk)
	assert.Equal(t, int64(len(Signature)), applyErr.Offset)
	assert.Equal(t, -1, applyErr.LastApplied)
	assert.Equal(t, -1, res.LastApplied)

	assert.Equal(t, sum, sha256.Sum256(readFile(t, target.root, baseDat)))
}

func TestApplyPlatformMismatchAborts(t *testing.T) {
	t.Parallel()

	target, before := newGameRoot(t)
	res, err := apply(t, target,
		&TargetInfo{Platform: sqtype.PlatformPS3},
		&AddData{Offset: 0, Data: []byte("nope")},
	)
	require.ErrorIs(t, err, ErrPatchAborted)
	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, 0, applyErr.Chunk)
	assert.Equal(t, MagicSqpk, applyErr.Magic)
	assert.Equal(t, -1, res.LastApplied)
	assert.Equal(t, before, readFile(t, target.root, baseDat))
}

func TestApplierStaysAborted(t *testing.T) {
	t.Parallel()

	target, before := newGameRoot(t)
	a, err := NewApplier(target)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.ErrorIs(t, a.ApplyOperation(&TargetInfo{Platform: sqtype.PlatformPS5}), ErrPatchAborted)
	require.ErrorIs(t, a.ApplyOperation(&AddData{Data: []byte("x")}), ErrPatchAborted)
	require.ErrorIs(t, a.ApplyOperation(&TargetInfo{Platform: sqtype.PlatformWin32}), ErrPatchAborted)
	assert.Equal(t, before, readFile(t, target.root, baseDat))
}

func TestApplyMatchingTargetInfo(t *testing.T) {
	t.Parallel()

	target, _ := newGameRoot(t)
	res, err := apply(t, target,
		&FileHeader{Version: 3, Name: "D2024"},
		&ApplyOption{Option: OptionIgnoreMissing, Value: 1},
		&ApplyOption{Option: 99, Value: 1},
		&TargetInfo{Platform: sqtype.PlatformWin32, Region: -1, Version: 1},
		&PatchInfo{InstallSize: 10},
	)
	require.NoError(t, err)
	require.NotNil(t, res.Target)
	assert.Equal(t, int16(-1), res.Target.Region)
	assert.Equal(t, "D2024", res.Name)
	assert.True(t, res.IgnoreMissing)
	assert.False(t, res.IgnoreOldMismatch)
	assert.Equal(t, 6, res.Chunks)
}

func TestApplyRetireBlocks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		op      Operation
		offset  int
		blocks  int
		wantLen int
	}{
		{name: "delete", op: &DeleteData{Offset: 1024, Blocks: 3}, offset: 1024, blocks: 3, wantLen: 4096},
		{name: "expand past end", op: &ExpandData{Offset: 4096, Blocks: 4}, offset: 4096, blocks: 4, wantLen: 4096 + 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			target, before := newGameRoot(t)
			_, err := apply(t, target, tt.op)
			require.NoError(t, err)

			after := readFile(t, target.root, baseDat)
			require.Len(t, after, tt.wantLen)
			end := tt.offset + tt.blocks*128
			hdr := after[tt.offset:end]
			assert.Equal(t, uint32(128), binary.LittleEndian.Uint32(hdr[0:]))
			assert.Equal(t, uint32(sqtype.ContentPlaceholder), binary.LittleEndian.Uint32(hdr[4:]))
			assert.Equal(t, uint32(tt.blocks-1), binary.LittleEndian.Uint32(hdr[12:])) //nolint:gosec // small
			assert.Equal(t, make([]byte, len(hdr)-placeholderHeaderSize), hdr[placeholderHeaderSize:])
			assert.Equal(t, before[:tt.offset], after[:tt.offset])
			if end < len(before) {
				assert.Equal(t, before[end:], after[end:])
			}
		})
	}
}

func TestApplyRetireBigEndianPlatform(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	target := dirTarget{root: root, platform: sqtype.PlatformPS3}
	_, err := apply(t, target, &DeleteData{Offset: 256, Blocks: 2})
	require.NoError(t, err)

	after := readFile(t, root, SegmentID{}.DatPath(sqtype.PlatformPS3))
	assert.Equal(t, uint32(128), binary.BigEndian.Uint32(after[256:]))
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(after[256+12:]))
}

func TestApplyRetireZeroBlocks(t *testing.T) {
	t.Parallel()

	target, before := newGameRoot(t)
	_, err := apply(t, target, &DeleteData{Offset: 1024})
	require.NoError(t, err)
	assert.Equal(t, before, readFile(t, target.root, baseDat))
}

func TestApplyHeaderUpdate(t *testing.T) {
	t.Parallel()

	target, before := newGameRoot(t)
	version := HeaderUpdate{FileKind: TargetDat, HeaderKind: HeaderVersion}
	copy(version.Header[:], "SqPack-version")
	segHeader := HeaderUpdate{FileKind: TargetIndex, HeaderKind: HeaderIndex}
	copy(segHeader.Header[:], "index-segment")

	_, err := apply(t, target, &version, &segHeader)
	require.NoError(t, err)

	dat := readFile(t, target.root, baseDat)
	assert.Equal(t, version.Header[:], dat[:sqtype.HeaderSize])
	assert.Equal(t, before[sqtype.HeaderSize:], dat[sqtype.HeaderSize:])

	idx := readFile(t, target.root, "sqpack/ffxiv/000000.win32.index")
	require.Len(t, idx, 2*sqtype.HeaderSize)
	assert.Equal(t, segHeader.Header[:], idx[sqtype.HeaderSize:])
}

func TestApplyIndexUpdate(t *testing.T) {
	t.Parallel()

	const name = "exd/root.exl"
	b := testutil.NewArchive(t, sqtype.PlatformWin32)
	loc := b.AddFile(name, []byte("EXLT,2"))
	seg := b.SegmentFor(name)
	root := b.Build()
	target := dirTarget{root: root, platform: sqtype.PlatformWin32}

	id := SegmentID{Main: uint16(seg.Category), Sub: seg.SubID()}
	id2 := id
	id2.File = 2

	_, err := apply(t, target,
		&IndexUpdate{Command: IndexAdd, Segment: id, Hash: pathhash.Index1(name), DataFile: 1, Offset: 4096},
		&IndexUpdate{Command: IndexDelete, Segment: id2, Hash: uint64(pathhash.Index2(name))},
		&IndexUpdate{Command: IndexAdd, Segment: id, Hash: 0x1234, DataFile: 1, Offset: 128},
	)
	require.NoError(t, err)

	t1, err := index.Parse(readFile(t, root, id.IndexPath(sqtype.PlatformWin32)), index.KindIndex1)
	require.NoError(t, err)
	e, ok := t1.Lookup(pathhash.Index1(name))
	require.True(t, ok)
	assert.NotEqual(t, loc, e.Location)
	assert.Equal(t, uint8(1), e.DataFileID())
	assert.Equal(t, uint64(4096), e.Offset())
	_, ok = t1.Lookup(0x1234)
	assert.False(t, ok)

	t2, err := index.Parse(readFile(t, root, id2.IndexPath(sqtype.PlatformWin32)), index.KindIndex2)
	require.NoError(t, err)
	_, ok = t2.Lookup(uint64(pathhash.Index2(name)))
	assert.False(t, ok)
}

func TestApplyIndexUpdateRejectsVariant(t *testing.T) {
	t.Parallel()

	target, _ := newGameRoot(t)
	_, err := apply(t, target, &IndexUpdate{Command: IndexDelete, Segment: SegmentID{File: 5}})
	require.ErrorIs(t, err, ErrPatchCorrupt)
}

func TestApplyFileOperations(t *testing.T) {
	t.Parallel()

	target, _ := newGameRoot(t)
	root := target.root
	putFile(t, root, "sqpack/ex1/ex1.ver", []byte("2024.01.01"))
	putFile(t, root, "sqpack/ex1/020100.win32.index", []byte("idx"))
	putFile(t, root, "boot/stale.dll", []byte("old"))
	putFile(t, root, "game/config.cfg", []byte("a much longer previous content"))

	big := bytes.Repeat([]byte("0123456789"), 5000)
	_, err := apply(t, target,
		&FileOperation{Kind: FileAdd, Path: "boot/ffxivboot.exe", Data: big[:20000]},
		&FileOperation{Kind: FileAdd, Offset: 20000, Path: "boot/ffxivboot.exe", Data: big[20000:]},
		&FileOperation{Kind: FileAdd, Path: "game/config.cfg", Data: []byte("short")},
		&FileOperation{Kind: FileAdd, Path: "game/empty.dat"},
		&FileOperation{Kind: FileDelete, Path: "boot/stale.dll"},
		&FileOperation{Kind: FileDelete, Path: "boot/missing.dll"},
		&FileOperation{Kind: FileRemoveAll, Expansion: 1},
		&FileOperation{Kind: FileMakeDir, Path: "sqpack/ex2"},
		&AddDirectory{Path: "movie/ffxiv"},
		&AddDirectory{Path: "logs"},
		&DeleteDirectory{Path: "logs"},
		&DeleteDirectory{Path: "never"},
	)
	require.NoError(t, err)

	assert.Equal(t, big, readFile(t, root, "boot/ffxivboot.exe"))
	assert.Equal(t, []byte("short"), readFile(t, root, "game/config.cfg"))
	assert.Empty(t, readFile(t, root, "game/empty.dat"))
	assert.NoFileExists(t, filepath.Join(root, "boot", "stale.dll"))
	assert.NoDirExists(t, filepath.Join(root, "sqpack", "ex1"))
	assert.DirExists(t, filepath.Join(root, "sqpack", "ex2"))
	assert.DirExists(t, filepath.Join(root, "movie", "ffxiv"))
	assert.NoDirExists(t, filepath.Join(root, "logs"))
	assert.FileExists(t, filepath.Join(root, filepath.FromSlash(baseDat)))
}

func TestApplyContextCanceled(t *testing.T) {
	t.Parallel()

	target, before := newGameRoot(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := buildPatch(t, &AddData{Offset: 0, Data: []byte("x")})
	res, err := Apply(ctx, bytes.NewReader(data), target)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, -1, res.LastApplied)
	assert.Equal(t, before, readFile(t, target.root, baseDat))
}

func TestApplyKeepsEarlierChunksOnFailure(t *testing.T) {
	t.Parallel()

	target, _ := newGameRoot(t)
	data := buildPatch(t,
		&AddData{Offset: 0, Data: []byte("kept")},
		&AddData{Offset: 128, Data: []byte("also")},
	)
	// Drop the EOF_ chunk.
	data = data[:len(data)-chunkHeaderSize-chunkTrailerSize]

	res, err := Apply(context.Background(), bytes.NewReader(data), target)
	require.ErrorIs(t, err, ErrTruncatedPatch)
	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, 2, applyErr.Chunk)
	assert.Equal(t, 1, applyErr.LastApplied)
	assert.Equal(t, 1, res.LastApplied)

	after := readFile(t, target.root, baseDat)
	assert.Equal(t, []byte("kept"), after[:4])
	assert.Equal(t, []byte("also"), after[128:132])
}

type recordingMetrics struct {
	mu      sync.Mutex
	ops     []string
	results []string
}

func (m *recordingMetrics) ObserveChunk(op string, _ int64, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op)
}

func (m *recordingMetrics) ObservePatch(result string, _ int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
}

var _ metrics.PatchMetrics = (*recordingMetrics)(nil)

func TestApplyMetrics(t *testing.T) {
	t.Parallel()

	target, _ := newGameRoot(t)
	m := &recordingMetrics{}

	data := buildPatch(t, &AddData{Data: []byte("x")}, &DeleteData{Offset: 128, Blocks: 1})
	_, err := Apply(context.Background(), bytes.NewReader(data), target, WithMetrics(m))
	require.NoError(t, err)

	data = buildPatch(t, &TargetInfo{Platform: sqtype.PlatformXbox})
	_, err = Apply(context.Background(), bytes.NewReader(data), target, WithMetrics(m))
	require.ErrorIs(t, err, ErrPatchAborted)

	assert.Equal(t, []string{"add_data", "delete_data", "end_of_file"}, m.ops)
	assert.Equal(t, []string{metrics.ResultApplied, metrics.ResultAborted}, m.results)
}

func TestDiffRoundTrip(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	target := t.TempDir()

	putFile(t, base, "boot/ffxivboot.ver", []byte("2024.01.01.0000.0000"))
	putFile(t, base, "game/same.bin", []byte("unchanged"))
	putFile(t, base, "game/gone.bin", []byte("removed"))
	putFile(t, base, "game/resized.bin", []byte("abc"))

	large := bytes.Repeat([]byte{0xAA, 0x55}, 40000)
	putFile(t, target, "boot/ffxivboot.ver", []byte("2024.02.01.0000.0000"))
	putFile(t, target, "game/same.bin", []byte("unchanged"))
	putFile(t, target, "game/resized.bin", []byte("abcdef"))
	putFile(t, target, "game/sqpack/ffxiv/0a0000.win32.dat0", large)
	putFile(t, target, "game/empty.txt", nil)

	var patch bytes.Buffer
	stats, err := Diff(context.Background(), base, target, &patch)
	require.NoError(t, err)
	assert.Equal(t, DiffStats{Added: 2, Changed: 2, Deleted: 1}, stats)

	res, err := Apply(context.Background(), &patch, dirTarget{root: base, platform: sqtype.PlatformWin32})
	require.NoError(t, err)
	assert.Equal(t, "DIFF", res.Name)

	want, err := listFiles(target)
	require.NoError(t, err)
	got, err := listFiles(base)
	require.NoError(t, err)
	require.Equal(t, want, got)
	for name := range want {
		assert.Equal(t, readFile(t, target, name), readFile(t, base, name), name)
	}
}

func TestDiffIdenticalTrees(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	putFile(t, base, "a.txt", []byte("same"))

	var patch bytes.Buffer
	stats, err := Diff(context.Background(), base, base, &patch)
	require.NoError(t, err)
	assert.Equal(t, DiffStats{}, stats)

	ops, err := readAll(t, bytes.NewReader(patch.Bytes()))
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.IsType(t, &FileHeader{}, ops[0])
}
