package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSink records committed files in memory.
type memSink struct {
	mu    sync.Mutex
	files map[string][]byte
	skip  map[string]bool
}

func newMemSink() *memSink {
	return &memSink{files: make(map[string][]byte), skip: make(map[string]bool)}
}

func (s *memSink) ShouldProcess(j Job) bool { return !s.skip[j.Path] }

func (s *memSink) Writer(j Job) (Committer, error) {
	return &memCommitter{sink: s, path: j.Path}, nil
}

type memCommitter struct {
	sink *memSink
	path string
	buf  []byte
}

func (c *memCommitter) Write(p []byte) (int, error) {
	c.buf = append(c.buf, p...)
	return len(p), nil
}

func (c *memCommitter) Commit() error {
	c.sink.mu.Lock()
	defer c.sink.mu.Unlock()
	c.sink.files[c.path] = c.buf
	return nil
}

func (c *memCommitter) Discard() error { return nil }

func content(j Job) ([]byte, error) {
	return fmt.Appendf(nil, "%s@%s:%d", j.Path, j.Source, j.Offset), nil
}

func makeJobs(n int) []Job {
	jobs := make([]Job, n)
	for i := range jobs {
		jobs[i] = Job{
			Path:   fmt.Sprintf("exd/sheet_%03d.exd", i),
			Source: fmt.Sprintf("0a0000.dat%d", i%3),
			Offset: uint64(n-i) * 128,
		}
	}
	return jobs
}

func TestProcessOrdersBySourceAndOffset(t *testing.T) {
	t.Parallel()

	var order []Job
	read := func(j Job) ([]byte, error) {
		order = append(order, j)
		return content(j)
	}
	sink := newMemSink()
	jobs := makeJobs(9)
	require.NoError(t, NewProcessor(read, WithWorkers(-1)).Process(context.Background(), jobs, sink))

	require.Len(t, order, 9)
	for i := 1; i < len(order); i++ {
		prev, cur := order[i-1], order[i]
		if prev.Source == cur.Source {
			assert.Less(t, prev.Offset, cur.Offset)
		} else {
			assert.Less(t, prev.Source, cur.Source)
		}
	}
	assert.Len(t, sink.files, 9)
}

func TestProcessParallel(t *testing.T) {
	t.Parallel()

	sink := newMemSink()
	jobs := makeJobs(64)
	require.NoError(t, NewProcessor(content, WithWorkers(8)).Process(context.Background(), jobs, sink))

	require.Len(t, sink.files, 64)
	for _, j := range jobs {
		want, _ := content(j)
		assert.Equal(t, want, sink.files[j.Path])
	}
}

func TestProcessSkipsFilteredJobs(t *testing.T) {
	t.Parallel()

	calls := 0
	read := func(j Job) ([]byte, error) {
		calls++
		return content(j)
	}
	sink := newMemSink()
	jobs := makeJobs(4)
	sink.skip[jobs[1].Path] = true
	sink.skip[jobs[3].Path] = true

	require.NoError(t, NewProcessor(read, WithWorkers(-1)).Process(context.Background(), jobs, sink))
	assert.Equal(t, 2, calls)
	assert.Len(t, sink.files, 2)
}

func TestProcessStopsOnError(t *testing.T) {
	t.Parallel()

	errBroken := errors.New("broken record")
	jobs := makeJobs(6)
	bad := jobs[2].Path
	read := func(j Job) ([]byte, error) {
		if j.Path == bad {
			return nil, errBroken
		}
		return content(j)
	}

	for _, workers := range []int{-1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			t.Parallel()
			sink := newMemSink()
			err := NewProcessor(read, WithWorkers(workers)).Process(context.Background(), jobs, sink)
			require.ErrorIs(t, err, errBroken)
			assert.Contains(t, err.Error(), bad)
			assert.NotContains(t, sink.files, bad)
		})
	}
}

func TestProcessCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewProcessor(content).Process(ctx, makeJobs(3), newMemSink())
	require.ErrorIs(t, err, context.Canceled)
}

func TestProcessEmpty(t *testing.T) {
	t.Parallel()

	read := func(Job) ([]byte, error) {
		t.Fatal("read called")
		return nil, nil
	}
	require.NoError(t, NewProcessor(read).Process(context.Background(), nil, newMemSink()))
}

func TestFileSink(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	job := Job{Path: "music/ex2/bgm_ex2_field.scd"}
	existing := filepath.Join(dir, "exd", "root.exl")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))

	sink, err := NewFileSink(dir)
	require.NoError(t, err)
	defer sink.Close()
	assert.True(t, sink.ShouldProcess(job))
	assert.False(t, sink.ShouldProcess(Job{Path: "exd/root.exl"}))
	overwriting, err := NewFileSink(dir, WithOverwrite(true))
	require.NoError(t, err)
	defer overwriting.Close()
	assert.True(t, overwriting.ShouldProcess(Job{Path: "exd/root.exl"}))

	w, err := sink.Writer(job)
	require.NoError(t, err)
	_, err = w.Write([]byte("SEDBSSCF"))
	require.NoError(t, err)
	dest := filepath.Join(dir, "music", "ex2", "bgm_ex2_field.scd")
	assert.NoFileExists(t, dest)
	require.NoError(t, w.Commit())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("SEDBSSCF"), got)

	w, err = sink.Writer(Job{Path: "ui/discarded.tex"})
	require.NoError(t, err)
	require.NoError(t, w.Discard())
	entries, err := os.ReadDir(filepath.Join(dir, "ui"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileSinkRejectsEscapingPaths(t *testing.T) {
	t.Parallel()

	sink, err := NewFileSink(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer sink.Close()
	for _, p := range []string{"../outside.txt", "/etc/passwd", "", "."} {
		_, err := sink.Writer(Job{Path: p})
		require.Error(t, err, p)
	}
}
