package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/sqpack"
	"github.com/meigma/sqpack/internal/pathhash"
	"github.com/meigma/sqpack/internal/sqtype"
	"github.com/meigma/sqpack/internal/testutil"
)

// The commands share package-level state, so these tests do not run in
// parallel.

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := GetRootCmd()
	resetFlags(root)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	t.Log(errOut.String())
	return out.String(), err
}

func buildRoot(t *testing.T) string {
	t.Helper()
	b := testutil.NewArchive(t, sqtype.PlatformWin32)
	b.AddFile("exd/root.exl", []byte("EXLT,2\nAchievement,209\n"))
	b.AddFile("music/ex2/bgm_ex2_field.scd", bytes.Repeat([]byte("SEDBSSCF"), 512))
	b.SetVersion(0, "2024.07.01.0000.0000")
	return b.Build()
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sqpack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`root: /from/file
platform: win32
logging:
  level: debug
cache:
  max_bytes: 1024
lock:
  timeout: 3s
`), 0o644))
	t.Setenv("SQPACK_PLATFORM", "ps4")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("root", ".", "")
	flags.String("log-format", "text", "")
	require.NoError(t, flags.Parse([]string{"--root", "/from/flag"}))

	cfg, err := LoadConfig(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.Root)
	assert.Equal(t, "ps4", cfg.Platform)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, int64(1024), cfg.Cache.MaxBytes)
	assert.Equal(t, 3*time.Second, cfg.Lock.Timeout)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, ".", cfg.Root)
	assert.Equal(t, "win32", cfg.Platform)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 10*time.Second, cfg.Lock.Timeout)
	assert.Empty(t, cfg.Cache.Dir)
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sqpack.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  format: xml\n"), 0o644))
	_, err := LoadConfig(path, nil)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("root: [unterminated\n"), 0o644))
	_, err = LoadConfig(path, nil)
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = NewLogger(LoggingConfig{Level: "loud"}, &buf)
	require.Error(t, err)
}

func TestHashCommand(t *testing.T) {
	out, err := execute(t, "hash", `EXD\Root.exl`)
	require.NoError(t, err)
	want := fmt.Sprintf("exd/root.exl\tindex=%016x\tindex2=%08x\n", pathhash.Index1("exd/root.exl"), pathhash.Index2("exd/root.exl"))
	assert.Equal(t, want, out)
}

func TestExtractCommand(t *testing.T) {
	root := buildRoot(t)

	out, err := execute(t, "extract", "--root", root, "--metrics-addr", "127.0.0.1:0", "exd/root.exl")
	require.NoError(t, err)
	assert.Equal(t, "EXLT,2\nAchievement,209\n", out)
	assert.FileExists(t, filepath.Join(root, LockFileName))

	dst := t.TempDir()
	_, err = execute(t, "extract", "--root", root, "--out", dst, "--cache-dir", t.TempDir(),
		"exd/root.exl", "music/ex2/bgm_ex2_field.scd")
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(dst, "music", "ex2", "bgm_ex2_field.scd"))
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte("SEDBSSCF"), 512), got)

	out, err = execute(t, "extract", "--root", root, "--location", "exd/root.exl")
	require.NoError(t, err)
	assert.Contains(t, out, "exd/root.exl\t0a0000.dat0:")

	_, err = execute(t, "extract", "--root", root, "exd/root.exl", "exd/other.exl")
	require.Error(t, err)

	_, err = execute(t, "extract", "--root", root, "--out", dst, "exd/missing.exh")
	require.ErrorIs(t, err, sqpack.ErrNotFound)
	_, err = execute(t, "extract", "--root", root, "--out", dst, "--skip-missing", "exd/missing.exh")
	require.NoError(t, err)
}

func TestExistsCommand(t *testing.T) {
	root := buildRoot(t)

	out, err := execute(t, "exists", "--root", root, "exd/root.exl")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	out, err = execute(t, "exists", "--root", root, "exd/missing.exh")
	require.ErrorIs(t, err, sqpack.ErrNotFound)
	assert.Equal(t, "false\n", out)
}

func TestLsIndexCommand(t *testing.T) {
	root := buildRoot(t)

	out, err := execute(t, "ls-index", "--root", root, "--segment", "0a")
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("%016x", pathhash.Index1("exd/root.exl")))
	assert.NotContains(t, out, "0c0200")

	out, err = execute(t, "ls-index", "--root", root, "--repositories")
	require.NoError(t, err)
	assert.Contains(t, out, "2024.07.01.0000.0000")
}

func TestLockContention(t *testing.T) {
	root := buildRoot(t)
	held := flock.New(filepath.Join(root, LockFileName))
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer held.Unlock()

	_, err = execute(t, "extract", "--root", root, "--lock-timeout", "200ms", "exd/root.exl")
	require.ErrorContains(t, err, "in use")
}

func TestLockRootModes(t *testing.T) {
	root := t.TempDir()

	release1, err := lockRoot(root, true, 0)
	require.NoError(t, err)
	release2, err := lockRoot(root, true, 0)
	require.NoError(t, err)

	start := time.Now()
	_, err = lockRoot(root, false, 0)
	require.ErrorContains(t, err, "in use")
	assert.Less(t, time.Since(start), time.Second)

	_, err = lockRoot(root, false, 150*time.Millisecond)
	require.ErrorContains(t, err, "in use")

	release1()
	release2()
	release, err := lockRoot(root, false, time.Second)
	require.NoError(t, err)
	release()
}

func TestPatchCommands(t *testing.T) {
	src := testutil.NewArchive(t, sqtype.PlatformWin32)
	src.AddFile("exd/root.exl", []byte("EXLT,2\nQuest,30\n"))
	src.Build()
	dst := buildRoot(t)
	patch := filepath.Join(t.TempDir(), "D2024.07.02.0000.0000.patch")

	out, err := execute(t, "patch", "create", dst, src.Root(), patch)
	require.NoError(t, err)
	assert.Contains(t, out, "changed")

	out, err = execute(t, "patch", "inspect", patch)
	require.NoError(t, err)
	assert.Contains(t, out, "FHDR")
	assert.Contains(t, out, "file_operation A sqpack/ffxiv/")
	assert.Contains(t, out, "EOF_")

	out, err = execute(t, "patch", "apply", "--root", dst, patch)
	require.NoError(t, err)
	assert.Contains(t, out, "applied")

	out, err = execute(t, "extract", "--root", dst, "exd/root.exl")
	require.NoError(t, err)
	assert.Equal(t, "EXLT,2\nQuest,30\n", out)

	_, err = execute(t, "patch", "apply", "--root", dst, filepath.Join(t.TempDir(), "missing.patch"))
	require.Error(t, err)
}

func TestSnapshotCommands(t *testing.T) {
	root := buildRoot(t)
	manifest := filepath.Join(t.TempDir(), "manifest.yaml")

	out, err := execute(t, "snapshot", "create", "--root", root, manifest)
	require.NoError(t, err)
	assert.Contains(t, out, manifest)

	_, err = execute(t, "snapshot", "verify", "--root", root, "--workers", "2", manifest)
	require.NoError(t, err)

	ver := filepath.Join(root, "sqpack", "ffxiv", "ffxiv.ver")
	require.NoError(t, os.MkdirAll(filepath.Dir(ver), 0o755))
	require.NoError(t, os.WriteFile(ver, []byte("2099.01.01.0000.0000"), 0o644))

	out, err = execute(t, "snapshot", "verify", "--root", root, manifest)
	require.Error(t, err)
	assert.Contains(t, out, "sqpack/ffxiv/ffxiv.ver")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "sqpack dev")
}
