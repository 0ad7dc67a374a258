package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meigma/sqpack"
	"github.com/meigma/sqpack/cache/disk"
	promMetrics "github.com/meigma/sqpack/metrics/prometheus"
)

// LockFileName is the advisory lock kept in the game root.
const LockFileName = ".sqpack.lock"

const lockRetry = 100 * time.Millisecond

// NewLogger builds the slog logger described by c, writing to w.
func NewLogger(c LoggingConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// lockRoot takes the game root lock, shared for readers and exclusive for
// patching, retrying until timeout. The returned func releases it.
func lockRoot(root string, shared bool, timeout time.Duration) (func(), error) {
	lockPath := filepath.Join(root, LockFileName)
	l := flock.New(lockPath)
	tryNow, tryWait := l.TryLock, l.TryLockContext
	if shared {
		tryNow, tryWait = l.TryRLock, l.TryRLockContext
	}
	locked, err := tryNow()
	if err == nil && !locked && timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		locked, err = tryWait(ctx, lockRetry)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || err == nil && !locked:
		return func() {}, fmt.Errorf("game root is in use (lock: %s)", lockPath)
	case err != nil:
		return func() {}, fmt.Errorf("cannot acquire lock %s: %w", lockPath, err)
	}
	return func() { _ = l.Unlock() }, nil
}

// session bundles what a command needs to work on a game root.
type session struct {
	logger  *slog.Logger
	archive *sqpack.Archive
	metrics *metricsServer
	unlock  func()
}

func (s *session) Close() error {
	var err error
	if s.archive != nil {
		err = s.archive.Close()
	}
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := s.metrics.Stop(ctx); serr != nil && err == nil {
			err = serr
		}
	}
	if s.unlock != nil {
		s.unlock()
	}
	return err
}

// openSession locks the configured root and opens its archive.
func openSession(stderr io.Writer, shared bool) (*session, error) {
	logger, err := NewLogger(cfg.Logging, stderr)
	if err != nil {
		return nil, err
	}
	platform, err := sqpack.ParsePlatform(strings.ToLower(cfg.Platform))
	if err != nil {
		return nil, err
	}

	unlock, err := lockRoot(cfg.Root, shared, cfg.Lock.Timeout)
	if err != nil {
		return nil, err
	}
	s := &session{logger: logger, unlock: unlock}

	m, err := startMetrics(cfg.Metrics.Addr, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.metrics = m

	opts := []sqpack.Option{
		sqpack.WithPlatform(platform),
		sqpack.WithLogger(logger),
		m.archiveOption(),
	}
	if cfg.Cache.Dir != "" {
		c, err := disk.New(cfg.Cache.Dir, disk.WithMaxBytes(cfg.Cache.MaxBytes))
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		opts = append(opts, sqpack.WithCache(c))
	}

	a, err := sqpack.Open(cfg.Root, opts...)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.archive = a
	return s, nil
}

// metricsServer serves a Prometheus registry until stopped.
type metricsServer struct {
	reg *prometheus.Registry
	srv *http.Server
}

// startMetrics listens on addr and serves /metrics. An empty addr returns
// a server with a registry but no listener.
func startMetrics(addr string, logger *slog.Logger) (*metricsServer, error) {
	reg := prometheus.NewRegistry()
	m := &metricsServer{reg: reg}
	if addr == "" {
		return m, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	m.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return m, nil
}

func (m *metricsServer) archiveOption() sqpack.Option {
	return sqpack.WithMetrics(promMetrics.NewArchiveMetrics(m.reg))
}

func (m *metricsServer) Stop(ctx context.Context) error {
	if m.srv == nil {
		return nil
	}
	return m.srv.Shutdown(ctx)
}
