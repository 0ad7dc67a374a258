package sqpack

import (
	"log/slog"

	"github.com/meigma/sqpack/cache"
	"github.com/meigma/sqpack/metrics"
)

// DefaultMaxFileSize is the default limit on a single reconstructed file.
const DefaultMaxFileSize = 512 << 20

// Option configures an Archive.
type Option func(*Archive)

// WithPlatform selects which platform's segment files are opened (default win32).
// Files for other platforms in the same folders are ignored.
func WithPlatform(p Platform) Option {
	return func(a *Archive) {
		a.platform = p
	}
}

// WithLogger sets the logger for archive operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// WithMaxFileSize limits the reconstructed size of a single file.
// Set limit to 0 to disable the limit.
func WithMaxFileSize(limit uint64) Option {
	return func(a *Archive) {
		a.maxFileSize = limit
	}
}

// WithCache enables caching of extracted files.
//
// Entries are keyed by the identity of the data file (path, size and
// modification time) and the record offset. Concurrent extractions of the
// same record are deduplicated.
func WithCache(c cache.Cache) Option {
	return func(a *Archive) {
		a.cache = c
	}
}

// WithMetrics records lookups, extractions and cache lookups.
func WithMetrics(m metrics.ArchiveMetrics) Option {
	return func(a *Archive) {
		a.metrics = m
	}
}
