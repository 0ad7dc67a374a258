package zipatch

import (
	"log/slog"

	"github.com/meigma/sqpack/metrics"
)

// Option configures a Parser, an Applier or Apply.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	metrics      metrics.PatchMetrics
	maxChunkSize uint32
}

func newOptions(opts []Option) options {
	o := options{maxChunkSize: DefaultMaxChunkSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// WithLogger sets the logger for patch parsing and application.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records applied chunks and patch outcomes.
func WithMetrics(m metrics.PatchMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithMaxChunkSize limits the payload size a chunk may declare
// (default DefaultMaxChunkSize). Larger chunks are reported as corrupt.
func WithMaxChunkSize(limit uint32) Option {
	return func(o *options) {
		if limit > 0 {
			o.maxChunkSize = limit
		}
	}
}
