// Package prometheus implements the metrics hooks with Prometheus collectors.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meigma/sqpack/metrics"
)

var sizeBuckets = []float64{
	1024,     // 1KB - exd rows, small scripts
	16384,    // 16KB - one block
	131072,   // 128KB
	1048576,  // 1MB - textures
	8388608,  // 8MB
	67108864, // 64MB - large models
}

var durationBuckets = []float64{
	0.1,  // 100us - cache hits
	1,    // 1ms
	5,    // 5ms
	25,   // 25ms
	100,  // 100ms
	500,  // 500ms
	2500, // 2.5s - large dat writes
}

// archiveMetrics is the Prometheus implementation of metrics.ArchiveMetrics.
type archiveMetrics struct {
	lookups         *prometheus.CounterVec
	extracts        *prometheus.CounterVec
	extractBytes    *prometheus.HistogramVec
	extractDuration *prometheus.HistogramVec
	cacheRequests     *prometheus.CounterVec
}

// NewArchiveMetrics registers archive collectors with reg.
// A nil reg returns nil, which disables collection.
func NewArchiveMetrics(reg prometheus.Registerer) metrics.ArchiveMetrics {
	if reg == nil {
		return nil
	}
	return &archiveMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqpack_lookups_total",
				Help: "Path lookups by category and result",
			},
			[]string{"category", "result"}, // result: "found", "missing"
		),
		extracts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqpack_extracts_total",
				Help: "File extractions by category and status",
			},
			[]string{"category", "status"}, // status: "ok", "error"
		),
		extractBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqpack_extract_bytes",
				Help:    "Distribution of extracted file sizes",
				Buckets: sizeBuckets,
			},
			[]string{"category"},
		),
		extractDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqpack_extract_duration_milliseconds",
				Help:    "Duration of file extractions in milliseconds",
				Buckets: durationBuckets,
			},
			[]string{"category"},
		),
		cacheRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqpack_cache_requests_total",
				Help: "Extracted-content cache requests by result",
			},
			[]string{"result"}, // result: "hit", "miss"
		),
	}
}

func (m *archiveMetrics) ObserveLookup(category string, found bool) {
	result := "missing"
	if found {
		result = "found"
	}
	m.lookups.WithLabelValues(category, result).Inc()
}

func (m *archiveMetrics) ObserveExtract(category string, bytes int64, duration time.Duration, err error) {
	if err != nil {
		m.extracts.WithLabelValues(category, "error").Inc()
		return
	}
	m.extracts.WithLabelValues(category, "ok").Inc()
	m.extractBytes.WithLabelValues(category).Observe(float64(bytes))
	m.extractDuration.WithLabelValues(category).Observe(float64(duration.Microseconds()) / 1000.0)
}

func (m *archiveMetrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

// patchMetrics is the Prometheus implementation of metrics.PatchMetrics.
type patchMetrics struct {
	chunks        *prometheus.CounterVec
	chunkBytes    *prometheus.CounterVec
	chunkDuration *prometheus.HistogramVec
	patches       *prometheus.CounterVec
	patchDuration prometheus.Histogram
}

// NewPatchMetrics registers patch collectors with reg.
// A nil reg returns nil, which disables collection.
func NewPatchMetrics(reg prometheus.Registerer) metrics.PatchMetrics {
	if reg == nil {
		return nil
	}
	return &patchMetrics{
		chunks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqpack_patch_chunks_total",
				Help: "Applied patch chunks by operation",
			},
			[]string{"op"},
		),
		chunkBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqpack_patch_bytes_written_total",
				Help: "Bytes written to archive files by operation",
			},
			[]string{"op"},
		),
		chunkDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqpack_patch_chunk_duration_milliseconds",
				Help:    "Duration of chunk application in milliseconds",
				Buckets: durationBuckets,
			},
			[]string{"op"},
		),
		patches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqpack_patches_total",
				Help: "Patch streams by result",
			},
			[]string{"result"}, // result: "applied", "failed", "aborted"
		),
		patchDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sqpack_patch_duration_seconds",
				Help:    "Duration of whole patch streams in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
			},
		),
	}
}

func (m *patchMetrics) ObserveChunk(op string, bytes int64, duration time.Duration) {
	m.chunks.WithLabelValues(op).Inc()
	m.chunkBytes.WithLabelValues(op).Add(float64(bytes))
	m.chunkDuration.WithLabelValues(op).Observe(float64(duration.Microseconds()) / 1000.0)
}

func (m *patchMetrics) ObservePatch(result string, _ int, duration time.Duration) {
	m.patches.WithLabelValues(result).Inc()
	m.patchDuration.Observe(duration.Seconds())
}
