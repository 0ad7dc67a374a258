// Package metrics defines the observation hooks used by archive reads and
// patch application.
//
// Every hook accepts a nil implementation, which disables collection with
// zero overhead:
//
//	arc, err := sqpack.Open(root)                                  // no metrics
//	arc, err := sqpack.Open(root, sqpack.WithMetrics(prom.NewArchiveMetrics(reg)))
package metrics

import "time"

// ArchiveMetrics observes archive lookups and extractions.
type ArchiveMetrics interface {
	// ObserveLookup records a path resolution, found or not.
	ObserveLookup(category string, found bool)

	// ObserveExtract records one extraction and the bytes it produced.
	ObserveExtract(category string, bytes int64, duration time.Duration, err error)

	// ObserveCache records a content cache lookup.
	ObserveCache(hit bool)
}

// PatchMetrics observes patch application.
type PatchMetrics interface {
	// ObserveChunk records one applied chunk by operation name.
	ObserveChunk(op string, bytes int64, duration time.Duration)

	// ObservePatch records a finished patch stream.
	ObservePatch(result string, chunks int, duration time.Duration)
}

// Patch results reported through ObservePatch.
const (
	ResultApplied = "applied"
	ResultFailed  = "failed"
	ResultAborted = "aborted"
)

// ObserveLookup records a lookup if m is non-nil.
func ObserveLookup(m ArchiveMetrics, category string, found bool) {
	if m != nil {
		m.ObserveLookup(category, found)
	}
}

// ObserveExtract records an extraction if m is non-nil.
func ObserveExtract(m ArchiveMetrics, category string, bytes int64, duration time.Duration, err error) {
	if m != nil {
		m.ObserveExtract(category, bytes, duration, err)
	}
}

// ObserveCache records a cache lookup if m is non-nil.
func ObserveCache(m ArchiveMetrics, hit bool) {
	if m != nil {
		m.ObserveCache(hit)
	}
}

// ObserveChunk records an applied chunk if m is non-nil.
func ObserveChunk(m PatchMetrics, op string, bytes int64, duration time.Duration) {
	if m != nil {
		m.ObserveChunk(op, bytes, duration)
	}
}

// ObservePatch records a finished patch if m is non-nil.
func ObservePatch(m PatchMetrics, result string, chunks int, duration time.Duration) {
	if m != nil {
		m.ObservePatch(result, chunks, duration)
	}
}
