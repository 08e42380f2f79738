package segmut

import (
	"sync/atomic"
	"time"
)

// ApplyStats describes one packet resolution.
type ApplyStats struct {
	Gen int64
	// Segments is the number of segments the packet was resolved against.
	Segments     int
	DeletedDocs  int
	UpdatedDocs  int
	FullyDeleted []string
	Duration     time.Duration
}

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; package
// promobserver provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordPush is called after each push. bytes is the packet's memory,
	// err is nil if the packet was admitted.
	RecordPush(terms, queries, updates int, bytes int64, duration time.Duration, err error)

	// RecordBackpressure is called when a push is rejected for memory.
	RecordBackpressure()

	// RecordApply is called after each packet resolution.
	RecordApply(stats ApplyStats)

	// RecordWait is called after waiting for outstanding packets, by
	// ApplyAll, MergeBarrier and Commit.
	RecordWait(packets int, duration time.Duration, err error)

	// RecordLiveDocsWrite is called after each live-docs write.
	RecordLiveDocsWrite(deletes int, duration time.Duration, err error)

	// RecordCommit is called after each commit.
	RecordCommit(segments int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordPush(int, int, int, int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordBackpressure()                                   {}
func (NoopMetricsCollector) RecordApply(ApplyStats)                                {}
func (NoopMetricsCollector) RecordWait(int, time.Duration, error)                  {}
func (NoopMetricsCollector) RecordLiveDocsWrite(int, time.Duration, error)         {}
func (NoopMetricsCollector) RecordCommit(int, time.Duration, error)                {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	PushCount         atomic.Int64
	PushErrors        atomic.Int64
	PushBytes         atomic.Int64
	BackpressureCount atomic.Int64
	ApplyCount        atomic.Int64
	ApplyTotalNanos   atomic.Int64
	DeletedDocs       atomic.Int64
	UpdatedDocs       atomic.Int64
	FullyDeleted      atomic.Int64
	WaitCount         atomic.Int64
	WaitErrors        atomic.Int64
	WaitTotalNanos    atomic.Int64
	LiveDocsWrites    atomic.Int64
	LiveDocsErrors    atomic.Int64
	LiveDocsDeletes   atomic.Int64
	CommitCount       atomic.Int64
	CommitErrors      atomic.Int64
	CommitTotalNanos  atomic.Int64
	CommittedSegments atomic.Int64
}

// RecordPush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPush(_, _, _ int, bytes int64, _ time.Duration, err error) {
	b.PushCount.Add(1)
	if err != nil {
		b.PushErrors.Add(1)
		return
	}
	b.PushBytes.Add(bytes)
}

// RecordBackpressure implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBackpressure() {
	b.BackpressureCount.Add(1)
}

// RecordApply implements MetricsCollector.
func (b *BasicMetricsCollector) RecordApply(s ApplyStats) {
	b.ApplyCount.Add(1)
	b.ApplyTotalNanos.Add(s.Duration.Nanoseconds())
	b.DeletedDocs.Add(int64(s.DeletedDocs))
	b.UpdatedDocs.Add(int64(s.UpdatedDocs))
	b.FullyDeleted.Add(int64(len(s.FullyDeleted)))
}

// RecordWait implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWait(_ int, duration time.Duration, err error) {
	b.WaitCount.Add(1)
	b.WaitTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.WaitErrors.Add(1)
	}
}

// RecordLiveDocsWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLiveDocsWrite(deletes int, _ time.Duration, err error) {
	if err != nil {
		b.LiveDocsErrors.Add(1)
		return
	}
	b.LiveDocsWrites.Add(1)
	b.LiveDocsDeletes.Add(int64(deletes))
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(segments int, duration time.Duration, err error) {
	b.CommitCount.Add(1)
	if err != nil {
		b.CommitErrors.Add(1)
		return
	}
	b.CommitTotalNanos.Add(duration.Nanoseconds())
	b.CommittedSegments.Add(int64(segments))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		PushCount:         b.PushCount.Load(),
		PushErrors:        b.PushErrors.Load(),
		PushBytes:         b.PushBytes.Load(),
		BackpressureCount: b.BackpressureCount.Load(),
		ApplyCount:        b.ApplyCount.Load(),
		ApplyAvgNanos:     avg(b.ApplyTotalNanos.Load(), b.ApplyCount.Load()),
		DeletedDocs:       b.DeletedDocs.Load(),
		UpdatedDocs:       b.UpdatedDocs.Load(),
		FullyDeleted:      b.FullyDeleted.Load(),
		WaitCount:         b.WaitCount.Load(),
		WaitErrors:        b.WaitErrors.Load(),
		WaitAvgNanos:      avg(b.WaitTotalNanos.Load(), b.WaitCount.Load()),
		LiveDocsWrites:    b.LiveDocsWrites.Load(),
		LiveDocsErrors:    b.LiveDocsErrors.Load(),
		LiveDocsDeletes:   b.LiveDocsDeletes.Load(),
		CommitCount:       b.CommitCount.Load(),
		CommitErrors:      b.CommitErrors.Load(),
		CommitAvgNanos:    avg(b.CommitTotalNanos.Load(), b.CommitCount.Load()-b.CommitErrors.Load()),
		CommittedSegments: b.CommittedSegments.Load(),
	}
}

func avg(total, count int64) int64 {
	if count <= 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	PushCount         int64
	PushErrors        int64
	PushBytes         int64
	BackpressureCount int64
	ApplyCount        int64
	ApplyAvgNanos     int64
	DeletedDocs       int64
	UpdatedDocs       int64
	FullyDeleted      int64
	WaitCount         int64
	WaitErrors        int64
	WaitAvgNanos      int64
	LiveDocsWrites    int64
	LiveDocsErrors    int64
	LiveDocsDeletes   int64
	CommitCount       int64
	CommitErrors      int64
	CommitAvgNanos    int64
	CommittedSegments int64
}
