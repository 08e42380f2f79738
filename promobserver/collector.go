// Package promobserver exports writer metrics to Prometheus.
//
//	c, err := promobserver.New(prometheus.DefaultRegisterer)
//	if err != nil { ... }
//	w, err := segmut.Open(ctx, dir, segmut.WithMetricsCollector(c))
package promobserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/segmut"
)

const namespace = "segmut"

// Duration buckets from 100µs to about 52s.
var durationBuckets = prometheus.ExponentialBuckets(0.0001, 2, 20)

// Collector implements segmut.MetricsCollector.
type Collector struct {
	opLatency    *prometheus.HistogramVec
	packets      *prometheus.CounterVec
	entries      *prometheus.CounterVec
	packetBytes  prometheus.Counter
	backpressure prometheus.Counter
	docs         *prometheus.CounterVec
	fullyDeleted prometheus.Counter
	waitPackets  prometheus.Histogram
	commitSegs   prometheus.Gauge
}

var _ segmut.MetricsCollector = (*Collector)(nil)

// New creates the collector and registers its metrics with reg, or with
// prometheus.DefaultRegisterer when reg is nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of writer operations",
			Buckets:   durationBuckets,
		}, []string{"op", "status"}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Packets pushed, by outcome",
		}, []string{"status"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packet_entries_total",
			Help:      "Buffered entries of admitted packets",
		}, []string{"type"}),
		packetBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packet_bytes_total",
			Help:      "Memory of admitted packets",
		}),
		backpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backpressure_events_total",
			Help:      "Pushes rejected for the memory limit",
		}),
		docs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Documents deleted or updated by resolved packets",
		}, []string{"type"}),
		fullyDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fully_deleted_segments_total",
			Help:      "Segments found fully deleted",
		}),
		waitPackets: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wait_outstanding_packets",
			Help:      "Outstanding packets at the start of a wait",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		commitSegs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "committed_segments",
			Help:      "Segments in the last commit point",
		}),
	}
	for _, col := range []prometheus.Collector{
		c.opLatency, c.packets, c.entries, c.packetBytes, c.backpressure,
		c.docs, c.fullyDeleted, c.waitPackets, c.commitSegs,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *Collector) RecordPush(terms, queries, updates int, bytes int64, d time.Duration, err error) {
	c.opLatency.WithLabelValues("push", status(err)).Observe(d.Seconds())
	c.packets.WithLabelValues(status(err)).Inc()
	if err != nil {
		return
	}
	c.entries.WithLabelValues("term").Add(float64(terms))
	c.entries.WithLabelValues("query").Add(float64(queries))
	c.entries.WithLabelValues("update").Add(float64(updates))
	c.packetBytes.Add(float64(bytes))
}

func (c *Collector) RecordBackpressure() {
	c.backpressure.Inc()
}

func (c *Collector) RecordApply(s segmut.ApplyStats) {
	c.opLatency.WithLabelValues("apply", "ok").Observe(s.Duration.Seconds())
	c.docs.WithLabelValues("deleted").Add(float64(s.DeletedDocs))
	c.docs.WithLabelValues("updated").Add(float64(s.UpdatedDocs))
	c.fullyDeleted.Add(float64(len(s.FullyDeleted)))
}

func (c *Collector) RecordWait(packets int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("wait", status(err)).Observe(d.Seconds())
	c.waitPackets.Observe(float64(packets))
}

func (c *Collector) RecordLiveDocsWrite(_ int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("write_live_docs", status(err)).Observe(d.Seconds())
}

func (c *Collector) RecordCommit(segments int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("commit", status(err)).Observe(d.Seconds())
	if err == nil {
		c.commitSegs.Set(float64(segments))
	}
}
