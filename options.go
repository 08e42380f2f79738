package segmut

import (
	"log/slog"

	"github.com/hupe1980/segmut/internal/deletes"
	"github.com/hupe1980/segmut/internal/livedocs"
	"github.com/hupe1980/segmut/internal/resource"
)

// Compression selects the codec of live-docs payloads.
type Compression = livedocs.Compression

const (
	CompressionNone = livedocs.CompressionNone
	CompressionLZ4  = livedocs.CompressionLZ4
	CompressionZSTD = livedocs.CompressionZSTD
)

// LiveDocsCache keeps decoded live docs keyed by file name.
type LiveDocsCache = livedocs.Cache

// NewLiveDocsCache returns a cache holding up to maxBytes of decoded bitmaps.
func NewLiveDocsCache(maxBytes int64) (*LiveDocsCache, error) {
	return livedocs.NewCache(maxBytes)
}

// ResourceConfig holds the memory, worker and write budgets.
type ResourceConfig = resource.Config

// ResourceController enforces a ResourceConfig. One controller may be shared
// by several writers.
type ResourceController = resource.Controller

// NewResourceController returns a controller enforcing cfg.
func NewResourceController(cfg ResourceConfig) *ResourceController {
	return resource.NewController(cfg)
}

// ReaderFunc opens a reader of a segment on demand.
type ReaderFunc = deletes.ReaderFunc

// MergePolicy decides how many deletes of a segment count toward merging it.
type MergePolicy = deletes.MergePolicy

// DefaultMergePolicy counts every deleted document.
type DefaultMergePolicy = deletes.DefaultMergePolicy

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	rc               *resource.Controller
	resourceConfig   resource.Config
	softDeletesField string
	compression      Compression
	cache            *LiveDocsCache
	mergePolicy      MergePolicy
	keepCommits      int
}

// Option configures Open.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &segmut.BasicMetricsCollector{}
//	w, _ := segmut.Open(ctx, dir, segmut.WithMetricsCollector(metrics))
//	// ... use w ...
//	stats := metrics.GetStats()
//	fmt.Printf("Packets: %d, deleted: %d\n", stats.ApplyCount, stats.DeletedDocs)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithResourceController shares rc between writers. It overrides
// WithMemoryLimit, WithApplyConcurrency and WithWriteRateLimit.
func WithResourceController(rc *ResourceController) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithMemoryLimit caps the bytes held by outstanding packets. Push fails
// with ErrBackpressure beyond it. Zero means unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.resourceConfig.MemoryLimitBytes = bytes
	}
}

// WithApplyConcurrency caps the segments resolved in parallel. Default 1.
func WithApplyConcurrency(n int) Option {
	return func(o *options) {
		o.resourceConfig.ApplyWorkers = int64(n)
	}
}

// WithWriteRateLimit caps live-docs write throughput in bytes per second.
// Zero means unlimited.
func WithWriteRateLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.resourceConfig.WriteBytesPerSec = bytesPerSec
	}
}

// WithSoftDeletesField enables soft deletes: documents with a numeric doc
// value in field count as deleted.
func WithSoftDeletesField(field string) Option {
	return func(o *options) {
		o.softDeletesField = field
	}
}

// WithLiveDocsCompression sets the live-docs payload codec. Default zstd.
func WithLiveDocsCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithLiveDocsCache keeps decoded live docs in c. The caller owns c.
func WithLiveDocsCache(c *LiveDocsCache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithMergePolicy sets the policy behind NumDeletesToMerge.
func WithMergePolicy(p MergePolicy) Option {
	return func(o *options) {
		if p == nil {
			p = DefaultMergePolicy{}
		}
		o.mergePolicy = p
	}
}

// WithKeepCommits keeps the newest n commit points. Live-docs files only
// referenced by older ones are deleted after each commit. Default 1.
func WithKeepCommits(n int) Option {
	return func(o *options) {
		o.keepCommits = max(n, 1)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		compression:      CompressionZSTD,
		mergePolicy:      DefaultMergePolicy{},
		keepCommits:      1,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.rc == nil {
		o.rc = resource.NewController(o.resourceConfig)
	}
	return o
}
