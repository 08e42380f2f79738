package deletes

import (
	"log/slog"

	"github.com/hupe1980/segmut/internal/livedocs"
	"github.com/hupe1980/segmut/segment"
)

// Option configures PendingDeletes and PendingSoftDeletes.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	format     *livedocs.Format
	fieldInfos func() (*segment.FieldInfos, error)
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithFormat sets the live-docs format used by WriteLiveDocs.
func WithFormat(f *livedocs.Format) Option {
	return func(o *options) {
		o.format = f
	}
}

// WithFieldInfos lets PendingSoftDeletes look at the persisted field infos
// before deciding whether a reader must be opened to count soft deletes.
func WithFieldInfos(fn func() (*segment.FieldInfos, error)) Option {
	return func(o *options) {
		o.fieldInfos = fn
	}
}

func newOptions(optFns []Option) options {
	o := options{}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.format == nil {
		o.format = livedocs.NewFormat(livedocs.WithLogger(o.logger))
	}
	return o
}
