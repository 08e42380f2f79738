package resolver

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/segmut/internal/deletes"
	"github.com/hupe1980/segmut/internal/resource"
	"github.com/hupe1980/segmut/internal/sequencer"
	"github.com/hupe1980/segmut/packet"
	"github.com/hupe1980/segmut/segment"
)

var (
	// ErrDuplicateSegment is returned when a segment name is registered twice.
	ErrDuplicateSegment = errors.New("resolver: duplicate segment")
	// ErrUnknownSegment is returned for names that are not registered.
	ErrUnknownSegment = errors.New("resolver: unknown segment")
	// ErrDiscarded is returned for packets the sequencer no longer holds.
	ErrDiscarded = errors.New("resolver: packet discarded")
)

// Stats describes one packet resolution.
type Stats struct {
	Gen          int64
	Segments     int
	DeletedDocs  int
	UpdatedDocs  int
	FullyDeleted []string
	Duration     time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithResourceController bounds parallel segment resolution by the apply
// workers of rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(r *Resolver) {
		r.rc = rc
	}
}

// WithSoftDeletesField makes registered segments track soft deletes of field.
func WithSoftDeletesField(field string) Option {
	return func(r *Resolver) {
		r.softField = field
	}
}

// WithDeletesOptions passes opts to the deletes of every registered segment.
func WithDeletesOptions(opts ...deletes.Option) Option {
	return func(r *Resolver) {
		r.deletesOpts = append(r.deletesOpts, opts...)
	}
}

// WithObserver calls fn after every successful resolution.
func WithObserver(fn func(Stats)) Option {
	return func(r *Resolver) {
		r.observe = fn
	}
}

// Resolver applies packets to the registered segments. It implements
// sequencer.Applier and is safe for concurrent use.
type Resolver struct {
	seq         *sequencer.Sequencer
	logger      *slog.Logger
	rc          *resource.Controller
	softField   string
	deletesOpts []deletes.Option
	observe     func(Stats)

	mu           sync.RWMutex
	segments     map[string]*Segment
	fullyDeleted map[string]struct{}
}

var _ sequencer.Applier = (*Resolver)(nil)

// New returns a resolver retiring packets through seq.
func New(seq *sequencer.Sequencer, optFns ...Option) *Resolver {
	r := &Resolver{
		seq:          seq,
		logger:       slog.New(slog.DiscardHandler),
		segments:     make(map[string]*Segment),
		fullyDeleted: make(map[string]struct{}),
	}
	for _, fn := range optFns {
		fn(r)
	}
	return r
}

// Add registers a segment. Packets whose generation is not above the
// segment's buffered-deletes generation skip it.
func (r *Resolver) Add(info *segment.CommitInfo, reader segment.Reader) (*Segment, error) {
	if reader.MaxDoc() != info.Info.MaxDoc {
		return nil, errors.Newf("resolver: segment %s: reader maxDoc %d, commit maxDoc %d", info.Info.Name, reader.MaxDoc(), info.Info.MaxDoc)
	}

	opts := r.deletesOpts
	if r.softField != "" {
		opts = append(slices.Clone(opts), deletes.WithFieldInfos(func() (*segment.FieldInfos, error) {
			return reader.FieldInfos(), nil
		}))
	}
	var d deletes.Deletes
	if r.softField != "" {
		d = deletes.NewSoft(r.softField, info, opts...)
	} else {
		d = deletes.New(info, opts...)
	}
	s := &Segment{
		info:    info,
		reader:  reader,
		deletes: d,
		dvGens:  make(map[string]map[int]int64),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.segments[info.Info.Name]; ok {
		return nil, errors.Wrapf(ErrDuplicateSegment, "%s", info.Info.Name)
	}
	r.segments[info.Info.Name] = s
	return s, nil
}

// Remove unregisters name and reports whether it was registered.
func (r *Resolver) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.segments[name]
	delete(r.segments, name)
	delete(r.fullyDeleted, name)
	return ok
}

// Segment returns the registered segment name.
func (r *Resolver) Segment(name string) (*Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.segments[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSegment, "%s", name)
	}
	return s, nil
}

// Segments returns the registered segments ordered by name.
func (r *Resolver) Segments() []*Segment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Segment, 0, len(r.segments))
	for _, name := range slices.Sorted(maps.Keys(r.segments)) {
		out = append(out, r.segments[name])
	}
	return out
}

// FullyDeleted returns the names of segments found fully deleted while
// resolving, in name order.
func (r *Resolver) FullyDeleted() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.fullyDeleted))
}

// TryApply resolves p unless another goroutine owns its resolution.
func (r *Resolver) TryApply(p *packet.Packet) (bool, error) {
	if !p.TryLockApply() {
		return false, nil
	}
	defer p.UnlockApply()
	if p.IsApplied() {
		return true, nil
	}
	if err := r.apply(p); err != nil {
		return false, err
	}
	return true, nil
}

// ForceApply resolves p, waiting for a concurrent owner first.
func (r *Resolver) ForceApply(p *packet.Packet) error {
	p.LockApply()
	defer p.UnlockApply()
	if p.IsApplied() {
		return nil
	}
	return r.apply(p)
}

func (r *Resolver) apply(p *packet.Packet) error {
	start := time.Now()
	gen := p.Gen()
	if gen <= 0 {
		panic(errors.AssertionFailedf("resolver: packet applied before push"))
	}

	// Packets dropped by Sequencer.Clear never touch a segment.
	if !r.seq.Outstanding(p) {
		return errors.Wrapf(ErrDiscarded, "packet gen=%d", gen)
	}

	segs := r.Segments()
	var (
		applied, deleted, updated atomic.Int64
		fullMu                    sync.Mutex
		full                      []string
	)

	g, ctx := errgroup.WithContext(context.Background())
	if n := r.rc.ApplyWorkers(); n > 0 {
		g.SetLimit(n)
	}
	for _, s := range segs {
		g.Go(func() error {
			if err := r.rc.AcquireWorker(ctx); err != nil {
				return err
			}
			defer r.rc.ReleaseWorker()

			res, err := s.apply(p)
			if err != nil {
				return err
			}
			if res.applied {
				applied.Add(1)
			}
			deleted.Add(int64(res.deleted))
			updated.Add(int64(res.updated))
			if res.fullyDeleted {
				fullMu.Lock()
				full = append(full, s.Name())
				fullMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Warn("packet resolution failed", "gen", gen, "error", err)
		return errors.Wrapf(err, "resolver: packet gen=%d", gen)
	}

	slices.Sort(full)
	if len(full) > 0 {
		r.mu.Lock()
		for _, name := range full {
			if _, ok := r.segments[name]; ok {
				r.fullyDeleted[name] = struct{}{}
			}
		}
		r.mu.Unlock()
	}

	stats := Stats{
		Gen:          gen,
		Segments:     int(applied.Load()),
		DeletedDocs:  int(deleted.Load()),
		UpdatedDocs:  int(updated.Load()),
		FullyDeleted: full,
		Duration:     time.Since(start),
	}
	r.seq.Finished(p)
	r.logger.Debug("packet applied",
		"gen", gen,
		"segments", stats.Segments,
		"deleted", stats.DeletedDocs,
		"updated", stats.UpdatedDocs,
		"fully_deleted", len(full),
		"duration", stats.Duration)
	if r.observe != nil {
		r.observe(stats)
	}
	return nil
}
