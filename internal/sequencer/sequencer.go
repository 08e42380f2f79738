package sequencer

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/segmut/internal/invariants"
	"github.com/hupe1980/segmut/internal/resource"
	"github.com/hupe1980/segmut/packet"
	"github.com/hupe1980/segmut/segment"
)

// Applier resolves packets against the segments of a writer.
type Applier interface {
	// TryApply resolves p unless another goroutine currently owns its
	// resolution, in which case it returns false immediately. It returns
	// true if p is applied when it returns.
	TryApply(p *packet.Packet) (bool, error)
	// ForceApply resolves p, waiting for a concurrent owner first. It returns
	// nil without work if p was applied meanwhile.
	ForceApply(p *packet.Packet) error
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sequencer) {
		s.logger = l
	}
}

// WithResourceController releases the packet bytes charged by the caller
// before Push back to rc when the packet finishes.
func WithResourceController(rc *resource.Controller) Option {
	return func(s *Sequencer) {
		s.rc = rc
	}
}

type activePacket struct {
	bytes int64
	terms int64
}

// Sequencer assigns generations to packets and tracks the outstanding ones.
// It is safe for concurrent use.
type Sequencer struct {
	logger *slog.Logger
	rc     *resource.Controller

	mu      sync.Mutex
	nextGen int64
	active  map[*packet.Packet]activePacket

	bytesUsed atomic.Int64
	numTerms  atomic.Int64

	finished *FinishedSegments
}

// New returns a sequencer whose first generation is 1.
func New(optFns ...Option) *Sequencer {
	s := &Sequencer{
		logger:   slog.New(slog.DiscardHandler),
		nextGen:  1,
		active:   make(map[*packet.Packet]activePacket),
		finished: NewFinishedSegments(),
	}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

// Push stamps p with the next generation and registers it. It panics if p is
// empty, not frozen or was pushed before.
func (s *Sequencer) Push(p *packet.Packet) int64 {
	if !p.Any() {
		panic(errors.AssertionFailedf("sequencer: push of empty packet"))
	}
	if !p.Frozen() {
		panic(errors.AssertionFailedf("sequencer: push of unfrozen packet"))
	}
	ap := activePacket{bytes: p.BytesUsed(), terms: int64(p.NumTermDeletes())}

	s.mu.Lock()
	if _, ok := s.active[p]; ok || p.Gen() != 0 {
		s.mu.Unlock()
		panic(errors.AssertionFailedf("sequencer: packet gen=%d pushed twice", p.Gen()))
	}
	gen := s.nextGen
	s.nextGen++
	p.SetGen(gen)
	s.active[p] = ap
	s.mu.Unlock()

	s.bytesUsed.Add(ap.bytes)
	s.numTerms.Add(ap.terms)
	s.logger.Debug("packet pushed", "gen", gen, "terms", ap.terms, "bytes", ap.bytes)
	return gen
}

// Finished retires p after it was resolved against every segment it applies
// to. It panics if p is not outstanding.
func (s *Sequencer) Finished(p *packet.Packet) {
	s.mu.Lock()
	ap, ok := s.active[p]
	if !ok {
		s.mu.Unlock()
		panic(errors.AssertionFailedf("sequencer: packet gen=%d finished but not outstanding", p.Gen()))
	}
	delete(s.active, p)
	s.mu.Unlock()

	s.bytesUsed.Add(-ap.bytes)
	s.numTerms.Add(-ap.terms)
	s.rc.ReleaseMemory(ap.bytes)
	p.Release()

	s.finished.FinishedSegment(p.Gen())
	p.MarkApplied()
	s.logger.Debug("packet finished", "gen", p.Gen(), "completed_gen", s.finished.CompletedDelGen())
}

// Outstanding reports whether p was pushed and is neither finished nor
// discarded by Clear.
func (s *Sequencer) Outstanding(p *packet.Packet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[p]
	return ok
}

// NextGen reserves a generation that no packet carries, for stamping a newly
// flushed segment. The caller must hand it to FinishedGen once the segment is
// published.
func (s *Sequencer) NextGen() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen := s.nextGen
	s.nextGen++
	return gen
}

// FinishedGen retires a generation reserved with NextGen.
func (s *Sequencer) FinishedGen(gen int64) {
	s.finished.FinishedSegment(gen)
}

// CompletedDelGen returns the completion watermark.
func (s *Sequencer) CompletedDelGen() int64 {
	return s.finished.CompletedDelGen()
}

// StillRunning reports whether generation gen may still be unresolved.
func (s *Sequencer) StillRunning(gen int64) bool {
	return s.finished.StillRunning(gen)
}

// Any reports whether packets are outstanding.
func (s *Sequencer) Any() bool {
	return s.PendingUpdates() > 0
}

// PendingUpdates returns the number of outstanding packets.
func (s *Sequencer) PendingUpdates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// BytesUsed returns the bytes held by outstanding packets.
func (s *Sequencer) BytesUsed() int64 {
	return s.bytesUsed.Load()
}

// NumTerms returns the delete terms held by outstanding packets.
func (s *Sequencer) NumTerms() int64 {
	return s.numTerms.Load()
}

// Clear forgets every outstanding packet and restarts generations at 1. It is
// used when the writer rolls back; the dropped packets never fire Applied.
func (s *Sequencer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ap := range s.active {
		s.rc.ReleaseMemory(ap.bytes)
	}
	clear(s.active)
	s.nextGen = 1
	s.bytesUsed.Store(0)
	s.numTerms.Store(0)
	s.finished.Clear()
}

// WaitApplyAll blocks until every packet outstanding at the time of the call
// is applied.
func (s *Sequencer) WaitApplyAll(a Applier) error {
	s.mu.Lock()
	pending := make([]*packet.Packet, 0, len(s.active))
	for p := range s.active {
		pending = append(pending, p)
	}
	s.mu.Unlock()
	return s.waitApply(pending, a)
}

// WaitApplyForMerge blocks until every outstanding packet with a generation
// <= the largest buffered-deletes generation of infos is applied.
func (s *Sequencer) WaitApplyForMerge(infos []*segment.CommitInfo, a Applier) error {
	var maxGen int64
	for _, info := range infos {
		maxGen = max(maxGen, info.BufferedDeletesGen())
	}

	s.mu.Lock()
	var pending []*packet.Packet
	for p := range s.active {
		if p.Gen() <= maxGen {
			pending = append(pending, p)
		}
	}
	s.mu.Unlock()
	return s.waitApply(pending, a)
}

func (s *Sequencer) waitApply(pending []*packet.Packet, a Applier) error {
	if len(pending) == 0 {
		return nil
	}
	start := time.Now()
	slices.SortFunc(pending, func(x, y *packet.Packet) int {
		return int(x.Gen() - y.Gen())
	})

	var contended []*packet.Packet
	for _, p := range pending {
		ok, err := a.TryApply(p)
		if err != nil {
			return errors.Wrapf(err, "sequencer: apply packet gen=%d", p.Gen())
		}
		if !ok {
			contended = append(contended, p)
		}
	}
	for _, p := range contended {
		if err := a.ForceApply(p); err != nil {
			return errors.Wrapf(err, "sequencer: force apply packet gen=%d", p.Gen())
		}
	}

	if invariants.Enabled {
		for _, p := range pending {
			if !p.IsApplied() {
				panic(errors.AssertionFailedf("sequencer: packet gen=%d not applied after wait", p.Gen()))
			}
		}
	}
	s.logger.Debug("wait apply done", "packets", len(pending), "contended", len(contended), "took", time.Since(start))
	return nil
}
