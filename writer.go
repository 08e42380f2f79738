package segmut

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/segmut/blobstore"
	"github.com/hupe1980/segmut/internal/deletes"
	"github.com/hupe1980/segmut/internal/livedocs"
	"github.com/hupe1980/segmut/internal/manifest"
	"github.com/hupe1980/segmut/internal/resolver"
	"github.com/hupe1980/segmut/internal/sequencer"
	"github.com/hupe1980/segmut/packet"
	"github.com/hupe1980/segmut/segment"
)

// Stats is a point-in-time view of a Writer.
type Stats struct {
	// CommitGen is the generation of the last commit point, 0 if none.
	CommitGen int64
	// CompletedDelGen is the generation up to which every packet is applied.
	CompletedDelGen int64
	PendingPackets  int
	PendingBytes    int64
	PendingTerms    int64
	Segments        int
	MemoryUsed      int64
}

type committedSegment struct {
	state segment.CommitState
	// reader is nil until the segment is registered in this process.
	reader segment.Reader
	// dropped is set by DropSegment; the next commit omits the segment.
	dropped bool
}

// Writer buffers deletes and doc-values updates as packets and resolves them
// against registered segments. Pending deletes become durable on Commit.
//
// All methods are safe for concurrent use. Push and the waits run
// concurrently; segment registration, Commit and Rollback are exclusive.
type Writer struct {
	dir       blobstore.Store
	opts      options
	logger    *Logger
	metrics   MetricsCollector
	format    *livedocs.Format
	seq       *sequencer.Sequencer
	resolver  *resolver.Resolver
	manifests *manifest.Store

	closed atomic.Bool

	mu        sync.RWMutex
	commitGen int64
	committed map[string]*committedSegment
}

// Open returns a writer over dir. If dir holds a commit point, its segments
// must be registered with RestoreSegment before they receive packets.
func Open(ctx context.Context, dir blobstore.Store, optFns ...Option) (*Writer, error) {
	o := applyOptions(optFns)
	w := &Writer{
		dir:       dir,
		opts:      o,
		logger:    o.logger,
		metrics:   o.metricsCollector,
		committed: make(map[string]*committedSegment),
	}
	w.format = livedocs.NewFormat(
		livedocs.WithCompression(o.compression),
		livedocs.WithCache(o.cache),
		livedocs.WithResourceController(o.rc),
		livedocs.WithLogger(o.logger.Logger),
	)
	w.seq = sequencer.New(
		sequencer.WithLogger(o.logger.Logger),
		sequencer.WithResourceController(o.rc),
	)
	resolverOpts := []resolver.Option{
		resolver.WithLogger(o.logger.Logger),
		resolver.WithResourceController(o.rc),
		resolver.WithDeletesOptions(
			deletes.WithLogger(o.logger.Logger),
			deletes.WithFormat(w.format),
		),
		resolver.WithObserver(w.observeApply),
	}
	if o.softDeletesField != "" {
		resolverOpts = append(resolverOpts, resolver.WithSoftDeletesField(o.softDeletesField))
	}
	w.resolver = resolver.New(w.seq, resolverOpts...)
	w.manifests = manifest.NewStore(dir, manifest.WithLogger(o.logger.Logger))

	m, err := w.manifests.Load(ctx)
	switch {
	case errors.Is(err, manifest.ErrNotFound):
	case err != nil:
		return nil, translateError(err)
	default:
		w.commitGen = m.Gen
		for _, st := range m.Segments {
			w.committed[st.Name] = &committedSegment{state: st}
		}
		w.logger.InfoContext(ctx, "opened commit point", "gen", m.Gen, "segments", len(m.Segments))
	}
	return w, nil
}

func (w *Writer) observeApply(s resolver.Stats) {
	stats := ApplyStats{
		Gen:          s.Gen,
		Segments:     s.Segments,
		DeletedDocs:  s.DeletedDocs,
		UpdatedDocs:  s.UpdatedDocs,
		FullyDeleted: s.FullyDeleted,
		Duration:     s.Duration,
	}
	w.metrics.RecordApply(stats)
	w.logger.LogApply(context.Background(), stats)
}

// CommittedSegments returns the names in the last commit point, sorted.
func (w *Writer) CommittedSegments() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Sorted(maps.Keys(w.committed))
}

// AddSegment registers a newly flushed segment. Packets pushed before the
// call do not apply to it.
func (w *Writer) AddSegment(info *segment.CommitInfo, reader segment.Reader) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	gen := w.seq.NextGen()
	defer w.seq.FinishedGen(gen)
	info.SetBufferedDeletesGen(gen)
	if _, err := w.resolver.Add(info, reader); err != nil {
		return translateError(err)
	}
	w.logger.DebugContext(context.Background(), "segment added", "segment", info.Info.Name, "max_doc", info.Info.MaxDoc, "gen", gen)
	return nil
}

// RestoreSegment registers reader as the committed segment name and loads
// its persisted live docs.
func (w *Writer) RestoreSegment(ctx context.Context, name string, reader segment.Reader) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	c, ok := w.committed[name]
	if !ok || c.dropped {
		return errors.Wrapf(ErrUnknownSegment, "%s is not committed", name)
	}
	if err := w.restore(ctx, c.state, reader); err != nil {
		return err
	}
	c.reader = reader
	return nil
}

// restore registers a segment from its committed state. w.mu must be held.
func (w *Writer) restore(ctx context.Context, st segment.CommitState, reader segment.Reader) error {
	// Every packet of the process applies to committed segments.
	st.BufferedDeletesGen = 0
	s, err := w.resolver.Add(segment.FromCommitState(st), reader)
	if err != nil {
		return translateError(err)
	}
	if err := s.Load(ctx, w.dir); err != nil {
		w.resolver.Remove(st.Name)
		return translateError(err)
	}
	return nil
}

// DropSegment unregisters name, typically after a merge or once it is fully
// deleted. Its files stay until the next commit no longer references them.
func (w *Writer) DropSegment(name string) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.resolver.Remove(name) {
		return errors.Wrapf(ErrUnknownSegment, "%s", name)
	}
	if c, ok := w.committed[name]; ok {
		c.dropped = true
	}
	return nil
}

// Push freezes p and enqueues it for resolution. It fails with
// ErrBackpressure when outstanding packets exceed the memory limit. Empty
// packets are ignored and return generation 0.
func (w *Writer) Push(ctx context.Context, p *packet.Packet) (int64, error) {
	if w.closed.Load() {
		return 0, ErrClosed
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !p.Frozen() {
		p.Freeze()
	}
	if !p.Any() {
		return 0, nil
	}

	start := time.Now()
	terms, queries, updates, bytes := p.NumTermDeletes(), p.NumQueries(), p.NumUpdates(), p.BytesUsed()
	if err := w.opts.rc.AcquireMemory(bytes); err != nil {
		err = translateError(err)
		w.metrics.RecordBackpressure()
		w.metrics.RecordPush(terms, queries, updates, bytes, time.Since(start), err)
		w.logger.LogPush(ctx, 0, terms, queries, updates, bytes, err)
		return 0, err
	}
	gen := w.seq.Push(p)
	w.metrics.RecordPush(terms, queries, updates, bytes, time.Since(start), nil)
	w.logger.LogPush(ctx, gen, terms, queries, updates, bytes, nil)
	return gen, nil
}

// TryApply resolves p unless another goroutine is resolving it. A failed
// resolution leaves p outstanding and may be retried. Packets discarded by
// Rollback fail with ErrDiscarded.
func (w *Writer) TryApply(p *packet.Packet) (bool, error) {
	if w.closed.Load() {
		return false, ErrClosed
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	ok, err := w.resolver.TryApply(p)
	return ok, translateError(err)
}

// ApplyAll blocks until every packet outstanding at the time of the call is
// applied.
func (w *Writer) ApplyAll(ctx context.Context) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.applyAll()
}

func (w *Writer) applyAll() error {
	start := time.Now()
	n := w.seq.PendingUpdates()
	err := translateError(w.seq.WaitApplyAll(w.resolver))
	w.metrics.RecordWait(n, time.Since(start), err)
	return err
}

// MergeBarrier blocks until every packet that must apply to the named
// segments before they can be merged is applied. These are the packets
// pushed before the newest of them was added. Restored segments carry
// generation 0 and receive every packet of the process, so a barrier over
// restored segments alone returns without waiting; their outstanding packets
// apply to the merged segment as well.
func (w *Writer) MergeBarrier(ctx context.Context, names ...string) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	start := time.Now()
	infos := make([]*segment.CommitInfo, 0, len(names))
	for _, name := range names {
		s, err := w.resolver.Segment(name)
		if err != nil {
			return translateError(err)
		}
		infos = append(infos, s.Info())
	}
	n := w.seq.PendingUpdates()
	err := translateError(w.seq.WaitApplyForMerge(infos, w.resolver))
	w.metrics.RecordWait(n, time.Since(start), err)
	w.logger.LogMergeBarrier(ctx, names, time.Since(start), err)
	return err
}

// Commit applies every outstanding packet, persists the pending deletes of
// every segment and saves a new commit point. It returns the commit
// generation.
func (w *Writer) Commit(ctx context.Context) (int64, error) {
	if w.closed.Load() {
		return 0, ErrClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	gen, n, err := w.commit(ctx)
	w.metrics.RecordCommit(n, time.Since(start), err)
	w.logger.LogCommit(ctx, gen, n, time.Since(start), err)
	return gen, err
}

func (w *Writer) commit(ctx context.Context) (int64, int, error) {
	if err := w.applyAll(); err != nil {
		return 0, 0, err
	}

	segs := w.resolver.Segments()
	states := make([]segment.CommitState, 0, len(segs)+len(w.committed))
	for _, s := range segs {
		pending := s.Deletes().NumPendingDeletes()
		start := time.Now()
		wrote, err := s.WriteLiveDocs(ctx, w.dir)
		if wrote || err != nil {
			w.metrics.RecordLiveDocsWrite(pending, time.Since(start), err)
			w.logger.LogLiveDocsWrite(ctx, s.Name(), pending, time.Since(start), err)
		}
		if err != nil {
			return 0, 0, &LiveDocsError{Segment: s.Name(), Deletes: pending, cause: translateError(err)}
		}
		states = append(states, s.Info().State())
	}
	// Committed segments not yet restored keep their state.
	registered := make(map[string]bool, len(segs))
	for _, s := range segs {
		registered[s.Name()] = true
	}
	for name, c := range w.committed {
		if !c.dropped && !registered[name] {
			states = append(states, c.state)
		}
	}
	slices.SortFunc(states, func(a, b segment.CommitState) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})

	m := &manifest.Manifest{
		Gen:             w.commitGen,
		CompletedDelGen: w.seq.CompletedDelGen(),
		Segments:        states,
	}
	if err := w.manifests.Save(ctx, m); err != nil {
		return 0, 0, translateError(err)
	}
	w.commitGen = m.Gen

	committed := make(map[string]*committedSegment, len(states))
	for _, st := range states {
		committed[st.Name] = &committedSegment{state: st}
	}
	for _, s := range segs {
		committed[s.Name()].reader = s.Reader()
		s.TakeFieldUpdates()
	}
	w.committed = committed

	w.deleteUnreferenced(ctx)
	return m.Gen, len(states), nil
}

// deleteUnreferenced prunes old commit points and removes live-docs files
// none of the kept ones or the registered segments reference. Failures are
// logged; the files are retried on the next commit.
func (w *Writer) deleteUnreferenced(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := w.manifests.Prune(ctx, w.opts.keepCommits); err != nil {
		w.logger.WarnContext(ctx, "failed to prune commit points", "error", err)
		return
	}

	referenced := make(map[string]bool)
	add := func(name string, delGen int64) {
		if delGen >= 0 {
			referenced[livedocs.FileName(name, delGen)] = true
		}
	}
	gens, err := w.manifests.Generations(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "failed to list commit points", "error", err)
		return
	}
	for _, gen := range gens {
		m, err := w.manifests.LoadGen(ctx, gen)
		if err != nil {
			w.logger.WarnContext(ctx, "failed to load commit point", "gen", gen, "error", err)
			return
		}
		for _, st := range m.Segments {
			add(st.Name, st.DelGen)
		}
	}
	for _, s := range w.resolver.Segments() {
		add(s.Name(), s.Info().DelGen())
	}

	names, err := w.dir.List(ctx, "_")
	if err != nil {
		w.logger.WarnContext(ctx, "failed to list live docs", "error", err)
		return
	}
	for _, name := range names {
		if !livedocs.IsFileName(name) || referenced[name] {
			continue
		}
		if err := w.format.Delete(ctx, w.dir, name); err != nil {
			w.logger.WarnContext(ctx, "failed to delete unreferenced live docs", "file", name, "error", err)
			continue
		}
		w.logger.DebugContext(ctx, "deleted unreferenced live docs", "file", name)
	}
}

// Rollback discards every outstanding packet and pending change and reverts
// the registered segments to the last commit point. Segments added since the
// commit are dropped. Goroutines waiting on a discarded packet's Applied
// channel are not released.
func (w *Writer) Rollback(ctx context.Context) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	dropped := w.seq.PendingUpdates()
	w.seq.Clear()
	for _, s := range w.resolver.Segments() {
		w.resolver.Remove(s.Name())
	}

	var errs error
	for _, name := range slices.Sorted(maps.Keys(w.committed)) {
		c := w.committed[name]
		c.dropped = false
		if c.reader == nil {
			continue
		}
		if err := w.restore(ctx, c.state, c.reader); err != nil {
			c.reader = nil
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "restore %s", name))
		}
	}
	if errs == nil {
		w.deleteUnreferenced(ctx)
	}
	w.logger.LogRollback(ctx, w.commitGen, dropped, errs)
	return errs
}

// Segments returns the registered segment names, sorted.
func (w *Writer) Segments() []string {
	segs := w.resolver.Segments()
	names := make([]string, len(segs))
	for i, s := range segs {
		names[i] = s.Name()
	}
	return names
}

// SegmentInfo returns the commit descriptor of name.
func (w *Writer) SegmentInfo(name string) (*segment.CommitInfo, error) {
	s, err := w.resolver.Segment(name)
	if err != nil {
		return nil, translateError(err)
	}
	return s.Info(), nil
}

// Reader returns the reader of name, reflecting applied doc-values updates.
func (w *Writer) Reader(name string) (segment.Reader, error) {
	s, err := w.resolver.Segment(name)
	if err != nil {
		return nil, translateError(err)
	}
	return s.Reader(), nil
}

// LiveDocs returns an immutable view of the live documents of name, nil when
// every document is live.
func (w *Writer) LiveDocs(name string) (segment.Bits, error) {
	s, err := w.resolver.Segment(name)
	if err != nil {
		return nil, translateError(err)
	}
	if live := s.LiveDocs(); live != nil {
		return live, nil
	}
	return nil, nil
}

// NumDocs returns the live document count of name, pending deletes included.
func (w *Writer) NumDocs(name string) (int, error) {
	s, err := w.resolver.Segment(name)
	if err != nil {
		return 0, translateError(err)
	}
	return s.NumDocs(), nil
}

// NumDeletesToMerge returns the deletes of name the merge policy counts.
func (w *Writer) NumDeletesToMerge(name string) (int, error) {
	s, err := w.resolver.Segment(name)
	if err != nil {
		return 0, translateError(err)
	}
	n, err := s.NumDeletesToMerge(w.opts.mergePolicy)
	return n, translateError(err)
}

// FullyDeleted returns the registered segments found fully deleted.
func (w *Writer) FullyDeleted() []string {
	return w.resolver.FullyDeleted()
}

// Stats returns a snapshot of the writer.
func (w *Writer) Stats() Stats {
	w.mu.RLock()
	commitGen := w.commitGen
	w.mu.RUnlock()
	return Stats{
		CommitGen:       commitGen,
		CompletedDelGen: w.seq.CompletedDelGen(),
		PendingPackets:  w.seq.PendingUpdates(),
		PendingBytes:    w.seq.BytesUsed(),
		PendingTerms:    w.seq.NumTerms(),
		Segments:        len(w.resolver.Segments()),
		MemoryUsed:      w.opts.rc.MemoryUsage(),
	}
}
