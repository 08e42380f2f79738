package deletes

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/segmut/blobstore"
	"github.com/hupe1980/segmut/internal/bitmap"
	"github.com/hupe1980/segmut/internal/invariants"
	"github.com/hupe1980/segmut/internal/livedocs"
	"github.com/hupe1980/segmut/segment"
)

// ErrDocCountMismatch is returned by VerifyDocCounts.
var ErrDocCountMismatch = errors.New("deletes: doc count mismatch")

// ReaderFunc opens a reader of the segment on demand.
type ReaderFunc func() (segment.Reader, error)

// MergePolicy decides how many deletes of a segment count toward merging it.
type MergePolicy interface {
	NumDeletesToMerge(info *segment.CommitInfo, delCount int, readerFn ReaderFunc) (int, error)
}

// DefaultMergePolicy counts every deleted document.
type DefaultMergePolicy struct{}

func (DefaultMergePolicy) NumDeletesToMerge(_ *segment.CommitInfo, delCount int, _ ReaderFunc) (int, error) {
	return delCount, nil
}

// Deletes is the live-docs state of one segment.
type Deletes interface {
	Info() *segment.CommitInfo
	// Delete marks doc deleted and reports whether it was live before.
	Delete(doc int) bool
	// LiveDocs returns an immutable snapshot, nil when every document is
	// live. Later deletes do not affect the returned snapshot.
	LiveDocs() *bitmap.Snapshot
	// HardLiveDocs is LiveDocs without soft deletes.
	HardLiveDocs() *bitmap.Snapshot
	NumPendingDeletes() int
	// DelCount returns committed hard and soft deletes plus pending ones.
	DelCount() int
	NumDocs() int
	// MustInitOnDelete reports whether OnNewReader must run before Delete.
	MustInitOnDelete() bool
	OnNewReader(r segment.Reader)
	// Load initializes the hard live docs from the file persisted in dir.
	Load(ctx context.Context, dir blobstore.Store) error
	OnDocValuesUpdate(fi segment.FieldInfo, updates iter.Seq2[int, bool])
	// WriteLiveDocs persists pending deletes and reports whether a file
	// was written.
	WriteLiveDocs(ctx context.Context, dir blobstore.Store) (bool, error)
	// DropChanges discards pending deletes.
	DropChanges()
	IsFullyDeleted(readerFn ReaderFunc) (bool, error)
	NumDeletesToMerge(policy MergePolicy, readerFn ReaderFunc) (int, error)
	NeedsRefresh(r segment.Reader) bool
	VerifyDocCounts(r segment.Reader) error
}

var (
	_ Deletes = (*PendingDeletes)(nil)
	_ Deletes = (*PendingSoftDeletes)(nil)
)

// PendingDeletes tracks hard deletes of one segment.
type PendingDeletes struct {
	info   *segment.CommitInfo
	logger *slog.Logger
	format *livedocs.Format

	mu sync.Mutex
	// liveDocs is the published snapshot; nil while writable is set or when
	// every document is live.
	liveDocs *bitmap.Snapshot
	writable *bitmap.Mutable
	// baseline is what DropChanges reverts to.
	baseline    *bitmap.Snapshot
	pending     int
	initialized bool
}

// New returns the deletes of info. When info has persisted deletes, the live
// docs must be loaded through OnNewReader or Load before the first Delete.
func New(info *segment.CommitInfo, optFns ...Option) *PendingDeletes {
	return newPending(info, nil, !info.HasDeletions(), newOptions(optFns))
}

// NewFromReader returns the deletes of info initialized from r.
func NewFromReader(r segment.Reader, info *segment.CommitInfo, optFns ...Option) *PendingDeletes {
	p := newPending(info, snapshotOf(r.LiveDocs()), true, newOptions(optFns))
	p.pending = r.NumDeletedDocs() - info.DelCount()
	if p.pending < 0 {
		panic(errors.AssertionFailedf("segment %s: reader has %d deletes, commit has %d", info.Info.Name, r.NumDeletedDocs(), info.DelCount()))
	}
	return p
}

func newPending(info *segment.CommitInfo, live *bitmap.Snapshot, initialized bool, o options) *PendingDeletes {
	return &PendingDeletes{
		info:        info,
		logger:      o.logger,
		format:      o.format,
		liveDocs:    live,
		baseline:    live,
		initialized: initialized,
	}
}

func snapshotOf(b segment.Bits) *bitmap.Snapshot {
	if b == nil {
		return nil
	}
	if s, ok := b.(*bitmap.Snapshot); ok {
		return s
	}
	return bitmap.CopyOf(b).Snapshot()
}

func (p *PendingDeletes) Info() *segment.CommitInfo { return p.info }

// mutableBitsLocked returns the private bitset, copying the published one
// first. p.mu must be held.
func (p *PendingDeletes) mutableBitsLocked() *bitmap.Mutable {
	if !p.initialized {
		panic(errors.AssertionFailedf("segment %s: live docs are not initialized", p.info.Info.Name))
	}
	if p.writable == nil {
		if p.liveDocs != nil {
			p.writable = bitmap.CopyOf(p.liveDocs)
		} else {
			p.writable = bitmap.NewAllLive(p.info.Info.MaxDoc)
		}
		p.liveDocs = nil
	}
	return p.writable
}

// mutate runs fn on the private bitset with p.mu held, so no snapshot handed
// out by LiveDocs ever changes.
func (p *PendingDeletes) mutate(fn func(bits *bitmap.Mutable)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.mutableBitsLocked())
}

// current returns the live docs without publishing them. The result must not
// outlive the next Delete.
func (p *PendingDeletes) current() *bitmap.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writable != nil {
		return p.writable.Snapshot()
	}
	return p.liveDocs
}

func (p *PendingDeletes) Delete(doc int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clearLocked(doc)
}

// clearLocked deletes doc and counts it as pending. p.mu must be held.
func (p *PendingDeletes) clearLocked(doc int) bool {
	bits := p.mutableBitsLocked()
	if doc < 0 || doc >= bits.Len() {
		panic(errors.AssertionFailedf("segment %s: doc %d out of bounds [0,%d)", p.info.Info.Name, doc, bits.Len()))
	}
	if bits.Clear(doc) {
		p.pending++
		return true
	}
	return false
}

func (p *PendingDeletes) LiveDocs() *bitmap.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writable != nil {
		p.liveDocs = p.writable.Snapshot()
		p.writable = nil
	}
	return p.liveDocs
}

func (p *PendingDeletes) HardLiveDocs() *bitmap.Snapshot {
	return p.LiveDocs()
}

func (p *PendingDeletes) NumPendingDeletes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

func (p *PendingDeletes) DelCount() int {
	return p.info.DelCount() + p.info.SoftDelCount() + p.NumPendingDeletes()
}

func (p *PendingDeletes) NumDocs() int {
	return p.info.Info.MaxDoc - p.DelCount()
}

func (p *PendingDeletes) MustInitOnDelete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.initialized
}

// OnNewReader adopts the live docs of r unless already initialized.
func (p *PendingDeletes) OnNewReader(r segment.Reader) {
	if p.MustInitOnDelete() {
		p.adopt(snapshotOf(r.LiveDocs()))
	}
}

func (p *PendingDeletes) adopt(live *bitmap.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return
	}
	if invariants.Enabled && (p.writable != nil || p.pending != 0) {
		panic(errors.AssertionFailedf("segment %s: deletes before initialization", p.info.Info.Name))
	}
	p.liveDocs = live
	p.baseline = live
	p.initialized = true
}

// Load initializes the live docs from the file persisted in dir.
func (p *PendingDeletes) Load(ctx context.Context, dir blobstore.Store) error {
	if !p.MustInitOnDelete() {
		return nil
	}
	snap, err := p.format.ReadLiveDocs(ctx, dir, p.info)
	if err != nil {
		return err
	}
	p.adopt(snap)
	return nil
}

func (p *PendingDeletes) OnDocValuesUpdate(segment.FieldInfo, iter.Seq2[int, bool]) {}

func (p *PendingDeletes) WriteLiveDocs(ctx context.Context, dir blobstore.Store) (bool, error) {
	pending := p.NumPendingDeletes()
	if pending == 0 {
		return false, nil
	}
	snap := p.LiveDocs()
	if invariants.Enabled && (snap == nil || snap.Len() != p.info.Info.MaxDoc) {
		panic(errors.AssertionFailedf("segment %s: pending deletes without live docs", p.info.Info.Name))
	}

	// The file is not live until a commit references it, so it is written
	// under its final name. Anything created is removed on failure.
	tracking := blobstore.NewTrackingStore(dir)
	if err := p.format.WriteLiveDocs(ctx, tracking, snap, p.info, pending); err != nil {
		// A retry must not reuse the name of a possibly half-written file.
		p.info.AdvanceNextWriteDelGen()
		cleanupCtx := context.WithoutCancel(ctx)
		for _, name := range tracking.CreatedFiles() {
			if derr := dir.Delete(cleanupCtx, name); derr != nil {
				p.logger.Warn("failed to remove partial live docs", "segment", p.info.Info.Name, "file", name, "error", derr)
			}
		}
		return false, errors.Wrapf(err, "segment %s", p.info.Info.Name)
	}

	p.info.AdvanceDelGen()
	p.info.SetDelCount(p.info.DelCount() + pending)
	p.mu.Lock()
	p.pending = 0
	p.baseline = snap
	p.mu.Unlock()
	return true, nil
}

// DropChanges reverts the live docs to the last persisted or adopted state.
func (p *PendingDeletes) DropChanges() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writable = nil
	p.liveDocs = p.baseline
	p.pending = 0
}

func (p *PendingDeletes) IsFullyDeleted(ReaderFunc) (bool, error) {
	return p.DelCount() == p.info.Info.MaxDoc, nil
}

func (p *PendingDeletes) NumDeletesToMerge(policy MergePolicy, readerFn ReaderFunc) (int, error) {
	return policy.NumDeletesToMerge(p.info, p.DelCount(), readerFn)
}

func (p *PendingDeletes) NeedsRefresh(r segment.Reader) bool {
	return needsRefresh(r, p, p.DelCount())
}

func (p *PendingDeletes) VerifyDocCounts(r segment.Reader) error {
	return verifyDocCounts(r, p.info, p.NumDocs())
}

func (p *PendingDeletes) String() string {
	return fmt.Sprintf("PendingDeletes(seg=%s numPendingDeletes=%d)", p.info.Info.Name, p.NumPendingDeletes())
}

func needsRefresh(r segment.Reader, p *PendingDeletes, delCount int) bool {
	p.mu.Lock()
	writable, live := p.writable, p.liveDocs
	p.mu.Unlock()
	if writable != nil || r.NumDeletedDocs() != delCount {
		return true
	}
	if live == nil {
		return r.LiveDocs() != nil
	}
	s, ok := r.LiveDocs().(*bitmap.Snapshot)
	return !ok || s != live
}

func verifyDocCounts(r segment.Reader, info *segment.CommitInfo, numDocs int) error {
	count := r.MaxDoc()
	if live := r.LiveDocs(); live != nil {
		count = 0
		for i := range live.Len() {
			if live.Get(i) {
				count++
			}
		}
	}
	if count != numDocs {
		return errors.Wrapf(ErrDocCountMismatch, "segment %s: reader has %d live docs, expected %d", info.Info.Name, count, numDocs)
	}
	return nil
}
