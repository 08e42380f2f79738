package deletes

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/segmut/blobstore"
	"github.com/hupe1980/segmut/internal/bitmap"
	"github.com/hupe1980/segmut/internal/invariants"
	"github.com/hupe1980/segmut/segment"
)

// dvGenUninitialized marks soft deletes that were never counted.
const dvGenUninitialized = -2

// PendingSoftDeletes tracks hard and soft deletes of one segment. Its live
// docs combine both; hard deletes alone are persisted by WriteLiveDocs.
type PendingSoftDeletes struct {
	field      string
	fieldInfos func() (*segment.FieldInfos, error)

	// base holds the combined live docs. Its pending count only ever goes
	// negative: a hard delete of a soft-deleted document moves it from the
	// soft count to the hard count.
	base *PendingDeletes
	hard *PendingDeletes

	dvGeneration int64
	// softThenHard holds the soft-deleted documents hard deleted since the
	// last write, so DropChanges can restore them as soft deleted.
	softThenHard map[int]struct{}
}

// NewSoft returns the deletes of info with soft deletes read from field.
func NewSoft(field string, info *segment.CommitInfo, optFns ...Option) *PendingSoftDeletes {
	o := newOptions(optFns)
	return &PendingSoftDeletes{
		field:        field,
		fieldInfos:   o.fieldInfos,
		base:         newPending(info, nil, !info.HasDeletions(), o),
		hard:         newPending(info, nil, !info.HasDeletions(), o),
		dvGeneration: dvGenUninitialized,
		softThenHard: make(map[int]struct{}),
	}
}

// NewSoftFromReader returns the deletes of info initialized from the hard
// live docs of r. Soft deletes are counted by the next OnNewReader.
func NewSoftFromReader(field string, r segment.Reader, info *segment.CommitInfo, optFns ...Option) *PendingSoftDeletes {
	o := newOptions(optFns)
	return &PendingSoftDeletes{
		field:        field,
		fieldInfos:   o.fieldInfos,
		base:         newPending(info, snapshotOf(r.LiveDocs()), true, o),
		hard:         NewFromReader(r, info, optFns...),
		dvGeneration: dvGenUninitialized,
		softThenHard: make(map[int]struct{}),
	}
}

func (s *PendingSoftDeletes) Info() *segment.CommitInfo { return s.base.info }

// Field returns the soft-deletes field.
func (s *PendingSoftDeletes) Field() string { return s.field }

func (s *PendingSoftDeletes) Delete(doc int) bool {
	// Lock order is base before hard. The combined bits are fetched first so
	// they are initialized from the state before this delete.
	s.base.mu.Lock()
	defer s.base.mu.Unlock()
	bits := s.base.mutableBitsLocked()
	if !s.hard.Delete(doc) {
		return false
	}
	if !bits.Clear(doc) {
		s.base.pending--
		s.softThenHard[doc] = struct{}{}
	}
	return true
}

func (s *PendingSoftDeletes) LiveDocs() *bitmap.Snapshot     { return s.base.LiveDocs() }
func (s *PendingSoftDeletes) HardLiveDocs() *bitmap.Snapshot { return s.hard.LiveDocs() }

func (s *PendingSoftDeletes) NumPendingDeletes() int {
	return s.base.NumPendingDeletes() + s.hard.NumPendingDeletes()
}

func (s *PendingSoftDeletes) DelCount() int {
	info := s.base.info
	return info.DelCount() + info.SoftDelCount() + s.NumPendingDeletes()
}

func (s *PendingSoftDeletes) NumDocs() int {
	return s.base.info.Info.MaxDoc - s.DelCount()
}

func (s *PendingSoftDeletes) MustInitOnDelete() bool {
	return s.base.MustInitOnDelete() || s.dvGeneration < s.base.info.DocValuesGen()
}

// OnNewReader adopts the hard live docs of r and, unless this doc-values
// generation was seen already, applies the soft deletes of r.
func (s *PendingSoftDeletes) OnNewReader(r segment.Reader) {
	s.base.OnNewReader(r)
	s.hard.OnNewReader(r)

	info := s.base.info
	if s.dvGeneration >= info.DocValuesGen() {
		return
	}
	n := 0
	if fi, ok := r.FieldInfos().Get(s.field); ok && fi.HasDocValues() {
		s.base.mutate(func(bits *bitmap.Mutable) {
			n = ApplySoftDeletes(r.DocsWithValue(s.field), bits)
		})
	}
	if invariants.Enabled && n != info.SoftDelCount() {
		panic(errors.AssertionFailedf("segment %s: counted %d soft deletes, commit has %d", info.Info.Name, n, info.SoftDelCount()))
	}
	s.dvGeneration = info.DocValuesGen()
}

// Load initializes the hard live docs from dir. Soft deletes are counted by
// the next OnNewReader.
func (s *PendingSoftDeletes) Load(ctx context.Context, dir blobstore.Store) error {
	if err := s.hard.Load(ctx, dir); err != nil {
		return err
	}
	s.base.adopt(s.hard.LiveDocs())
	return nil
}

// OnDocValuesUpdate applies updates of the soft-deletes field. Documents
// gaining a value are deleted; documents losing it become live again. The
// net change is folded into the soft delete count right away.
func (s *PendingSoftDeletes) OnDocValuesUpdate(fi segment.FieldInfo, updates iter.Seq2[int, bool]) {
	info := s.base.info
	if invariants.Enabled && (s.dvGeneration == dvGenUninitialized || s.dvGeneration > fi.DocValuesGen) {
		panic(errors.AssertionFailedf("segment %s: doc values gen %d after %d", info.Info.Name, fi.DocValuesGen, s.dvGeneration))
	}
	if fi.Name == s.field {
		var delta int
		s.base.mutate(func(bits *bitmap.Mutable) {
			delta = ApplySoftDeletes(updates, bits)
		})
		info.SetSoftDelCount(info.SoftDelCount() + delta)
	}
	s.dvGeneration = fi.DocValuesGen
}

// WriteLiveDocs persists the hard deletes. Documents that moved from soft to
// hard deleted leave the soft count first so the commit never counts them
// twice.
func (s *PendingSoftDeletes) WriteLiveDocs(ctx context.Context, dir blobstore.Store) (bool, error) {
	info := s.base.info
	moved := s.base.NumPendingDeletes()
	if moved != 0 {
		info.SetSoftDelCount(info.SoftDelCount() + moved)
	}
	ok, err := s.hard.WriteLiveDocs(ctx, dir)
	if err != nil {
		if moved != 0 {
			info.SetSoftDelCount(info.SoftDelCount() - moved)
		}
		return false, err
	}
	s.base.mu.Lock()
	s.base.pending = 0
	clear(s.softThenHard)
	s.base.mu.Unlock()
	return ok, nil
}

// DropChanges discards pending hard deletes. Soft deletes already folded into
// the commit descriptor are kept.
func (s *PendingSoftDeletes) DropChanges() {
	reverted := slices.Collect(bitmap.NewlyDeleted(s.hard.baseline, s.hard.current()))
	s.hard.DropChanges()

	s.base.mu.Lock()
	defer s.base.mu.Unlock()
	if len(reverted) > 0 {
		bits := s.base.mutableBitsLocked()
		for _, doc := range reverted {
			if _, ok := s.softThenHard[doc]; !ok {
				bits.Set(doc)
			}
		}
	}
	s.base.pending = 0
	clear(s.softThenHard)
}

// ensureInitialized counts soft deletes once. When the persisted field infos
// show no doc values for the soft-deletes field there is nothing to count and
// no reader is opened.
func (s *PendingSoftDeletes) ensureInitialized(readerFn ReaderFunc) error {
	if s.dvGeneration != dvGenUninitialized {
		return nil
	}
	if s.fieldInfos != nil {
		fis, err := s.fieldInfos()
		if err != nil {
			return errors.Wrapf(err, "segment %s: read field infos", s.base.info.Info.Name)
		}
		fi, ok := fis.Get(s.field)
		if !ok {
			s.dvGeneration = -1
			return nil
		}
		if !fi.HasDocValues() {
			s.dvGeneration = fi.DocValuesGen
			return nil
		}
	}
	r, err := readerFn()
	if err != nil {
		return errors.Wrapf(err, "segment %s: open reader", s.base.info.Info.Name)
	}
	s.OnNewReader(r)
	return nil
}

func (s *PendingSoftDeletes) IsFullyDeleted(readerFn ReaderFunc) (bool, error) {
	if err := s.ensureInitialized(readerFn); err != nil {
		return false, err
	}
	return s.DelCount() == s.base.info.Info.MaxDoc, nil
}

func (s *PendingSoftDeletes) NumDeletesToMerge(policy MergePolicy, readerFn ReaderFunc) (int, error) {
	if err := s.ensureInitialized(readerFn); err != nil {
		return 0, err
	}
	return policy.NumDeletesToMerge(s.base.info, s.DelCount(), readerFn)
}

func (s *PendingSoftDeletes) NeedsRefresh(r segment.Reader) bool {
	return needsRefresh(r, s.base, s.DelCount())
}

func (s *PendingSoftDeletes) VerifyDocCounts(r segment.Reader) error {
	return verifyDocCounts(r, s.base.info, s.NumDocs())
}

func (s *PendingSoftDeletes) String() string {
	return fmt.Sprintf("PendingSoftDeletes(seg=%s numPendingDeletes=%d field=%s dvGeneration=%d hardDeletes=%s)",
		s.base.info.Info.Name, s.base.NumPendingDeletes(), s.field, s.dvGeneration, s.hard)
}

// ApplySoftDeletes applies a soft-delete stream to bits and returns the net
// change in deleted documents. A document with a value is deleted; one
// without is made live again.
func ApplySoftDeletes(updates iter.Seq2[int, bool], bits *bitmap.Mutable) int {
	n := 0
	for doc, hasValue := range updates {
		if hasValue {
			if bits.Clear(doc) {
				n++
			}
		} else if bits.Set(doc) {
			n--
		}
	}
	return n
}
