package resolver

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/segmut/blobstore"
	"github.com/hupe1980/segmut/internal/bitmap"
	"github.com/hupe1980/segmut/internal/deletes"
	"github.com/hupe1980/segmut/internal/updates"
	"github.com/hupe1980/segmut/packet"
	"github.com/hupe1980/segmut/segment"
)

// Segment is a registered segment with its pending deletes and updates.
type Segment struct {
	mu      sync.Mutex
	info    *segment.CommitInfo
	reader  segment.Reader
	deletes deletes.Deletes

	// dvGens holds, per field and document, the generation of the update in
	// effect.
	dvGens  map[string]map[int]int64
	updates []*updates.FieldUpdates
}

type segmentResult struct {
	applied      bool
	deleted      int
	updated      int
	fullyDeleted bool
}

func (s *Segment) Name() string              { return s.info.Info.Name }
func (s *Segment) Info() *segment.CommitInfo { return s.info }
func (s *Segment) Deletes() deletes.Deletes  { return s.deletes }

// Reader returns the reader reflecting the doc-values updates applied so far.
func (s *Segment) Reader() segment.Reader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader
}

// LiveDocs returns an immutable snapshot of the live docs, nil when every
// document is live.
func (s *Segment) LiveDocs() *bitmap.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes.LiveDocs()
}

// NumDocs returns the live document count, pending deletes included.
func (s *Segment) NumDocs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes.NumDocs()
}

// FieldUpdates returns the doc-values updates resolved since the last call to
// TakeFieldUpdates.
func (s *Segment) FieldUpdates() []*updates.FieldUpdates {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*updates.FieldUpdates(nil), s.updates...)
}

// TakeFieldUpdates returns and forgets the resolved doc-values updates.
func (s *Segment) TakeFieldUpdates() []*updates.FieldUpdates {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.updates
	s.updates = nil
	return out
}

// Load initializes the live docs from dir.
func (s *Segment) Load(ctx context.Context, dir blobstore.Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes.Load(ctx, dir)
}

// WriteLiveDocs persists the pending deletes of the segment.
func (s *Segment) WriteLiveDocs(ctx context.Context, dir blobstore.Store) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes.WriteLiveDocs(ctx, dir)
}

// DropChanges discards the pending deletes.
func (s *Segment) DropChanges() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes.DropChanges()
}

// IsFullyDeleted reports whether every document of the segment is deleted.
func (s *Segment) IsFullyDeleted() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes.IsFullyDeleted(s.currentReader)
}

// NumDeletesToMerge reports the deletes policy counts toward merging.
func (s *Segment) NumDeletesToMerge(policy deletes.MergePolicy) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes.NumDeletesToMerge(policy, s.currentReader)
}

// currentReader is a deletes.ReaderFunc; s.mu must be held.
func (s *Segment) currentReader() (segment.Reader, error) {
	return s.reader, nil
}

func (s *Segment) apply(p *packet.Packet) (segmentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res segmentResult
	gen := p.Gen()
	if s.info.BufferedDeletesGen() >= gen {
		return res, nil
	}
	full, err := s.deletes.IsFullyDeleted(s.currentReader)
	if err != nil {
		return res, err
	}
	if full {
		res.fullyDeleted = true
		return res, nil
	}
	res.applied = true
	if s.deletes.MustInitOnDelete() {
		s.deletes.OnNewReader(s.reader)
	}

	n, err := s.applyTermDeletes(p)
	if err != nil {
		return res, err
	}
	res.deleted += n

	n, err = s.applyQueryDeletes(p)
	if err != nil {
		return res, err
	}
	res.deleted += n

	if res.updated, err = s.applyFieldUpdates(p, gen); err != nil {
		return res, err
	}

	if res.fullyDeleted, err = s.deletes.IsFullyDeleted(s.currentReader); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Segment) applyTermDeletes(p *packet.Packet) (int, error) {
	var (
		deleted int
		field   string
		started bool
		te      segment.TermsEnum
	)
	err := p.ForEachOrdered(func(t segment.Term, docIDUpto int) error {
		if !started || t.Field != field {
			started, field = true, t.Field
			var err error
			if te, err = s.reader.Terms(field); err != nil {
				return errors.Wrapf(err, "segment %s: terms of %q", s.Name(), field)
			}
		}
		if te == nil {
			return nil
		}
		found, err := te.SeekExact(t.Bytes)
		if err != nil {
			return errors.Wrapf(err, "segment %s: seek %s", s.Name(), t)
		}
		if !found {
			return nil
		}
		for doc := range te.Postings() {
			if doc >= docIDUpto {
				break
			}
			if s.deletes.Delete(doc) {
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}

func (s *Segment) applyQueryDeletes(p *packet.Packet) (int, error) {
	deleted := 0
	for q, docIDUpto := range p.Queries() {
		docs, err := q.Docs(s.reader)
		if err != nil {
			return deleted, errors.Wrapf(err, "segment %s: query %s", s.Name(), q)
		}
		for doc := range docs {
			if doc >= docIDUpto {
				break
			}
			if s.deletes.Delete(doc) {
				deleted++
			}
		}
	}
	return deleted, nil
}

func (s *Segment) applyFieldUpdates(p *packet.Packet, gen int64) (int, error) {
	var (
		updated  int
		hardLive *segmentBits
	)
	for buf := range p.FieldUpdates() {
		if hardLive == nil {
			hardLive = &segmentBits{s.deletes.HardLiveDocs()}
		}
		fu := updates.NewFieldUpdates(buf.Field(), buf.Kind(), gen, s.info.Info.MaxDoc)
		enums := make(map[string]segment.TermsEnum)
		it := buf.Iterator()
		for u, ok := it.Next(); ok; u, ok = it.Next() {
			te, seen := enums[u.TermField]
			if !seen {
				var err error
				if te, err = s.reader.Terms(u.TermField); err != nil {
					return updated, errors.Wrapf(err, "segment %s: terms of %q", s.Name(), u.TermField)
				}
				enums[u.TermField] = te
			}
			if te == nil {
				continue
			}
			found, err := te.SeekExact(u.Term)
			if err != nil {
				return updated, errors.Wrapf(err, "segment %s: seek %s:%q", s.Name(), u.TermField, u.Term)
			}
			if !found {
				continue
			}
			for doc := range te.Postings() {
				if doc >= u.DocUpTo {
					break
				}
				if !hardLive.get(doc) || !s.newest(buf.Field(), doc, gen) {
					continue
				}
				switch {
				case !u.HasValue:
					fu.Reset(doc)
				case buf.Kind() == updates.Numeric:
					fu.AddNumeric(doc, u.Numeric)
				default:
					fu.AddBinary(doc, u.Binary)
				}
			}
		}
		fu.Finish()
		if !fu.Any() {
			continue
		}
		s.publish(fu)
		updated += fu.Size()
	}
	if updated > 0 {
		s.info.AdvanceFieldInfosGen()
	}
	return updated, nil
}

// newest reports whether an update of generation gen may overwrite the value
// of doc in field.
func (s *Segment) newest(field string, doc int, gen int64) bool {
	last, ok := s.dvGens[field][doc]
	return !ok || gen >= last
}

func (s *Segment) publish(fu *updates.FieldUpdates) {
	field := fu.Field()
	gens := s.dvGens[field]
	if gens == nil {
		gens = make(map[int]int64)
		s.dvGens[field] = gens
	}
	for doc := range fu.All() {
		gens[doc] = fu.DelGen()
	}

	dvGen := s.info.AdvanceDocValuesGen()
	fis := s.reader.FieldInfos()
	fi, ok := fis.Get(field)
	if !ok {
		fi = segment.FieldInfo{Name: field, Number: fis.Len(), DocValuesType: docValuesType(fu.Kind())}
	}
	fi.DocValuesGen = dvGen
	fis = fis.With(fi)

	if u, ok := s.reader.(segment.NumericUpdater); ok && fu.Kind() == updates.Numeric {
		s.reader = u.UpdateNumeric(fis, field, fu.NumericValues())
	}
	s.deletes.OnDocValuesUpdate(fi, fu.All())
	s.updates = append(s.updates, fu)
}

func docValuesType(k updates.Kind) segment.DocValuesType {
	if k == updates.Binary {
		return segment.DocValuesBinary
	}
	return segment.DocValuesNumeric
}

type segmentBits struct {
	live *bitmap.Snapshot
}

func (b *segmentBits) get(doc int) bool {
	return b.live == nil || b.live.Get(doc)
}
