package segment

import (
	"bytes"
	"iter"
	"maps"
	"slices"
	"sort"
)

// Doc is the indexed form of one document of a MemReader.
type Doc struct {
	// Terms maps a field to the terms indexed for it.
	Terms map[string][]string
	// Numeric maps a field to its numeric doc value.
	Numeric map[string]int64
}

type memPostings struct {
	terms [][]byte
	docs  [][]int
}

type numericEntry struct {
	doc   int
	value int64
}

// MemReader is an immutable Reader over documents held in memory.
type MemReader struct {
	maxDoc   int
	live     Bits
	deleted  int
	fis      *FieldInfos
	postings map[string]*memPostings
	numeric  map[string][]numericEntry
}

var (
	_ Reader         = (*MemReader)(nil)
	_ NumericUpdater = (*MemReader)(nil)
)

// NewMemReader indexes docs; the position in the slice is the ordinal.
func NewMemReader(fis *FieldInfos, docs []Doc) *MemReader {
	r := &MemReader{
		maxDoc:   len(docs),
		fis:      fis,
		postings: make(map[string]*memPostings),
		numeric:  make(map[string][]numericEntry),
	}

	byField := make(map[string]map[string][]int)
	for ord, d := range docs {
		for field, terms := range d.Terms {
			m := byField[field]
			if m == nil {
				m = make(map[string][]int)
				byField[field] = m
			}
			for _, t := range terms {
				if p := m[t]; len(p) == 0 || p[len(p)-1] != ord {
					m[t] = append(p, ord)
				}
			}
		}
		for field, v := range d.Numeric {
			r.numeric[field] = append(r.numeric[field], numericEntry{doc: ord, value: v})
		}
	}

	for field, m := range byField {
		p := &memPostings{}
		for _, t := range slices.Sorted(maps.Keys(m)) {
			p.terms = append(p.terms, []byte(t))
			p.docs = append(p.docs, m[t])
		}
		r.postings[field] = p
	}
	return r
}

// WithLiveDocs returns a reader sharing the index of r with live as its
// live-docs view. A nil live means all documents are live.
func (r *MemReader) WithLiveDocs(live Bits) *MemReader {
	out := *r
	out.live = live
	out.deleted = 0
	if live != nil {
		for doc := range r.maxDoc {
			if !live.Get(doc) {
				out.deleted++
			}
		}
	}
	return &out
}

// WithFieldInfos returns a reader sharing the index of r with fis as its
// field metadata.
func (r *MemReader) WithFieldInfos(fis *FieldInfos) *MemReader {
	out := *r
	out.fis = fis
	return &out
}

// WithNumericValues returns a reader where the doc values of field are
// overlaid by values. A nil value removes the document's value.
func (r *MemReader) WithNumericValues(field string, values iter.Seq2[int, *int64]) *MemReader {
	merged := make(map[int]int64, len(r.numeric[field]))
	for _, e := range r.numeric[field] {
		merged[e.doc] = e.value
	}
	for doc, v := range values {
		if v == nil {
			delete(merged, doc)
			continue
		}
		merged[doc] = *v
	}

	out := *r
	out.numeric = maps.Clone(r.numeric)
	entries := make([]numericEntry, 0, len(merged))
	for _, doc := range slices.Sorted(maps.Keys(merged)) {
		entries = append(entries, numericEntry{doc: doc, value: merged[doc]})
	}
	out.numeric[field] = entries
	return &out
}

// UpdateNumeric implements NumericUpdater.
func (r *MemReader) UpdateNumeric(fis *FieldInfos, field string, values iter.Seq2[int, *int64]) Reader {
	return r.WithFieldInfos(fis).WithNumericValues(field, values)
}

func (r *MemReader) MaxDoc() int             { return r.maxDoc }
func (r *MemReader) NumDeletedDocs() int     { return r.deleted }
func (r *MemReader) LiveDocs() Bits          { return r.live }
func (r *MemReader) FieldInfos() *FieldInfos { return r.fis }

// Terms returns an enum over the postings of field.
func (r *MemReader) Terms(field string) (TermsEnum, error) {
	p, ok := r.postings[field]
	if !ok {
		return nil, nil
	}
	return &memTermsEnum{p: p, pos: -1}, nil
}

// DocsWithValue iterates the documents with a numeric value for field.
func (r *MemReader) DocsWithValue(field string) iter.Seq2[int, bool] {
	entries := r.numeric[field]
	return func(yield func(int, bool) bool) {
		for _, e := range entries {
			if !yield(e.doc, true) {
				return
			}
		}
	}
}

// NumericValues iterates the numeric values of field in doc order.
func (r *MemReader) NumericValues(field string) iter.Seq2[int, int64] {
	entries := r.numeric[field]
	return func(yield func(int, int64) bool) {
		for _, e := range entries {
			if !yield(e.doc, e.value) {
				return
			}
		}
	}
}

type memTermsEnum struct {
	p     *memPostings
	pos   int
	found bool
}

func (e *memTermsEnum) SeekExact(term []byte) (bool, error) {
	lo := 0
	if e.pos > 0 && e.pos < len(e.p.terms) && bytes.Compare(e.p.terms[e.pos], term) <= 0 {
		lo = e.pos
	}
	i := lo + sort.Search(len(e.p.terms)-lo, func(i int) bool {
		return bytes.Compare(e.p.terms[lo+i], term) >= 0
	})
	e.pos = i
	e.found = i < len(e.p.terms) && bytes.Equal(e.p.terms[i], term)
	return e.found, nil
}

func (e *memTermsEnum) Postings() iter.Seq[int] {
	if !e.found {
		return func(func(int) bool) {}
	}
	return slices.Values(e.p.docs[e.pos])
}
