package updates

import (
	"iter"
	"slices"
	"sort"

	"github.com/cockroachdb/errors"
)

// FieldUpdates is the resolved form of doc-values updates for one field of one
// segment. When a document is updated more than once, the last call wins.
type FieldUpdates struct {
	field  string
	kind   Kind
	delGen int64
	maxDoc int

	docs     []int
	hasValue []bool
	numeric  []int64
	binary   [][]byte
	finished bool
}

// NewFieldUpdates returns an empty update set stamped with the packet
// generation delGen.
func NewFieldUpdates(field string, kind Kind, delGen int64, maxDoc int) *FieldUpdates {
	return &FieldUpdates{field: field, kind: kind, delGen: delGen, maxDoc: maxDoc}
}

func (f *FieldUpdates) Field() string { return f.field }
func (f *FieldUpdates) Kind() Kind    { return f.kind }
func (f *FieldUpdates) DelGen() int64 { return f.delGen }

// Size returns the number of recorded updates, counting duplicates until
// Finish.
func (f *FieldUpdates) Size() int { return len(f.docs) }

// Any reports whether at least one update was recorded.
func (f *FieldUpdates) Any() bool { return len(f.docs) > 0 }

// AddNumeric records a numeric value for doc.
func (f *FieldUpdates) AddNumeric(doc int, v int64) {
	f.check(doc, Numeric)
	f.docs = append(f.docs, doc)
	f.hasValue = append(f.hasValue, true)
	f.numeric = append(f.numeric, v)
}

// AddBinary records a binary value for doc. The value is copied.
func (f *FieldUpdates) AddBinary(doc int, v []byte) {
	f.check(doc, Binary)
	f.docs = append(f.docs, doc)
	f.hasValue = append(f.hasValue, true)
	f.binary = append(f.binary, slices.Clone(v))
}

// Reset records that doc loses its value.
func (f *FieldUpdates) Reset(doc int) {
	f.check(doc, f.kind)
	f.docs = append(f.docs, doc)
	f.hasValue = append(f.hasValue, false)
	switch f.kind {
	case Numeric:
		f.numeric = append(f.numeric, 0)
	case Binary:
		f.binary = append(f.binary, nil)
	}
}

func (f *FieldUpdates) check(doc int, k Kind) {
	if f.finished {
		panic(errors.AssertionFailedf("updates: field updates for %q already finished", f.field))
	}
	if f.kind != k {
		panic(errors.AssertionFailedf("updates: %s value for %s field %q", k, f.kind, f.field))
	}
	if doc < 0 || doc >= f.maxDoc {
		panic(errors.AssertionFailedf("updates: doc %d out of range [0,%d) for %q", doc, f.maxDoc, f.field))
	}
}

// Finish sorts the updates by document and collapses duplicates, keeping the
// latest update per document.
func (f *FieldUpdates) Finish() {
	if f.finished {
		panic(errors.AssertionFailedf("updates: field updates for %q finished twice", f.field))
	}
	f.finished = true

	order := make([]int, len(f.docs))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(x, y int) int { return f.docs[x] - f.docs[y] })

	docs := make([]int, 0, len(order))
	hasValue := make([]bool, 0, len(order))
	var numeric []int64
	var binary [][]byte
	for i, idx := range order {
		if i+1 < len(order) && f.docs[order[i+1]] == f.docs[idx] {
			continue
		}
		docs = append(docs, f.docs[idx])
		hasValue = append(hasValue, f.hasValue[idx])
		switch f.kind {
		case Numeric:
			numeric = append(numeric, f.numeric[idx])
		case Binary:
			binary = append(binary, f.binary[idx])
		}
	}
	f.docs, f.hasValue, f.numeric, f.binary = docs, hasValue, numeric, binary
}

// All iterates (doc, hasValue) in ascending doc order. It panics before
// Finish.
func (f *FieldUpdates) All() iter.Seq2[int, bool] {
	f.mustBeFinished()
	return func(yield func(int, bool) bool) {
		for i, doc := range f.docs {
			if !yield(doc, f.hasValue[i]) {
				return
			}
		}
	}
}

// NumericValues iterates (doc, value) in ascending doc order, nil meaning the
// value was reset.
func (f *FieldUpdates) NumericValues() iter.Seq2[int, *int64] {
	f.mustBeFinished()
	return func(yield func(int, *int64) bool) {
		for i, doc := range f.docs {
			var v *int64
			if f.hasValue[i] {
				v = &f.numeric[i]
			}
			if !yield(doc, v) {
				return
			}
		}
	}
}

// Numeric returns the updated value of doc. ok is false when doc was not
// updated or was reset.
func (f *FieldUpdates) Numeric(doc int) (v int64, ok bool) {
	i, found := f.find(doc)
	if !found || !f.hasValue[i] || f.kind != Numeric {
		return 0, false
	}
	return f.numeric[i], true
}

// Binary returns the updated value of doc. ok is false when doc was not
// updated or was reset.
func (f *FieldUpdates) Binary(doc int) (v []byte, ok bool) {
	i, found := f.find(doc)
	if !found || !f.hasValue[i] || f.kind != Binary {
		return nil, false
	}
	return f.binary[i], true
}

func (f *FieldUpdates) find(doc int) (int, bool) {
	f.mustBeFinished()
	i := sort.SearchInts(f.docs, doc)
	return i, i < len(f.docs) && f.docs[i] == doc
}

func (f *FieldUpdates) mustBeFinished() {
	if !f.finished {
		panic(errors.AssertionFailedf("updates: field updates for %q not finished", f.field))
	}
}
