package updates

import (
	"bytes"
	"math"
	"slices"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cockroachdb/errors"

	"github.com/hupe1980/segmut/internal/arena"
	"github.com/hupe1980/segmut/segment"
)

// Kind is the doc-values shape of a buffer.
type Kind uint8

const (
	Numeric Kind = iota
	Binary
)

func (k Kind) String() string {
	if k == Binary {
		return "binary"
	}
	return "numeric"
}

// Unbounded is the docUpTo of updates that apply to every document of the
// originating write buffer.
const Unbounded = math.MaxInt

const (
	handleBytes = 8
	intBytes    = 8
	stringBytes = 16
	// bufferOverhead approximates the fixed cost of a Buffer and its arena.
	bufferOverhead = 256
)

// Buffer accumulates updates of one doc-values field, keyed by the term that
// selects the documents.
//
// The term-field, docUpTo and value columns hold one entry while every update
// agrees on it and widen to one entry per update on the first divergence.
// The has-value column only exists once an update resets a document to "no
// value".
//
// A Buffer is not safe for concurrent use.
type Buffer struct {
	kind      Kind
	field     string
	bytesUsed *atomic.Int64
	ram       int64

	arena      *arena.Bytes
	terms      []arena.Handle
	termFields []string
	docsUpTo   []int
	hasValues  *roaring.Bitmap

	numericValues []int64
	binaryValues  []arena.Handle
	minNumeric    int64
	maxNumeric    int64
	anyValue      bool

	numUpdates  int
	finished    bool
	sortedOrder []int
}

func newBuffer(bytesUsed *atomic.Int64, kind Kind, field string) *Buffer {
	if bytesUsed == nil {
		bytesUsed = new(atomic.Int64)
	}
	b := &Buffer{
		kind:       kind,
		field:      field,
		bytesUsed:  bytesUsed,
		arena:      arena.New(4096),
		minNumeric: math.MaxInt64,
		maxNumeric: math.MinInt64,
	}
	b.account(bufferOverhead)
	return b
}

// NewNumeric returns a numeric buffer for field holding one update.
func NewNumeric(bytesUsed *atomic.Int64, field string, term segment.Term, value int64, docUpTo int) *Buffer {
	b := newBuffer(bytesUsed, Numeric, field)
	ord := b.appendTerm(term)
	b.termFields = []string{term.Field}
	b.docsUpTo = []int{docUpTo}
	b.numericValues = []int64{value}
	b.observeNumeric(value)
	b.numUpdates = ord + 1
	b.account(stringBytes + intBytes + intBytes)
	return b
}

// NewBinary returns a binary buffer for field holding one update.
func NewBinary(bytesUsed *atomic.Int64, field string, term segment.Term, value []byte, docUpTo int) *Buffer {
	b := newBuffer(bytesUsed, Binary, field)
	ord := b.appendTerm(term)
	b.termFields = []string{term.Field}
	b.docsUpTo = []int{docUpTo}
	b.binaryValues = []arena.Handle{b.mustAppend(value)}
	b.anyValue = true
	b.numUpdates = ord + 1
	b.account(stringBytes + intBytes + handleBytes + int64(len(value)))
	return b
}

// NewNoValue returns a buffer for field whose first update resets the
// matching documents to "no value".
func NewNoValue(bytesUsed *atomic.Int64, kind Kind, field string, term segment.Term, docUpTo int) *Buffer {
	b := newBuffer(bytesUsed, kind, field)
	ord := b.appendTerm(term)
	b.termFields = []string{term.Field}
	b.docsUpTo = []int{docUpTo}
	b.hasValues = roaring.New()
	switch kind {
	case Numeric:
		b.numericValues = []int64{0}
	case Binary:
		b.binaryValues = []arena.Handle{b.mustAppend(nil)}
	}
	b.numUpdates = ord + 1
	b.account(stringBytes + intBytes + intBytes)
	return b
}

// Kind returns the doc-values shape.
func (b *Buffer) Kind() Kind { return b.kind }

// Field returns the doc-values field being updated.
func (b *Buffer) Field() string { return b.field }

// NumUpdates returns the number of buffered updates.
func (b *Buffer) NumUpdates() int { return b.numUpdates }

// RAMBytesUsed returns the bytes this buffer charged to the shared counter.
func (b *Buffer) RAMBytesUsed() int64 { return b.ram }

// AddNumeric buffers a numeric update.
func (b *Buffer) AddNumeric(term segment.Term, value int64, docUpTo int) {
	b.checkKind(Numeric)
	ord := b.appendTerm(term)
	b.add(term.Field, docUpTo, ord, true)
	switch {
	case !b.anyValue && len(b.numericValues) == 1:
		// Only no-value updates so far: the placeholder carries no value.
		b.numericValues[0] = value
	case len(b.numericValues) > 1 || b.numericValues[0] != value:
		b.numericValues = widen(b, b.numericValues, ord, value, intBytes)
	}
	b.observeNumeric(value)
}

// AddBinary buffers a binary update. The value is copied.
func (b *Buffer) AddBinary(term segment.Term, value []byte, docUpTo int) {
	b.checkKind(Binary)
	ord := b.appendTerm(term)
	b.add(term.Field, docUpTo, ord, true)
	if len(b.binaryValues) > 1 || !b.anyValue || !b.arena.Equal(b.binaryValues[0], value) {
		h := b.mustAppend(value)
		b.account(int64(len(value)))
		if len(b.binaryValues) == 1 && !b.anyValue {
			// Only no-value updates so far: the placeholder carries no value.
			b.binaryValues[0] = h
		} else {
			b.binaryValues = widen(b, b.binaryValues, ord, h, handleBytes)
		}
	}
	b.anyValue = true
}

// AddNoValue buffers an update resetting the matching documents to "no
// value".
func (b *Buffer) AddNoValue(term segment.Term, docUpTo int) {
	ord := b.appendTerm(term)
	b.add(term.Field, docUpTo, ord, false)
	// A widened value column keeps one entry per update.
	switch {
	case len(b.numericValues) > 1:
		b.numericValues = widen(b, b.numericValues, ord, 0, intBytes)
	case len(b.binaryValues) > 1:
		b.binaryValues = widen(b, b.binaryValues, ord, 0, handleBytes)
	}
}

func (b *Buffer) add(termField string, docUpTo, ord int, hasValue bool) {
	if b.finished {
		panic(errors.AssertionFailedf("updates: buffer for %q already finished", b.field))
	}
	if len(b.termFields) > 1 || b.termFields[0] != termField {
		b.termFields = widen(b, b.termFields, ord, termField, stringBytes)
	}
	if len(b.docsUpTo) > 1 || b.docsUpTo[0] != docUpTo {
		b.docsUpTo = widen(b, b.docsUpTo, ord, docUpTo, intBytes)
	}
	if !hasValue || b.hasValues != nil {
		if b.hasValues == nil {
			b.hasValues = roaring.New()
			if ord > 0 {
				b.hasValues.AddRange(0, uint64(ord))
			}
		}
		if hasValue {
			b.hasValues.Add(uint32(ord))
		}
	}
	b.numUpdates++
}

// widen stores v at ord, expanding a single shared entry into one entry per
// update first.
func widen[T any](b *Buffer, s []T, ord int, v T, width int64) []T {
	if len(s) == 1 {
		grown := make([]T, ord+1)
		for i := range ord {
			grown[i] = s[0]
		}
		grown[ord] = v
		b.account(int64(ord) * width)
		return grown
	}
	b.account(width)
	return append(s, v)
}

func (b *Buffer) observeNumeric(v int64) {
	b.minNumeric = min(b.minNumeric, v)
	b.maxNumeric = max(b.maxNumeric, v)
	b.anyValue = true
}

func (b *Buffer) appendTerm(t segment.Term) int {
	b.terms = append(b.terms, b.mustAppend(t.Bytes))
	b.account(handleBytes + int64(len(t.Bytes)))
	return len(b.terms) - 1
}

func (b *Buffer) mustAppend(v []byte) arena.Handle {
	h, err := b.arena.Append(v)
	if err != nil {
		panic(errors.Wrapf(err, "updates: buffer for %q", b.field))
	}
	return h
}

func (b *Buffer) account(n int64) {
	b.ram += n
	b.bytesUsed.Add(n)
}

func (b *Buffer) checkKind(k Kind) {
	if b.kind != k {
		panic(errors.AssertionFailedf("updates: %s update on %s buffer for %q", k, b.kind, b.field))
	}
}

// Release returns the accounted bytes to the shared counter.
func (b *Buffer) Release() {
	b.bytesUsed.Add(-b.ram)
	b.ram = 0
}

// HasSingleValue reports whether exactly one distinct value was recorded.
func (b *Buffer) HasSingleValue() bool {
	if !b.anyValue {
		return false
	}
	if b.kind == Binary {
		return len(b.binaryValues) == 1
	}
	return len(b.numericValues) == 1
}

// MinNumeric returns the smallest numeric value recorded, 0 if none.
func (b *Buffer) MinNumeric() int64 {
	if b.kind != Numeric || b.minNumeric > b.maxNumeric {
		return 0
	}
	return b.minNumeric
}

// MaxNumeric returns the largest numeric value recorded, 0 if none.
func (b *Buffer) MaxNumeric() int64 {
	if b.kind != Numeric || b.minNumeric > b.maxNumeric {
		return 0
	}
	return b.maxNumeric
}

// Finish freezes the buffer. When all updates share one term field and one
// value and none resets to "no value", iteration switches to term order; ties
// keep arrival order so the latest update of a duplicate term still comes
// last.
func (b *Buffer) Finish() {
	if b.finished {
		panic(errors.AssertionFailedf("updates: buffer for %q finished twice", b.field))
	}
	b.finished = true
	if b.sortable() && b.numUpdates > 1 {
		order := make([]int, b.numUpdates)
		for i := range order {
			order[i] = i
		}
		slices.SortStableFunc(order, func(x, y int) int {
			return bytes.Compare(b.arena.Get(b.terms[x]), b.arena.Get(b.terms[y]))
		})
		b.sortedOrder = order
		b.account(int64(len(order)) * intBytes)
	}
}

// Finished reports whether Finish was called.
func (b *Buffer) Finished() bool { return b.finished }

// Iterator returns a cursor over the updates. It panics before Finish.
func (b *Buffer) Iterator() *Iterator {
	if !b.finished {
		panic(errors.AssertionFailedf("updates: iterator on unfinished buffer for %q", b.field))
	}
	return &Iterator{b: b, sorted: b.sortable()}
}

func (b *Buffer) sortable() bool {
	return b.HasSingleValue() && b.hasValues == nil && len(b.termFields) == 1
}

// arrayIndex maps update idx onto a column that may still be a shared scalar.
func arrayIndex(length, idx int) int {
	return min(length-1, idx)
}
