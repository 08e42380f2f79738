package packet

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/segmut/internal/arena"
	"github.com/hupe1980/segmut/internal/updates"
	"github.com/hupe1980/segmut/segment"
)

const queryEntryBytes = 64

// Kind is the doc-values shape of a field update.
type Kind = updates.Kind

const (
	Numeric = updates.Numeric
	Binary  = updates.Binary
)

// Option configures a Packet.
type Option func(*Packet)

// WithArenaChunkSize sets the chunk size of the term arena.
func WithArenaChunkSize(n int) Option {
	return func(p *Packet) {
		p.chunkSize = n
	}
}

type queryEntry struct {
	query     segment.Query
	docIDUpto int
}

// Packet holds the deletes and updates buffered by one flush.
//
// Adds are safe for concurrent use until Freeze. After Freeze the packet is
// read-only.
type Packet struct {
	chunkSize int

	mu           sync.RWMutex
	terms        *termMap
	queries      map[string]queryEntry
	queryOrder   []string
	fieldUpdates map[string]*updates.Buffer
	frozen       bool

	numUpdates atomic.Int64
	bytesUsed  atomic.Int64
	gen        atomic.Int64

	applyMu     sync.Mutex
	applied     chan struct{}
	appliedOnce atomic.Bool
}

// New returns an empty packet.
func New(optFns ...Option) *Packet {
	p := &Packet{
		chunkSize:    arena.DefaultChunkSize,
		queries:      make(map[string]queryEntry),
		fieldUpdates: make(map[string]*updates.Buffer),
		applied:      make(chan struct{}),
	}
	for _, fn := range optFns {
		fn(p)
	}
	p.terms = newTermMap(p.chunkSize)
	return p
}

// AddTerm records that documents matching term below docIDUpto are deleted.
// An existing entry with a docIDUpto >= the new one is left untouched.
func (p *Packet) AddTerm(term segment.Term, docIDUpto int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkMutable()
	p.bytesUsed.Add(p.terms.put(term.Field, term.Bytes, docIDUpto))
}

// AddQuery records that documents matching q below docIDUpto are deleted.
// Queries with equal String() collapse under the same max-wins rule as terms.
func (p *Packet) AddQuery(q segment.Query, docIDUpto int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkMutable()
	key := q.String()
	if cur, ok := p.queries[key]; ok {
		if cur.docIDUpto < docIDUpto {
			p.queries[key] = queryEntry{query: q, docIDUpto: docIDUpto}
		}
		return
	}
	p.queries[key] = queryEntry{query: q, docIDUpto: docIDUpto}
	p.queryOrder = append(p.queryOrder, key)
	p.bytesUsed.Add(queryEntryBytes + int64(len(key)))
}

// AddNumericUpdate sets field to value on documents matching term below
// docIDUpto.
func (p *Packet) AddNumericUpdate(field string, term segment.Term, value int64, docIDUpto int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkMutable()
	if b, ok := p.fieldUpdates[field]; ok {
		b.AddNumeric(term, value, docIDUpto)
	} else {
		p.fieldUpdates[field] = updates.NewNumeric(&p.bytesUsed, field, term, value, docIDUpto)
	}
	p.numUpdates.Add(1)
}

// AddBinaryUpdate sets field to value on documents matching term below
// docIDUpto.
func (p *Packet) AddBinaryUpdate(field string, term segment.Term, value []byte, docIDUpto int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkMutable()
	if b, ok := p.fieldUpdates[field]; ok {
		b.AddBinary(term, value, docIDUpto)
	} else {
		p.fieldUpdates[field] = updates.NewBinary(&p.bytesUsed, field, term, value, docIDUpto)
	}
	p.numUpdates.Add(1)
}

// AddNoValueUpdate removes the value of field from documents matching term
// below docIDUpto.
func (p *Packet) AddNoValueUpdate(kind Kind, field string, term segment.Term, docIDUpto int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkMutable()
	if b, ok := p.fieldUpdates[field]; ok {
		b.AddNoValue(term, docIDUpto)
	} else {
		p.fieldUpdates[field] = updates.NewNoValue(&p.bytesUsed, kind, field, term, docIDUpto)
	}
	p.numUpdates.Add(1)
}

func (p *Packet) checkMutable() {
	if p.frozen {
		panic(errors.AssertionFailedf("packet: add after freeze"))
	}
}

// Freeze finishes every update buffer and sorts the delete terms. Further
// adds panic. Freezing twice is a no-op.
func (p *Packet) Freeze() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return
	}
	p.frozen = true
	for _, b := range p.fieldUpdates {
		b.Finish()
	}
	p.terms.sort()
}

// Frozen reports whether Freeze was called.
func (p *Packet) Frozen() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.frozen
}

// Any reports whether the packet holds at least one delete or update.
func (p *Packet) Any() bool {
	return p.NumTermDeletes() > 0 || p.NumQueries() > 0 || p.NumUpdates() > 0
}

// NumTermDeletes returns the number of distinct delete terms.
func (p *Packet) NumTermDeletes() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.terms.size
}

// NumQueries returns the number of distinct delete queries.
func (p *Packet) NumQueries() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.queries)
}

// NumUpdates returns the number of buffered doc-values updates.
func (p *Packet) NumUpdates() int {
	return int(p.numUpdates.Load())
}

// BytesUsed returns the bytes charged for buffered terms, queries and
// updates.
func (p *Packet) BytesUsed() int64 {
	return p.bytesUsed.Load()
}

// TermDocIDUpto returns the docIDUpto recorded for term. It panics once the
// terms were sorted.
func (p *Packet) TermDocIDUpto(term segment.Term) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terms.get(term.Field, term.Bytes)
}

// ForEachOrdered visits the delete terms sorted by field, then term. The
// first call sorts the terms in place; unordered lookups panic afterwards.
// The term slice is only valid during the callback.
//
// Once sorted, concurrent traversals share the packet.
func (p *Packet) ForEachOrdered(fn func(term segment.Term, docIDUpto int) error) error {
	p.mu.RLock()
	if !p.terms.sorted {
		p.mu.RUnlock()
		p.mu.Lock()
		p.terms.sort()
		p.mu.Unlock()
		p.mu.RLock()
	}
	defer p.mu.RUnlock()
	return p.terms.forEachOrdered(func(field string, term []byte, docIDUpto int) error {
		return fn(segment.Term{Field: field, Bytes: term}, docIDUpto)
	})
}

// Queries iterates the delete queries in arrival order with their
// docIDUpto.
func (p *Packet) Queries() iter.Seq2[segment.Query, int] {
	p.mu.RLock()
	order := slices.Clone(p.queryOrder)
	entries := maps.Clone(p.queries)
	p.mu.RUnlock()
	return func(yield func(segment.Query, int) bool) {
		for _, key := range order {
			e := entries[key]
			if !yield(e.query, e.docIDUpto) {
				return
			}
		}
	}
}

// FieldUpdates iterates the update buffers in field order. It panics before
// Freeze.
func (p *Packet) FieldUpdates() iter.Seq[*updates.Buffer] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.frozen {
		panic(errors.AssertionFailedf("packet: field updates read before freeze"))
	}
	bufs := make([]*updates.Buffer, 0, len(p.fieldUpdates))
	for _, field := range slices.Sorted(maps.Keys(p.fieldUpdates)) {
		bufs = append(bufs, p.fieldUpdates[field])
	}
	return slices.Values(bufs)
}

// Gen returns the generation stamped at push, 0 before.
func (p *Packet) Gen() int64 {
	return p.gen.Load()
}

// SetGen stamps the packet. Only a sequencer calls it, exactly once.
func (p *Packet) SetGen(gen int64) {
	if gen <= 0 {
		panic(errors.AssertionFailedf("packet: invalid generation %d", gen))
	}
	if !p.gen.CompareAndSwap(0, gen) {
		panic(errors.AssertionFailedf("packet: generation already set to %d", p.gen.Load()))
	}
}

// Applied is closed once the packet was resolved against every segment.
func (p *Packet) Applied() <-chan struct{} {
	return p.applied
}

// IsApplied reports whether MarkApplied was called.
func (p *Packet) IsApplied() bool {
	return p.appliedOnce.Load()
}

// MarkApplied fires the completion signal. A second call panics.
func (p *Packet) MarkApplied() {
	if !p.appliedOnce.CompareAndSwap(false, true) {
		panic(errors.AssertionFailedf("packet gen=%d: marked applied twice", p.Gen()))
	}
	close(p.applied)
}

// TryLockApply claims resolution without blocking.
func (p *Packet) TryLockApply() bool {
	return p.applyMu.TryLock()
}

// LockApply claims resolution, waiting for the current owner.
func (p *Packet) LockApply() {
	p.applyMu.Lock()
}

// UnlockApply releases resolution ownership.
func (p *Packet) UnlockApply() {
	p.applyMu.Unlock()
}

// Release drops the buffered storage and returns the bytes it released.
// Counts stay readable for logging.
func (p *Packet) Release() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	released := p.bytesUsed.Load()
	for _, b := range p.fieldUpdates {
		b.Release()
	}
	p.terms.reset()
	p.bytesUsed.Store(0)
	return released
}

func (p *Packet) String() string {
	return fmt.Sprintf("packet(gen=%d terms=%d queries=%d updates=%d bytes=%d)",
		p.Gen(), p.NumTermDeletes(), p.NumQueries(), p.NumUpdates(), p.BytesUsed())
}
