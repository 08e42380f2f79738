package packet

import (
	"bytes"
	"maps"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"

	"github.com/hupe1980/segmut/internal/arena"
)

const (
	termEntryBytes  = 32
	termSlotBytes   = 4
	fieldShardBytes = 96
	minSlots        = 16
)

type termEntry struct {
	term      arena.Handle
	hash      uint64
	docIDUpto int
}

// fieldTerms is an open-addressing hash of the terms of one field. slots hold
// entry index + 1, zero meaning empty.
type fieldTerms struct {
	slots   []int32
	entries []termEntry
}

// termMap stores delete terms sharded by field. Term bytes live in a shared
// arena. Once sorted, the hash slots are dropped and only ordered traversal
// remains.
type termMap struct {
	arena  *arena.Bytes
	fields map[string]*fieldTerms
	size   int
	sorted bool
	names  []string
}

func newTermMap(chunkSize int) *termMap {
	return &termMap{
		arena:  arena.New(chunkSize),
		fields: make(map[string]*fieldTerms),
	}
}

// put records term under max-wins and returns the bytes newly charged.
func (m *termMap) put(field string, term []byte, docIDUpto int) int64 {
	if m.sorted {
		panic(errors.AssertionFailedf("packet: add to term map after ordered traversal"))
	}
	var charged int64
	ft := m.fields[field]
	if ft == nil {
		ft = &fieldTerms{slots: make([]int32, minSlots)}
		m.fields[field] = ft
		charged += fieldShardBytes + int64(len(field)) + minSlots*termSlotBytes
	}

	h := xxhash.Sum64(term)
	slot, idx := m.find(ft, term, h)
	if idx >= 0 {
		e := &ft.entries[idx]
		if e.docIDUpto >= docIDUpto {
			return charged
		}
		e.docIDUpto = docIDUpto
		return charged
	}

	handle, err := m.arena.Append(term)
	if err != nil {
		panic(errors.Wrap(err, "packet: term arena"))
	}
	ft.entries = append(ft.entries, termEntry{term: handle, hash: h, docIDUpto: docIDUpto})
	ft.slots[slot] = int32(len(ft.entries))
	m.size++
	charged += termEntryBytes + int64(len(term))

	if 2*len(ft.entries) > len(ft.slots) {
		charged += int64(len(ft.slots)) * termSlotBytes
		m.rehash(ft, 2*len(ft.slots))
	}
	return charged
}

// find returns the slot for term and the index of its entry, -1 if absent.
func (m *termMap) find(ft *fieldTerms, term []byte, h uint64) (int, int) {
	mask := uint64(len(ft.slots) - 1)
	for i := h & mask; ; i = (i + 1) & mask {
		s := ft.slots[i]
		if s == 0 {
			return int(i), -1
		}
		e := ft.entries[s-1]
		if e.hash == h && m.arena.Equal(e.term, term) {
			return int(i), int(s - 1)
		}
	}
}

func (m *termMap) rehash(ft *fieldTerms, n int) {
	ft.slots = make([]int32, n)
	mask := uint64(n - 1)
	for idx, e := range ft.entries {
		i := e.hash & mask
		for ft.slots[i] != 0 {
			i = (i + 1) & mask
		}
		ft.slots[i] = int32(idx + 1)
	}
}

// get returns the recorded docIDUpto of term.
func (m *termMap) get(field string, term []byte) (int, bool) {
	if m.sorted {
		panic(errors.AssertionFailedf("packet: unordered lookup after ordered traversal"))
	}
	ft := m.fields[field]
	if ft == nil {
		return 0, false
	}
	_, idx := m.find(ft, term, xxhash.Sum64(term))
	if idx < 0 {
		return 0, false
	}
	return ft.entries[idx].docIDUpto, true
}

// sort orders fields by name and terms by bytes. It is irreversible.
func (m *termMap) sort() {
	if m.sorted {
		return
	}
	m.sorted = true
	m.names = slices.Sorted(maps.Keys(m.fields))
	for _, ft := range m.fields {
		ft.slots = nil
		slices.SortFunc(ft.entries, func(a, b termEntry) int {
			return bytes.Compare(m.arena.Get(a.term), m.arena.Get(b.term))
		})
	}
}

// forEachOrdered sorts if needed and visits every term. The term slice
// aliases arena memory.
func (m *termMap) forEachOrdered(fn func(field string, term []byte, docIDUpto int) error) error {
	m.sort()
	for _, name := range m.names {
		for _, e := range m.fields[name].entries {
			if err := fn(name, m.arena.Get(e.term), e.docIDUpto); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *termMap) reset() {
	m.arena.Reset()
	m.fields = make(map[string]*fieldTerms)
	m.names = nil
}
