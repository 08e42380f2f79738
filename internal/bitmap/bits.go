package bitmap

import (
	"iter"

	"github.com/RoaringBitmap/roaring/v2"
)

// Bits is the read-only view consumers use to test liveness.
type Bits interface {
	// Get reports whether document i is live.
	Get(i int) bool
	// Len returns the number of document ordinals covered.
	Len() int
}

// Mutable is a privately owned live-docs bitset.
type Mutable struct {
	rb *roaring.Bitmap
	n  int
}

// NewAllLive returns a bitset of n documents with every document live.
func NewAllLive(n int) *Mutable {
	rb := roaring.New()
	if n > 0 {
		rb.AddRange(0, uint64(n))
	}
	return &Mutable{rb: rb, n: n}
}

// CopyOf returns a private copy of b.
func CopyOf(b Bits) *Mutable {
	if s, ok := b.(*Snapshot); ok {
		return &Mutable{rb: s.rb.Clone(), n: s.n}
	}
	if m, ok := b.(*Mutable); ok {
		return &Mutable{rb: m.rb.Clone(), n: m.n}
	}
	rb := roaring.New()
	for i := range b.Len() {
		if b.Get(i) {
			rb.Add(uint32(i))
		}
	}
	return &Mutable{rb: rb, n: b.Len()}
}

// Get reports whether document i is live.
func (m *Mutable) Get(i int) bool {
	return m.rb.Contains(uint32(i))
}

// Len returns the number of documents covered.
func (m *Mutable) Len() int {
	return m.n
}

// Clear marks document i deleted and reports whether it was live before.
func (m *Mutable) Clear(i int) bool {
	return m.rb.CheckedRemove(uint32(i))
}

// Set marks document i live and reports whether it was deleted before.
func (m *Mutable) Set(i int) bool {
	return m.rb.CheckedAdd(uint32(i))
}

// Count returns the number of live documents.
func (m *Mutable) Count() int {
	return int(m.rb.GetCardinality())
}

// Snapshot returns a read-only view sharing storage with m. The caller must
// not mutate m after handing the snapshot out.
func (m *Mutable) Snapshot() *Snapshot {
	return &Snapshot{rb: m.rb, n: m.n}
}

// Snapshot is an immutable live-docs bitset.
type Snapshot struct {
	rb *roaring.Bitmap
	n  int
}

// FromDeleted builds a snapshot of n documents where the ordinals in deleted
// are cleared.
func FromDeleted(deleted *roaring.Bitmap, n int) *Snapshot {
	rb := roaring.New()
	if n > 0 {
		rb.AddRange(0, uint64(n))
	}
	rb.AndNot(deleted)
	return &Snapshot{rb: rb, n: n}
}

// Get reports whether document i is live.
func (s *Snapshot) Get(i int) bool {
	return s.rb.Contains(uint32(i))
}

// Len returns the number of documents covered.
func (s *Snapshot) Len() int {
	return s.n
}

// Count returns the number of live documents.
func (s *Snapshot) Count() int {
	return int(s.rb.GetCardinality())
}

// DeletedCount returns the number of cleared ordinals.
func (s *Snapshot) DeletedCount() int {
	return s.n - s.Count()
}

// Deleted returns a new bitmap holding the cleared ordinals.
func (s *Snapshot) Deleted() *roaring.Bitmap {
	del := roaring.Flip(s.rb, 0, uint64(s.n))
	del.RunOptimize()
	return del
}

// DeletedDocs iterates the cleared ordinals in ascending order.
func (s *Snapshot) DeletedDocs() iter.Seq[int] {
	return func(yield func(int) bool) {
		it := s.Deleted().Iterator()
		for it.HasNext() {
			if !yield(int(it.Next())) {
				return
			}
		}
	}
}

// Equal reports whether both snapshots hold the same live set.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.n == o.n && s.rb.Equals(o.rb)
}

// NewlyDeleted iterates, in ascending order, the documents live in base and
// deleted in cur. A nil base means all live; a nil cur means none deleted.
func NewlyDeleted(base, cur *Snapshot) iter.Seq[int] {
	return func(yield func(int) bool) {
		if cur == nil {
			return
		}
		var diff *roaring.Bitmap
		if base == nil {
			diff = cur.Deleted()
		} else {
			diff = roaring.AndNot(base.rb, cur.rb)
		}
		it := diff.Iterator()
		for it.HasNext() {
			if !yield(int(it.Next())) {
				return
			}
		}
	}
}
