package updates

// Update is the current element of an Iterator. The iterator rewrites it in
// place on every step: copy out what you need before advancing, and never use
// it as a map key.
type Update struct {
	_ [0]func()

	// Field is the doc-values field being updated.
	Field string
	// TermField and Term select the documents.
	TermField string
	Term      []byte
	// DocUpTo is the exclusive ordinal bound in the originating write buffer.
	DocUpTo  int
	HasValue bool
	Numeric  int64
	// Binary aliases buffer memory.
	Binary []byte
}

// Iterator walks the updates of a finished Buffer.
type Iterator struct {
	b      *Buffer
	sorted bool
	pos    int
	cur    Update
}

// SortedTerms reports whether updates are yielded in term order.
func (it *Iterator) SortedTerms() bool { return it.sorted }

// Next advances and returns the current update.
func (it *Iterator) Next() (*Update, bool) {
	b := it.b
	if it.pos >= b.numUpdates {
		return nil, false
	}
	idx := it.pos
	if b.sortedOrder != nil {
		idx = b.sortedOrder[it.pos]
	}
	it.pos++

	u := &it.cur
	u.Field = b.field
	u.TermField = b.termFields[arrayIndex(len(b.termFields), idx)]
	u.Term = b.arena.Get(b.terms[idx])
	u.DocUpTo = b.docsUpTo[arrayIndex(len(b.docsUpTo), idx)]
	u.HasValue = b.hasValues == nil || b.hasValues.Contains(uint32(idx))
	u.Numeric = 0
	u.Binary = nil
	if u.HasValue {
		switch b.kind {
		case Numeric:
			u.Numeric = b.numericValues[arrayIndex(len(b.numericValues), idx)]
		case Binary:
			u.Binary = b.arena.Get(b.binaryValues[arrayIndex(len(b.binaryValues), idx)])
		}
	}
	return u, true
}
