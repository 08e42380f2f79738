package segment

import "iter"

// Bits is a read-only live-docs view. A set bit denotes a live document.
type Bits interface {
	Get(doc int) bool
	Len() int
}

// Reader is the read side of one segment as seen by a resolver.
type Reader interface {
	// MaxDoc returns one above the largest document ordinal.
	MaxDoc() int
	// NumDeletedDocs returns the number of documents cleared in LiveDocs.
	NumDeletedDocs() int
	// LiveDocs returns the live-docs view, nil when every document is live.
	LiveDocs() Bits
	FieldInfos() *FieldInfos
	// Terms returns an enum over the terms of field, nil when the field has
	// no postings.
	Terms(field string) (TermsEnum, error)
	// DocsWithValue iterates, in ascending order, the documents carrying a
	// doc value for field. The bool is always true; it exists so the sequence
	// can be consumed by the same code that consumes update streams.
	DocsWithValue(field string) iter.Seq2[int, bool]
	// NumericValues iterates the numeric doc values of field in doc order.
	NumericValues(field string) iter.Seq2[int, int64]
}

// NumericUpdater is implemented by readers that can reflect numeric
// doc-values updates. A nil value removes the document's value.
type NumericUpdater interface {
	UpdateNumeric(fis *FieldInfos, field string, values iter.Seq2[int, *int64]) Reader
}

// NumDocs returns the number of live documents of r.
func NumDocs(r Reader) int {
	return r.MaxDoc() - r.NumDeletedDocs()
}

// TermsEnum positions on terms of one field.
type TermsEnum interface {
	// SeekExact positions the enum on term and reports whether it exists.
	// Seeking forward from the current position is the cheap path.
	SeekExact(term []byte) (bool, error)
	// Postings iterates the documents of the current term in ascending order.
	Postings() iter.Seq[int]
}

// Query selects documents of a segment for deletion.
type Query interface {
	// String identifies the query; equal strings denote equal queries.
	String() string
	Docs(r Reader) (iter.Seq[int], error)
}
