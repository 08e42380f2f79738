package segment

import (
	"fmt"
	"iter"
)

// NumericRangeQuery matches documents whose numeric doc value of Field lies in
// [Min, Max].
type NumericRangeQuery struct {
	Field string
	Min   int64
	Max   int64
}

var _ Query = NumericRangeQuery{}

func (q NumericRangeQuery) String() string {
	return fmt.Sprintf("%s:[%d TO %d]", q.Field, q.Min, q.Max)
}

// Docs iterates matching documents in ascending order.
func (q NumericRangeQuery) Docs(r Reader) (iter.Seq[int], error) {
	if q.Min > q.Max {
		return func(func(int) bool) {}, nil
	}
	values := r.NumericValues(q.Field)
	return func(yield func(int) bool) {
		for doc, v := range values {
			if v >= q.Min && v <= q.Max && !yield(doc) {
				return
			}
		}
	}, nil
}

// TermQuery matches the postings of one term.
type TermQuery struct {
	Term Term
}

var _ Query = TermQuery{}

func (q TermQuery) String() string {
	return q.Term.String()
}

// Docs iterates the postings of the term.
func (q TermQuery) Docs(r Reader) (iter.Seq[int], error) {
	te, err := r.Terms(q.Term.Field)
	if err != nil {
		return nil, err
	}
	if te == nil {
		return func(func(int) bool) {}, nil
	}
	found, err := te.SeekExact(q.Term.Bytes)
	if err != nil {
		return nil, err
	}
	if !found {
		return func(func(int) bool) {}, nil
	}
	return te.Postings(), nil
}
