package segment

import (
	"bytes"
	"cmp"
	"strconv"
)

// Term identifies the postings of one key within one field.
type Term struct {
	Field string
	Bytes []byte
}

// NewTerm returns a term over the UTF-8 bytes of text.
func NewTerm(field, text string) Term {
	return Term{Field: field, Bytes: []byte(text)}
}

// Compare orders terms by field, then by bytes.
func (t Term) Compare(o Term) int {
	if c := cmp.Compare(t.Field, o.Field); c != 0 {
		return c
	}
	return bytes.Compare(t.Bytes, o.Bytes)
}

// Equal reports whether both terms address the same postings.
func (t Term) Equal(o Term) bool {
	return t.Field == o.Field && bytes.Equal(t.Bytes, o.Bytes)
}

func (t Term) String() string {
	return t.Field + ":" + strconv.Quote(string(t.Bytes))
}
