package segment

import (
	"iter"
	"maps"
	"slices"
)

// DocValuesType is the doc-values shape carried by a field.
type DocValuesType uint8

const (
	DocValuesNone DocValuesType = iota
	DocValuesNumeric
	DocValuesBinary
)

func (t DocValuesType) String() string {
	switch t {
	case DocValuesNumeric:
		return "numeric"
	case DocValuesBinary:
		return "binary"
	default:
		return "none"
	}
}

// FieldInfo is the per-segment metadata of one field.
type FieldInfo struct {
	Name          string
	Number        int
	DocValuesType DocValuesType
	// DocValuesGen is the generation of the latest doc-values update, -1 if the
	// field was never updated after flush.
	DocValuesGen int64
	// SoftDeletesField marks the field whose doc values flag soft deletions.
	SoftDeletesField bool
}

// HasDocValues reports whether the field carries doc values.
func (fi FieldInfo) HasDocValues() bool {
	return fi.DocValuesType != DocValuesNone
}

// FieldInfos is an immutable set of FieldInfo keyed by name.
type FieldInfos struct {
	byName map[string]FieldInfo
	soft   string
}

// NewFieldInfos builds a FieldInfos. Later entries replace earlier ones with
// the same name.
func NewFieldInfos(infos ...FieldInfo) *FieldInfos {
	fis := &FieldInfos{byName: make(map[string]FieldInfo, len(infos))}
	for _, fi := range infos {
		fis.byName[fi.Name] = fi
		if fi.SoftDeletesField {
			fis.soft = fi.Name
		}
	}
	return fis
}

// Get returns the info of field name.
func (f *FieldInfos) Get(name string) (FieldInfo, bool) {
	if f == nil {
		return FieldInfo{}, false
	}
	fi, ok := f.byName[name]
	return fi, ok
}

// SoftDeletesField returns the soft-deletes field name or "".
func (f *FieldInfos) SoftDeletesField() string {
	if f == nil {
		return ""
	}
	return f.soft
}

// Len returns the number of fields.
func (f *FieldInfos) Len() int {
	if f == nil {
		return 0
	}
	return len(f.byName)
}

// All iterates the fields in name order.
func (f *FieldInfos) All() iter.Seq[FieldInfo] {
	return func(yield func(FieldInfo) bool) {
		if f == nil {
			return
		}
		for _, name := range slices.Sorted(maps.Keys(f.byName)) {
			if !yield(f.byName[name]) {
				return
			}
		}
	}
}

// WithDocValuesGen returns a copy where field name reports gen as its
// doc-values generation. Unknown fields are returned unchanged.
func (f *FieldInfos) WithDocValuesGen(name string, gen int64) *FieldInfos {
	fi, ok := f.Get(name)
	if !ok {
		return f
	}
	out := &FieldInfos{byName: maps.Clone(f.byName), soft: f.soft}
	fi.DocValuesGen = gen
	out.byName[name] = fi
	return out
}

// With returns a copy where fi replaces the field of the same name.
func (f *FieldInfos) With(fi FieldInfo) *FieldInfos {
	out := &FieldInfos{byName: make(map[string]FieldInfo, f.Len()+1)}
	if f != nil {
		maps.Copy(out.byName, f.byName)
		out.soft = f.soft
	}
	out.byName[fi.Name] = fi
	if fi.SoftDeletesField {
		out.soft = fi.Name
	}
	return out
}
