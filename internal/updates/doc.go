// Package updates buffers doc-values updates before and after resolution.
//
// Buffer is the columnar, pre-resolution form kept inside a mutation packet:
// it is keyed by term and stores its columns as a single shared scalar until
// the first update diverges. FieldUpdates is the post-resolution form kept per
// segment: concrete document ordinals mapped to their new value.
package updates
