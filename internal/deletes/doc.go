// Package deletes tracks the live documents of one segment between commits.
//
// PendingDeletes owns a copy-on-write live-docs bitset. Deletes clear bits in
// a private copy; LiveDocs hands out an immutable snapshot and forces the next
// delete to copy again, so published readers never observe later deletes.
// WriteLiveDocs persists the pending deletes as a new live-docs generation.
//
// PendingSoftDeletes layers soft deletes on top: documents carrying a value in
// the soft-deletes field are treated as deleted, and a document whose value is
// removed by an update becomes live again. Hard deletes are tracked by a
// private PendingDeletes so they can be persisted separately.
//
// Neither type serializes Delete calls beyond the copy-on-write guard; a
// segment is mutated by at most one resolver at a time.
package deletes
