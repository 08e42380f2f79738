// Package bitmap provides live-docs bitsets for a single segment.
//
// A set bit denotes a live document ordinal. Both representations wrap a
// Roaring bitmap, which keeps the common shapes cheap: an all-live segment is
// a single run container, and a segment with a handful of deletions pays only
// for the holes.
//
//   - Mutable is privately owned by one writer and may be changed in place.
//   - Snapshot is read-only and may be shared freely between readers.
//
// A Mutable hands out a Snapshot that aliases its storage; the owner must stop
// mutating it from then on and clone before the next change (copy-on-write).
package bitmap
