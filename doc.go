// Package segmut buffers deletes and doc-values updates for an immutable
// segment index and resolves them against the segments later.
//
// Writers of a segment index never modify a segment in place. Deletes by
// term or query and doc-values updates are collected in a packet, pushed to
// the writer and resolved against every segment that existed when the packet
// was pushed. Resolution marks documents deleted in per-segment live docs and
// records the new doc values. Commit persists the live docs and a commit point
// referencing them.
//
// # Quick Start
//
//	ctx := context.Background()
//	dir, _ := blobstore.NewLocalStore("./index")
//	w, _ := segmut.Open(ctx, dir, segmut.WithApplyConcurrency(4))
//	defer w.Close()
//
//	info := segment.NewCommitInfo(segment.Info{Name: "_0", MaxDoc: reader.MaxDoc()})
//	_ = w.AddSegment(info, reader)
//
//	p := packet.New()
//	p.AddTerm(segment.NewTerm("id", "42"), math.MaxInt)
//	p.AddNumericUpdate("price", segment.NewTerm("id", "7"), 1999, math.MaxInt)
//	_, _ = w.Push(ctx, p)
//
//	gen, _ := w.Commit(ctx) // applies outstanding packets, then persists
//
// # Ordering
//
// Every packet gets a generation from a single sequence. A packet applies to
// a segment only if the segment was registered before the packet was pushed.
// Within a packet, a delete term only removes documents whose ordinal is below
// the term's docIDUpto, which excludes documents indexed after the delete.
// Packets may be resolved out of order; CompletedDelGen only advances over a
// gap-free prefix of generations.
//
// # Durability Model
//
// Deletes are durable after Commit:
//
//	w.Push(ctx, p)  // buffered in memory
//	w.Commit(ctx)   // durable after this
//
// Rollback reverts to the last commit point. Segments of an existing commit
// point are registered again with RestoreSegment after Open.
//
// # Soft Deletes
//
// With WithSoftDeletesField, a document is also deleted while it has a value
// in the soft-deletes field. Soft deletes are driven by doc-values updates and
// can be undone by removing the value.
package segmut
