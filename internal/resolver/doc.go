// Package resolver applies frozen mutation packets to the registered
// segments.
//
// A packet with generation G applies to a segment whose buffered-deletes
// generation is below G; segments published later already reflect it. Within
// a segment, term deletes are resolved in sorted order so each field's terms
// enum only seeks forward, delete queries run next and doc-values updates
// last. Updates only touch documents that are not hard deleted, and when
// packets resolve out of order the update of the newest generation wins.
//
// Segments are resolved in parallel, bounded by the apply worker budget of
// the resource controller. A packet is retired through the sequencer only
// after every segment succeeded; on error it stays outstanding and a later
// attempt resolves it again. Resolution is idempotent per segment.
package resolver
