// Package packet implements the mutation packet: the buffered deletes and
// doc-values updates of one flush.
//
// A packet is filled while its write buffer flushes, frozen, then pushed into
// a sequencer that stamps it with a generation. From then on it is read-only;
// resolvers walk its terms in field-then-term order, evaluate its queries and
// apply its doc-values updates to every segment older than the packet.
//
// Term deletes follow a max-wins rule: when the same term is recorded more
// than once, the largest docIDUpto is kept, even when the smaller one arrives
// later.
package packet
