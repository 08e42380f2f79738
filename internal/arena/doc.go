// Package arena provides a growable byte arena for buffered term and value bytes.
//
// Values are appended into large heap chunks and addressed by a 64-bit handle
// instead of a per-value slice header, so a packet holding millions of buffered
// terms costs a handful of allocations and a few slices of integers.
//
// # Handles
//
// A Handle packs the chunk index and the offset within that chunk:
//
//	Handle = (chunkIndex << chunkBits) | chunkOffset
//
// Each value is stored with a uvarint length prefix, so a handle alone is enough
// to recover the value. Values larger than a chunk get a dedicated chunk.
//
// # Concurrency
//
// Bytes is not safe for concurrent appends. Reads through Get are safe once
// appends have stopped, which is the lifecycle of a frozen mutation packet.
package arena
