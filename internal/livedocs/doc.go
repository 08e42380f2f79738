// Package livedocs persists per-segment live-docs bitmaps.
//
// Each write produces a new file named after the segment and the target
// delete generation, so a commit references exactly one complete file per
// segment and a failed write never clobbers a referenced one:
//
//	_<segment>_<gen in base 36>.liv
//
// File layout (little endian):
//
//	magic      uint32  "LIVD"
//	version    uint8
//	codec      uint8   none, lz4 or zstd
//	reserved   uint16
//	maxDoc     uint32
//	delCount   uint32
//	rawLen     uint32  serialized roaring size
//	payloadLen uint32
//	checksum   uint32  CRC-32C of payload
//	payload    []byte  roaring bitmap of deleted ordinals, maybe compressed
//
// Decoded snapshots are kept in a Cache keyed by file name.
package livedocs
