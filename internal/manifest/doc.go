// Package manifest persists commit points.
//
// # Overview
//
// A commit point lists the commit descriptor of every segment at one point in
// time together with the sequencer watermark it was taken at. Rollback reverts
// to the latest commit point; open restores from it.
//
// # File Format
//
// Each commit point is stored as segments_<gen>, gen in base 36:
//
//	Header (16 bytes):
//	  Magic    (4 bytes) - 0x544D4753 ("SGMT")
//	  Version  (4 bytes) - Format version (currently 1)
//	  Checksum (4 bytes) - CRC-32C of payload
//	  Length   (4 bytes) - Payload length in bytes
//
//	Payload:
//	  msgpack encoded Manifest
//
// # Atomic Protocol
//
// Save writes the segments file, then replaces CURRENT with its name. A crash
// between the two steps leaves the previous commit point current. Both steps
// use Store.Put, which publishes atomically on every backend.
//
// # Thread Safety
//
// All Store methods are safe for concurrent use.
package manifest
