// Package hash holds the checksum shared by every persisted file.
//
// Live-docs files and commit points both carry a CRC32-Castagnoli of their
// payload in the header. Go's hash/crc32 uses SSE4.2 or the ARM CRC
// extension for this polynomial when available.
//
//	sum := hash.CRC32C(payload)
//	if !hash.VerifyCRC32C(payload, sum) { ... }
package hash
