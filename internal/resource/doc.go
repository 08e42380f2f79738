// Package resource governs the shared budgets of a writer.
//
//   - Packet memory: bytes held by pushed but unfinished mutation packets.
//     Reservation is fail-fast; the caller decides whether to apply pending
//     packets and retry.
//   - Apply workers: goroutines resolving packets against segments.
//   - Write bandwidth: bytes per second spent persisting live docs.
//
// A nil *Controller is valid and imposes no limits.
package resource
