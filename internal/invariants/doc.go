// Package invariants exposes a compile-time switch for debug-only assertions.
//
// Invariant violations in this module indicate a defect in an earlier flush or
// merge. They are never handled at runtime: checks guarded by Enabled panic with
// an assertion failure in test and race builds and compile away otherwise.
package invariants
