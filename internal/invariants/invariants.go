//go:build invariants || race

package invariants

// Enabled is true when the module is built with the invariants or race build
// tag. Expensive consistency checks are guarded by it.
const Enabled = true
