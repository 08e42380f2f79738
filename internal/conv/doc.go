// Package conv converts integers for fixed-width file headers without
// silent truncation.
package conv
