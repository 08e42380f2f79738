package manifest

import "github.com/cockroachdb/errors"

var (
	// ErrIncompatibleVersion is returned when the format version is not supported.
	ErrIncompatibleVersion = errors.New("manifest: incompatible version")

	// ErrNotFound is returned when no commit point exists.
	ErrNotFound = errors.New("manifest: not found")

	// ErrConcurrentCommit is returned by Save when another writer published
	// the same generation first.
	ErrConcurrentCommit = errors.New("manifest: concurrent commit")

	// ErrCorrupt is returned when a segments file fails validation.
	ErrCorrupt = errors.New("manifest: corrupt segments file")
)
