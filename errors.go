package segmut

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/segmut/internal/livedocs"
	"github.com/hupe1980/segmut/internal/manifest"
	"github.com/hupe1980/segmut/internal/resolver"
	"github.com/hupe1980/segmut/internal/resource"
)

var (
	// ErrBackpressure is returned by Push when outstanding packets exceed
	// the memory limit. The packet was not pushed; apply and retry.
	ErrBackpressure = errors.New("segmut: backpressure")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("segmut: writer closed")

	// ErrUnknownSegment is returned for segment names that are not registered.
	ErrUnknownSegment = errors.New("segmut: unknown segment")

	// ErrDuplicateSegment is returned when a segment is registered twice.
	ErrDuplicateSegment = errors.New("segmut: duplicate segment")

	// ErrDiscarded is returned by TryApply for packets dropped by Rollback.
	ErrDiscarded = errors.New("segmut: packet discarded")

	// ErrConcurrentCommit is returned by Commit when another writer
	// published the same commit generation first.
	ErrConcurrentCommit = errors.New("segmut: concurrent commit")

	// ErrCorrupt is returned when a persisted file fails validation.
	ErrCorrupt = errors.New("segmut: corrupt file")
)

// LiveDocsError reports a failed live-docs write during Commit. The segment
// keeps its pending deletes; a later Commit retries under a new generation.
//
// The original underlying error can be accessed via errors.Unwrap.
type LiveDocsError struct {
	Segment string
	Deletes int
	cause   error
}

func (e *LiveDocsError) Error() string {
	return fmt.Sprintf("segmut: write live docs of %s (%d deletes): %v", e.Segment, e.Deletes, e.cause)
}

func (e *LiveDocsError) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, resource.ErrMemoryLimitExceeded):
		return errors.Mark(err, ErrBackpressure)
	case errors.Is(err, resolver.ErrUnknownSegment):
		return errors.Mark(err, ErrUnknownSegment)
	case errors.Is(err, resolver.ErrDuplicateSegment):
		return errors.Mark(err, ErrDuplicateSegment)
	case errors.Is(err, resolver.ErrDiscarded):
		return errors.Mark(err, ErrDiscarded)
	case errors.Is(err, manifest.ErrConcurrentCommit):
		return errors.Mark(err, ErrConcurrentCommit)
	case errors.Is(err, livedocs.ErrCorrupt),
		errors.Is(err, livedocs.ErrCountMismatch),
		errors.Is(err, manifest.ErrCorrupt),
		errors.Is(err, manifest.ErrIncompatibleVersion):
		return errors.Mark(err, ErrCorrupt)
	}
	return err
}
