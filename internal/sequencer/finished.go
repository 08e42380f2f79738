package sequencer

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/segmut/internal/invariants"
)

// FinishedSegments tracks the completion watermark: the largest generation G
// such that every generation <= G has finished. Generations finished out of
// order wait in a set until the gap below them closes.
type FinishedSegments struct {
	mu              sync.Mutex
	completedDelGen int64
	finished        map[int64]struct{}
}

// NewFinishedSegments returns a tracker with a watermark of 0.
func NewFinishedSegments() *FinishedSegments {
	return &FinishedSegments{finished: make(map[int64]struct{})}
}

// FinishedSegment marks gen finished and advances the watermark as far as
// the contiguous prefix allows.
func (f *FinishedSegments) FinishedSegment(gen int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen <= f.completedDelGen {
		if invariants.Enabled {
			panic(errors.AssertionFailedf("sequencer: generation %d finished below watermark %d", gen, f.completedDelGen))
		}
		return
	}
	if _, dup := f.finished[gen]; dup && invariants.Enabled {
		panic(errors.AssertionFailedf("sequencer: generation %d finished twice", gen))
	}
	f.finished[gen] = struct{}{}
	for {
		next := f.completedDelGen + 1
		if _, ok := f.finished[next]; !ok {
			return
		}
		delete(f.finished, next)
		f.completedDelGen = next
	}
}

// CompletedDelGen returns the watermark.
func (f *FinishedSegments) CompletedDelGen() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completedDelGen
}

// StillRunning reports whether gen is neither below the watermark nor
// individually finished.
func (f *FinishedSegments) StillRunning(gen int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen <= f.completedDelGen {
		return false
	}
	_, done := f.finished[gen]
	return !done
}

// Clear resets the watermark to 0 and forgets every finished generation.
func (f *FinishedSegments) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completedDelGen = 0
	clear(f.finished)
}
