package arena

import (
	"bytes"
	"encoding/binary"
	"math/bits"

	"github.com/cockroachdb/errors"
)

const (
	// DefaultChunkSize is the default size of a chunk (32KiB).
	DefaultChunkSize = 32 * 1024

	// MaxChunks limits the number of chunks addressable by a handle.
	MaxChunks = 1 << 24
)

// ErrMaxChunksExceeded is returned when the arena runs out of addressable chunks.
var ErrMaxChunksExceeded = errors.New("arena: max chunks exceeded")

// Handle addresses a value stored in a Bytes arena.
type Handle uint64

// Stats tracks arena memory usage.
type Stats struct {
	BytesReserved uint64 // total chunk capacity
	BytesUsed     uint64 // value bytes plus length prefixes
	Chunks        int
	Values        int
}

// Bytes is an append-only arena of length-prefixed byte values.
type Bytes struct {
	chunkBits int
	chunkSize int
	chunkMask uint64
	chunks    [][]byte
	stats     Stats
}

// New creates a new arena with the given chunk size. The size is rounded up
// to the next power of two; values <= 0 select DefaultChunkSize.
func New(chunkSize int) *Bytes {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunkBits := bits.Len(uint(chunkSize - 1))
	return &Bytes{
		chunkBits: chunkBits,
		chunkSize: 1 << chunkBits,
		chunkMask: (1 << chunkBits) - 1,
	}
}

// Append copies b into the arena and returns its handle.
func (a *Bytes) Append(b []byte) (Handle, error) {
	var prefix [binary.MaxVarintLen32]byte
	n := binary.PutUvarint(prefix[:], uint64(len(b)))
	need := n + len(b)

	c, err := a.reserve(need)
	if err != nil {
		return 0, err
	}
	cur := a.chunks[c]
	off := len(cur)
	cur = append(cur, prefix[:n]...)
	cur = append(cur, b...)
	a.chunks[c] = cur

	a.stats.BytesUsed += uint64(need)
	a.stats.Values++
	return Handle(uint64(c)<<a.chunkBits | uint64(off)), nil
}

// reserve returns the index of a chunk with room for need bytes.
func (a *Bytes) reserve(need int) (int, error) {
	if n := len(a.chunks); n > 0 {
		last := a.chunks[n-1]
		if cap(last)-len(last) >= need && cap(last) == a.chunkSize {
			return n - 1, nil
		}
	}
	if len(a.chunks) >= MaxChunks {
		return 0, ErrMaxChunksExceeded
	}
	size := a.chunkSize
	if need > size {
		// Oversized values live alone. Their offset is always zero so the
		// handle still fits the mask.
		size = need
	}
	a.chunks = append(a.chunks, make([]byte, 0, size))
	a.stats.BytesReserved += uint64(size)
	a.stats.Chunks++
	return len(a.chunks) - 1, nil
}

// Get returns the value stored at h. The returned slice aliases arena memory
// and must not be modified.
func (a *Bytes) Get(h Handle) []byte {
	c := uint64(h) >> a.chunkBits
	off := uint64(h) & a.chunkMask
	chunk := a.chunks[c]
	l, n := binary.Uvarint(chunk[off:])
	start := off + uint64(n)
	return chunk[start : start+l : start+l]
}

// Equal reports whether the value at h equals b.
func (a *Bytes) Equal(h Handle, b []byte) bool {
	return bytes.Equal(a.Get(h), b)
}

// Compare compares the values at x and y lexicographically.
func (a *Bytes) Compare(x, y Handle) int {
	return bytes.Compare(a.Get(x), a.Get(y))
}

// Stats returns a snapshot of the arena usage.
func (a *Bytes) Stats() Stats {
	return a.stats
}

// Reset drops all values. Handles returned before Reset become invalid.
func (a *Bytes) Reset() {
	a.chunks = nil
	a.stats = Stats{}
}
