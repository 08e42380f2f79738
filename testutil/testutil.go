package testutil

import (
	"math"
	"math/rand"
	"slices"
	"strconv"
	"sync"

	"github.com/hupe1980/segmut/segment"
)

// RNG is a seeded, thread-safe random source for reproducible workloads.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Int63n returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Int63n(n)
}

// Zipf returns a Zipfian-distributed value in [0, n) with P(k) ∝ 1/k^s.
func (r *RNG) Zipf(n int, s float64) int {
	cdf := zipfCDF(n, s)
	r.mu.Lock()
	defer r.mu.Unlock()
	return sampleCDF(cdf, r.rand.Float64())
}

// Docs returns n documents. Each carries an "id" term drawn from ids values
// with Zipf skew s, so popular ids match many documents, and a "price"
// numeric value in [0, 1000).
func (r *RNG) Docs(n, ids int, s float64) []segment.Doc {
	cdf := zipfCDF(ids, s)
	r.mu.Lock()
	defer r.mu.Unlock()
	docs := make([]segment.Doc, n)
	for i := range docs {
		id := sampleCDF(cdf, r.rand.Float64())
		docs[i] = segment.Doc{
			Terms:   map[string][]string{"id": {strconv.Itoa(id)}},
			Numeric: map[string]int64{"price": r.rand.Int63n(1000)},
		}
	}
	return docs
}

// sampleCDF maps u in [0, 1) to an index of cdf by inverse transform.
func sampleCDF(cdf []float64, u float64) int {
	i, _ := slices.BinarySearch(cdf, u*cdf[len(cdf)-1])
	return min(i, len(cdf)-1)
}

// zipfCDF returns the unnormalized cumulative weights 1/k^s for k in [1, n].
func zipfCDF(n int, s float64) []float64 {
	cdf := make([]float64, max(n, 1))
	var sum float64
	for k := range cdf {
		sum += 1.0 / math.Pow(float64(k+1), s)
		cdf[k] = sum
	}
	return cdf
}

// Sample returns k distinct values from [0, n) in random order.
func (r *RNG) Sample(k, n int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Perm(n)[:min(k, n)]
}

// LiveAfter returns, per document, whether it survives deleting every id in
// ids and every price in [minPrice, maxPrice].
func LiveAfter(docs []segment.Doc, ids []string, minPrice, maxPrice int64) []bool {
	deleted := make(map[string]bool, len(ids))
	for _, id := range ids {
		deleted[id] = true
	}
	live := make([]bool, len(docs))
	for i, d := range docs {
		price, ok := d.Numeric["price"]
		inRange := ok && price >= minPrice && price <= maxPrice
		live[i] = !inRange
		for _, id := range d.Terms["id"] {
			if deleted[id] {
				live[i] = false
			}
		}
	}
	return live
}
