// Package testutil generates reproducible workloads for tests and
// benchmarks.
//
//	rng := testutil.NewRNG(seed)
//	docs := rng.Docs(1000, 100, 1.2)
//	want := testutil.LiveAfter(docs, []string{"0", "7"}, 100, 200)
package testutil
