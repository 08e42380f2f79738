package segmut_test

import (
	"context"
	"math"
	"strconv"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segmut"
	"github.com/hupe1980/segmut/blobstore"
	"github.com/hupe1980/segmut/internal/fs"
	"github.com/hupe1980/segmut/packet"
	"github.com/hupe1980/segmut/segment"
	"github.com/hupe1980/segmut/testutil"
)

var fieldInfos = segment.NewFieldInfos(
	segment.FieldInfo{Name: "id", Number: 0, DocValuesGen: -1},
	segment.FieldInfo{Name: "price", Number: 1, DocValuesType: segment.DocValuesNumeric, DocValuesGen: -1},
	segment.FieldInfo{Name: "soft", Number: 2, DocValuesType: segment.DocValuesNumeric, DocValuesGen: -1, SoftDeletesField: true},
)

// newReader returns n docs with id=<ordinal> and price=<ordinal>.
func newReader(n int) *segment.MemReader {
	docs := make([]segment.Doc, n)
	for i := range docs {
		docs[i] = segment.Doc{
			Terms:   map[string][]string{"id": {strconv.Itoa(i)}},
			Numeric: map[string]int64{"price": int64(i)},
		}
	}
	return segment.NewMemReader(fieldInfos, docs)
}

func addSegment(t *testing.T, w *segmut.Writer, name string, n int) {
	t.Helper()
	require.NoError(t, w.AddSegment(segment.NewCommitInfo(segment.Info{Name: name, MaxDoc: n}), newReader(n)))
}

func deleteIDs(ids ...int) *packet.Packet {
	p := packet.New()
	for _, id := range ids {
		p.AddTerm(segment.NewTerm("id", strconv.Itoa(id)), math.MaxInt)
	}
	return p
}

func push(t *testing.T, w *segmut.Writer, p *packet.Packet) int64 {
	t.Helper()
	gen, err := w.Push(context.Background(), p)
	require.NoError(t, err)
	return gen
}

func liveDocs(t *testing.T, w *segmut.Writer, name string) []bool {
	t.Helper()
	bits, err := w.LiveDocs(name)
	require.NoError(t, err)
	info, err := w.SegmentInfo(name)
	require.NoError(t, err)
	out := make([]bool, info.Info.MaxDoc)
	for i := range out {
		out[i] = bits == nil || bits.Get(i)
	}
	return out
}

func openLocal(t *testing.T, dir string, opts ...segmut.Option) (*segmut.Writer, blobstore.Store) {
	t.Helper()
	bs, err := blobstore.NewLocalStore(dir)
	require.NoError(t, err)
	w, err := segmut.Open(context.Background(), bs, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, bs
}

func TestWriter_CommitAndReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	metrics := &segmut.BasicMetricsCollector{}
	w, bs := openLocal(t, dir, segmut.WithMetricsCollector(metrics))

	addSegment(t, w, "s0", 20)
	push(t, w, deleteIDs(3))
	p := packet.New()
	p.AddQuery(segment.NumericRangeQuery{Field: "price", Min: 10, Max: 12}, math.MaxInt)
	push(t, w, p)

	gen, err := w.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	names, err := bs.List(ctx, "_")
	require.NoError(t, err)
	assert.Equal(t, []string{"_s0_1.liv"}, names)

	n, err := w.NumDocs("s0")
	require.NoError(t, err)
	assert.Equal(t, 16, n)

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.PushCount)
	assert.Equal(t, int64(2), stats.ApplyCount)
	assert.Equal(t, int64(4), stats.DeletedDocs)
	assert.Equal(t, int64(1), stats.LiveDocsWrites)
	assert.Equal(t, int64(4), stats.LiveDocsDeletes)
	assert.Equal(t, int64(1), stats.CommitCount)
	require.NoError(t, w.Close())

	reopened, _ := openLocal(t, dir)
	assert.Equal(t, []string{"s0"}, reopened.CommittedSegments())
	assert.Equal(t, int64(1), reopened.Stats().CommitGen)
	assert.Empty(t, reopened.Segments())

	require.NoError(t, reopened.RestoreSegment(ctx, "s0", newReader(20)))
	live := liveDocs(t, reopened, "s0")
	for doc, ok := range live {
		assert.Equal(t, doc != 3 && (doc < 10 || doc > 12), ok, "doc %d", doc)
	}

	// Packets of the new process apply to restored segments.
	push(t, reopened, deleteIDs(4))
	require.NoError(t, reopened.ApplyAll(ctx))
	assert.False(t, liveDocs(t, reopened, "s0")[4])

	gen, err = reopened.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)
	names, err = bs.List(ctx, "_")
	require.NoError(t, err)
	assert.Equal(t, []string{"_s0_2.liv"}, names, "superseded live docs are deleted")
}

func TestWriter_SegmentAddedAfterPush(t *testing.T) {
	ctx := context.Background()
	w, err := segmut.Open(ctx, blobstore.NewMemoryStore())
	require.NoError(t, err)

	addSegment(t, w, "a", 5)
	push(t, w, deleteIDs(1))
	addSegment(t, w, "b", 5)
	require.NoError(t, w.ApplyAll(ctx))

	assert.False(t, liveDocs(t, w, "a")[1])
	assert.True(t, liveDocs(t, w, "b")[1])

	push(t, w, deleteIDs(2))
	require.NoError(t, w.ApplyAll(ctx))
	assert.False(t, liveDocs(t, w, "a")[2])
	assert.False(t, liveDocs(t, w, "b")[2])

	s := w.Stats()
	assert.Equal(t, 0, s.PendingPackets)
	assert.Equal(t, int64(4), s.CompletedDelGen)
}

func TestWriter_DocIDUpto(t *testing.T) {
	ctx := context.Background()
	w, err := segmut.Open(ctx, blobstore.NewMemoryStore())
	require.NoError(t, err)

	docs := make([]segment.Doc, 200)
	for i := range docs {
		docs[i] = segment.Doc{Terms: map[string][]string{"id": {strconv.Itoa(i)}}}
	}
	docs[5].Terms["id"] = []string{"42"}
	docs[150].Terms["id"] = []string{"42"}
	require.NoError(t, w.AddSegment(segment.NewCommitInfo(segment.Info{Name: "s", MaxDoc: 200}), segment.NewMemReader(fieldInfos, docs)))

	p := packet.New()
	p.AddTerm(segment.NewTerm("id", "42"), 100)
	push(t, w, p)
	require.NoError(t, w.ApplyAll(ctx))

	live := liveDocs(t, w, "s")
	assert.False(t, live[5])
	assert.True(t, live[150])
	n, err := w.NumDocs("s")
	require.NoError(t, err)
	assert.Equal(t, 199, n)
}

func TestWriter_Backpressure(t *testing.T) {
	ctx := context.Background()
	metrics := &segmut.BasicMetricsCollector{}
	w, err := segmut.Open(ctx, blobstore.NewMemoryStore(),
		segmut.WithMemoryLimit(1),
		segmut.WithMetricsCollector(metrics))
	require.NoError(t, err)
	addSegment(t, w, "s", 3)

	_, err = w.Push(ctx, deleteIDs(1))
	require.ErrorIs(t, err, segmut.ErrBackpressure)
	assert.Equal(t, int64(1), metrics.GetStats().BackpressureCount)
	assert.Equal(t, 0, w.Stats().PendingPackets)

	gen, err := w.Push(ctx, packet.New())
	require.NoError(t, err)
	assert.Zero(t, gen, "empty packets are ignored")
}

func TestWriter_MemoryReleasedOnApply(t *testing.T) {
	ctx := context.Background()
	w, err := segmut.Open(ctx, blobstore.NewMemoryStore(), segmut.WithMemoryLimit(1<<20))
	require.NoError(t, err)
	addSegment(t, w, "s", 3)

	push(t, w, deleteIDs(1))
	assert.Positive(t, w.Stats().MemoryUsed)
	assert.Positive(t, w.Stats().PendingBytes)

	require.NoError(t, w.ApplyAll(ctx))
	assert.Zero(t, w.Stats().MemoryUsed)
	assert.Zero(t, w.Stats().PendingBytes)
}

func TestWriter_Rollback(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()
	w, err := segmut.Open(ctx, bs)
	require.NoError(t, err)

	addSegment(t, w, "s0", 5)
	push(t, w, deleteIDs(1))
	_, err = w.Commit(ctx)
	require.NoError(t, err)

	push(t, w, deleteIDs(2))
	require.NoError(t, w.ApplyAll(ctx))
	push(t, w, deleteIDs(3))
	addSegment(t, w, "s1", 5)

	require.NoError(t, w.Rollback(ctx))
	assert.Equal(t, []string{"s0"}, w.Segments())
	assert.Equal(t, []bool{true, false, true, true, true}, liveDocs(t, w, "s0"))
	assert.Zero(t, w.Stats().PendingPackets)

	// The writer stays usable after rollback.
	push(t, w, deleteIDs(4))
	require.NoError(t, w.ApplyAll(ctx))
	assert.Equal(t, []bool{true, false, true, true, false}, liveDocs(t, w, "s0"))
}

func TestWriter_TryApplyAfterRollback(t *testing.T) {
	ctx := context.Background()
	w, err := segmut.Open(ctx, blobstore.NewMemoryStore())
	require.NoError(t, err)

	addSegment(t, w, "s0", 5)
	_, err = w.Commit(ctx)
	require.NoError(t, err)

	p := deleteIDs(3)
	push(t, w, p)
	require.NoError(t, w.Rollback(ctx))

	var ok bool
	require.NotPanics(t, func() { ok, err = w.TryApply(p) })
	assert.False(t, ok)
	assert.ErrorIs(t, err, segmut.ErrDiscarded)
	assert.False(t, p.IsApplied())
	assert.Equal(t, []bool{true, true, true, true, true}, liveDocs(t, w, "s0"))
	assert.Zero(t, w.Stats().PendingPackets)
}

func TestWriter_LiveDocsDuringApply(t *testing.T) {
	ctx := context.Background()
	w, err := segmut.Open(ctx, blobstore.NewMemoryStore())
	require.NoError(t, err)
	const n = 200
	addSegment(t, w, "s0", n)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for id := range n {
			p := deleteIDs(id)
			if _, err := w.Push(ctx, p); !assert.NoError(t, err) {
				return
			}
			_, err := w.TryApply(p)
			assert.NoError(t, err)
		}
	}()

	prev := n
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		bits, err := w.LiveDocs("s0")
		require.NoError(t, err)
		if bits == nil {
			continue
		}
		live := 0
		for doc := range n {
			if bits.Get(doc) {
				live++
			}
		}
		// A snapshot never changes once handed out.
		again := 0
		for doc := range n {
			if bits.Get(doc) {
				again++
			}
		}
		assert.Equal(t, live, again)
		assert.LessOrEqual(t, live, prev)
		prev = live
	}
	wg.Wait()

	num, err := w.NumDocs("s0")
	require.NoError(t, err)
	assert.Zero(t, num)
}

func TestWriter_CommitFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(fs.LocalFS{})
	bs, err := blobstore.NewLocalStore(dir, blobstore.WithFileSystem(ffs))
	require.NoError(t, err)
	w, err := segmut.Open(ctx, bs)
	require.NoError(t, err)

	addSegment(t, w, "s0", 5)
	push(t, w, deleteIDs(1, 2))

	ffs.AddRule(".liv", fs.Fault{FailAfterBytes: -1, FailOnSync: true})
	_, err = w.Commit(ctx)
	require.ErrorIs(t, err, fs.ErrInjected)
	var lde *segmut.LiveDocsError
	require.True(t, errors.As(err, &lde))
	assert.Equal(t, "s0", lde.Segment)
	assert.Equal(t, 2, lde.Deletes)
	assert.Zero(t, w.Stats().CommitGen)

	ffs.ClearRules()
	gen, err := w.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	names, err := bs.List(ctx, "_")
	require.NoError(t, err)
	assert.Equal(t, []string{"_s0_2.liv"}, names, "failed generation is skipped")
	info, err := w.SegmentInfo("s0")
	require.NoError(t, err)
	assert.Equal(t, 2, info.DelCount())
}

func TestWriter_SoftDeletes(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()
	w, err := segmut.Open(ctx, bs, segmut.WithSoftDeletesField("soft"))
	require.NoError(t, err)
	addSegment(t, w, "s0", 10)

	p := packet.New()
	p.AddNumericUpdate("soft", segment.NewTerm("id", "2"), 1, math.MaxInt)
	p.AddNumericUpdate("soft", segment.NewTerm("id", "3"), 1, math.MaxInt)
	push(t, w, p)
	push(t, w, deleteIDs(3, 4))
	require.NoError(t, w.ApplyAll(ctx))

	n, err := w.NumDocs("s0")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = w.Commit(ctx)
	require.NoError(t, err)
	info, err := w.SegmentInfo("s0")
	require.NoError(t, err)
	assert.Equal(t, 2, info.DelCount())
	assert.Equal(t, 1, info.SoftDelCount())

	committed, err := w.Reader("s0")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	reopened, err := segmut.Open(ctx, bs, segmut.WithSoftDeletesField("soft"))
	require.NoError(t, err)
	require.NoError(t, reopened.RestoreSegment(ctx, "s0", committed))
	n, err = reopened.NumDocs("s0")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	// Removing the soft-delete value revives the document.
	undo := packet.New()
	undo.AddNoValueUpdate(packet.Numeric, "soft", segment.NewTerm("id", "2"), math.MaxInt)
	push(t, reopened, undo)
	require.NoError(t, reopened.ApplyAll(ctx))
	assert.True(t, liveDocs(t, reopened, "s0")[2])
	n, err = reopened.NumDocs("s0")
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestWriter_MergeBarrier(t *testing.T) {
	ctx := context.Background()
	w, err := segmut.Open(ctx, blobstore.NewMemoryStore())
	require.NoError(t, err)

	addSegment(t, w, "a", 5)
	push(t, w, deleteIDs(1))
	addSegment(t, w, "b", 5)
	push(t, w, deleteIDs(2))

	require.NoError(t, w.MergeBarrier(ctx, "b"))
	assert.Equal(t, 1, w.Stats().PendingPackets)
	assert.False(t, liveDocs(t, w, "a")[1])
	assert.True(t, liveDocs(t, w, "a")[2])

	assert.ErrorIs(t, w.MergeBarrier(ctx, "zz"), segmut.ErrUnknownSegment)
}

func TestWriter_MergeBarrierRestoredSegments(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()
	w, err := segmut.Open(ctx, bs)
	require.NoError(t, err)
	addSegment(t, w, "a", 5)
	_, err = w.Commit(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	reopened, err := segmut.Open(ctx, bs)
	require.NoError(t, err)
	require.NoError(t, reopened.RestoreSegment(ctx, "a", newReader(5)))
	info, err := reopened.SegmentInfo("a")
	require.NoError(t, err)
	assert.Zero(t, info.BufferedDeletesGen())

	push(t, reopened, deleteIDs(1))
	require.NoError(t, reopened.MergeBarrier(ctx, "a"))
	assert.Equal(t, 1, reopened.Stats().PendingPackets)

	addSegment(t, reopened, "b", 5)
	require.NoError(t, reopened.MergeBarrier(ctx, "a", "b"))
	assert.Zero(t, reopened.Stats().PendingPackets)
	assert.False(t, liveDocs(t, reopened, "a")[1])
	assert.True(t, liveDocs(t, reopened, "b")[1])
}

func TestWriter_FullyDeletedSegments(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()
	w, err := segmut.Open(ctx, bs)
	require.NoError(t, err)

	addSegment(t, w, "s0", 2)
	addSegment(t, w, "s1", 4)
	push(t, w, deleteIDs(0, 1))
	_, err = w.Commit(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"s0"}, w.FullyDeleted())
	n, err := w.NumDeletesToMerge("s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, w.DropSegment("s0"))
	_, err = w.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, w.CommittedSegments())

	names, err := bs.List(ctx, "_")
	require.NoError(t, err)
	assert.Equal(t, []string{"_s1_1.liv"}, names)
}

func TestWriter_ConcurrentPush(t *testing.T) {
	ctx := context.Background()
	w, err := segmut.Open(ctx, blobstore.NewMemoryStore(), segmut.WithApplyConcurrency(4))
	require.NoError(t, err)
	for i := range 4 {
		addSegment(t, w, "s"+strconv.Itoa(i), 400)
	}

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				p := deleteIDs(g*50 + i)
				if _, err := w.Push(ctx, p); !assert.NoError(t, err) {
					return
				}
				if i%10 == 0 {
					_, err := w.TryApply(p)
					assert.NoError(t, err)
				}
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.ApplyAll(ctx))

	for _, name := range w.Segments() {
		n, err := w.NumDocs(name)
		require.NoError(t, err)
		assert.Zero(t, n, name)
	}
	assert.Equal(t, int64(404), w.Stats().CompletedDelGen)
}

func TestWriter_Errors(t *testing.T) {
	ctx := context.Background()
	w, err := segmut.Open(ctx, blobstore.NewMemoryStore())
	require.NoError(t, err)
	addSegment(t, w, "s", 1)

	err = w.AddSegment(segment.NewCommitInfo(segment.Info{Name: "s", MaxDoc: 1}), newReader(1))
	assert.ErrorIs(t, err, segmut.ErrDuplicateSegment)

	_, err = w.LiveDocs("x")
	assert.ErrorIs(t, err, segmut.ErrUnknownSegment)
	assert.ErrorIs(t, w.RestoreSegment(ctx, "x", newReader(1)), segmut.ErrUnknownSegment)
	assert.ErrorIs(t, w.DropSegment("x"), segmut.ErrUnknownSegment)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	_, err = w.Push(ctx, deleteIDs(0))
	assert.ErrorIs(t, err, segmut.ErrClosed)
	_, err = w.Commit(ctx)
	assert.ErrorIs(t, err, segmut.ErrClosed)
	_, err = w.TryApply(deleteIDs(0))
	assert.ErrorIs(t, err, segmut.ErrClosed)
}

func TestOpen_CorruptCommitPoint(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()
	require.NoError(t, bs.Put(ctx, "CURRENT", []byte("segments_1")))
	require.NoError(t, bs.Put(ctx, "segments_1", []byte("not a commit point")))

	_, err := segmut.Open(ctx, bs)
	assert.ErrorIs(t, err, segmut.ErrCorrupt)
}

func TestWriter_RandomWorkload(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(20261018)
	bs := blobstore.NewMemoryStore()
	w, err := segmut.Open(ctx, bs, segmut.WithApplyConcurrency(3))
	require.NoError(t, err)

	segs := make(map[string][]segment.Doc)
	for i := range 6 {
		name := "s" + strconv.Itoa(i)
		docs := rng.Docs(100+rng.Intn(200), 80, 1.1)
		segs[name] = docs
		require.NoError(t, w.AddSegment(segment.NewCommitInfo(segment.Info{Name: name, MaxDoc: len(docs)}), segment.NewMemReader(fieldInfos, docs)))
	}

	var ids []string
	for _, id := range rng.Sample(12, 80) {
		ids = append(ids, strconv.Itoa(id))
	}
	for i := 0; i < len(ids); i += 3 {
		p := packet.New()
		for _, id := range ids[i:min(i+3, len(ids))] {
			p.AddTerm(segment.NewTerm("id", id), math.MaxInt)
		}
		push(t, w, p)
	}
	minPrice := rng.Int63n(900)
	q := packet.New()
	q.AddQuery(segment.NumericRangeQuery{Field: "price", Min: minPrice, Max: minPrice + 50}, math.MaxInt)
	push(t, w, q)

	_, err = w.Commit(ctx)
	require.NoError(t, err)

	for name, docs := range segs {
		want := testutil.LiveAfter(docs, ids, minPrice, minPrice+50)
		assert.Equal(t, want, liveDocs(t, w, name), "seed %d segment %s", rng.Seed(), name)
	}
}

func TestOpen_MissingCommitPoint(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()
	require.NoError(t, bs.Put(ctx, "CURRENT", []byte("segments_3")))

	_, err := segmut.Open(ctx, bs)
	assert.ErrorIs(t, err, segmut.ErrCorrupt)
}
