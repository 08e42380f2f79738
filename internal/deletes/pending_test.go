package deletes

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segmut/blobstore"
	"github.com/hupe1980/segmut/internal/bitmap"
	"github.com/hupe1980/segmut/internal/fs"
	"github.com/hupe1980/segmut/internal/livedocs"
	"github.com/hupe1980/segmut/segment"
)

func newInfo(maxDoc int) *segment.CommitInfo {
	return segment.NewCommitInfo(segment.Info{Name: "0", MaxDoc: maxDoc})
}

func liveWithout(maxDoc int, docs ...int) *bitmap.Snapshot {
	m := bitmap.NewAllLive(maxDoc)
	for _, d := range docs {
		m.Clear(d)
	}
	return m.Snapshot()
}

func TestPendingDeletes_Delete(t *testing.T) {
	pd := New(newInfo(10))
	assert.False(t, pd.MustInitOnDelete())
	assert.Nil(t, pd.LiveDocs())

	assert.True(t, pd.Delete(2))
	assert.False(t, pd.Delete(2))
	assert.True(t, pd.Delete(9))

	assert.Equal(t, 2, pd.NumPendingDeletes())
	assert.Equal(t, 2, pd.DelCount())
	assert.Equal(t, 8, pd.NumDocs())
	assert.Panics(t, func() { pd.Delete(10) })
}

func TestPendingDeletes_CopyOnWrite(t *testing.T) {
	pd := New(newInfo(10))
	pd.Delete(1)

	snap := pd.LiveDocs()
	require.NotNil(t, snap)
	assert.False(t, snap.Get(1))

	pd.Delete(3)
	assert.True(t, snap.Get(3), "published snapshot must not see later deletes")
	assert.Equal(t, 9, snap.Count())

	latest := pd.LiveDocs()
	assert.False(t, latest.Get(3))
	assert.NotSame(t, snap, latest)
	assert.Same(t, latest, pd.LiveDocs(), "no deletes in between, same snapshot")
}

func TestPendingDeletes_ConcurrentSnapshots(t *testing.T) {
	const maxDoc = 500
	cases := map[string]Deletes{
		"hard": New(newInfo(maxDoc)),
		"soft": NewSoft("soft", newInfo(maxDoc)),
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for doc := range maxDoc {
					d.Delete(doc)
				}
			}()

			var snaps []*bitmap.Snapshot
			for range 200 {
				if snap := d.LiveDocs(); snap != nil {
					snaps = append(snaps, snap)
				}
			}
			counts := make([]int, len(snaps))
			for i, snap := range snaps {
				counts[i] = snap.Count()
			}
			wg.Wait()

			for i, snap := range snaps {
				assert.Equal(t, counts[i], snap.Count(), "snapshot %d changed after publication", i)
			}
			assert.Equal(t, maxDoc, d.NumPendingDeletes())
			assert.Zero(t, d.NumDocs())
		})
	}
}

func TestPendingDeletes_RequiresInitialization(t *testing.T) {
	info := segment.FromCommitState(segment.CommitState{
		Name: "0", MaxDoc: 10, DelCount: 1, DelGen: 1, FieldInfosGen: -1, DocValuesGen: -1,
	})
	pd := New(info)
	assert.True(t, pd.MustInitOnDelete())
	assert.Panics(t, func() { pd.Delete(0) })

	r := segment.NewMemReader(nil, make([]segment.Doc, 10)).WithLiveDocs(liveWithout(10, 4))
	pd.OnNewReader(r)
	assert.False(t, pd.MustInitOnDelete())
	assert.False(t, pd.Delete(4), "already deleted on disk")
	assert.True(t, pd.Delete(5))
	assert.Equal(t, 2, pd.DelCount())

	// A second reader does not replace initialized state.
	pd.OnNewReader(segment.NewMemReader(nil, make([]segment.Doc, 10)))
	assert.False(t, pd.LiveDocs().Get(5))
}

func TestPendingDeletes_Load(t *testing.T) {
	ctx := t.Context()
	dir := blobstore.NewMemoryStore()

	info := newInfo(10)
	pd := New(info)
	pd.Delete(7)
	_, err := pd.WriteLiveDocs(ctx, dir)
	require.NoError(t, err)

	reopened := New(info.Clone())
	require.True(t, reopened.MustInitOnDelete())
	require.NoError(t, reopened.Load(ctx, dir))
	assert.False(t, reopened.MustInitOnDelete())
	assert.False(t, reopened.LiveDocs().Get(7))
	assert.Equal(t, 1, reopened.DelCount())
}

func TestNewFromReader(t *testing.T) {
	info := segment.FromCommitState(segment.CommitState{
		Name: "0", MaxDoc: 10, DelCount: 1, DelGen: 1, FieldInfosGen: -1, DocValuesGen: -1,
	})
	r := segment.NewMemReader(nil, make([]segment.Doc, 10)).WithLiveDocs(liveWithout(10, 1, 2))

	pd := NewFromReader(r, info)
	assert.Equal(t, 1, pd.NumPendingDeletes())
	assert.Equal(t, 2, pd.DelCount())
	assert.False(t, pd.NeedsRefresh(r))
	require.NoError(t, pd.VerifyDocCounts(r))

	pd.Delete(3)
	assert.True(t, pd.NeedsRefresh(r))
	assert.ErrorIs(t, pd.VerifyDocCounts(r), ErrDocCountMismatch)

	refreshed := r.WithLiveDocs(pd.LiveDocs())
	assert.False(t, pd.NeedsRefresh(refreshed))
	assert.NoError(t, pd.VerifyDocCounts(refreshed))
}

func TestPendingDeletes_WriteLiveDocs(t *testing.T) {
	ctx := t.Context()
	dir := blobstore.NewMemoryStore()
	info := newInfo(10)
	pd := New(info)

	ok, err := pd.WriteLiveDocs(ctx, dir)
	require.NoError(t, err)
	assert.False(t, ok, "nothing pending")

	pd.Delete(1)
	pd.Delete(8)
	ok, err = pd.WriteLiveDocs(ctx, dir)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, int64(1), info.DelGen())
	assert.Equal(t, int64(2), info.NextWriteDelGen())
	assert.Equal(t, 2, info.DelCount())
	assert.Equal(t, 0, pd.NumPendingDeletes())
	assert.Equal(t, 2, pd.DelCount())

	got, err := livedocs.NewFormat().ReadLiveDocs(ctx, dir, info)
	require.NoError(t, err)
	assert.True(t, got.Equal(liveWithout(10, 1, 8)))

	// Deletes after a write copy again and land in the next generation.
	pd.Delete(2)
	ok, err = pd.WriteLiveDocs(ctx, dir)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), info.DelGen())
	assert.Equal(t, 3, info.DelCount())
	assert.True(t, got.Get(2), "earlier snapshot unchanged")
}

func newFaultyStore(t *testing.T) (*blobstore.LocalStore, *fs.FaultyFS, string) {
	t.Helper()
	root := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	store, err := blobstore.NewLocalStore(root, blobstore.WithFileSystem(ffs))
	require.NoError(t, err)
	return store, ffs, root
}

func TestPendingDeletes_WriteFailure(t *testing.T) {
	ctx := t.Context()
	store, ffs, root := newFaultyStore(t)
	info := newInfo(10)
	pd := New(info)
	pd.Delete(4)

	ffs.AddRule(livedocs.Extension, fs.Fault{FailAfterBytes: -1, FailOnClose: true})
	ok, err := pd.WriteLiveDocs(ctx, store)
	require.ErrorIs(t, err, fs.ErrInjected)
	assert.False(t, ok)

	// The commit still points at the previous generation, the next attempt
	// uses a fresh name and the half-written file is gone.
	assert.Equal(t, int64(-1), info.DelGen())
	assert.Equal(t, int64(2), info.NextWriteDelGen())
	assert.Equal(t, 0, info.DelCount())
	assert.Equal(t, 1, pd.NumPendingDeletes())
	first := filepath.Join(root, livedocs.FileName("0", 1))
	assert.Contains(t, ffs.Removed(), first)
	_, statErr := os.Stat(first)
	assert.True(t, os.IsNotExist(statErr))

	ffs.ClearRules()
	ok, err = pd.WriteLiveDocs(ctx, store)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), info.DelGen())
	assert.Equal(t, 1, info.DelCount())
	_, statErr = os.Stat(filepath.Join(root, livedocs.FileName("0", 2)))
	assert.NoError(t, statErr)
}

func TestPendingDeletes_WriteFailureCleanupError(t *testing.T) {
	ctx := t.Context()
	store, ffs, root := newFaultyStore(t)
	info := newInfo(10)
	pd := New(info)
	pd.Delete(0)

	ffs.AddRule(livedocs.Extension, fs.Fault{FailAfterBytes: 8, FailOnRemove: true})
	_, err := pd.WriteLiveDocs(ctx, store)
	require.ErrorIs(t, err, fs.ErrInjected)

	// The cleanup failure is swallowed; the write error is what surfaces.
	assert.Empty(t, ffs.Removed())
	_, statErr := os.Stat(filepath.Join(root, livedocs.FileName("0", 1)))
	assert.NoError(t, statErr, "undeletable partial file is left behind")
	assert.Equal(t, int64(2), info.NextWriteDelGen())
}

func TestPendingDeletes_DropChanges(t *testing.T) {
	ctx := t.Context()
	dir := blobstore.NewMemoryStore()
	info := newInfo(10)
	pd := New(info)

	pd.Delete(1)
	_, err := pd.WriteLiveDocs(ctx, dir)
	require.NoError(t, err)

	pd.Delete(2)
	pd.Delete(3)
	pd.DropChanges()

	assert.Equal(t, 0, pd.NumPendingDeletes())
	assert.Equal(t, 1, pd.DelCount())
	live := pd.LiveDocs()
	assert.False(t, live.Get(1))
	assert.True(t, live.Get(2))
	assert.True(t, live.Get(3))

	assert.True(t, pd.Delete(2), "reverted doc can be deleted again")
}

func TestPendingDeletes_FullyDeletedAndMerge(t *testing.T) {
	pd := New(newInfo(3))
	full, err := pd.IsFullyDeleted(nil)
	require.NoError(t, err)
	assert.False(t, full)

	pd.Delete(0)
	n, err := pd.NumDeletesToMerge(DefaultMergePolicy{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pd.Delete(1)
	pd.Delete(2)
	full, err = pd.IsFullyDeleted(nil)
	require.NoError(t, err)
	assert.True(t, full)
}
