package manifest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segmut/blobstore"
	"github.com/hupe1980/segmut/internal/fs"
	"github.com/hupe1980/segmut/segment"
)

func testManifest() *Manifest {
	return &Manifest{
		CompletedDelGen: 7,
		Segments: []segment.CommitState{
			{Name: "_0", MaxDoc: 100, DelCount: 3, DelGen: 2, FieldInfosGen: -1, DocValuesGen: -1, BufferedDeletesGen: 1},
			{Name: "_1", MaxDoc: 10, SoftDelCount: 1, DelGen: -1, FieldInfosGen: 1, DocValuesGen: 1, BufferedDeletesGen: 4},
		},
		UserData: map[string]string{"source": "test"},
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "segments_1", FileName(1))
	assert.Equal(t, "segments_z", FileName(35))
	assert.Equal(t, "segments_10", FileName(36))

	gen, ok := ParseFileName("segments_10")
	require.True(t, ok)
	assert.Equal(t, int64(36), gen)

	for _, name := range []string{"CURRENT", "segments_", "segments_0", "segments_1.tmp", "_0_1.liv"} {
		_, ok := ParseFileName(name)
		assert.False(t, ok, name)
	}
}

func TestMarshal(t *testing.T) {
	m := testManifest()
	m.Gen = 3

	data, err := Marshal(m)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, m.Segments, got.Segments)
	assert.Equal(t, m.UserData, got.UserData)
	assert.Equal(t, int64(3), got.Gen)

	t.Run("Truncated", func(t *testing.T) {
		_, err := Unmarshal(data[:10])
		assert.ErrorIs(t, err, ErrCorrupt)
		_, err = Unmarshal(data[:len(data)-1])
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("Checksum", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[len(bad)-1] ^= 0xFF
		_, err := Unmarshal(bad)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("Version", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[4] = 99
		_, err := Unmarshal(bad)
		assert.ErrorIs(t, err, ErrIncompatibleVersion)
	})

	t.Run("Magic", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[0] = 0
		_, err := Unmarshal(bad)
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	store := NewStore(blobstore.NewMemoryStore())

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	m := testManifest()
	require.NoError(t, store.Save(ctx, m))
	assert.Equal(t, int64(1), m.Gen)
	assert.False(t, m.CreatedAt.IsZero())

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Gen)
	assert.Equal(t, int64(7), loaded.CompletedDelGen)
	st, ok := loaded.Segment("_1")
	require.True(t, ok)
	assert.Equal(t, 1, st.SoftDelCount)
	_, ok = loaded.Segment("_9")
	assert.False(t, ok)

	m.Segments = m.Segments[:1]
	require.NoError(t, store.Save(ctx, m))
	assert.Equal(t, int64(2), m.Gen)

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded.Segments, 1)

	old, err := store.LoadGen(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, old.Segments, 2)

	_, err = store.LoadGen(ctx, 9)
	assert.ErrorIs(t, err, ErrNotFound)

	// A fresh manifest continues after the stored generations.
	fresh := &Manifest{}
	require.NoError(t, store.Save(ctx, fresh))
	assert.Equal(t, int64(3), fresh.Gen)

	gens, err := store.Generations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, gens)

	require.NoError(t, store.Prune(ctx, 1))
	gens, err = store.Generations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, gens)

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), loaded.Gen)
}

func TestStore_CorruptCurrent(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()
	store := NewStore(bs)

	require.NoError(t, bs.Put(ctx, CurrentFileName, []byte("MANIFEST-000001.bin")))
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)

	require.NoError(t, bs.Put(ctx, CurrentFileName, []byte("segments_5")))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = store.LoadGen(ctx, 5)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, bs.Put(ctx, FileName(5), []byte("garbage")))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_SaveFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(fs.LocalFS{})
	bs, err := blobstore.NewLocalStore(dir, blobstore.WithFileSystem(ffs))
	require.NoError(t, err)
	store := NewStore(bs)

	require.NoError(t, store.Save(ctx, testManifest()))

	t.Run("SegmentsFile", func(t *testing.T) {
		ffs.AddRule(SegmentsPrefix, fs.Fault{FailAfterBytes: -1, FailOnSync: true})
		defer ffs.ClearRules()

		err := store.Save(ctx, testManifest())
		require.ErrorIs(t, err, fs.ErrInjected)

		loaded, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), loaded.Gen)
	})

	t.Run("Current", func(t *testing.T) {
		ffs.AddRule(CurrentFileName, fs.Fault{FailAfterBytes: -1, FailOnRename: true})
		defer ffs.ClearRules()

		err := store.Save(ctx, testManifest())
		require.ErrorIs(t, err, fs.ErrInjected)

		gens, err := store.Generations(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, gens, "unreferenced segments file removed")
		assert.Contains(t, ffs.Removed(), filepath.Join(dir, FileName(2)))

		loaded, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), loaded.Gen)
	})
}

// staleListing hides every blob from List, like a writer that computed its
// next generation before another writer committed.
type staleListing struct {
	*blobstore.MemoryStore
}

func (staleListing) List(context.Context, string) ([]string, error) { return nil, nil }

func TestStore_ConcurrentCommit(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()
	winner := NewStore(bs)
	require.NoError(t, winner.Save(ctx, testManifest()))

	m := testManifest()
	m.UserData = map[string]string{"source": "loser"}
	err := NewStore(staleListing{bs}).Save(ctx, m)
	require.ErrorIs(t, err, ErrConcurrentCommit)
	assert.Zero(t, m.Gen)

	loaded, err := winner.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Gen)
	assert.Equal(t, "test", loaded.UserData["source"])
}
