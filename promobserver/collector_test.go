package promobserver

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segmut"
	"github.com/hupe1980/segmut/blobstore"
	"github.com/hupe1980/segmut/packet"
	"github.com/hupe1980/segmut/segment"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.RecordPush(2, 1, 3, 512, time.Millisecond, nil)
	c.RecordPush(1, 0, 0, 64, time.Millisecond, errors.New("backpressure"))
	c.RecordBackpressure()
	c.RecordApply(segmut.ApplyStats{DeletedDocs: 4, UpdatedDocs: 2, FullyDeleted: []string{"a", "b"}})
	c.RecordCommit(3, time.Millisecond, nil)
	c.RecordCommit(1, time.Millisecond, errors.New("disk full"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.packets.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.packets.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.entries.WithLabelValues("term")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.entries.WithLabelValues("update")))
	assert.Equal(t, 512.0, testutil.ToFloat64(c.packetBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.backpressure))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.docs.WithLabelValues("deleted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.fullyDeleted))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.commitSegs))
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestCollector_Writer(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	w, err := segmut.Open(ctx, blobstore.NewMemoryStore(), segmut.WithMetricsCollector(c))
	require.NoError(t, err)
	defer w.Close()

	fis := segment.NewFieldInfos(segment.FieldInfo{Name: "id", DocValuesGen: -1})
	reader := segment.NewMemReader(fis, []segment.Doc{
		{Terms: map[string][]string{"id": {"a"}}},
		{Terms: map[string][]string{"id": {"b"}}},
	})
	require.NoError(t, w.AddSegment(segment.NewCommitInfo(segment.Info{Name: "s0", MaxDoc: 2}), reader))

	p := packet.New()
	p.AddTerm(segment.NewTerm("id", "a"), math.MaxInt)
	_, err = w.Push(ctx, p)
	require.NoError(t, err)
	_, err = w.Commit(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.docs.WithLabelValues("deleted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commitSegs))
	// One series per operation.
	assert.Equal(t, 5, testutil.CollectAndCount(c.opLatency))
}
