package resource

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.AcquireMemory(50))
	require.NoError(t, c.AcquireMemory(40))
	assert.Equal(t, int64(90), c.MemoryUsage())

	err := c.AcquireMemory(20)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
	assert.Equal(t, int64(90), c.MemoryUsage())

	c.ReleaseMemory(50)
	require.NoError(t, c.AcquireMemory(20))
	assert.Equal(t, int64(60), c.MemoryUsage())
	assert.Equal(t, int64(100), c.MemoryLimit())
}

func TestController_UnlimitedMemory(t *testing.T) {
	c := NewController(Config{})
	require.NoError(t, c.AcquireMemory(1<<40))
	c.ReleaseMemory(1 << 39)
	assert.Equal(t, int64(1<<39), c.MemoryUsage())
}

func TestController_Workers(t *testing.T) {
	c := NewController(Config{ApplyWorkers: 2})
	assert.Equal(t, 2, c.ApplyWorkers())

	require.NoError(t, c.AcquireWorker(t.Context()))
	require.True(t, c.TryAcquireWorker())
	assert.False(t, c.TryAcquireWorker())
	assert.Equal(t, int64(2), c.Stats().ActiveWorkers)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.AcquireWorker(t.Context()))
		c.ReleaseWorker()
	}()
	time.Sleep(10 * time.Millisecond)
	c.ReleaseWorker()
	wg.Wait()
	c.ReleaseWorker()
	assert.Zero(t, c.Stats().ActiveWorkers)
}

func TestController_WorkerContextCanceled(t *testing.T) {
	c := NewController(Config{ApplyWorkers: 1})
	require.True(t, c.TryAcquireWorker())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.ErrorIs(t, c.AcquireWorker(ctx), context.Canceled)
}

func TestController_WaitWriteLargerThanBurst(t *testing.T) {
	c := NewController(Config{WriteBytesPerSec: 1 << 20})
	require.NoError(t, c.WaitWrite(t.Context(), 1<<20+1))
	assert.Equal(t, int64(1<<20+1), c.Stats().ThrottledBytes)
}

func TestController_NilSafe(t *testing.T) {
	var c *Controller
	require.NoError(t, c.AcquireMemory(10))
	c.ReleaseMemory(10)
	require.NoError(t, c.AcquireWorker(t.Context()))
	assert.True(t, c.TryAcquireWorker())
	c.ReleaseWorker()
	require.NoError(t, c.WaitWrite(t.Context(), 10))
	assert.Zero(t, c.MemoryUsage())
	assert.Zero(t, c.ApplyWorkers())
	assert.Equal(t, Stats{}, c.Stats())
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(t.Context(), &buf, NewController(Config{WriteBytesPerSec: 1000}))
	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", buf.String())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	slow := NewWriter(ctx, &buf, NewController(Config{WriteBytesPerSec: 1}))
	_, err = slow.Write(make([]byte, 100))
	assert.Error(t, err)
}
