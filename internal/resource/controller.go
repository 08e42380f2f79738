package resource

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation would exceed the
// packet memory limit.
var ErrMemoryLimitExceeded = errors.New("resource: packet memory limit exceeded")

// Config holds the budgets. Zero values mean unlimited, except ApplyWorkers
// which defaults to 1.
type Config struct {
	// MemoryLimitBytes caps the bytes of outstanding packets.
	MemoryLimitBytes int64
	// ApplyWorkers caps concurrent per-segment resolution.
	ApplyWorkers int64
	// WriteBytesPerSec caps live-docs write throughput.
	WriteBytesPerSec int64
}

// Stats is a point-in-time view of the controller.
type Stats struct {
	MemoryUsed     int64
	MemoryLimit    int64
	ActiveWorkers  int64
	ThrottledBytes int64
}

// Controller enforces a Config. It is safe for concurrent use.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted
	memUsed atomic.Int64

	workers *semaphore.Weighted
	active  atomic.Int64

	writeLimiter *rate.Limiter
	throttled    atomic.Int64
}

// NewController returns a controller enforcing cfg.
func NewController(cfg Config) *Controller {
	if cfg.ApplyWorkers <= 0 {
		cfg.ApplyWorkers = 1
	}
	c := &Controller{
		cfg:     cfg,
		workers: semaphore.NewWeighted(cfg.ApplyWorkers),
	}
	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.WriteBytesPerSec > 0 {
		c.writeLimiter = rate.NewLimiter(rate.Limit(cfg.WriteBytesPerSec), int(cfg.WriteBytesPerSec))
	}
	return c
}

// AcquireMemory reserves n bytes without blocking.
func (c *Controller) AcquireMemory(n int64) error {
	if c == nil || n <= 0 {
		return nil
	}
	if c.memSem != nil && !c.memSem.TryAcquire(n) {
		return errors.Wrapf(ErrMemoryLimitExceeded, "reserve %d bytes (used %d of %d)", n, c.memUsed.Load(), c.cfg.MemoryLimitBytes)
	}
	c.memUsed.Add(n)
	return nil
}

// ReleaseMemory returns n reserved bytes.
func (c *Controller) ReleaseMemory(n int64) {
	if c == nil || n <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(n)
	}
	c.memUsed.Add(-n)
}

// MemoryUsage returns the reserved bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the memory limit, 0 if unlimited.
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// ApplyWorkers returns the worker limit, 0 for a nil controller.
func (c *Controller) ApplyWorkers() int {
	if c == nil {
		return 0
	}
	return int(c.cfg.ApplyWorkers)
}

// AcquireWorker blocks until an apply worker slot is free.
func (c *Controller) AcquireWorker(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.workers.Acquire(ctx, 1); err != nil {
		return err
	}
	c.active.Add(1)
	return nil
}

// TryAcquireWorker claims a worker slot without blocking.
func (c *Controller) TryAcquireWorker() bool {
	if c == nil {
		return true
	}
	if !c.workers.TryAcquire(1) {
		return false
	}
	c.active.Add(1)
	return true
}

// ReleaseWorker frees a worker slot.
func (c *Controller) ReleaseWorker() {
	if c == nil {
		return
	}
	c.active.Add(-1)
	c.workers.Release(1)
}

// WaitWrite blocks until n bytes may be written. Writes larger than one
// second of budget are admitted in burst-sized steps.
func (c *Controller) WaitWrite(ctx context.Context, n int) error {
	if c == nil || c.writeLimiter == nil || n <= 0 {
		return nil
	}
	c.throttled.Add(int64(n))
	burst := c.writeLimiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := c.writeLimiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// Stats returns a snapshot of the controller.
func (c *Controller) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		MemoryUsed:     c.memUsed.Load(),
		MemoryLimit:    c.cfg.MemoryLimitBytes,
		ActiveWorkers:  c.active.Load(),
		ThrottledBytes: c.throttled.Load(),
	}
}
