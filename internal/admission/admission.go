// Package admission caps how many inferences run against the shared detector
// at once.
package admission

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/SyedDaiam9101/detector-service/internal/metrics"
)

var (
	// ErrQueueFull is returned when MaxWaiters callers are already waiting.
	ErrQueueFull = errors.New("admission queue full")
	// ErrWaitTimeout is returned when no slot freed up within WaitTimeout.
	ErrWaitTimeout = errors.New("timed out waiting for inference slot")
)

// Options configures a Controller.
type Options struct {
	// Capacity is the number of slots. Values below 1 are treated as 1.
	Capacity int
	// MaxWaiters bounds the number of blocked callers. Zero means unbounded.
	MaxWaiters int
	// WaitTimeout bounds how long a caller waits for a slot. Zero means no deadline.
	WaitTimeout time.Duration
}

// Stats is a snapshot of the controller counters.
type Stats struct {
	Capacity int
	InUse    int64
	Waiting  int64
	Acquired int64
	Released int64
	Rejected int64
}

// Controller is a fixed-capacity slot pool.
type Controller struct {
	sem  *semaphore.Weighted
	opts Options

	inUse    atomic.Int64
	waiting  atomic.Int64
	acquired atomic.Int64
	released atomic.Int64
	rejected atomic.Int64
}

// New creates a Controller.
func New(opts Options) *Controller {
	if opts.Capacity < 1 {
		opts.Capacity = 1
	}
	if opts.MaxWaiters < 0 {
		opts.MaxWaiters = 0
	}
	metrics.SetSlotCapacity(opts.Capacity)
	return &Controller{
		sem:  semaphore.NewWeighted(int64(opts.Capacity)),
		opts: opts,
	}
}

// Capacity returns the number of slots.
func (c *Controller) Capacity() int { return c.opts.Capacity }

// Acquire blocks until a slot is free. It returns the time spent waiting.
// Cancelling ctx abandons the wait without consuming a slot.
func (c *Controller) Acquire(ctx context.Context) (time.Duration, error) {
	start := time.Now()

	if c.sem.TryAcquire(1) {
		c.admitted(0)
		return 0, nil
	}

	if n := c.waiting.Add(1); c.opts.MaxWaiters > 0 && n > int64(c.opts.MaxWaiters) {
		c.waiting.Add(-1)
		c.rejected.Add(1)
		metrics.RecordAdmissionRejected("queue_full")
		return 0, ErrQueueFull
	}
	metrics.SetSlotWaiting(c.waiting.Load())

	waitCtx := ctx
	if c.opts.WaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.opts.WaitTimeout)
		defer cancel()
	}

	err := c.sem.Acquire(waitCtx, 1)
	metrics.SetSlotWaiting(c.waiting.Add(-1))
	if err != nil {
		c.rejected.Add(1)
		if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			metrics.RecordAdmissionRejected("timeout")
			return time.Since(start), ErrWaitTimeout
		}
		metrics.RecordAdmissionRejected("cancelled")
		return time.Since(start), errors.Wrap(err, "wait for inference slot")
	}

	wait := time.Since(start)
	c.admitted(wait)
	return wait, nil
}

func (c *Controller) admitted(wait time.Duration) {
	c.acquired.Add(1)
	metrics.SetSlotsInUse(c.inUse.Add(1))
	metrics.RecordSlotWait(wait.Seconds())
}

// Release returns a slot to the pool. It must be called exactly once per
// successful Acquire.
func (c *Controller) Release() {
	metrics.SetSlotsInUse(c.inUse.Add(-1))
	c.released.Add(1)
	c.sem.Release(1)
}

// Stats returns a snapshot of the counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Capacity: c.opts.Capacity,
		InUse:    c.inUse.Load(),
		Waiting:  c.waiting.Load(),
		Acquired: c.acquired.Load(),
		Released: c.released.Load(),
		Rejected: c.rejected.Load(),
	}
}

// WithSlot runs fn while holding one slot of c. The slot is released on every
// exit path, including when fn returns an error or panics. The returned
// duration is the time spent waiting for the slot.
func WithSlot[T any](ctx context.Context, c *Controller, fn func() (T, error)) (T, time.Duration, error) {
	var zero T
	wait, err := c.Acquire(ctx)
	if err != nil {
		return zero, wait, err
	}
	defer c.Release()

	v, err := fn()
	return v, wait, err
}
