// Package resource enforces limits on raw memory acquisition.
//
// A Controller sits between an allocator's Provider and the OS: it tracks
// how many bytes are currently checked out, rejects acquisitions that would
// exceed a hard budget, and optionally throttles the rate at which new
// backing memory may be acquired (growth bursts from a misbehaving caller
// otherwise translate directly into OS memory pressure).
package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var (
	// ErrBudgetExceeded is returned when an acquisition would exceed the
	// configured memory budget.
	ErrBudgetExceeded = errors.New("resource: memory budget exceeded")
	// ErrAcquireTooLarge is returned when a single acquisition exceeds the
	// growth rate limiter's burst size and can never be admitted.
	ErrAcquireTooLarge = errors.New("resource: acquisition exceeds rate limiter burst")
)

// Config holds resource limits.
type Config struct {
	// BudgetBytes is the hard limit for managed memory.
	// If 0, no hard limit is enforced (only tracking).
	BudgetBytes int64

	// GrowthBytesPerSec throttles how fast new backing memory may be
	// acquired. If 0, unlimited.
	GrowthBytesPerSec int64
}

// Controller tracks and limits raw memory acquisition.
type Controller struct {
	cfg Config

	sem  *semaphore.Weighted // nil if unlimited
	used atomic.Int64

	limiter *rate.Limiter // nil if unthrottled
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}

	if cfg.BudgetBytes > 0 {
		c.sem = semaphore.NewWeighted(cfg.BudgetBytes)
	}
	if cfg.GrowthBytesPerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.GrowthBytesPerSec), int(cfg.GrowthBytesPerSec))
	}

	return c
}

// Acquire attempts to reserve bytes of budget. The budget check is
// non-blocking and returns ErrBudgetExceeded when it would overshoot; the
// growth limiter may wait, bounded by ctx.
func (c *Controller) Acquire(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.limiter != nil {
		if bytes > int64(c.limiter.Burst()) {
			return ErrAcquireTooLarge
		}
		if err := c.limiter.WaitN(ctx, int(bytes)); err != nil {
			return err
		}
	}

	if c.sem != nil {
		if !c.sem.TryAcquire(bytes) {
			return ErrBudgetExceeded
		}
	}

	c.used.Add(bytes)
	return nil
}

// Release returns bytes of budget.
func (c *Controller) Release(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.sem != nil {
		c.sem.Release(bytes)
	}
	c.used.Add(-bytes)
}

// Used returns the currently reserved bytes.
func (c *Controller) Used() int64 {
	if c == nil {
		return 0
	}
	return c.used.Load()
}

// Budget returns the configured budget in bytes (0 if unlimited).
func (c *Controller) Budget() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.BudgetBytes
}
