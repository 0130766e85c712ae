// Package upload bounds the number of simultaneous inbound file uploads.
package upload

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrServerBusy is returned when no upload slot frees up within the acquire
// timeout. The HTTP layer maps it to 503.
var ErrServerBusy = errors.New("too many concurrent uploads, server busy")

// Limiter is a counting semaphore with a bounded acquire wait.
type Limiter struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewLimiter creates a limiter admitting at most maxConcurrent uploads, each
// acquire waiting at most timeout for a slot.
func NewLimiter(maxConcurrent int, timeout time.Duration) *Limiter {
	return &Limiter{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		timeout: timeout,
	}
}

// Acquire claims an upload slot, waiting up to the configured timeout.
// The caller must call Release exactly once after a successful acquire.
func (l *Limiter) Acquire(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrServerBusy
		}
		return err
	}
	return nil
}

// TryAcquire claims a slot without waiting.
func (l *Limiter) TryAcquire() bool {
	return l.sem.TryAcquire(1)
}

// Release returns a slot.
func (l *Limiter) Release() {
	l.sem.Release(1)
}
