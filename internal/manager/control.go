package manager

import (
	"context"
	"sync"
)

// jobControl is the per-job handle the Manager keeps while a worker runs.
// It carries the worker's cancel func and the pause gate the worker blocks
// on at checkpoint boundaries.
type jobControl struct {
	cancel context.CancelFunc

	mu       sync.Mutex
	resumeCh chan struct{} // non-nil while paused, closed on resume
}

func (c *jobControl) pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resumeCh == nil {
		c.resumeCh = make(chan struct{})
	}
}

func (c *jobControl) resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resumeCh != nil {
		close(c.resumeCh)
		c.resumeCh = nil
	}
}

// WaitIfPaused blocks until the job is resumed or ctx is done. It returns
// ctx.Err() so cancellation wins over a pending resume.
func (c *jobControl) WaitIfPaused(ctx context.Context) error {
	c.mu.Lock()
	ch := c.resumeCh
	c.mu.Unlock()
	if ch == nil {
		return ctx.Err()
	}
	select {
	case <-ch:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
