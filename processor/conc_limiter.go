package processor

import (
	"context"
	"sync"
)

// ConcLimiter bounds the number of goroutines running at once and
// waits for all of them.
type ConcLimiter struct {
	wg    sync.WaitGroup
	slots chan struct{}
}

func NewConcLimiter(level int) *ConcLimiter {
	if level < 1 {
		level = 1
	}
	return &ConcLimiter{slots: make(chan struct{}, level)}
}

// Acquire blocks until a slot is free or ctx is done. Every successful
// Acquire must be paired with a Release.
func (c *ConcLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case c.slots <- struct{}{}:
		c.wg.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ConcLimiter) Release() {
	<-c.slots
	c.wg.Done()
}

// Go runs fn in a new goroutine holding a slot.
func (c *ConcLimiter) Go(ctx context.Context, fn func()) error {
	if err := c.Acquire(ctx); err != nil {
		return err
	}
	go func() {
		defer c.Release()
		fn()
	}()
	return nil
}

// Wait blocks until every started goroutine has released its slot.
func (c *ConcLimiter) Wait() {
	c.wg.Wait()
}
