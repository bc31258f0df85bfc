package sched

import (
	"context"
	"sync"
	"time"
)

// LoopClock runs callbacks on the goroutine that calls Run, using wall
// time. Timer expiries and posted work land in one unbounded queue, so
// Post never blocks, including from inside a callback.
type LoopClock struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

func NewLoopClock() *LoopClock {
	return &LoopClock{wake: make(chan struct{}, 1)}
}

func (c *LoopClock) Now() time.Time { return time.Now() }

func (c *LoopClock) Schedule(at time.Time, fn func()) {
	d := time.Until(at)
	if d <= 0 {
		c.Post(fn)
		return
	}
	time.AfterFunc(d, func() { c.Post(fn) })
}

func (c *LoopClock) Post(fn func()) {
	c.mu.Lock()
	c.queue = append(c.queue, fn)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run executes posted work in order until ctx is done. Work still queued
// when ctx ends is dropped.
func (c *LoopClock) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.mu.Lock()
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.wake:
			}
			continue
		}
		for _, fn := range batch {
			fn()
		}
	}
}
