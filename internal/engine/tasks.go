package engine

import "sync"

// taskCounter tracks detached work. Unlike a WaitGroup it may be incremented
// while another goroutine is waiting for it to drain.
type taskCounter struct {
	mu      sync.Mutex
	idle    *sync.Cond
	pending int
}

func newTaskCounter() *taskCounter {
	c := &taskCounter{}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// start must be called before the task's goroutine is spawned.
func (c *taskCounter) start() {
	c.mu.Lock()
	c.pending++
	c.mu.Unlock()
}

func (c *taskCounter) done() {
	c.mu.Lock()
	c.pending--
	if c.pending == 0 {
		c.idle.Broadcast()
	}
	c.mu.Unlock()
}

// wait blocks until no task is pending.
func (c *taskCounter) wait() {
	c.mu.Lock()
	for c.pending > 0 {
		c.idle.Wait()
	}
	c.mu.Unlock()
}
