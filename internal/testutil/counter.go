package testutil

import "sync"

// Counter is a thread-safe call counter for side-effect assertions, e.g.
// how many times a predicate was evaluated.
//
// The first call to Next returns 1. Reset makes the counter reusable
// across subtests.
type Counter struct {
	mu sync.Mutex
	n  int64
}

// NewCounter creates a counter starting at 0.
func NewCounter() *Counter {
	return &Counter{}
}

// Next increments and returns the count.
func (c *Counter) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}

// Current returns the count without incrementing.
func (c *Counter) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset sets the count back to 0.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
