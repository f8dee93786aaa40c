package tokens

import (
	"context"
	"sync"
)

// Counter is an in-process TokenAllocator: one counter per service day
// behind a single mutex.
type Counter struct {
	mu   sync.Mutex
	next map[string]int
}

func NewCounter() *Counter {
	return &Counter{next: make(map[string]int)}
}

func (c *Counter) NextToken(_ context.Context, day string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next[day]++
	return c.next[day], nil
}

// Peek returns the last token issued for day, 0 if none.
func (c *Counter) Peek(day string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next[day]
}

// Restore raises the counter for day to at least last.
func (c *Counter) Restore(day string, last int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next[day] < last {
		c.next[day] = last
	}
}
