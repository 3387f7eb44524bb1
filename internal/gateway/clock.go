package gateway

import (
	"sync"
	"time"
)

// Clock supplies local update timestamps in Unix milliseconds.
type Clock interface {
	NowMillis() int64
}

// MonotonicClock never returns the same or an earlier value twice, even if
// the wall clock steps backwards.
type MonotonicClock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewMonotonicClock creates a clock backed by time.Now.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{now: time.Now}
}

// NowMillis returns a strictly increasing millisecond timestamp.
func (c *MonotonicClock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UnixMilli()
	if t <= c.last {
		t = c.last + 1
	}
	c.last = t
	return t
}
