package chat

import (
	"sync"
	"time"
)

// Clock hands out strictly increasing timestamps so that stores can use
// CreatedAt as the ordering key even when appends land in the same tick.
type Clock struct {
	mu         sync.Mutex
	now        func() time.Time
	resolution time.Duration
	last       time.Time
}

// NewClock returns a Clock truncating to resolution (use time.Millisecond for
// backends that do not keep nanoseconds).
func NewClock(resolution time.Duration) *Clock {
	if resolution <= 0 {
		resolution = time.Nanosecond
	}
	return &Clock{now: time.Now, resolution: resolution}
}

// Next returns a UTC timestamp strictly after every previous one.
func (c *Clock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(c.resolution)
	if !t.After(c.last) {
		t = c.last.Add(c.resolution)
	}
	c.last = t
	return t
}
