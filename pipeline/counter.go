package pipeline

import (
	"sync"
	"time"
)

// RateCounter counts events and publishes the total once a second has
// elapsed since the last rollover.
type RateCounter struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
	perSecond   int
}

func NewRateCounter(now time.Time) *RateCounter {
	return &RateCounter{windowStart: now}
}

func (c *RateCounter) Tick(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count++
	if now.Sub(c.windowStart) > time.Second {
		c.windowStart = now
		c.perSecond = c.count
		c.count = 0
	}
	return c.perSecond
}

func (c *RateCounter) Rate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perSecond
}

func (c *RateCounter) Reset(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windowStart = now
	c.count = 0
	c.perSecond = 0
}
