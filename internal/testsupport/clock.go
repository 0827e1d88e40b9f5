package testsupport

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced clock. Tickers created from it fire when
// Advance crosses their next deadline.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

type fakeTicker struct {
	c        chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

// NewFakeClock returns a clock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NewTicker returns a channel that receives on every interval crossed by
// Advance, and a function that stops it.
func (c *FakeClock) NewTicker(interval time.Duration) (<-chan time.Time, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tk := &fakeTicker{c: make(chan time.Time, 1), interval: interval, next: c.now.Add(interval)}
	c.tickers = append(c.tickers, tk)
	return tk.c, func() {
		c.mu.Lock()
		tk.stopped = true
		c.mu.Unlock()
	}
}

// Tickers reports how many live tickers exist, letting tests wait until
// workers have started.
func (c *FakeClock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, tk := range c.tickers {
		if !tk.stopped {
			n++
		}
	}
	return n
}

// Advance moves time forward, firing tickers whose deadline passed. Like
// time.Ticker, a ticker whose channel is full drops the tick.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, tk := range c.tickers {
		if tk.stopped {
			continue
		}
		for !tk.next.After(c.now) {
			select {
			case tk.c <- tk.next:
			default:
			}
			tk.next = tk.next.Add(tk.interval)
		}
	}
}
