package peripherals

import "sync"

const CountdownType = "countdown"

// Countdown returns its current count on every read and then decrements it,
// stopping at zero. A write reloads the count.
type Countdown struct {
	mu    sync.Mutex
	count uint64
}

func NewCountdown(initial uint64) *Countdown {
	return &Countdown{count: initial}
}

func (c *Countdown) Kind() string { return CountdownType }

func (c *Countdown) Out(value uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = value
	return nil
}

func (c *Countdown) In() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.count
	if c.count > 0 {
		c.count--
	}
	return v, nil
}

func (c *Countdown) Value() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
