package peripherals

import (
	"fmt"
	"io"
	"sync"
)

const ConsoleType = "console"

// Console prints every value written to it. Reads return 0.
type Console struct {
	mu   sync.Mutex
	w    io.Writer
	port uint64
	last uint64
}

func NewConsole(w io.Writer, port uint64) *Console {
	return &Console{w: w, port: port}
}

func (c *Console) Kind() string { return ConsoleType }

func (c *Console) Out(value uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = value
	_, err := fmt.Fprintf(c.w, "port=%d value=%d\n", c.port, value)
	return err
}

func (c *Console) In() (uint64, error) { return 0, nil }

// Value is the last value written.
func (c *Console) Value() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
