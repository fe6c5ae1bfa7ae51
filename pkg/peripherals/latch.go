package peripherals

import "sync"

const (
	LatchType = "latch"
	InputType = "input"
)

// Latch holds the last value written to it and returns it on read.
type Latch struct {
	mu    sync.Mutex
	value uint64
}

func NewLatch(initial uint64) *Latch {
	return &Latch{value: initial}
}

func (l *Latch) Kind() string { return LatchType }

func (l *Latch) Out(value uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value = value
	return nil
}

func (l *Latch) In() (uint64, error) {
	return l.Value(), nil
}

func (l *Latch) Value() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}

// Input is a value set from outside the script, such as a sensor reading or
// a panel switch. Writes from the script are ignored.
type Input struct {
	mu    sync.Mutex
	value uint64
}

func NewInput(initial uint64) *Input {
	return &Input{value: initial}
}

func (i *Input) Kind() string { return InputType }

func (i *Input) Out(uint64) error { return nil }

func (i *Input) In() (uint64, error) {
	return i.Value(), nil
}

func (i *Input) Set(v uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.value = v
}

func (i *Input) Value() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.value
}
