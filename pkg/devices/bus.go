// Package devices routes OUT and IN instructions to ports mounted on a bus.
package devices

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"wirebus/pkg/cpu"
)

// ErrNoPort is returned for accesses to a port nothing is mounted on. It
// wraps cpu.ErrNoDevice so the machine reports it as a missing device.
var ErrNoPort = fmt.Errorf("%w: port not mounted", cpu.ErrNoDevice)

// Port is one addressable endpoint on the bus.
type Port interface {
	Out(value uint64) error
	In() (uint64, error)
	Kind() string
}

// Valuer is implemented by ports that expose their current value for display.
type Valuer interface {
	Value() uint64
}

// Bus implements cpu.Device. It is safe for concurrent use so a front end can
// inspect ports while a script runs.
type Bus struct {
	mu     sync.RWMutex
	ports  map[uint64]Port
	logger *zap.Logger
}

type BusOption func(*Bus)

func WithLogger(l *zap.Logger) BusOption {
	return func(b *Bus) {
		b.logger = l
	}
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		ports:  make(map[uint64]Port),
		logger: zap.L(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Named("bus")
	return b
}

// Mount attaches p at port number n, replacing whatever was there.
func (b *Bus) Mount(n uint64, p Port) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ports[n] = p
	b.logger.Info("mount port", zap.Uint64("port", n), zap.String("kind", p.Kind()))
}

func (b *Bus) Unmount(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.ports, n)
}

// Port returns the handler mounted at n.
func (b *Bus) Port(n uint64) (Port, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.ports[n]
	return p, ok
}

// Ports lists mounted port numbers in ascending order.
func (b *Bus) Ports() []uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ns := make([]uint64, 0, len(b.ports))
	for n := range b.ports {
		ns = append(ns, n)
	}
	sort.Slice(ns, func(i, j int) bool { return ns[i] < ns[j] })
	return ns
}

func (b *Bus) PortOut(port, value uint64) error {
	p, ok := b.Port(port)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoPort, port)
	}
	b.logger.Debug("out", zap.Uint64("port", port), zap.Uint64("value", value))
	return p.Out(value)
}

func (b *Bus) PortIn(port uint64) (uint64, error) {
	p, ok := b.Port(port)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrNoPort, port)
	}
	v, err := p.In()
	if err != nil {
		return 0, err
	}
	b.logger.Debug("in", zap.Uint64("port", port), zap.Uint64("value", v))
	return v, nil
}
