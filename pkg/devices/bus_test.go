package devices_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wirebus/pkg/cpu"
	"wirebus/pkg/devices"
)

type memPort struct {
	value uint64
	err   error
}

func (p *memPort) Out(v uint64) error {
	p.value = v
	return p.err
}

func (p *memPort) In() (uint64, error) { return p.value, p.err }

func (p *memPort) Kind() string { return "mem" }

func TestBusRouting(t *testing.T) {
	bus := devices.NewBus()
	a, b := &memPort{}, &memPort{value: 7}
	bus.Mount(3, a)
	bus.Mount(1, b)

	assert.Equal(t, []uint64{1, 3}, bus.Ports())

	require.NoError(t, bus.PortOut(3, 42))
	assert.Equal(t, uint64(42), a.value)

	v, err := bus.PortIn(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)

	p, ok := bus.Port(3)
	require.True(t, ok)
	assert.Same(t, a, p)

	bus.Unmount(3)
	assert.Equal(t, []uint64{1}, bus.Ports())
	assert.ErrorIs(t, bus.PortOut(3, 1), devices.ErrNoPort)
}

func TestUnmountedPortIsMissingDevice(t *testing.T) {
	bus := devices.NewBus()
	_, err := bus.PortIn(9)
	assert.ErrorIs(t, err, devices.ErrNoPort)
	assert.ErrorIs(t, err, cpu.ErrNoDevice)

	// IN 9
	_, err = cpu.NewCPU([]uint64{16, 9, 14}, cpu.WithDevice(bus)).Run(context.Background())
	var f *cpu.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, cpu.FaultNoDevice, f.Kind)
}

func TestPortErrorFaultsScript(t *testing.T) {
	cause := errors.New("relay stuck")
	bus := devices.NewBus()
	bus.Mount(2, &memPort{err: cause})

	// PUSHI 1; OUT 2; PUSHI 0; RETURN
	_, err := cpu.NewCPU([]uint64{1, 1, 15, 2, 1, 0, 14}, cpu.WithDevice(bus)).Run(context.Background())
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, cpu.ErrDevice)
}

func TestBusDrivesScript(t *testing.T) {
	bus := devices.NewBus()
	in, out := &memPort{value: 20}, &memPort{}
	bus.Mount(1, in)
	bus.Mount(2, out)

	// IN 1; ADDI 22; OUT 2; IN 2; RETURN
	got, err := cpu.NewCPU([]uint64{16, 1, 7, 22, 15, 2, 16, 2, 14}, cpu.WithDevice(bus)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got)
	assert.Equal(t, uint64(42), out.value)
}
