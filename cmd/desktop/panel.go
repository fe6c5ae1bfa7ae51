package main

import (
	"context"

	"go.uber.org/zap"

	"wirebus/pkg/cpu"
	"wirebus/pkg/devices"
	"wirebus/pkg/peripherals"
)

// Panel runs a script in scan cycles against a bus and tracks which Input
// port the operator is adjusting. It has no ebiten dependency.
type Panel struct {
	vm     *cpu.CPU
	bus    *devices.Bus
	params []uint64
	logger *zap.Logger

	selected int
	Scans    int
	Result   uint64
	Err      error
}

func NewPanel(vm *cpu.CPU, bus *devices.Bus, params []uint64, logger *zap.Logger) *Panel {
	return &Panel{vm: vm, bus: bus, params: params, logger: logger}
}

// Scan runs the script once. Memory carries over from the previous scan. A
// fault is kept in Err and does not stop later scans.
func (p *Panel) Scan(ctx context.Context) {
	res, err := p.vm.Run(ctx, p.params...)
	p.Scans++
	if err != nil {
		if p.Err == nil || p.Err.Error() != err.Error() {
			p.logger.Warn("scan failed", zap.Int("scan", p.Scans), zap.Error(err))
		}
		p.Err = err
		return
	}
	p.Err = nil
	p.Result = res
}

// Inputs lists the port numbers whose handler is an Input.
func (p *Panel) Inputs() []uint64 {
	var out []uint64
	for _, n := range p.bus.Ports() {
		if _, ok := p.input(n); ok {
			out = append(out, n)
		}
	}
	return out
}

// Selected returns the Input port being adjusted.
func (p *Panel) Selected() (uint64, bool) {
	ins := p.Inputs()
	if len(ins) == 0 {
		return 0, false
	}
	return ins[p.selected%len(ins)], true
}

// Select moves the selection by delta, wrapping around.
func (p *Panel) Select(delta int) {
	n := len(p.Inputs())
	if n == 0 {
		return
	}
	p.selected = ((p.selected+delta)%n + n) % n
}

// Adjust adds delta to the selected Input, masked to the machine width.
func (p *Panel) Adjust(delta int64) {
	n, ok := p.Selected()
	if !ok {
		return
	}
	in, _ := p.input(n)
	in.Set(p.vm.Width().Mask(in.Value() + uint64(delta)))
}

// Tile is what the panel draws for one port.
type Tile struct {
	Port     uint64
	Kind     string
	Value    uint64
	Selected bool
}

func (p *Panel) Tiles() []Tile {
	sel, hasSel := p.Selected()
	var tiles []Tile
	for _, n := range p.bus.Ports() {
		port, _ := p.bus.Port(n)
		t := Tile{Port: n, Kind: port.Kind(), Selected: hasSel && n == sel}
		if v, ok := port.(devices.Valuer); ok {
			t.Value = v.Value()
		}
		tiles = append(tiles, t)
	}
	return tiles
}

func (p *Panel) input(n uint64) (*peripherals.Input, bool) {
	port, ok := p.bus.Port(n)
	if !ok {
		return nil, false
	}
	if r, ok := port.(*peripherals.Recorder); ok {
		port = r.Unwrap()
	}
	in, ok := port.(*peripherals.Input)
	return in, ok
}
