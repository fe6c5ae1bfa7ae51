// Package cpu is the wirebus stack machine. One flat memory holds both the
// code and the variables of an image, so a script can overwrite its own
// instructions.
package cpu

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"wirebus/pkg/isa"
)

// cancelCheckInterval is how many steps Run executes between context checks.
const cancelCheckInterval = 1024

type CPU struct {
	// Memory is the working copy of the image. Code and data share it.
	Memory []uint64
	Stack  *Stack

	IP    int
	Done  bool
	Steps int

	image    []uint64
	result   uint64
	width    isa.Width
	device   Device
	maxSteps int
	runID    string
	logger   *zap.Logger
}

type Option func(*CPU)

func WithDevice(d Device) Option {
	return func(c *CPU) {
		c.device = d
	}
}

// WithWidth sets the register width arithmetic wraps at. The default is 64.
func WithWidth(w isa.Width) Option {
	return func(c *CPU) {
		c.width = w
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *CPU) {
		c.logger = l
	}
}

// WithMaxSteps bounds how many instructions Run may execute. Zero is unlimited.
func WithMaxSteps(n int) Option {
	return func(c *CPU) {
		c.maxSteps = n
	}
}

// WithStackDepth bounds the operand stack. Zero is unlimited.
func WithStackDepth(n int) Option {
	return func(c *CPU) {
		c.Stack = NewStack(MaxStack(n))
	}
}

func WithRunID(id string) Option {
	return func(c *CPU) {
		c.runID = id
	}
}

// NewCPU builds a machine over a copy of image.
func NewCPU(image []uint64, opts ...Option) *CPU {
	c := &CPU{
		image:  append([]uint64(nil), image...),
		Stack:  NewStack(),
		width:  isa.Width64,
		logger: zap.L(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.width.Valid() {
		c.width = isa.Width64
	}
	if c.runID == "" {
		c.runID = uuid.NewString()
	}
	c.logger = c.logger.Named("cpu").With(zap.String("run_id", c.runID))
	c.Reload()
	return c
}

// Run executes image to completion on a fresh machine.
func Run(ctx context.Context, image []uint64, device Device, params ...uint64) (uint64, error) {
	return NewCPU(image, WithDevice(device)).Run(ctx, params...)
}

func (c *CPU) Width() isa.Width { return c.width }

func (c *CPU) RunID() string { return c.runID }

// Image returns a copy of the image the machine was built from.
func (c *CPU) Image() []uint64 { return append([]uint64(nil), c.image...) }

// Result is the value popped by RETURN once Done is set.
func (c *CPU) Result() uint64 { return c.result }

// Reset rewinds the machine for another run. Memory is preserved, so
// variables keep the values the previous run left in them.
func (c *CPU) Reset() {
	c.IP = 0
	c.Done = false
	c.Steps = 0
	c.result = 0
	c.Stack.Reset()
}

// Reload restores memory to the original image and resets.
func (c *CPU) Reload() {
	c.Memory = append(c.Memory[:0], c.image...)
	c.Reset()
}

// Start seeds the stack with script parameters. The first parameter ends
// up on top.
func (c *CPU) Start(params ...uint64) error {
	for i := len(params) - 1; i >= 0; i-- {
		if err := c.push(params[i]); err != nil {
			return c.fault(err)
		}
	}
	return nil
}

// Step executes one instruction.
func (c *CPU) Step() error {
	if c.Done {
		return ErrHalted
	}
	if c.IP < 0 || c.IP >= len(c.Memory) {
		return c.fault(fmt.Errorf("%w: %d of %d", ErrIPOutOfRange, c.IP, len(c.Memory)))
	}

	word := c.Memory[c.IP]
	if isa.Opcode(word) == isa.OpRETURN {
		v, err := c.Stack.Pop()
		if err != nil {
			return c.fault(err)
		}
		c.Steps++
		c.Done = true
		c.result = v
		c.logger.Debug("return", zap.Int("ip", c.IP), zap.Uint64("value", v))
		return nil
	}

	inst, ok := decode(word)
	if !ok {
		return c.fault(fmt.Errorf("%w: %d", ErrUnknownOpcode, word))
	}
	if ce := c.logger.Check(zapcore.DebugLevel, "process"); ce != nil {
		ce.Write(
			zap.Int("ip", c.IP),
			zap.String("op", mnemonic(word)),
			zap.Uint64s("stack", c.Stack.Values()),
		)
	}

	next, err := inst.exec(c)
	if err != nil {
		return c.fault(err)
	}
	c.IP = next
	c.Steps++
	return nil
}

// Run resets the machine, seeds the stack with params and steps until
// RETURN or a fault.
func (c *CPU) Run(ctx context.Context, params ...uint64) (uint64, error) {
	c.Reset()
	if err := c.Start(params...); err != nil {
		return 0, err
	}
	c.logger.Debug("start script", zap.Int("words", len(c.Memory)), zap.Int("params", len(params)))
	return c.Resume(ctx)
}

// Resume steps from the current state until RETURN or a fault. A machine
// that is already done returns its result.
func (c *CPU) Resume(ctx context.Context) (uint64, error) {
	for !c.Done {
		if c.maxSteps > 0 && c.Steps >= c.maxSteps {
			return 0, c.fault(fmt.Errorf("%w: %d", ErrStepLimit, c.maxSteps))
		}
		if c.Steps%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return 0, c.fault(fmt.Errorf("%w: %w", ErrCancelled, err))
			}
		}
		if err := c.Step(); err != nil {
			return 0, err
		}
	}

	c.logger.Debug("script return", zap.Uint64("value", c.result), zap.Int("steps", c.Steps))
	return c.result, nil
}

func (c *CPU) fault(err error) *Fault {
	f := &Fault{Kind: kindOf(err), IP: c.IP, Err: err}
	if c.IP >= 0 && c.IP < len(c.Memory) {
		f.Opcode = c.Memory[c.IP]
	}
	c.logger.Warn("fault",
		zap.Int("ip", f.IP),
		zap.Stringer("kind", f.Kind),
		zap.Error(err))
	return f
}

func (c *CPU) push(v uint64) error {
	return c.Stack.Push(c.width.Mask(v))
}

// pop2 pops the top value, then the one below it.
func (c *CPU) pop2() (uint64, uint64, error) {
	v1, err := c.Stack.Pop()
	if err != nil {
		return 0, 0, err
	}
	v2, err := c.Stack.Pop()
	if err != nil {
		return 0, 0, err
	}
	return v1, v2, nil
}

// operand reads the word following the current opcode.
func (c *CPU) operand() (uint64, error) {
	pos := c.IP + 1
	if pos >= len(c.Memory) {
		return 0, fmt.Errorf("%w: operand at %d of %d", ErrIPOutOfRange, pos, len(c.Memory))
	}
	return c.Memory[pos], nil
}

func (c *CPU) peekData(addr uint64) (uint64, error) {
	if addr >= uint64(len(c.Memory)) {
		return 0, fmt.Errorf("%w: %d of %d", ErrAddressOutOfRange, addr, len(c.Memory))
	}
	return c.Memory[addr], nil
}

func (c *CPU) pokeData(addr, v uint64) error {
	if addr >= uint64(len(c.Memory)) {
		return fmt.Errorf("%w: %d of %d", ErrAddressOutOfRange, addr, len(c.Memory))
	}
	c.Memory[addr] = v
	return nil
}

func mnemonic(word uint64) string {
	if d, ok := isa.ByOpcode(isa.Opcode(word)); ok {
		return d.Mnemonic
	}
	return fmt.Sprintf("0x%X", word)
}
