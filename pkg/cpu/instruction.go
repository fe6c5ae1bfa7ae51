package cpu

import (
	"errors"
	"fmt"

	"wirebus/pkg/isa"
)

// instruction executes one decoded opcode and returns the next ip.
// RETURN has no variant; Step handles it before decoding.
type instruction interface {
	exec(c *CPU) (int, error)
}

type (
	opNop   struct{}
	opPushI struct{}
	opLoad  struct{}
	opStor  struct{}
	opDup   struct{}
	opSwap  struct{}
	opAdd   struct{}
	opAddI  struct{}
	opSub   struct{}
	opSubI  struct{}
	opJmp   struct{}
	opJmpIf struct{ cond func(int64) bool }
	opOut   struct{}
	opIn    struct{}
)

var (
	// Conditions read the word as a signed 64-bit value whatever the machine
	// width, so a narrow image only sees negatives it never masked.
	jmpEQ = opJmpIf{cond: func(v int64) bool { return v == 0 }}
	jmpLT = opJmpIf{cond: func(v int64) bool { return v < 0 }}
	jmpGT = opJmpIf{cond: func(v int64) bool { return v > 0 }}
)

func decode(word uint64) (instruction, bool) {
	switch isa.Opcode(word) {
	case isa.OpNOP:
		return opNop{}, true
	case isa.OpPUSHI:
		return opPushI{}, true
	case isa.OpLOAD:
		return opLoad{}, true
	case isa.OpSTOR:
		return opStor{}, true
	case isa.OpDUP:
		return opDup{}, true
	case isa.OpSWAP:
		return opSwap{}, true
	case isa.OpADD:
		return opAdd{}, true
	case isa.OpADDI:
		return opAddI{}, true
	case isa.OpSUB:
		return opSub{}, true
	case isa.OpSUBI:
		return opSubI{}, true
	case isa.OpJMP:
		return opJmp{}, true
	case isa.OpJMPEQ:
		return jmpEQ, true
	case isa.OpJMPLT:
		return jmpLT, true
	case isa.OpJMPGT:
		return jmpGT, true
	case isa.OpOUT:
		return opOut{}, true
	case isa.OpIN:
		return opIn{}, true
	}
	return nil, false
}

func (opNop) exec(c *CPU) (int, error) {
	return c.IP + 1, nil
}

func (opPushI) exec(c *CPU) (int, error) {
	v, err := c.operand()
	if err != nil {
		return 0, err
	}
	return c.IP + 2, c.push(v)
}

func (opLoad) exec(c *CPU) (int, error) {
	addr, err := c.operand()
	if err != nil {
		return 0, err
	}
	v, err := c.peekData(addr)
	if err != nil {
		return 0, err
	}
	return c.IP + 2, c.push(v)
}

func (opStor) exec(c *CPU) (int, error) {
	addr, err := c.operand()
	if err != nil {
		return 0, err
	}
	v, err := c.Stack.Pop()
	if err != nil {
		return 0, err
	}
	return c.IP + 2, c.pokeData(addr, v)
}

func (opDup) exec(c *CPU) (int, error) {
	v, err := c.Stack.Peek()
	if err != nil {
		return 0, err
	}
	return c.IP + 1, c.push(v)
}

func (opSwap) exec(c *CPU) (int, error) {
	v1, v2, err := c.pop2()
	if err != nil {
		return 0, err
	}
	if err := c.push(v1); err != nil {
		return 0, err
	}
	return c.IP + 1, c.push(v2)
}

func (opAdd) exec(c *CPU) (int, error) {
	v1, v2, err := c.pop2()
	if err != nil {
		return 0, err
	}
	return c.IP + 1, c.push(v1 + v2)
}

func (opAddI) exec(c *CPU) (int, error) {
	k, err := c.operand()
	if err != nil {
		return 0, err
	}
	v, err := c.Stack.Pop()
	if err != nil {
		return 0, err
	}
	return c.IP + 2, c.push(k + v)
}

// opSub leaves second-from-top minus top.
func (opSub) exec(c *CPU) (int, error) {
	v1, v2, err := c.pop2()
	if err != nil {
		return 0, err
	}
	return c.IP + 1, c.push(v2 - v1)
}

func (opSubI) exec(c *CPU) (int, error) {
	k, err := c.operand()
	if err != nil {
		return 0, err
	}
	if err := c.push(k); err != nil {
		return 0, err
	}
	next, err := opSub{}.exec(c)
	if err != nil {
		return 0, err
	}
	return next + 1, nil
}

func (opJmp) exec(c *CPU) (int, error) {
	target, err := c.operand()
	if err != nil {
		return 0, err
	}
	return int(target), nil
}

func (j opJmpIf) exec(c *CPU) (int, error) {
	v, err := c.Stack.Pop()
	if err != nil {
		return 0, err
	}
	if j.cond(int64(v)) {
		return opJmp{}.exec(c)
	}
	return c.IP + 2, nil
}

func (opOut) exec(c *CPU) (int, error) {
	port, err := c.operand()
	if err != nil {
		return 0, err
	}
	if c.device == nil {
		return 0, ErrNoDevice
	}
	v, err := c.Stack.Pop()
	if err != nil {
		return 0, err
	}
	if err := c.device.PortOut(port, v); err != nil {
		return 0, deviceErr(err, "out", port)
	}
	return c.IP + 2, nil
}

func (opIn) exec(c *CPU) (int, error) {
	port, err := c.operand()
	if err != nil {
		return 0, err
	}
	if c.device == nil {
		return 0, ErrNoDevice
	}
	v, err := c.device.PortIn(port)
	if err != nil {
		return 0, deviceErr(err, "in", port)
	}
	return c.IP + 2, c.push(v)
}

func deviceErr(err error, dir string, port uint64) error {
	if errors.Is(err, ErrNoDevice) {
		return err
	}
	return fmt.Errorf("%w: port %s %d: %w", ErrDevice, dir, port, err)
}
