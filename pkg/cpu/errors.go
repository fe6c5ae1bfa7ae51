package cpu

import (
	"errors"
	"fmt"
)

var (
	ErrStackUnderflow    = errors.New("stack underflow")
	ErrStackOverflow     = errors.New("stack overflow")
	ErrIPOutOfRange      = errors.New("instruction pointer out of range")
	ErrAddressOutOfRange = errors.New("memory address out of range")
	ErrUnknownOpcode     = errors.New("unknown opcode")
	ErrNoDevice          = errors.New("no device attached")
	ErrDevice            = errors.New("device error")
	ErrStepLimit         = errors.New("step limit reached")
	ErrCancelled         = errors.New("run cancelled")
	ErrHalted            = errors.New("cpu halted")
)

type FaultKind int

const (
	FaultStackUnderflow FaultKind = iota + 1
	FaultStackOverflow
	FaultIPOutOfRange
	FaultAddressOutOfRange
	FaultUnknownOpcode
	FaultNoDevice
	FaultDevice
	FaultStepLimit
	FaultCancelled
)

var faultNames = map[FaultKind]string{
	FaultStackUnderflow:    "stack underflow",
	FaultStackOverflow:     "stack overflow",
	FaultIPOutOfRange:      "ip out of range",
	FaultAddressOutOfRange: "address out of range",
	FaultUnknownOpcode:     "unknown opcode",
	FaultNoDevice:          "no device",
	FaultDevice:            "device",
	FaultStepLimit:         "step limit",
	FaultCancelled:         "cancelled",
}

func (k FaultKind) String() string {
	if s, ok := faultNames[k]; ok {
		return s
	}
	return fmt.Sprintf("FaultKind(%d)", int(k))
}

// Fault is a runtime error raised while executing an image. It stops the run.
type Fault struct {
	Kind   FaultKind
	IP     int
	Opcode uint64
	Err    error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault at ip %d (opcode %d): %v", f.IP, f.Opcode, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

func kindOf(err error) FaultKind {
	switch {
	case errors.Is(err, ErrStackUnderflow):
		return FaultStackUnderflow
	case errors.Is(err, ErrStackOverflow):
		return FaultStackOverflow
	case errors.Is(err, ErrIPOutOfRange):
		return FaultIPOutOfRange
	case errors.Is(err, ErrAddressOutOfRange):
		return FaultAddressOutOfRange
	case errors.Is(err, ErrUnknownOpcode):
		return FaultUnknownOpcode
	case errors.Is(err, ErrNoDevice):
		return FaultNoDevice
	case errors.Is(err, ErrStepLimit):
		return FaultStepLimit
	case errors.Is(err, ErrCancelled):
		return FaultCancelled
	}
	return FaultDevice
}
