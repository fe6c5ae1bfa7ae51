package asm

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrMissingOperand  = errors.New("missing operand")
	ErrOperandCount    = errors.New("wrong operand count")
	ErrBadLiteral      = errors.New("wrong constant value")
	ErrBadName         = errors.New("invalid name")
	ErrOverflow        = errors.New("number too big for architecture")
	ErrDuplicateLabel  = errors.New("duplicate label")
	ErrUnresolvedLabel = errors.New("label not found")
	ErrBadWidth        = errors.New("wrong register size")
)

// CompileError reports a problem with one source line. Line is 1-based; it is
// zero only for problems that precede reading the source.
type CompileError struct {
	Line int
	Err  error
	Msg  string
}

func (e *CompileError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("%v: %s", e.Err, e.Msg)
	}
	return fmt.Sprintf("line %d: %v: %s", e.Line, e.Err, e.Msg)
}

func (e *CompileError) Unwrap() error { return e.Err }

// LinkError reports a whole-program problem found while resolving symbols.
type LinkError struct {
	Err error
	Msg string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link: %v: %s", e.Err, e.Msg)
}

func (e *LinkError) Unwrap() error { return e.Err }

func compileErr(line int, err error, format string, args ...any) *CompileError {
	return &CompileError{Line: line, Err: err, Msg: fmt.Sprintf(format, args...)}
}

func linkErr(err error, format string, args ...any) *LinkError {
	return &LinkError{Err: err, Msg: fmt.Sprintf(format, args...)}
}
