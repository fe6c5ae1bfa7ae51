// Package asm compiles wirebus source into a flat bytecode image.
//
// Source is line oriented:
//
//	; comment
//	:label
//	LET name value
//	CONST name value
//	MNEMONIC [operand]
//
// Pass one records labels, variables and constants and emits a code segment
// whose label and variable operands are still symbolic. Linking resolves
// them and appends the data segment holding variable initial values.
package asm

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"wirebus/pkg/isa"
)

// slot is one code segment word. ref is set for label and variable operands,
// which are resolved at link time.
type slot struct {
	value uint64
	ref   string
	kind  isa.OperandKind
}

// Assembler turns source into a Program. It is not safe for concurrent use.
type Assembler struct {
	width             isa.Width
	rejectLabelRedefs bool
	logger            *zap.Logger

	code      []slot
	labels    map[string]int
	vars      *varTable
	constants map[string]string
	sourceMap map[int]int
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithWidth sets the register width literals are checked against. The default is 8.
func WithWidth(w isa.Width) Option {
	return func(a *Assembler) {
		a.width = w
	}
}

// RejectLabelRedefinition fails a second declaration of a label instead of
// letting it replace the first.
func RejectLabelRedefinition() Option {
	return func(a *Assembler) {
		a.rejectLabelRedefs = true
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Assembler) {
		a.logger = l
	}
}

// NewAssembler returns an Assembler for 8-bit images unless opts say otherwise.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{
		width:  isa.Width8,
		logger: zap.L(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("asm")
	return a
}

// Compile builds source for the given register width and returns the image.
func Compile(source string, width isa.Width) ([]uint64, error) {
	p, err := Build(source, WithWidth(width))
	if err != nil {
		return nil, err
	}
	return p.Image, nil
}

// CompileFile reads and compiles a script file.
func CompileFile(path string, width isa.Width) ([]uint64, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Compile(string(source), width)
}

// Build compiles source and returns the linked Program with its symbols.
func Build(source string, opts ...Option) (*Program, error) {
	return NewAssembler(opts...).Assemble(source)
}

// Assemble runs both passes. An Assembler may be reused; symbol tables are
// rebuilt on every call.
func (a *Assembler) Assemble(source string) (*Program, error) {
	if !a.width.Valid() {
		return nil, compileErr(0, ErrBadWidth, "%d, should be one of [8,16,32,64]", int(a.width))
	}

	a.code = nil
	a.labels = make(map[string]int)
	a.vars = newVarTable()
	a.constants = make(map[string]string)
	a.sourceMap = make(map[int]int)

	a.logger.Info("compile script",
		zap.Stringer("width", a.width),
		zap.Uint64("max_number", a.width.Max()))

	if err := a.pass1(strings.Split(source, "\n")); err != nil {
		return nil, err
	}

	p, err := a.link()
	if err != nil {
		return nil, err
	}

	a.logger.Info("compile script done",
		zap.Int("code_words", p.DataStart),
		zap.Int("data_words", len(p.Vars)))
	return p, nil
}

func (a *Assembler) pass1(lines []string) error {
	for i, raw := range lines {
		lineNo := i + 1
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		line = stripComment(line)

		a.logger.Debug("process line", zap.Int("line", lineNo), zap.String("text", line))

		if strings.HasPrefix(line, ":") {
			if err := a.declareLabel(strings.TrimSpace(line[1:]), lineNo); err != nil {
				return err
			}
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "LET":
			if err := a.declareVar(fields, lineNo); err != nil {
				return err
			}
			continue
		case "CONST":
			if err := a.declareConst(fields, lineNo); err != nil {
				return err
			}
			continue
		}

		d, ok := isa.Lookup(fields[0])
		if !ok {
			return compileErr(lineNo, ErrUnknownCommand, "%s", line)
		}
		if err := a.emit(d, fields[1:], lineNo); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assembler) declareLabel(name string, lineNo int) error {
	if !isIdentifier(name) {
		return compileErr(lineNo, ErrBadName, "label '%s'", name)
	}
	if _, exists := a.labels[name]; exists && a.rejectLabelRedefs {
		return compileErr(lineNo, ErrDuplicateLabel, "'%s'", name)
	}
	a.logger.Debug("found label", zap.String("label", name), zap.Int("addr", len(a.code)))
	a.labels[name] = len(a.code)
	return nil
}

func (a *Assembler) declareVar(fields []string, lineNo int) error {
	if len(fields) != 3 {
		return compileErr(lineNo, ErrOperandCount, "LET expects a name and a value")
	}
	name := fields[1]
	if !isIdentifier(name) {
		return compileErr(lineNo, ErrBadName, "variable '%s'", name)
	}
	value, err := a.literal(fields[2], lineNo)
	if err != nil {
		return err
	}
	a.logger.Debug("found variable", zap.String("var", name), zap.Uint64("init", value))
	a.vars.declare(name, value)
	return nil
}

func (a *Assembler) declareConst(fields []string, lineNo int) error {
	if len(fields) != 3 {
		return compileErr(lineNo, ErrOperandCount, "CONST expects a name and a value")
	}
	name := fields[1]
	if !isIdentifier(name) {
		return compileErr(lineNo, ErrBadName, "constant '%s'", name)
	}
	if !isNumeric(fields[2]) {
		return compileErr(lineNo, ErrBadLiteral, "%s", fields[2])
	}
	a.logger.Debug("found constant", zap.String("const", name), zap.String("value", fields[2]))
	a.constants[name] = fields[2]
	return nil
}

func (a *Assembler) emit(d isa.Descriptor, operands []string, lineNo int) error {
	if len(operands) < d.Operands {
		return compileErr(lineNo, ErrMissingOperand, "%s has %d parameter(s) but none present", d.Mnemonic, d.Operands)
	}
	if len(operands) > d.Operands {
		a.logger.Debug("ignore extra tokens",
			zap.Int("line", lineNo),
			zap.String("op", d.Mnemonic),
			zap.Strings("tokens", operands[d.Operands:]))
	}

	a.sourceMap[len(a.code)] = lineNo
	a.code = append(a.code, slot{value: uint64(d.Opcode)})
	if d.Operands == 0 {
		return nil
	}

	token := operands[0]
	switch d.Kind {
	case isa.KindConstant:
		value, err := a.literal(token, lineNo)
		if err != nil {
			return err
		}
		a.code = append(a.code, slot{value: value})
	case isa.KindAddress, isa.KindLabel:
		if !isIdentifier(token) {
			return compileErr(lineNo, ErrBadName, "%s operand '%s'", d.Kind, token)
		}
		a.code = append(a.code, slot{ref: token, kind: d.Kind})
	default:
		return compileErr(lineNo, ErrUnknownCommand, "unknown operand kind %s", d.Kind)
	}
	return nil
}

// literal resolves a constant name or numeric token and checks it against
// the register width.
func (a *Assembler) literal(token string, lineNo int) (uint64, error) {
	text := token
	if v, ok := a.constants[token]; ok {
		text = v
	}
	value, err := strconv.ParseUint(text, 0, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, compileErr(lineNo, ErrOverflow, "%s for %s", text, a.width)
		}
		return 0, compileErr(lineNo, ErrBadLiteral, "%s", token)
	}
	if value > a.width.Max() {
		return 0, compileErr(lineNo, ErrOverflow, "%d for %s", value, a.width)
	}
	return value, nil
}

// isNumeric accepts anything ParseUint understands, ignoring magnitude.
func isNumeric(s string) bool {
	_, err := strconv.ParseUint(s, 0, 64)
	return err == nil || errors.Is(err, strconv.ErrRange)
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		return strings.TrimSpace(line[:i])
	}
	return line
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' {
				return false
			}
			continue
		}

		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}

	return true
}
