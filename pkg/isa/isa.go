// Package isa holds the instruction table shared by the compiler and the
// stack machine, plus the register widths an image can be built for.
package isa

import "fmt"

// Opcode is the first word of every encoded instruction.
type Opcode uint64

const (
	OpNOP    Opcode = 0
	OpPUSHI  Opcode = 1
	OpLOAD   Opcode = 2
	OpSTOR   Opcode = 3
	OpDUP    Opcode = 4
	OpSWAP   Opcode = 5
	OpADD    Opcode = 6
	OpADDI   Opcode = 7
	OpSUB    Opcode = 8
	OpSUBI   Opcode = 9
	OpJMP    Opcode = 10
	OpJMPEQ  Opcode = 11
	OpJMPLT  Opcode = 12
	OpJMPGT  Opcode = 13
	OpRETURN Opcode = 14
	OpOUT    Opcode = 15
	OpIN     Opcode = 16
)

// OperandKind tells the compiler how to resolve an instruction's operand.
type OperandKind int

const (
	KindNone OperandKind = iota
	KindConstant
	KindAddress
	KindLabel
)

func (k OperandKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConstant:
		return "constant"
	case KindAddress:
		return "address"
	case KindLabel:
		return "label"
	}
	return fmt.Sprintf("OperandKind(%d)", int(k))
}

// Descriptor describes one mnemonic: its opcode and how its operand resolves.
type Descriptor struct {
	Mnemonic string
	Opcode   Opcode
	Operands int
	Kind     OperandKind
}

// Size is the number of image words the instruction occupies.
func (d Descriptor) Size() int {
	return 1 + d.Operands
}

// CMP and CMPI share opcodes with SUB and SUBI.
var instructions = []Descriptor{
	{"NOP", OpNOP, 0, KindNone},
	{"PUSHI", OpPUSHI, 1, KindConstant},
	{"LOAD", OpLOAD, 1, KindAddress},
	{"STOR", OpSTOR, 1, KindAddress},
	{"DUP", OpDUP, 0, KindNone},
	{"SWAP", OpSWAP, 0, KindNone},
	{"ADD", OpADD, 0, KindNone},
	{"ADDI", OpADDI, 1, KindConstant},
	{"SUB", OpSUB, 0, KindNone},
	{"SUBI", OpSUBI, 1, KindConstant},
	{"CMP", OpSUB, 0, KindNone},
	{"CMPI", OpSUBI, 1, KindConstant},
	{"JMP", OpJMP, 1, KindLabel},
	{"JMPEQ", OpJMPEQ, 1, KindLabel},
	{"JMPLT", OpJMPLT, 1, KindLabel},
	{"JMPGT", OpJMPGT, 1, KindLabel},
	{"RETURN", OpRETURN, 0, KindNone},
	{"OUT", OpOUT, 1, KindConstant},
	{"IN", OpIN, 1, KindConstant},
}

var (
	byMnemonic = make(map[string]Descriptor, len(instructions))
	byOpcode   = make(map[Opcode]Descriptor, len(instructions))
)

func init() {
	for _, d := range instructions {
		byMnemonic[d.Mnemonic] = d
		// first entry wins so aliases never shadow the canonical mnemonic
		if _, ok := byOpcode[d.Opcode]; !ok {
			byOpcode[d.Opcode] = d
		}
	}
}

// Lookup finds an instruction by its (case-sensitive) mnemonic.
func Lookup(mnemonic string) (Descriptor, bool) {
	d, ok := byMnemonic[mnemonic]
	return d, ok
}

// ByOpcode returns the canonical descriptor for an opcode.
func ByOpcode(op Opcode) (Descriptor, bool) {
	d, ok := byOpcode[op]
	return d, ok
}

// Instructions returns a copy of the full table, aliases included.
func Instructions() []Descriptor {
	out := make([]Descriptor, len(instructions))
	copy(out, instructions)
	return out
}
