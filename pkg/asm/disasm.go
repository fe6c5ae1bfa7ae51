package asm

import (
	"fmt"
	"strings"

	"wirebus/pkg/isa"
)

// Line is one decoded entry of a listing. Data lines hold a raw word.
type Line struct {
	Addr       int
	Mnemonic   string
	Operand    uint64
	HasOperand bool
	Kind       isa.OperandKind
	Data       bool
	Value      uint64
}

// Disassemble decodes image[:dataStart] as instructions and the rest as
// data words. A dataStart outside the image decodes the whole image.
func Disassemble(image []uint64, dataStart int) []Line {
	if dataStart < 0 || dataStart > len(image) {
		dataStart = len(image)
	}

	var lines []Line
	addr := 0
	for addr < dataStart {
		d, ok := isa.ByOpcode(isa.Opcode(image[addr]))
		if !ok || addr+d.Operands >= dataStart {
			lines = append(lines, Line{Addr: addr, Data: true, Value: image[addr]})
			addr++
			continue
		}
		l := Line{Addr: addr, Mnemonic: d.Mnemonic, Kind: d.Kind}
		if d.Operands > 0 {
			l.HasOperand = true
			l.Operand = image[addr+1]
		}
		lines = append(lines, l)
		addr += d.Size()
	}
	for ; addr < len(image); addr++ {
		lines = append(lines, Line{Addr: addr, Data: true, Value: image[addr]})
	}
	return lines
}

// Format renders lines as a plain listing.
func Format(lines []Line) string {
	return format(lines, nil, nil)
}

// Listing renders the program with label and variable names restored.
func (p *Program) Listing() string {
	labels := make(map[uint64]string, len(p.Labels))
	for name, addr := range p.Labels {
		if prev, ok := labels[uint64(addr)]; !ok || name < prev {
			labels[uint64(addr)] = name
		}
	}
	vars := make(map[uint64]string, len(p.Vars))
	for i, name := range p.Vars {
		vars[uint64(p.DataStart+i)] = name
	}
	return format(Disassemble(p.Image, p.DataStart), labels, vars)
}

func format(lines []Line, labels, vars map[uint64]string) string {
	var b strings.Builder
	for _, l := range lines {
		if name, ok := labels[uint64(l.Addr)]; ok && !l.Data {
			fmt.Fprintf(&b, ":%s\n", name)
		}
		if l.Data {
			if name, ok := vars[uint64(l.Addr)]; ok {
				fmt.Fprintf(&b, "%04d  .WORD  %d ; %s\n", l.Addr, l.Value, name)
				continue
			}
			fmt.Fprintf(&b, "%04d  .WORD  %d\n", l.Addr, l.Value)
			continue
		}
		if !l.HasOperand {
			fmt.Fprintf(&b, "%04d  %s\n", l.Addr, l.Mnemonic)
			continue
		}
		operand := fmt.Sprintf("%d", l.Operand)
		switch l.Kind {
		case isa.KindLabel:
			if name, ok := labels[l.Operand]; ok {
				operand = name
			}
		case isa.KindAddress:
			if name, ok := vars[l.Operand]; ok {
				operand = name
			}
		}
		fmt.Fprintf(&b, "%04d  %-6s %s\n", l.Addr, l.Mnemonic, operand)
	}
	return b.String()
}
