package asm

import (
	"go.uber.org/zap"

	"wirebus/pkg/isa"
)

// Program is a linked image together with the symbols that produced it.
type Program struct {
	Image     []uint64
	Width     isa.Width
	DataStart int
	Labels    map[string]int
	Vars      []string
	// SourceMap maps the image index of each instruction to its 1-based source line.
	SourceMap map[int]int
}

// VarAddr returns the memory address of a variable.
func (p *Program) VarAddr(name string) (int, bool) {
	for i, v := range p.Vars {
		if v == name {
			return p.DataStart + i, true
		}
	}
	return 0, false
}

func (a *Assembler) link() (*Program, error) {
	dataStart := len(a.code)
	max := a.width.Max()
	image := make([]uint64, 0, dataStart+a.vars.len())

	for i, s := range a.code {
		value := s.value
		switch s.kind {
		case isa.KindLabel:
			addr, ok := a.labels[s.ref]
			if !ok {
				return nil, linkErr(ErrUnresolvedLabel, "%s", s.ref)
			}
			a.logger.Debug("link label", zap.String("label", s.ref), zap.Int("addr", addr))
			value = uint64(addr)
		case isa.KindAddress:
			value = uint64(dataStart + a.vars.ref(s.ref))
			a.logger.Debug("link variable", zap.String("var", s.ref), zap.Uint64("addr", value))
		}
		if value > max {
			return nil, linkErr(ErrOverflow, "word %d resolves to %d, beyond %s", i, value, a.width)
		}
		image = append(image, value)
	}

	for _, name := range a.vars.names {
		image = append(image, a.vars.initial(name))
	}
	if n := len(image); n > 0 && uint64(n-1) > max {
		return nil, linkErr(ErrOverflow, "image of %d words is not addressable at %s", n, a.width)
	}

	labels := make(map[string]int, len(a.labels))
	for k, v := range a.labels {
		labels[k] = v
	}
	vars := make([]string, len(a.vars.names))
	copy(vars, a.vars.names)

	return &Program{
		Image:     image,
		Width:     a.width,
		DataStart: dataStart,
		Labels:    labels,
		Vars:      vars,
		SourceMap: a.sourceMap,
	}, nil
}
