package asm

// varTable keeps variables in first-reference order. A variable's slot in
// the data segment is its index here.
type varTable struct {
	names []string
	index map[string]int
	init  map[string]uint64
}

func newVarTable() *varTable {
	return &varTable{
		index: make(map[string]int),
		init:  make(map[string]uint64),
	}
}

// declare records an initial value. Redeclaring keeps the original slot.
func (v *varTable) declare(name string, value uint64) {
	v.ref(name)
	v.init[name] = value
}

// ref returns the slot of name, appending a zero-initialised variable on first sight.
func (v *varTable) ref(name string) int {
	if i, ok := v.index[name]; ok {
		return i
	}
	v.index[name] = len(v.names)
	v.names = append(v.names, name)
	return v.index[name]
}

func (v *varTable) initial(name string) uint64 {
	return v.init[name]
}

func (v *varTable) len() int {
	return len(v.names)
}
