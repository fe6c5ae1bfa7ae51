package asm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wirebus/pkg/isa"
)

func TestDisassemble(t *testing.T) {
	lines := Disassemble([]uint64{1, 5, 1, 3, 6, 14}, -1)
	require.Len(t, lines, 4)
	assert.Equal(t, Line{Addr: 0, Mnemonic: "PUSHI", Operand: 5, HasOperand: true, Kind: isa.KindConstant}, lines[0])
	assert.Equal(t, "ADD", lines[2].Mnemonic)
	assert.Equal(t, 4, lines[2].Addr)
	assert.Equal(t, "RETURN", lines[3].Mnemonic)
}

func TestDisassembleDataAndGarbage(t *testing.T) {
	// 99 is no opcode; PUSHI at the end of the code segment has no operand left
	lines := Disassemble([]uint64{99, 14, 1, 42}, 3)
	require.Len(t, lines, 4)
	assert.True(t, lines[0].Data)
	assert.Equal(t, uint64(99), lines[0].Value)
	assert.Equal(t, "RETURN", lines[1].Mnemonic)
	assert.True(t, lines[2].Data)
	assert.True(t, lines[3].Data)
	assert.Equal(t, uint64(42), lines[3].Value)
}

func TestListing(t *testing.T) {
	p, err := Build(loopSource)
	require.NoError(t, err)

	listing := p.Listing()
	assert.Contains(t, listing, ":loop\n0000  LOAD   x\n")
	assert.Contains(t, listing, "0002  JMPEQ  done\n")
	assert.Contains(t, listing, "0004  OUT    1\n")
	assert.Contains(t, listing, ":done\n0008  PUSHI  0\n")
	assert.Contains(t, listing, "0010  RETURN\n")
	assert.Contains(t, listing, "0011  .WORD  10 ; x\n")

	plain := Format(Disassemble(p.Image, p.DataStart))
	assert.Contains(t, plain, "0002  JMPEQ  8\n")
	assert.NotContains(t, plain, ":loop")
}
