package asm

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wirebus/pkg/isa"
)

const loopSource = `LET x 10
:loop
LOAD x
JMPEQ done
OUT 1
JMP loop
:done
PUSHI 0
RETURN`

func TestHelperFunctions(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"abc", true},
		{"_abc", true},
		{"abc1", true},
		{"1abc", false},
		{"", false},
		{"ab-c", false},
		{"a:b", false},
	}
	for _, tc := range tests {
		if got := isIdentifier(tc.input); got != tc.want {
			t.Errorf("isIdentifier(%q) = %v; want %v", tc.input, got, tc.want)
		}
	}

	assert.True(t, isNumeric("12"))
	assert.True(t, isNumeric("0x1F"))
	assert.True(t, isNumeric("99999999999999999999999"), "magnitude is not checked")
	assert.False(t, isNumeric("-1"))
	assert.False(t, isNumeric("ten"))

	assert.Equal(t, "PUSHI 1", stripComment("PUSHI 1 ; push one"))
}

func TestCompileAddProgram(t *testing.T) {
	image, err := Compile("PUSHI 5\nPUSHI 3\nADD\nRETURN", isa.Width8)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 5, 1, 3, 6, 14}, image)
}

func TestCompileLoopProgram(t *testing.T) {
	p, err := Build(loopSource, WithWidth(isa.Width8))
	require.NoError(t, err)

	assert.Equal(t, 0, p.Labels["loop"])
	assert.Equal(t, 8, p.Labels["done"])
	assert.Equal(t, 11, p.DataStart)
	assert.Equal(t, []string{"x"}, p.Vars)
	assert.Equal(t, []uint64{
		2, 11, // LOAD x
		11, 8, // JMPEQ done
		15, 1, // OUT 1
		10, 0, // JMP loop
		1, 0, // PUSHI 0
		14, // RETURN
		10, // x
	}, p.Image)

	addr, ok := p.VarAddr("x")
	require.True(t, ok)
	assert.Equal(t, 11, addr)
	_, ok = p.VarAddr("y")
	assert.False(t, ok)

	assert.Equal(t, 3, p.SourceMap[0])
	assert.Equal(t, 8, p.SourceMap[8])
}

func TestLabelResolution(t *testing.T) {
	src := `JMP end
:top
NOP
PUSHI 1
JMPGT top
:mid
DUP
JMPEQ mid
:end
JMPLT top
RETURN`
	p, err := Build(src)
	require.NoError(t, err)

	for addr := 0; addr < p.DataStart; {
		d, ok := isa.ByOpcode(isa.Opcode(p.Image[addr]))
		require.True(t, ok, "addr %d", addr)
		if d.Kind == isa.KindLabel {
			target := int(p.Image[addr+1])
			found := false
			for _, labelAddr := range p.Labels {
				found = found || labelAddr == target
			}
			assert.True(t, found, "jump at %d targets %d", addr, target)
		}
		addr += d.Size()
	}

	assert.Equal(t, 2, p.Labels["top"])
	assert.Equal(t, 7, p.Labels["mid"])
	assert.Equal(t, 10, p.Labels["end"])
	assert.Equal(t, uint64(10), p.Image[1], "forward reference")
	assert.Equal(t, uint64(2), p.Image[6], "backward reference")
}

func TestVariableLayout(t *testing.T) {
	src := `LET a 4
LET b 5
LOAD c
LOAD b
STOR a
STOR d
RETURN`
	p, err := Build(src)
	require.NoError(t, err)

	require.Equal(t, []string{"a", "b", "c", "d"}, p.Vars)
	for i, name := range p.Vars {
		addr, ok := p.VarAddr(name)
		require.True(t, ok)
		assert.Equal(t, p.DataStart+i, addr)
	}
	assert.Equal(t, []uint64{4, 5, 0, 0}, p.Image[p.DataStart:])
	assert.Len(t, p.Image, p.DataStart+len(p.Vars))
}

func TestUndeclaredVariableIsZeroed(t *testing.T) {
	image, err := Compile("PUSHI 7\nSTOR x\nPUSHI 1\nRETURN", isa.Width8)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 7, 3, 7, 1, 1, 14, 0}, image)
}

func TestLetRedeclarationKeepsSlot(t *testing.T) {
	p, err := Build("LET a 1\nLET b 2\nLET a 3\nRETURN")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, p.Vars)
	assert.Equal(t, []uint64{14, 3, 2}, p.Image)
}

func TestConstants(t *testing.T) {
	src := `CONST port 3
CONST big 300
CONST mask 0xFF
IN port
ADDI mask
LET limit mask
OUT port
RETURN`
	p, err := Build(src)
	require.NoError(t, err)
	assert.Equal(t, []uint64{16, 3, 7, 255, 15, 3, 14, 255}, p.Image)
}

func TestWidthEnforcement(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		w       isa.Width
		wantErr bool
	}{
		{"let max 8", "LET x 255\nRETURN", isa.Width8, false},
		{"let over 8", "LET x 256\nRETURN", isa.Width8, true},
		{"pushi max 16", "PUSHI 65535\nRETURN", isa.Width16, false},
		{"pushi over 16", "PUSHI 65536\nRETURN", isa.Width16, true},
		{"const over 8", "CONST big 256\nPUSHI big\nRETURN", isa.Width8, true},
		{"unused const over 8", "CONST big 256\nRETURN", isa.Width8, false},
		{"let max 32", "LET x 4294967295\nRETURN", isa.Width32, false},
		{"let over 32", "LET x 4294967296\nRETURN", isa.Width32, true},
		{"let max 64", "LET x 18446744073709551615\nRETURN", isa.Width64, false},
		{"let over 64", "LET x 18446744073709551616\nRETURN", isa.Width64, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.src, tc.w)
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrOverflow)
			var cerr *CompileError
			require.True(t, errors.As(err, &cerr))
			assert.Greater(t, cerr.Line, 0)
		})
	}
}

func TestLinkOverflow(t *testing.T) {
	src := strings.Repeat("PUSHI 1\n", 130) + "LOAD x\nRETURN"
	_, err := Compile(src, isa.Width8)
	require.Error(t, err)
	var lerr *LinkError
	require.True(t, errors.As(err, &lerr))
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Compile(src, isa.Width16)
	assert.NoError(t, err)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		want error
	}{
		{"unknown", "; header\n\nPUSHI 1\nBOGUS 2", 4, ErrUnknownCommand},
		{"prefix is not a mnemonic", "ADDX", 1, ErrUnknownCommand},
		{"case sensitive", "pushi 1", 1, ErrUnknownCommand},
		{"missing operand", "NOP\nPUSHI", 2, ErrMissingOperand},
		{"bad literal", "PUSHI abc", 1, ErrBadLiteral},
		{"negative literal", "PUSHI -1", 1, ErrBadLiteral},
		{"numeric label", "JMP 12", 1, ErrBadName},
		{"bad label decl", ":1abc", 1, ErrBadName},
		{"empty label", ":", 1, ErrBadName},
		{"short let", "LET x", 1, ErrOperandCount},
		{"bad let value", "LET x y", 1, ErrBadLiteral},
		{"bad const", "CONST k ten", 1, ErrBadLiteral},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.src, isa.Width8)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)

			var cerr *CompileError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tc.line, cerr.Line)
			assert.Contains(t, cerr.Error(), "line")
		})
	}
}

func TestUnresolvedLabel(t *testing.T) {
	_, err := Compile("JMP nowhere\nRETURN", isa.Width8)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolvedLabel)
	var lerr *LinkError
	assert.True(t, errors.As(err, &lerr))
}

func TestBadWidth(t *testing.T) {
	_, err := Compile("RETURN", isa.Width(12))
	assert.ErrorIs(t, err, ErrBadWidth)
}

func TestLabelRedefinition(t *testing.T) {
	src := ":a\nNOP\n:a\nJMP a"
	p, err := Build(src)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Labels["a"], "last declaration wins")
	assert.Equal(t, []uint64{0, 10, 1}, p.Image)

	_, err = Build(src, RejectLabelRedefinition())
	assert.ErrorIs(t, err, ErrDuplicateLabel)
	var cerr *CompileError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, 3, cerr.Line)
}

func TestExtraTokensIgnored(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []uint64
	}{
		{"return with value", "PUSHI 4\nRETURN 0", []uint64{1, 4, 14}},
		{"nop with operand", "NOP 1\nPUSHI 2\nRETURN", []uint64{0, 1, 2, 14}},
		{"pushi with two", "PUSHI 3 9\nRETURN", []uint64{1, 3, 14}},
		{"jmp with trailer", ":top\nJMP top now\nRETURN", []uint64{10, 0, 14}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			image, err := Compile(tc.src, isa.Width8)
			require.NoError(t, err)
			assert.Equal(t, tc.want, image)
		})
	}
}

func TestCommentsAndWhitespace(t *testing.T) {
	src := "  ; indented comment\r\n\tPUSHI 2 ; two\r\n  RETURN  \r\n"
	image, err := Compile(src, isa.Width8)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 14}, image)
}

func TestAssemblerReuse(t *testing.T) {
	a := NewAssembler(WithWidth(isa.Width16))
	_, err := a.Assemble(":x\nJMP x")
	require.NoError(t, err)
	p, err := a.Assemble(":x\nNOP\nJMP x")
	require.NoError(t, err, "labels from a previous run must not leak")
	assert.Equal(t, []uint64{0, 10, 0}, p.Image)
}

func TestCompileFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iot.src")
	require.NoError(t, os.WriteFile(path, []byte("PUSHI 9\nRETURN\n"), 0o644))
	image, err := CompileFile(path, isa.Width8)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 9, 14}, image)

	_, err = CompileFile(filepath.Join(t.TempDir(), "missing.src"), isa.Width8)
	assert.Error(t, err)
}
