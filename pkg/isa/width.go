package isa

import (
	"fmt"
	"math"
)

// Width is the register width in bits of one architecture.
type Width int

const (
	Width8  Width = 8
	Width16 Width = 16
	Width32 Width = 32
	Width64 Width = 64
)

func (w Width) Valid() bool {
	switch w {
	case Width8, Width16, Width32, Width64:
		return true
	}
	return false
}

// Bytes is the encoded size of one word.
func (w Width) Bytes() int {
	return int(w) / 8
}

// Max is the largest value a word can hold, 2^w - 1.
func (w Width) Max() uint64 {
	if w >= Width64 {
		return math.MaxUint64
	}
	return uint64(1)<<uint(w) - 1
}

// Mask truncates v to the width.
func (w Width) Mask(v uint64) uint64 {
	return v & w.Max()
}

func (w Width) String() string {
	return fmt.Sprintf("%d-bit", int(w))
}

// WidthFromBytes maps an encoded word size back to a Width.
func WidthFromBytes(n int) (Width, bool) {
	w := Width(n * 8)
	return w, w.Valid()
}

// ParseWidth validates a bit count coming from flags or config.
func ParseWidth(bits int) (Width, error) {
	w := Width(bits)
	if !w.Valid() {
		return 0, fmt.Errorf("wrong register size %d, should be one of [8,16,32,64]", bits)
	}
	return w, nil
}
