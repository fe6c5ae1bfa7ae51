// Package codec reads and writes bytecode images: one count byte followed by
// count little-endian words of a fixed width.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"wirebus/pkg/isa"
)

// MaxWords is the largest image the one-byte header can describe.
const MaxWords = 255

var (
	ErrTooLong       = errors.New("image longer than 255 words")
	ErrValueTooLarge = errors.New("value does not fit width")
	ErrBadWidth      = errors.New("invalid width")
	ErrSizeMismatch  = errors.New("size does not match header")
	ErrEmpty         = errors.New("empty image data")
)

// Error is returned for any malformed or unencodable image.
type Error struct {
	Op  string
	Err error
	Msg string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("codec %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("codec %s: %v: %s", e.Op, e.Err, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func errorf(op string, err error, format string, args ...any) *Error {
	return &Error{Op: op, Err: err, Msg: fmt.Sprintf(format, args...)}
}

// Encode writes the count byte and every word of image at width w.
func Encode(image []uint64, w isa.Width) ([]byte, error) {
	if !w.Valid() {
		return nil, errorf("encode", ErrBadWidth, "%d", int(w))
	}
	if len(image) > MaxWords {
		return nil, errorf("encode", ErrTooLong, "%d words", len(image))
	}

	size := w.Bytes()
	out := make([]byte, 1+len(image)*size)
	out[0] = byte(len(image))
	for i, v := range image {
		if v > w.Max() {
			return nil, errorf("encode", ErrValueTooLarge, "word %d = %d exceeds %s", i, v, w)
		}
		putWord(out[1+i*size:], v, w)
	}
	return out, nil
}

// Decode reads an image encoded at width w. The size must match the header.
func Decode(data []byte, w isa.Width) ([]uint64, error) {
	if !w.Valid() {
		return nil, errorf("decode", ErrBadWidth, "%d", int(w))
	}
	if len(data) == 0 {
		return nil, &Error{Op: "decode", Err: ErrEmpty}
	}
	count := int(data[0])
	if want := 1 + count*w.Bytes(); len(data) != want {
		return nil, errorf("decode", ErrSizeMismatch, "%d words of %s need %d bytes, got %d", count, w, want, len(data))
	}

	size := w.Bytes()
	image := make([]uint64, count)
	for i := range image {
		image[i] = readWord(data[1+i*size:], w)
	}
	return image, nil
}

// DecodeAuto infers the width from the total size and the header count.
func DecodeAuto(data []byte) ([]uint64, isa.Width, error) {
	if len(data) == 0 {
		return nil, 0, &Error{Op: "decode", Err: ErrEmpty}
	}
	count := int(data[0])
	payload := len(data) - 1
	if count == 0 {
		if payload != 0 {
			return nil, 0, errorf("decode", ErrSizeMismatch, "zero words but %d payload bytes", payload)
		}
		return []uint64{}, isa.Width8, nil
	}
	if payload%count != 0 {
		return nil, 0, errorf("decode", ErrSizeMismatch, "%d payload bytes not divisible by %d words", payload, count)
	}
	w, ok := isa.WidthFromBytes(payload / count)
	if !ok {
		return nil, 0, errorf("decode", ErrBadWidth, "inferred word size %d bytes", payload/count)
	}
	image, err := Decode(data, w)
	if err != nil {
		return nil, 0, err
	}
	return image, w, nil
}

func putWord(b []byte, v uint64, w isa.Width) {
	switch w {
	case isa.Width8:
		b[0] = byte(v)
	case isa.Width16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case isa.Width32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}

func readWord(b []byte, w isa.Width) uint64 {
	switch w {
	case isa.Width8:
		return uint64(b[0])
	case isa.Width16:
		return uint64(binary.LittleEndian.Uint16(b))
	case isa.Width32:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

// WriteFile encodes image and saves it to path.
func WriteFile(path string, image []uint64, w isa.Width) error {
	data, err := Encode(image, w)
	if err != nil {
		return err
	}
	zap.L().Named("codec").Info("save image",
		zap.String("path", path),
		zap.Int("words", len(image)),
		zap.Stringer("width", w))
	return os.WriteFile(path, data, 0o644)
}

// ReadFile loads an image from path. A zero width means infer it from the file size.
func ReadFile(path string, w isa.Width) ([]uint64, isa.Width, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	zap.L().Named("codec").Info("load image", zap.String("path", path), zap.Int("bytes", len(data)))
	if w == 0 {
		return DecodeAuto(data)
	}
	image, err := Decode(data, w)
	if err != nil {
		return nil, 0, err
	}
	return image, w, nil
}
