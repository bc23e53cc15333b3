// This file implements the hex stream format: one bit per pixel behind a
// fixed preamble, rendered four bits at a time as uppercase hex digits.

package bitmap

import (
	"errors"
	"fmt"
	"strings"
)

// The firmware reserves header space in front of the pixel data: a single set
// bit followed by this many clear bits.
const PreambleZeros = 318

const preambleBits = 1 + PreambleZeros

const hexDigits = "0123456789ABCDEF"

var ErrMalformedPayload = errors.New("malformed hex payload")

// Wire format used to ship a bitmap to the printer. A deployment picks one
// and every job uses it.
type WireFormat int

const (
	HexStream WireFormat = iota
	RawRows
)

func (f WireFormat) String() string {
	switch f {
	case HexStream:
		return "hex"
	case RawRows:
		return "raw"
	default:
		return fmt.Sprintf("WireFormat(%d)", int(f))
	}
}

func ParseWireFormat(s string) (WireFormat, error) {
	switch strings.ToLower(s) {
	case "hex", "":
		return HexStream, nil
	case "raw":
		return RawRows, nil
	default:
		return 0, fmt.Errorf("unknown wire format %q", s)
	}
}

func hexPadding(width, height int) int {
	return (4 - (preambleBits+width*height)%4) % 4
}

// Length in hex digits of the payload PackHex produces for a bitmap of this size
func HexLength(width, height int) int {
	return (hexPadding(width, height) + preambleBits + width*height) / 4
}

type nibbleWriter struct {
	sb     strings.Builder
	nibble byte
	n      int
}

func (w *nibbleWriter) bit(b byte) {
	w.nibble = w.nibble<<1 | b&1
	w.n++
	if w.n == 4 {
		w.sb.WriteByte(hexDigits[w.nibble])
		w.nibble, w.n = 0, 0
	}
}

// Serialises the bitmap row by row into the hex stream format
func PackHex(b Bitmap) string {
	width, height := b.Width(), b.Height()
	w := nibbleWriter{}
	w.sb.Grow(HexLength(width, height))

	for range hexPadding(width, height) {
		w.bit(0)
	}
	w.bit(1)
	for range PreambleZeros {
		w.bit(0)
	}
	for y := range height {
		for x := range width {
			w.bit(b.GetBit(x, y))
		}
	}

	return w.sb.String()
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}

// Inverse of PackHex: recovers a bitmap of the given size from a hex payload
func UnpackHex(s string, width, height int) (*PixelBitmap, error) {
	if want := HexLength(width, height); len(s) != want {
		return nil, fmt.Errorf("%w: got %d digits, expecting %d for %dx%d", ErrMalformedPayload, len(s), want, width, height)
	}

	bits := make([]byte, 0, len(s)*4)
	for i := 0; i < len(s); i++ {
		v, ok := hexValue(s[i])
		if !ok {
			return nil, fmt.Errorf("%w: invalid digit %q at %d", ErrMalformedPayload, s[i], i)
		}
		for shift := 3; shift >= 0; shift-- {
			bits = append(bits, (v>>shift)&1)
		}
	}

	pad := hexPadding(width, height)
	for i := 0; i < pad; i++ {
		if bits[i] != 0 {
			return nil, fmt.Errorf("%w: padding bit %d is set", ErrMalformedPayload, i)
		}
	}
	bits = bits[pad:]
	if bits[0] != 1 {
		return nil, fmt.Errorf("%w: missing preamble marker", ErrMalformedPayload)
	}
	for i := 1; i < preambleBits; i++ {
		if bits[i] != 0 {
			return nil, fmt.Errorf("%w: preamble bit %d is set", ErrMalformedPayload, i)
		}
	}
	bits = bits[preambleBits:]

	b := NewPixelBitmap(width, height)
	for y := range height {
		for x := range width {
			b.SetBit(x, y, bits[y*width+x])
		}
	}
	return b, nil
}
