// This file implements the raw row format: 8 pixels packed into each byte,
// most significant bit first, one stride of bytes per row.

package bitmap

import "fmt"

// a bitmap packed in memory
type PackedBitmap struct {
	data                  []byte
	width, height, stride int
}

const bitsPerWord = 8

func (b *PackedBitmap) Width() int {
	return b.width
}

func (b *PackedBitmap) Height() int {
	return b.height
}

func (b *PackedBitmap) Stride() int {
	return b.stride
}

func (b *PackedBitmap) Data() []byte {
	return b.data
}

// Returns the packed bytes of a single row
func (b *PackedBitmap) Row(y int) []byte {
	return b.data[y*b.stride : (y+1)*b.stride]
}

// Gets a single bit from the bitmap at the (x, y) coordinate, returns either 0 or 1
func (b *PackedBitmap) GetBit(x int, y int) byte {
	index := (y * b.stride) + (x / bitsPerWord)
	return (b.data[index] >> (bitsPerWord - 1 - x%bitsPerWord)) & 1
}

func (b *PackedBitmap) String() string {
	return fmt.Sprintf("PackedBitmap(%d,%d)", b.width, b.height)
}

// Takes a horizontal slice of the packed bitmap, with the specified height and the start row of the slice from the source bitmap
func (b *PackedBitmap) VerticalSlice(start int, height int) *PackedBitmap {
	return &PackedBitmap{
		data:   b.data[b.stride*start : b.stride*(start+height)],
		width:  b.width,
		height: height,
		stride: b.stride,
	}
}

// Take data from any Bitmap implementation and pack it into the raw row format.
// If the width is not a multiple of 8 the last byte of each row is padded
// with clear bits on the right.
func PackBitmap(b Bitmap) *PackedBitmap {
	width, height, stride := b.Width(), b.Height(), (b.Width()+bitsPerWord-1)/bitsPerWord
	data := make([]byte, stride*height)

	for y := range height {
		for x := range width {
			if b.GetBit(x, y)&1 == 1 {
				data[y*stride+x/bitsPerWord] |= 0x80 >> (x % bitsPerWord)
			}
		}
	}

	return &PackedBitmap{data, width, height, stride}
}
