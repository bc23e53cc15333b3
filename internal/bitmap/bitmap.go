// This package defines an interface for a simple bitmap structure that has a
// width, height, and can get bits from the bitmap by (x,y) coordinate.
// A set bit is printed as ink, a clear bit is left as background.
// PixelBitmap stores each pixel in a byte in a 2D array format; it is what the
// encoder produces and what the packed formats unpack back into.
// PackedBitmap and PackHex produce the two wire formats accepted by the
// LuckP family of printers.
package bitmap

import (
	"fmt"
)

type Bitmap interface {
	Width() int
	Height() int
	GetBit(x int, y int) byte
}

type PixelBitmap struct {
	pixels        [][]byte
	width, height int
}

func NewPixelBitmap(width, height int) *PixelBitmap {
	pixels := make([][]byte, height)
	for y := range height {
		pixels[y] = make([]byte, width)
	}
	return &PixelBitmap{pixels, width, height}
}

func (b *PixelBitmap) Width() int {
	return b.width
}

func (b *PixelBitmap) Height() int {
	return b.height
}

func (b *PixelBitmap) GetBit(x int, y int) byte {
	return b.pixels[y][x]
}

func (b *PixelBitmap) SetBit(x int, y int, v byte) {
	b.pixels[y][x] = v & 1
}

// Number of ink pixels in the bitmap
func (b *PixelBitmap) Ink() int {
	n := 0
	for _, row := range b.pixels {
		for _, p := range row {
			n += int(p)
		}
	}
	return n
}

func (b *PixelBitmap) String() string {
	return fmt.Sprintf("PixelBitmap(%d,%d)", b.width, b.height)
}
