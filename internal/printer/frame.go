package printer

import (
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"tomgalvin.uk/luckprint/internal/bitmap"
)

// An ordered list of chunks; each chunk goes to the printer as one write
type Frame [][]byte

// Total number of bytes across all chunks
func (f Frame) Size() int {
	n := 0
	for _, c := range f {
		n += len(c)
	}
	return n
}

const (
	imageHeaderPrefix = "1D7630003000"
	headerLength      = 32
	chunkLength       = 256
	// hex digits of image data carried by the first chunk, after the header
	firstChunkPayload = chunkLength - headerLength
	hexPerCountUnit   = 96
)

// Number of chunks the printer is told to expect for a payload of this many hex digits
func ChunkCount(payloadLen int) int {
	return payloadLen/hexPerCountUnit + 3
}

// Splits a chunk count into the two header fields. Counts of one or two hex
// digits go entirely into front. Longer counts put the leading digit in end,
// prefixed with a zero, and the remaining digits in front.
func SplitChunkCount(n int) (front, end string) {
	digits := strings.ToUpper(strconv.FormatInt(int64(n), 16))
	if len(digits) > 2 {
		return digits[1:], "0" + digits[:1]
	}
	return digits, "00"
}

// The 32 digit header that starts every hex image frame
func ImageHeader(payloadLen int) (string, error) {
	front, end := SplitChunkCount(ChunkCount(payloadLen))
	h := imageHeaderPrefix + front + end
	if len(h) > headerLength {
		return "", fmt.Errorf("%w: header %s is longer than %d digits", ErrFrameBounds, h, headerLength)
	}
	return padZeros(h, headerLength), nil
}

func padZeros(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat("0", n-len(s))
}

func hexSlice(s string, start, end int) (string, error) {
	if start < 0 || end < start || end > len(s) {
		return "", fmt.Errorf("%w: [%d:%d] of %d digits", ErrFrameBounds, start, end, len(s))
	}
	return s[start:end], nil
}

// Splits a hex payload into the chunk strings sent for it, header included.
// Every chunk is exactly 256 digits.
func HexChunks(payload string) ([]string, error) {
	header, err := ImageHeader(len(payload))
	if err != nil {
		return nil, err
	}

	first, err := hexSlice(payload, 0, min(len(payload), firstChunkPayload))
	if err != nil {
		return nil, err
	}
	chunks := []string{padZeros(header+first, chunkLength)}

	for start := firstChunkPayload; start < len(payload); start += chunkLength {
		s, err := hexSlice(payload, start, min(start+chunkLength, len(payload)))
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, padZeros(s, chunkLength))
	}

	return chunks, nil
}

// Builds the frame for a payload produced by bitmap.PackHex
func BuildHexFrame(payload string) (Frame, error) {
	chunks, err := HexChunks(payload)
	if err != nil {
		return nil, err
	}

	f := make(Frame, 0, len(chunks))
	for i, c := range chunks {
		b, err := hex.DecodeString(c)
		if err != nil {
			return nil, fmt.Errorf("Couldn't decode chunk %d:\n%w", i, err)
		}
		f = append(f, b)
	}
	return f, nil
}

// max number of rows the printer accepts after a single raster header
const maxBitmapHeight = 256

// Builds a raw raster frame, splitting the bitmap up into several slices if
// the height is greater than the max supported bitmap height for the device
func BuildRawFrame(b *bitmap.PackedBitmap) (Frame, error) {
	if b.Stride() > PrintWidth/8 {
		return nil, fmt.Errorf("%w: bitmap too wide for printer: %s", ErrFrameBounds, b)
	}
	strideU8 := byte(b.Stride())

	f := Frame{}
	for sliceStart := 0; sliceStart < b.Height(); sliceStart += maxBitmapHeight {
		sliceEnd := min(sliceStart+maxBitmapHeight, b.Height())

		slice := b.VerticalSlice(sliceStart, sliceEnd-sliceStart)
		f = append(f, printBitmapHeader(strideU8, uint16(slice.Height())))
		for y := range slice.Height() {
			f = append(f, slices.Clone(slice.Row(y)))
		}
	}

	return f, nil
}

// Everything sent to the printer for one bitmap, in order
func JobFrames(format bitmap.WireFormat, b bitmap.Bitmap) ([]Frame, error) {
	switch format {
	case bitmap.HexStream:
		image, err := BuildHexFrame(bitmap.PackHex(b))
		if err != nil {
			return nil, err
		}
		return []Frame{image, StopPrintJobs.Frame()}, nil

	case bitmap.RawRows:
		image, err := BuildRawFrame(bitmap.PackBitmap(b))
		if err != nil {
			return nil, err
		}
		return []Frame{
			EnablePrinter.Frame(),
			SetThickness.Frame(),
			image,
			WakeMagic.Frame(),
			PrintLineFeed.Frame(),
			StopPrintJobs.Frame(),
		}, nil
	}

	return nil, fmt.Errorf("unsupported wire format %s", format)
}
