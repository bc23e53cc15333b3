package printer

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"tomgalvin.uk/luckprint/internal/bitmap"
)

func aRandomBitmap(width, height int) *bitmap.PixelBitmap {
	b := bitmap.NewPixelBitmap(width, height)
	for y := range height {
		for x := range width {
			b.SetBit(x, y, byte(rand.IntN(2)))
		}
	}
	return b
}

func TestChunkCount(t *testing.T) {
	cases := map[int]int{0: 3, 95: 3, 96: 4, 1040: 13, 9600: 103}
	for payloadLen, want := range cases {
		if got := ChunkCount(payloadLen); got != want {
			t.Errorf("ChunkCount(%d) = %d, expecting %d", payloadLen, got, want)
		}
	}
}

func TestSplitChunkCount(t *testing.T) {
	cases := []struct {
		n          int
		front, end string
	}{
		{0x5, "5", "00"},
		{0x1F, "1F", "00"},
		{0x1A3, "A3", "01"},
		{0xABC, "BC", "0A"},
		{0x1234, "234", "01"},
	}
	for _, c := range cases {
		front, end := SplitChunkCount(c.n)
		if front != c.front || end != c.end {
			t.Errorf("SplitChunkCount(%#x) = (%s, %s), expecting (%s, %s)", c.n, front, end, c.front, c.end)
		}
	}
}

func TestImageHeader(t *testing.T) {
	h, err := ImageHeader(0)
	if err != nil {
		t.Fatal(err)
	}
	want := "1D763000300030" + "0" + strings.Repeat("0", 17)
	if h != want {
		t.Errorf("ImageHeader(0) = %s, expecting %s", h, want)
	}

	// 0x1A3 chunks
	h, err = ImageHeader((0x1A3 - 3) * hexPerCountUnit)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(h, "1D7630003000A301") || len(h) != headerLength {
		t.Errorf("Unexpected header %s", h)
	}
}

func TestHexChunksShortPayload(t *testing.T) {
	chunks, err := HexChunks("ABC")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("Expecting 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if len(c) != chunkLength {
		t.Errorf("Chunk is %d digits, expecting %d", len(c), chunkLength)
	}
	if c[headerLength:headerLength+3] != "ABC" {
		t.Errorf("Payload not directly after header: %s", c)
	}
	if strings.Trim(c[headerLength+3:], "0") != "" {
		t.Errorf("Chunk isn't zero padded: %s", c)
	}
}

func TestHexChunksSplitsPayload(t *testing.T) {
	payload := strings.Repeat("F", firstChunkPayload) + strings.Repeat("A", chunkLength) + strings.Repeat("B", 10)
	chunks, err := HexChunks(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Fatalf("Expecting 3 chunks, got %d", len(chunks))
	}

	header, _ := ImageHeader(len(payload))
	if chunks[0] != header+strings.Repeat("F", firstChunkPayload) {
		t.Errorf("Unexpected first chunk %s", chunks[0])
	}
	if chunks[1] != strings.Repeat("A", chunkLength) {
		t.Errorf("Unexpected second chunk %s", chunks[1])
	}
	if chunks[2] != strings.Repeat("B", 10)+strings.Repeat("0", chunkLength-10) {
		t.Errorf("Unexpected last chunk %s", chunks[2])
	}
}

func TestHexChunksExactlyOneChunk(t *testing.T) {
	chunks, err := HexChunks(strings.Repeat("1", firstChunkPayload))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || len(chunks[0]) != chunkLength {
		t.Errorf("Expecting a single full chunk, got %d", len(chunks))
	}
}

func TestBuildHexFrameFromBitmap(t *testing.T) {
	b := aRandomBitmap(PrintWidth, 10)
	payload := bitmap.PackHex(b)
	if len(payload) != 1040 {
		t.Fatalf("Payload is %d digits, expecting 1040", len(payload))
	}

	f, err := BuildHexFrame(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(f) != 5 {
		t.Fatalf("Expecting 5 chunks, got %d", len(f))
	}
	for i, c := range f {
		if len(c) != chunkLength/2 {
			t.Errorf("Chunk %d is %d bytes, expecting %d", i, len(c), chunkLength/2)
		}
	}
	if !bytes.HasPrefix(f[0], []byte{0x1D, 0x76, 0x30, 0x00, 0x30, 0x00}) {
		t.Errorf("First chunk doesn't start with the image header: %X", f[0][:8])
	}
}

func TestHexSliceBounds(t *testing.T) {
	if _, err := hexSlice("ABCD", 2, 6); !errors.Is(err, ErrFrameBounds) {
		t.Errorf("Expecting ErrFrameBounds, got %v", err)
	}
	if _, err := hexSlice("ABCD", 3, 2); !errors.Is(err, ErrFrameBounds) {
		t.Errorf("Expecting ErrFrameBounds, got %v", err)
	}
	if s, err := hexSlice("ABCD", 1, 3); err != nil || s != "BC" {
		t.Errorf("hexSlice = (%s, %v), expecting BC", s, err)
	}
}

func TestBuildRawFrame(t *testing.T) {
	pb := bitmap.PackBitmap(aRandomBitmap(PrintWidth, 300))
	f, err := BuildRawFrame(pb)
	if err != nil {
		t.Fatal(err)
	}
	if len(f) != 1+256+1+44 {
		t.Fatalf("Expecting %d chunks, got %d", 1+256+1+44, len(f))
	}

	if !bytes.Equal(f[0], []byte{GS, 0x76, 0x30, 0x00, 48, 0x00, 0x00, 0x01}) {
		t.Errorf("Unexpected first slice header %X", f[0])
	}
	if !bytes.Equal(f[257], []byte{GS, 0x76, 0x30, 0x00, 48, 0x00, 44, 0x00}) {
		t.Errorf("Unexpected second slice header %X", f[257])
	}
	if !bytes.Equal(f[1], pb.Row(0)) || !bytes.Equal(f[258], pb.Row(256)) || !bytes.Equal(f[301], pb.Row(299)) {
		t.Error("Rows not sent in order")
	}
}

func TestBuildRawFrameTooWide(t *testing.T) {
	pb := bitmap.PackBitmap(aRandomBitmap(PrintWidth+8, 2))
	if _, err := BuildRawFrame(pb); !errors.Is(err, ErrFrameBounds) {
		t.Errorf("Expecting ErrFrameBounds, got %v", err)
	}
}

func TestJobFramesOrder(t *testing.T) {
	b := aRandomBitmap(PrintWidth, 4)

	hex, err := JobFrames(bitmap.HexStream, b)
	if err != nil {
		t.Fatal(err)
	}
	if len(hex) != 2 || !bytes.Equal(hex[1][0], StopPrintJobs.Bytes()) {
		t.Fatalf("Hex job should be the image followed by stop")
	}
	// no wake magic ahead of the image header
	if !bytes.HasPrefix(hex[0][0], []byte{0x1D, 0x76, 0x30, 0x00}) {
		t.Errorf("Hex job should open with the image header, got %X", hex[0][0][:4])
	}

	raw, err := JobFrames(bitmap.RawRows, b)
	if err != nil {
		t.Fatal(err)
	}
	want := []Command{EnablePrinter, SetThickness, -1, WakeMagic, PrintLineFeed, StopPrintJobs}
	if len(raw) != len(want) {
		t.Fatalf("Expecting %d frames, got %d", len(want), len(raw))
	}
	for i, c := range want {
		if c < 0 {
			if len(raw[i]) != 1+4 {
				t.Errorf("Image frame has %d chunks, expecting 5", len(raw[i]))
			}
			continue
		}
		if len(raw[i]) != 1 || !bytes.Equal(raw[i][0], c.Bytes()) {
			t.Errorf("Frame %d isn't %s", i, c)
		}
	}
}

func TestCommandTable(t *testing.T) {
	cases := map[Command][]byte{
		CheckMacAddress: {0x10, 0xFF, 0x30, 0x12},
		DisableShutdown: {0x10, 0xFF, 0x12, 0x00, 0x00},
		EnablePrinter:   {0x10, 0xFF, 0xF1, 0x03},
		SetThickness:    {0x10, 0xFF, 0x10, 0x00, 0x03},
		PrintLineFeed:   {0x1B, 0x4A, 0x40},
		StopPrintJobs:   {0x10, 0xFF, 0xF1, 0x45},
	}
	for c, want := range cases {
		if got := c.Bytes(); !bytes.Equal(got, want) {
			t.Errorf("%s = %X, expecting %X", c, got, want)
		}
	}

	wake := WakeMagic.Bytes()
	if len(wake) != 3096 || bytes.ContainsFunc(wake, func(r rune) bool { return r != 0 }) {
		t.Errorf("Wake magic should be 3096 zero bytes")
	}
}

func TestCommandFrameIsACopy(t *testing.T) {
	f := StopPrintJobs.Frame()
	f[0][0] = 0xAA
	if StopPrintJobs.Bytes()[0] != 0x10 {
		t.Error("Modifying a frame changed the command table")
	}
}
