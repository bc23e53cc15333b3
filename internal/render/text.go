package render

import (
	"image"
	"math"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

const (
	headerDashes = 27
	// trailing blank space so the last line clears the tear bar
	trailingSpaces = headerDashes * 5
	linePadding    = 2
)

// Breaks text into lines for a canvas width pixels wide. Narrow runes (Latin-1
// and below) take half a unit, everything else a whole one, and a line holds
// floor(width/size) - 2 units.
func wrapText(text string, width int, size float64) []string {
	limit := math.Floor(float64(width)/size) - 2

	var lines []string
	var line strings.Builder
	length := 0.0
	for _, c := range text {
		if c == '\n' {
			lines = append(lines, line.String())
			line.Reset()
			length = 0
			continue
		}

		l := 1.0
		if c <= 0x100 {
			l = 0.5
		}
		if length+l > limit && line.Len() > 0 {
			lines = append(lines, line.String())
			line.Reset()
			length = 0
		}
		length += l
		line.WriteRune(c)
	}
	lines = append(lines, line.String())

	return lines
}

// Lays the text out under a dashed rule, black on white
func (r *Renderer) Text(text string) (image.Image, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	content := strings.Repeat("-", headerDashes) + "\n" + text + strings.Repeat(" ", trailingSpaces)
	lines := wrapText(content, r.width, r.fontSize)

	metrics := r.face.Metrics()
	pitch := metrics.Height.Ceil() + linePadding
	// one spare line at the bottom
	img := image.NewRGBA(image.Rect(0, 0, r.width, pitch*(len(lines)+1)))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: r.face,
	}
	for i, line := range lines {
		d.Dot = fixed.Point26_6{X: fixed.I(1), Y: fixed.I(pitch*i) + metrics.Ascent}
		d.DrawString(line)
	}

	return img, nil
}
