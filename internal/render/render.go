// Package render produces the rasters that get printed: text laid out on a
// receipt-width white canvas, or a photo scaled to the print width.
package render

import (
	"errors"
	"fmt"

	"golang.org/x/image/font"
)

const DefaultFontSize = 24

var ErrEmptyText = errors.New("nothing to print")

type Renderer struct {
	width    int
	fontSize float64
	face     font.Face
}

func New(width int, f FontConfig) (*Renderer, error) {
	if width <= 0 {
		return nil, fmt.Errorf("invalid canvas width %d", width)
	}
	if f.Size <= 0 {
		f.Size = DefaultFontSize
	}

	face, err := loadFont(f)
	if err != nil {
		return nil, err
	}
	return &Renderer{width: width, fontSize: f.Size, face: face}, nil
}

func (r *Renderer) Width() int {
	return r.width
}
