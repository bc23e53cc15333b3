package printer

import (
	"fmt"
	"image"

	"tomgalvin.uk/luckprint/internal/bitmap"
)

// Produces the print width raster for a job
type Renderer interface {
	Text(text string) (image.Image, error)
	Image(path string) (image.Image, error)
}

// Turns a job into the frames sent for it: render, encode to a bilevel
// bitmap, pack in the configured wire format and split into chunks.
type Pipeline struct {
	Renderer Renderer
	Encoder  bitmap.EncoderOptions
	Format   bitmap.WireFormat
	Width    int
}

func (p *Pipeline) Build(j *Job) ([]Frame, error) {
	var img image.Image
	var err error

	switch {
	case j.ImagePath != "":
		img, err = p.Renderer.Image(j.ImagePath)
	case j.Text != "":
		img, err = p.Renderer.Text(j.Text)
	default:
		return nil, fmt.Errorf("%w: job has no text or image", ErrRender)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() != p.Width || bounds.Dy() == 0 {
		return nil, fmt.Errorf("%w: raster is %dx%d, expecting width %d", ErrRender, bounds.Dx(), bounds.Dy(), p.Width)
	}

	return JobFrames(p.Format, bitmap.Encode(img, p.Encoder))
}
