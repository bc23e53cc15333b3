package render

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/disintegration/gift"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Loads a photo and scales it to the canvas width, keeping its aspect ratio
func (r *Renderer) Image(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("Couldn't open image:\n%w", err)
	}
	defer f.Close()

	src, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("Couldn't decode image %s:\n%w", path, err)
	}
	if src.Bounds().Empty() {
		return nil, fmt.Errorf("Image %s (%s) has no pixels", path, format)
	}

	return r.fit(src), nil
}

func (r *Renderer) fit(src image.Image) image.Image {
	g := gift.New(gift.Resize(r.width, 0, gift.CubicResampling))
	dst := image.NewNRGBA(g.Bounds(src.Bounds()))
	g.Draw(dst, src)
	return dst
}
