package bitmap

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/makeworld-the-better-one/dither/v2"
)

// How grey levels are reduced to ink/no ink
type Strategy int

const (
	// Fixed threshold at 128, no dithering
	Threshold Strategy = iota
	// Error diffusion with one of the Matrices kernels
	Diffusion
	// Ordered (Bayer) dithering
	Ordered
)

func (s Strategy) String() string {
	switch s {
	case Threshold:
		return "threshold"
	case Diffusion:
		return "diffusion"
	case Ordered:
		return "ordered"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "threshold", "":
		return Threshold, nil
	case "diffusion":
		return Diffusion, nil
	case "ordered":
		return Ordered, nil
	default:
		return 0, fmt.Errorf("unknown dither strategy %q", s)
	}
}

const (
	DefaultBrightness = 0.35
	thresholdContrast = 1.45
	ditherContrast    = 3.55

	// grey levels below this are printed as ink
	inkThreshold = 128

	DefaultMatrix = "floyd-steinberg"
)

// Error diffusion kernels selectable by name
var Matrices = map[string]dither.ErrorDiffusionMatrix{
	"floyd-steinberg":     dither.FloydSteinberg,
	"atkinson":            dither.Atkinson,
	"jarvis-judice-ninke": dither.JarvisJudiceNinke,
	"stucki":              dither.Stucki,
	"burkes":              dither.Burkes,
	"sierra":              dither.Sierra,
}

type EncoderOptions struct {
	Strategy   Strategy
	Brightness float64
	Contrast   float64
	// Name of the kernel in Matrices used by Diffusion
	Matrix string
}

// Brightness and contrast tuned for the LuckP print head. Dithered output
// needs a much steeper contrast curve than plain thresholding to avoid
// washed out prints.
func DefaultEncoderOptions(s Strategy) EncoderOptions {
	o := EncoderOptions{
		Strategy:   s,
		Brightness: DefaultBrightness,
		Contrast:   thresholdContrast,
		Matrix:     DefaultMatrix,
	}
	if s != Threshold {
		o.Contrast = ditherContrast
	}
	return o
}

// Applies the linear brightness/contrast correction to a single grey level
func Adjust(v uint8, brightness, contrast float64) uint8 {
	f := (float64(v)+(brightness-0.5)*256-128)*contrast*contrast + 128
	return uint8(math.Round(math.Max(0, math.Min(255, f))))
}

// Grey level of a pixel composited over white paper, using the same
// weights as color.GrayModel
func luminance(c color.Color) uint8 {
	r, g, b, a := c.RGBA()
	y := (19595*r + 38470*g + 7471*b + 1<<15) >> 16
	y += 0xffff - a
	return uint8(y >> 8)
}

// Turns a raster into a bilevel bitmap of the same size. Encoding an empty
// raster is a programming error and panics.
func Encode(img image.Image, opts EncoderOptions) *PixelBitmap {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		panic(fmt.Sprintf("bitmap: cannot encode a %dx%d raster", width, height))
	}

	gray := image.NewGray(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			v := luminance(img.At(bounds.Min.X+x, bounds.Min.Y+y))
			gray.SetGray(x, y, color.Gray{Y: Adjust(v, opts.Brightness, opts.Contrast)})
		}
	}

	switch opts.Strategy {
	case Diffusion:
		m, ok := Matrices[opts.Matrix]
		if !ok {
			m = dither.FloydSteinberg
		}
		return diffuse(gray, m)
	case Ordered:
		return ordered(gray)
	default:
		return threshold(gray)
	}
}

func threshold(gray *image.Gray) *PixelBitmap {
	width, height := gray.Rect.Dx(), gray.Rect.Dy()
	b := NewPixelBitmap(width, height)
	for y := range height {
		for x := range width {
			if gray.GrayAt(x, y).Y < inkThreshold {
				b.SetBit(x, y, 1)
			}
		}
	}
	return b
}

// Serpentine error diffusion quantising at inkThreshold
func diffuse(gray *image.Gray, m dither.ErrorDiffusionMatrix) *PixelBitmap {
	width, height := gray.Rect.Dx(), gray.Rect.Dy()
	values := make([]float32, width*height)
	for y := range height {
		for x := range width {
			values[y*width+x] = float32(gray.GrayAt(x, y).Y)
		}
	}

	cur := m.CurrentPixel()
	b := NewPixelBitmap(width, height)
	for y := range height {
		dir, start := 1, 0
		if y%2 == 1 {
			dir, start = -1, width-1
		}
		for i := range width {
			x := start + i*dir
			old := values[y*width+x]
			var quantised float32 = 255
			if old < inkThreshold {
				quantised = 0
				b.SetBit(x, y, 1)
			}
			e := old - quantised

			for dy, row := range m {
				for dx, k := range row {
					if k == 0 {
						continue
					}
					nx, ny := x+(dx-cur)*dir, y+dy
					if nx < 0 || nx >= width || ny >= height {
						continue
					}
					values[ny*width+nx] += e * k
				}
			}
		}
	}
	return b
}

var bayer = dither.Bayer(4, 4, 1.0)

// Ordered dithering with the library's 4x4 Bayer offsets, applied to the
// adjusted grey level directly and quantised at inkThreshold
func ordered(gray *image.Gray) *PixelBitmap {
	width, height := gray.Rect.Dx(), gray.Rect.Dy()
	b := NewPixelBitmap(width, height)
	for y := range height {
		for x := range width {
			v := uint16(gray.GrayAt(x, y).Y) * 0x101
			mapped, _, _ := bayer(x, y, v, v, v)
			if mapped < inkThreshold*0x101 {
				b.SetBit(x, y, 1)
			}
		}
	}
	return b
}
