package render

import (
	"fmt"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

type FontConfig struct {
	// One of the fonts compiled into the binary: goregular or gomono
	Builtin string
	// TTF or OTF file; takes precedence over Builtin
	Path string
	Size float64
}

func getFontData(f FontConfig) ([]byte, error) {
	if len(f.Path) > 0 {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("Couldn't read font file:\n%w", err)
		}
		return data, nil
	}

	switch f.Builtin {
	case "gomono":
		return gomono.TTF, nil
	case "goregular", "":
		return goregular.TTF, nil
	default:
		return nil, fmt.Errorf(`Unrecognised builtin font "%s"`, f.Builtin)
	}
}

func loadFont(f FontConfig) (font.Face, error) {
	fontData, err := getFontData(f)
	if err != nil {
		return nil, fmt.Errorf("Couldn't get font data:\n%w", err)
	}
	parsedFont, err := opentype.Parse(fontData)
	if err != nil {
		return nil, fmt.Errorf("Couldn't parse font:\n%w", err)
	}

	fontFace, err := opentype.NewFace(parsedFont, &opentype.FaceOptions{
		Size:    f.Size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("Couldn't create font face:\n%w", err)
	}

	return fontFace, nil
}
