package render

import (
	_ "embed"
	"os"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
)

// bundledFont is the UTF-8 (Cyrillic-capable) label font compiled into
// the binary, so label rendering never depends on the deployment image
// carrying system fonts.
//
//go:embed assets/DejaVuSans-Bold.ttf
var bundledFont []byte

// fallbackFontPaths are well-known system locations tried when the
// bundled font fails to parse.
var fallbackFontPaths = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Bold.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
	"/usr/share/fonts/TTF/DejaVuSans-Bold.ttf",
	"/usr/share/fonts/TTF/LiberationSans-Bold.ttf",
}

var (
	faceOnce sync.Once
	face     font.Face
)

// labelFace returns the font face used to render detection labels: the
// embedded font first, then the well-known system paths, and finally the
// basicfont platform default. That last resort is ASCII-only, so
// Cyrillic labels render as replacement glyphs rather than crashing.
func labelFace(size float64) font.Face {
	faceOnce.Do(func() {
		if f := parseFace(bundledFont, size); f != nil {
			face = f
			return
		}
		for _, path := range fallbackFontPaths {
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			if f := parseFace(data, size); f != nil {
				face = f
				return
			}
		}
		face = basicfont.Face7x13
	})
	return face
}

func parseFace(data []byte, size float64) font.Face {
	fnt, err := opentype.Parse(data)
	if err != nil {
		return nil
	}
	f, err := opentype.NewFace(fnt, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil
	}
	return f
}
