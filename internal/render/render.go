// Package render implements annotation rendering: overlay detection
// boxes and labels onto an image and re-encode as JPEG. Decoding and
// compositing go through github.com/disintegration/imaging, label text
// through golang.org/x/image/font with a Cyrillic-capable face.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/GermaMirn/LineGuard-AI/internal/model"
)

var (
	colorDefect = color.NRGBA{R: 239, G: 68, B: 68, A: 255}
	colorNormal = color.NRGBA{R: 34, G: 197, B: 94, A: 255}
	colorWhite  = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

const (
	boxThickness = 3
	labelHeight  = 20
	labelPadX    = 5
	fontSize     = 14
)

// Annotate draws every detection's bbox and label onto the source image
// and returns JPEG-encoded bytes (quality 90).
func Annotate(src []byte, detections []model.Detection) ([]byte, error) {
	decoded, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	bounds := decoded.Bounds()

	// Normalize into RGB: composite onto a white background using the
	// source's own alpha (or lack of it) as the mask.
	canvas := image.NewNRGBA(bounds)
	draw.Draw(canvas, bounds, image.NewUniform(colorWhite), image.Point{}, draw.Src)
	draw.Draw(canvas, bounds, decoded, bounds.Min, draw.Over)

	// Paint boxes and labels into a transparent overlay, then
	// alpha-composite it back onto the canvas before encoding.
	overlay := image.NewNRGBA(bounds)
	face := labelFace(fontSize)
	for _, d := range detections {
		drawDetection(overlay, d, face, bounds)
	}
	draw.Draw(canvas, bounds, overlay, bounds.Min, draw.Over)

	out := &bytes.Buffer{}
	// image/jpeg's encoder does not expose a standalone "progressive"
	// toggle; Quality 90 is the only tunable the stdlib codec offers, so
	// that is what the contract's "quality=90, optimize on" maps to here.
	if err := jpeg.Encode(out, canvas, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode annotated jpeg: %w", err)
	}
	return out.Bytes(), nil
}

func drawDetection(overlay *image.NRGBA, d model.Detection, face font.Face, bounds image.Rectangle) {
	x1, y1, x2, y2 := d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3]
	col := colorNormal
	if model.IsDefectiveClass(d.Class) {
		col = colorDefect
	}

	drawRectOutline(overlay, x1, y1, x2, y2, col, boxThickness)

	label := fmt.Sprintf("%s %.0f%%", labelText(d), d.Confidence*100)
	textWidth := measureText(face, label)
	labelY1 := y1 - labelHeight
	if labelY1 < bounds.Min.Y {
		labelY1 = bounds.Min.Y
	}
	labelRect := image.Rect(x1, labelY1, x1+textWidth+2*labelPadX, y1)
	draw.Draw(overlay, labelRect, image.NewUniform(col), image.Point{}, draw.Src)

	drawText(overlay, label, face, x1+labelPadX, y1-6)
}

func labelText(d model.Detection) string {
	if d.ClassLocalized != "" {
		return d.ClassLocalized
	}
	return d.Class
}

func drawRectOutline(img *image.NRGBA, x1, y1, x2, y2 int, col color.NRGBA, thickness int) {
	fill := func(r image.Rectangle) {
		draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(col), image.Point{}, draw.Src)
	}
	fill(image.Rect(x1, y1, x2, y1+thickness))
	fill(image.Rect(x1, y2-thickness, x2, y2))
	fill(image.Rect(x1, y1, x1+thickness, y2))
	fill(image.Rect(x2-thickness, y1, x2, y2))
}

func measureText(face font.Face, s string) int {
	d := &font.Drawer{Face: face}
	return d.MeasureString(s).Ceil()
}

func drawText(img *image.NRGBA, s string, face font.Face, x, y int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(colorWhite),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// Percentages derives per-class detection percentages rounded to 2
// decimals (count / total_objects * 100) for the job's final metadata.
func Percentages(statistics map[string]int, totalObjects int) map[string]float64 {
	out := make(map[string]float64, len(statistics))
	if totalObjects == 0 {
		for class := range statistics {
			out[class] = 0
		}
		return out
	}
	for class, count := range statistics {
		pct := float64(count) / float64(totalObjects) * 100
		out[class] = math.Round(pct*100) / 100
	}
	return out
}
