package render

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GermaMirn/LineGuard-AI/internal/model"
)

func TestPercentages_RoundedToTwoDecimals(t *testing.T) {
	stats := map[string]int{"damaged_insulator": 1, "bad_insulator": 2}
	pct := Percentages(stats, 3)
	assert.InDelta(t, 33.33, pct["damaged_insulator"], 0.001)
	assert.InDelta(t, 66.67, pct["bad_insulator"], 0.001)
}

func TestPercentages_ZeroTotalObjectsIsZeroNotNaN(t *testing.T) {
	pct := Percentages(map[string]int{"foo": 0}, 0)
	assert.Equal(t, float64(0), pct["foo"])
}

func encodeSolidJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, jpeg.Encode(buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestAnnotate_ProducesValidJPEGSameDimensions(t *testing.T) {
	src := encodeSolidJPEG(t, 100, 80, color.White)
	detections := []model.Detection{
		{Class: "damaged_insulator", Confidence: 0.91, BBox: [4]int{10, 10, 50, 50}},
		{Class: "bird_nest", Confidence: 0.5, BBox: [4]int{60, 20, 90, 60}},
	}
	out, err := Annotate(src, detections)
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, decoded.Bounds().Dx())
	assert.Equal(t, 80, decoded.Bounds().Dy())
}

func TestAnnotate_NoDetectionsStillEncodes(t *testing.T) {
	src := encodeSolidJPEG(t, 20, 20, color.Black)
	out, err := Annotate(src, nil)
	require.NoError(t, err)
	_, err = jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
}

func TestLabelFace_CarriesCyrillicGlyphs(t *testing.T) {
	face := labelFace(fontSize)
	for _, r := range "Повреждение" {
		_, ok := face.GlyphAdvance(r)
		assert.True(t, ok, "label face is missing glyph %q", r)
	}
}

func TestAnnotate_CyrillicLocalizedLabel(t *testing.T) {
	src := encodeSolidJPEG(t, 120, 120, color.White)
	detections := []model.Detection{
		{
			Class:          "damaged_insulator",
			ClassLocalized: "Повреждённый изолятор",
			Confidence:     0.87,
			BBox:           [4]int{20, 40, 100, 110},
		},
	}
	out, err := Annotate(src, detections)
	require.NoError(t, err)
	_, err = jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
}
