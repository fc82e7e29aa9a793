package httpapi

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	buf := &bytes.Buffer{}
	require.NoError(t, jpeg.Encode(buf, img, nil))
	return buf.Bytes()
}

func TestMakeThumbnail_ShrinksOversizedLongestSide(t *testing.T) {
	src := encodeJPEG(t, 800, 400)
	b64, err := makeThumbnail(src)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)

	bounds := img.Bounds()
	assert.LessOrEqual(t, bounds.Dx(), thumbnailMaxSide)
	assert.LessOrEqual(t, bounds.Dy(), thumbnailMaxSide)
}

func TestMakeThumbnail_LeavesSmallImagesAlone(t *testing.T) {
	src := encodeJPEG(t, 50, 30)
	b64, err := makeThumbnail(src)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 30, img.Bounds().Dy())
}
