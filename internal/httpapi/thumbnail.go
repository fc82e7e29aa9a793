package httpapi

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

const thumbnailMaxSide = 400

// makeThumbnail decodes an arbitrary raster image, shrinks it so its
// longest side is at most thumbnailMaxSide pixels (images already within
// bounds are left alone), and re-encodes it as base64 JPEG.
func makeThumbnail(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > thumbnailMaxSide || h > thumbnailMaxSide {
		if w >= h {
			img = resize.Resize(thumbnailMaxSide, 0, img, resize.Lanczos3)
		} else {
			img = resize.Resize(0, thumbnailMaxSide, img, resize.Lanczos3)
		}
	}

	out := &bytes.Buffer{}
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: 85}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out.Bytes()), nil
}
