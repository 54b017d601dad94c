package frames

import (
	"bytes"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
)

// scale resizes img to targetWidth keeping its aspect ratio.
func scale(img image.Image, targetWidth int) *image.RGBA {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 || targetWidth <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	h := max(int(math.Round(float64(targetWidth)*float64(b.Dy())/float64(b.Dx()))), 1)

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// encodeJPEG compresses img with the given quality (1-100).
func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: min(max(quality, 1), 100)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
