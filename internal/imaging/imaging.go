// Package imaging provides the pixel-level primitives shared by the face
// locator and the descriptor extractor: decoding, downscaling, cropping
// and grayscale conversion.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// ErrDecode is returned when image bytes cannot be decoded into pixels.
var ErrDecode = errors.New("image decode failed")

// Decode decodes image bytes (JPEG, PNG, GIF or BMP) into pixel data.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// Resize scales an image to the exact target dimensions.
func Resize(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// Downscale resizes an image to fit within maxDim while keeping the aspect
// ratio. The returned scale converts coordinates in the downscaled image
// back to the original: original = downscaled * scale. Images already within
// maxDim are copied unchanged with scale 1.
func Downscale(img image.Image, maxDim int) (*image.RGBA, float64) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= maxDim && height <= maxDim {
		return Resize(img, width, height), 1
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxDim
		newHeight = int(float64(height) * float64(maxDim) / float64(width))
	} else {
		newHeight = maxDim
		newWidth = int(float64(width) * float64(maxDim) / float64(height))
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	return Resize(img, newWidth, newHeight), float64(width) / float64(newWidth)
}

// Crop copies the given region of an image into a new RGBA image whose
// bounds start at the origin. The region must lie within the image bounds.
func Crop(img image.Image, region image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(dst, dst.Bounds(), img, region.Min, draw.Src)
	return dst
}

// Grayscale converts an image to a 2D array of luma values (0-255),
// indexed as gray[x][y].
func Grayscale(img *image.RGBA) [][]float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	gray := make([][]float64, width)
	for x := range width {
		gray[x] = make([]float64, height)
		for y := range height {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// ITU-R BT.601 luma formula.
			luma := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			gray[x][y] = luma
		}
	}

	return gray
}
