package model

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

// DefaultMaxImagePixels bounds width*height of an upload before decoding.
const DefaultMaxImagePixels = 40_000_000

// DecodeImage decodes JPEG, PNG or GIF bytes. The header is checked first so
// an image declaring more than maxPixels pixels is rejected before the
// decoder allocates its pixel buffer. maxPixels <= 0 uses DefaultMaxImagePixels.
func DecodeImage(data []byte, maxPixels int64) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty upload", ErrInvalidImage)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxImagePixels
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: empty dimensions %dx%d", ErrInvalidImage, cfg.Width, cfg.Height)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > maxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, format, nil
}

// Preprocess converts an image to the planar RGB tensor the model expects.
// Pixels are scaled to [0,1] and then normalised with the metadata mean/std
// when present.
func Preprocess(img image.Image, meta Metadata) []float32 {
	targetSize := uint(meta.ImageSize)
	resized := resize.Resize(targetSize, targetSize, img, resize.Lanczos3)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	inputData := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			pixelIndex := y*width + x
			inputData[pixelIndex] = normalize(float32(r)/65535.0, meta, 0)
			inputData[plane+pixelIndex] = normalize(float32(g)/65535.0, meta, 1)
			inputData[2*plane+pixelIndex] = normalize(float32(b)/65535.0, meta, 2)
		}
	}
	return inputData
}

func normalize(v float32, meta Metadata, channel int) float32 {
	if len(meta.Mean) == 3 {
		v -= meta.Mean[channel]
	}
	if len(meta.Std) == 3 {
		v /= meta.Std[channel]
	}
	return v
}
