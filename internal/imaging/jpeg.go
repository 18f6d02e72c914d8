package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"
)

// JPEGRoundTrip encodes img at the given quality and decodes it back to RGBA.
func JPEGRoundTrip(img *image.RGBA, quality int) (*image.RGBA, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg q%d: %w", quality, err)
	}
	decoded, err := jpeg.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("decode jpeg q%d: %w", quality, err)
	}
	return ToRGBA(decoded), nil
}

// ErrorLevelVariance re-encodes img at quality and returns the variance of
// the absolute per-sample difference over the R, G and B channels.
func ErrorLevelVariance(img *image.RGBA, quality int) (float64, error) {
	re, err := JPEGRoundTrip(img, quality)
	if err != nil {
		return 0, err
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	n := float64(w * h * 3)
	if n == 0 {
		return 0, nil
	}

	var sum, sumSq float64
	for y := 0; y < h; y++ {
		ra := img.Pix[y*img.Stride : y*img.Stride+w*4]
		rb := re.Pix[y*re.Stride : y*re.Stride+w*4]
		for i := 0; i < w*4; i += 4 {
			for c := 0; c < 3; c++ {
				d := math.Abs(float64(ra[i+c]) - float64(rb[i+c]))
				sum += d
				sumSq += d * d
			}
		}
	}
	mean := sum / n
	return math.Max(0, sumSq/n-mean*mean), nil
}
