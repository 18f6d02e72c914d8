package imaging

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidRGBA(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func noisyRGBA(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 255
	}
	return img
}

func TestLumaFromRGBA(t *testing.T) {
	img := solidRGBA(4, 3, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	p := LumaFromRGBA(img)
	require.Equal(t, 4, p.W)
	require.Equal(t, 3, p.H)
	want := 0.299*200 + 0.587*100 + 0.114*50
	for _, v := range p.Pix {
		assert.InDelta(t, want, v, 1e-9)
	}

	g := GrayFromRGBA(img)
	assert.Equal(t, uint8(124), g.GrayAt(2, 2).Y)
}

func TestMeanAbsDiff(t *testing.T) {
	a := solidRGBA(8, 8, color.RGBA{R: 10, G: 10, B: 10, A: 255})
	b := solidRGBA(8, 8, color.RGBA{R: 13, G: 10, B: 7, A: 255})
	assert.InDelta(t, 2.0, MeanAbsDiffRGB(a, b), 1e-12)
	assert.Equal(t, 0.0, MeanAbsDiffRGB(a, a))

	pa := LumaFromRGBA(a)
	pb := pa.Clone()
	for i := range pb.Pix {
		pb.Pix[i] += 1.5
	}
	assert.InDelta(t, 1.5, MeanAbsDiff(pa, pb), 1e-12)
}

func TestGaussianKernel(t *testing.T) {
	k := GaussianKernel(5, 0)
	require.Len(t, k, 5)
	var sum float64
	for _, v := range k {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.InDelta(t, k[0], k[4], 1e-15)
	assert.Greater(t, k[2], k[1])
}

func TestGaussianBlurPreservesConstant(t *testing.T) {
	p := NewPlane(9, 7)
	for i := range p.Pix {
		p.Pix[i] = 42
	}
	out := GaussianBlur(p, 5, 0)
	for _, v := range out.Pix {
		assert.InDelta(t, 42.0, v, 1e-9)
	}
}

func TestGaussianBlurReducesNoise(t *testing.T) {
	p := LumaFromRGBA(noisyRGBA(32, 32, 1))
	blurred := GaussianBlur(p, 5, 0)
	assert.Less(t, variance(blurred.Pix), variance(p.Pix))
}

func TestReflect101(t *testing.T) {
	assert.Equal(t, 1, reflect101(-1, 5))
	assert.Equal(t, 2, reflect101(-2, 5))
	assert.Equal(t, 3, reflect101(5, 5))
	assert.Equal(t, 0, reflect101(3, 1))
}

func TestResize(t *testing.T) {
	img := solidRGBA(64, 48, color.RGBA{R: 90, G: 90, B: 90, A: 255})
	small := Resize(img, 16, 12)
	assert.Equal(t, 16, small.Bounds().Dx())
	assert.Equal(t, 12, small.Bounds().Dy())
	assert.InDelta(t, 90, int(small.RGBAAt(5, 5).R), 1)

	g := ResizeGray(GrayFromRGBA(img), 10, 10)
	assert.Equal(t, 10, g.Bounds().Dx())
}

func TestErrorLevelVariance(t *testing.T) {
	flat := solidRGBA(32, 32, color.RGBA{R: 128, G: 128, B: 128, A: 255})
	v, err := ErrorLevelVariance(flat, 90)
	require.NoError(t, err)
	assert.Less(t, v, 0.5, "flat image should survive recompression nearly unchanged")

	noisy := noisyRGBA(32, 32, 7)
	vn, err := ErrorLevelVariance(noisy, 75)
	require.NoError(t, err)
	assert.Greater(t, vn, v)
}

func variance(xs []float64) float64 {
	var m float64
	for _, x := range xs {
		m += x
	}
	m /= float64(len(xs))
	var acc float64
	for _, x := range xs {
		acc += (x - m) * (x - m)
	}
	return acc / float64(len(xs))
}
