// Package imaging holds the raster primitives the forensic extractors share:
// float luma planes, resampling, blurring and frame differencing.
package imaging

import (
	"image"
	"math"
)

// Plane is a single-channel float64 raster in row-major order.
type Plane struct {
	W, H int
	Pix  []float64
}

// NewPlane allocates a zeroed w×h plane.
func NewPlane(w, h int) *Plane {
	return &Plane{W: w, H: h, Pix: make([]float64, w*h)}
}

// At returns the sample at (x, y).
func (p *Plane) At(x, y int) float64 {
	return p.Pix[y*p.W+x]
}

// Set stores v at (x, y).
func (p *Plane) Set(x, y int, v float64) {
	p.Pix[y*p.W+x] = v
}

// Clone returns a deep copy.
func (p *Plane) Clone() *Plane {
	c := NewPlane(p.W, p.H)
	copy(c.Pix, p.Pix)
	return c
}

// Sub returns p - q. Both planes must have the same size.
func (p *Plane) Sub(q *Plane) *Plane {
	out := NewPlane(p.W, p.H)
	for i := range p.Pix {
		out.Pix[i] = p.Pix[i] - q.Pix[i]
	}
	return out
}

// Region copies the w×h window whose top-left corner is (x0, y0) into dst,
// which is grown as needed, and returns it.
func (p *Plane) Region(x0, y0, w, h int, dst []float64) []float64 {
	dst = dst[:0]
	for y := y0; y < y0+h; y++ {
		row := p.Pix[y*p.W+x0 : y*p.W+x0+w]
		dst = append(dst, row...)
	}
	return dst
}

// luma weights (ITU-R BT.601)
const (
	wR = 0.299
	wG = 0.587
	wB = 0.114
)

// LumaFromRGBA converts an RGBA image to a float luma plane.
func LumaFromRGBA(img *image.RGBA) *Plane {
	b := img.Bounds()
	p := NewPlane(b.Dx(), b.Dy())
	for y := 0; y < p.H; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+p.W*4]
		for x := 0; x < p.W; x++ {
			i := x * 4
			p.Pix[y*p.W+x] = wR*float64(row[i]) + wG*float64(row[i+1]) + wB*float64(row[i+2])
		}
	}
	return p
}

// GrayFromRGBA converts an RGBA image to 8-bit luma.
func GrayFromRGBA(img *image.RGBA) *image.Gray {
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		for x := 0; x < b.Dx(); x++ {
			i := x * 4
			v := wR*float64(row[i]) + wG*float64(row[i+1]) + wB*float64(row[i+2])
			g.Pix[y*g.Stride+x] = uint8(math.Round(v))
		}
	}
	return g
}

// PlaneFromGray converts an 8-bit gray image to a float plane.
func PlaneFromGray(g *image.Gray) *Plane {
	b := g.Bounds()
	p := NewPlane(b.Dx(), b.Dy())
	for y := 0; y < p.H; y++ {
		row := g.Pix[y*g.Stride:]
		for x := 0; x < p.W; x++ {
			p.Pix[y*p.W+x] = float64(row[x])
		}
	}
	return p
}

// ToGray converts the plane to 8-bit gray, clamping to [0, 255].
func (p *Plane) ToGray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, p.W, p.H))
	for i, v := range p.Pix {
		switch {
		case v <= 0:
			g.Pix[i] = 0
		case v >= 255:
			g.Pix[i] = 255
		default:
			g.Pix[i] = uint8(math.Round(v))
		}
	}
	return g
}

// MeanAbsDiff returns the mean absolute difference between two equally sized planes.
func MeanAbsDiff(a, b *Plane) float64 {
	if len(a.Pix) == 0 || len(a.Pix) != len(b.Pix) {
		return 0
	}
	var sum float64
	for i := range a.Pix {
		sum += math.Abs(a.Pix[i] - b.Pix[i])
	}
	return sum / float64(len(a.Pix))
}

// MeanAbsDiffRGB returns the mean absolute difference over the R, G and B
// samples of two equally sized RGBA images. Alpha is ignored.
func MeanAbsDiffRGB(a, b *image.RGBA) float64 {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() || ab.Empty() {
		return 0
	}
	var sum int64
	w, h := ab.Dx(), ab.Dy()
	for y := 0; y < h; y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+w*4]
		rb := b.Pix[y*b.Stride : y*b.Stride+w*4]
		for i := 0; i < w*4; i += 4 {
			sum += absDiff(ra[i], rb[i]) + absDiff(ra[i+1], rb[i+1]) + absDiff(ra[i+2], rb[i+2])
		}
	}
	return float64(sum) / float64(w*h*3)
}

func absDiff(a, b uint8) int64 {
	if a > b {
		return int64(a - b)
	}
	return int64(b - a)
}
