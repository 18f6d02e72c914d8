// Package flow estimates dense optical flow between two luma planes with a
// pyramidal Lucas-Kanade solver. Window sums use integral images, so the cost
// per level is linear in the pixel count regardless of window size.
package flow

import (
	"math"

	"github.com/gwlsn/vidproof/internal/imaging"
)

// Options controls the solver.
type Options struct {
	Levels     int // pyramid levels including full resolution
	Window     int // odd integration window size
	Iterations int // warping iterations per level
	MaxWidth   int // planes wider than this are downscaled first (0 = never)
}

// DefaultOptions mirrors a typical Farneback setup: 3 levels, 15px window, 3 iterations.
func DefaultOptions() Options {
	return Options{Levels: 3, Window: 15, Iterations: 3, MaxWidth: 320}
}

// Field is a dense displacement field in pixels of the input planes.
type Field struct {
	W, H int
	U, V []float64
}

// MeanMagnitude returns the average displacement length.
func (f *Field) MeanMagnitude() float64 {
	if len(f.U) == 0 {
		return 0
	}
	var sum float64
	for i := range f.U {
		sum += math.Hypot(f.U[i], f.V[i])
	}
	return sum / float64(len(f.U))
}

// MeanMagnitude computes flow from prev to next and returns its mean length
// expressed in pixels of the input planes.
func MeanMagnitude(prev, next *imaging.Plane, opts Options) float64 {
	return Dense(prev, next, opts).MeanMagnitude()
}

// Dense computes the flow field from prev to next. When MaxWidth downscales
// the inputs, the returned field has the reduced size but vectors are scaled
// back to input pixel units.
func Dense(prev, next *imaging.Plane, opts Options) *Field {
	if opts.Levels < 1 {
		opts.Levels = 1
	}
	if opts.Window < 3 {
		opts.Window = 3
	}
	if opts.Window%2 == 0 {
		opts.Window++
	}
	if opts.Iterations < 1 {
		opts.Iterations = 1
	}

	scale := 1.0
	if opts.MaxWidth > 0 && prev.W > opts.MaxWidth {
		scale = float64(prev.W) / float64(opts.MaxWidth)
		h := int(math.Round(float64(prev.H) / scale))
		if h < 1 {
			h = 1
		}
		prev = imaging.ResizePlane(prev, opts.MaxWidth, h)
		next = imaging.ResizePlane(next, opts.MaxWidth, h)
	}

	pyrPrev := pyramid(prev, opts.Levels)
	pyrNext := pyramid(next, opts.Levels)

	var u, v []float64
	for l := len(pyrPrev) - 1; l >= 0; l-- {
		p, n := pyrPrev[l], pyrNext[l]
		if u == nil {
			u = make([]float64, p.W*p.H)
			v = make([]float64, p.W*p.H)
		} else {
			u, v = upsample(u, v, pyrPrev[l+1].W, pyrPrev[l+1].H, p.W, p.H)
		}
		for it := 0; it < opts.Iterations; it++ {
			refine(p, n, u, v, opts.Window)
		}
	}

	if scale != 1 {
		for i := range u {
			u[i] *= scale
			v[i] *= scale
		}
	}
	return &Field{W: prev.W, H: prev.H, U: u, V: v}
}

// pyramid returns levels from full resolution down; it stops early once a
// level would drop below 16 pixels on either side.
func pyramid(p *imaging.Plane, levels int) []*imaging.Plane {
	out := []*imaging.Plane{p}
	for len(out) < levels {
		cur := out[len(out)-1]
		if cur.W/2 < 16 || cur.H/2 < 16 {
			break
		}
		out = append(out, halve(cur))
	}
	return out
}

func halve(p *imaging.Plane) *imaging.Plane {
	w, h := p.W/2, p.H/2
	out := imaging.NewPlane(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s := p.At(2*x, 2*y) + p.At(2*x+1, 2*y) + p.At(2*x, 2*y+1) + p.At(2*x+1, 2*y+1)
			out.Pix[y*w+x] = s / 4
		}
	}
	return out
}

func upsample(u, v []float64, w, h, nw, nh int) ([]float64, []float64) {
	nu := make([]float64, nw*nh)
	nv := make([]float64, nw*nh)
	for y := 0; y < nh; y++ {
		sy := min(y/2, h-1)
		for x := 0; x < nw; x++ {
			sx := min(x/2, w-1)
			nu[y*nw+x] = 2 * u[sy*w+sx]
			nv[y*nw+x] = 2 * v[sy*w+sx]
		}
	}
	return nu, nv
}

// refine performs one Lucas-Kanade update of (u, v) in place.
func refine(prev, next *imaging.Plane, u, v []float64, window int) {
	w, h := prev.W, prev.H
	n := w * h
	ixx := make([]float64, n)
	ixy := make([]float64, n)
	iyy := make([]float64, n)
	ixt := make([]float64, n)
	iyt := make([]float64, n)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			warped := sample(next, float64(x)+u[i], float64(y)+v[i])
			gx := (prev.At(clampInt(x+1, w), y) - prev.At(clampInt(x-1, w), y)) / 2
			gy := (prev.At(x, clampInt(y+1, h)) - prev.At(x, clampInt(y-1, h))) / 2
			gt := warped - prev.Pix[i]
			ixx[i] = gx * gx
			ixy[i] = gx * gy
			iyy[i] = gy * gy
			ixt[i] = gx * gt
			iyt[i] = gy * gt
		}
	}

	sxx := boxSum(ixx, w, h, window)
	sxy := boxSum(ixy, w, h, window)
	syy := boxSum(iyy, w, h, window)
	sxt := boxSum(ixt, w, h, window)
	syt := boxSum(iyt, w, h, window)

	const eps = 1e-6
	for i := 0; i < n; i++ {
		det := sxx[i]*syy[i] - sxy[i]*sxy[i]
		if math.Abs(det) < eps {
			continue
		}
		du := (-syy[i]*sxt[i] + sxy[i]*syt[i]) / det
		dv := (sxy[i]*sxt[i] - sxx[i]*syt[i]) / det
		u[i] += du
		v[i] += dv
	}
}

// boxSum returns, for every pixel, the sum of src over the window centred on
// it, clipped at the borders.
func boxSum(src []float64, w, h, window int) []float64 {
	integral := make([]float64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var row float64
		for x := 0; x < w; x++ {
			row += src[y*w+x]
			integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + row
		}
	}

	half := window / 2
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		y0, y1 := max(0, y-half), min(h, y+half+1)
		for x := 0; x < w; x++ {
			x0, x1 := max(0, x-half), min(w, x+half+1)
			out[y*w+x] = integral[y1*(w+1)+x1] - integral[y0*(w+1)+x1] - integral[y1*(w+1)+x0] + integral[y0*(w+1)+x0]
		}
	}
	return out
}

// sample reads p at a fractional position with bilinear interpolation and
// edge clamping.
func sample(p *imaging.Plane, fx, fy float64) float64 {
	fx = math.Max(0, math.Min(float64(p.W-1), fx))
	fy = math.Max(0, math.Min(float64(p.H-1), fy))
	x0, y0 := int(fx), int(fy)
	x1, y1 := min(x0+1, p.W-1), min(y0+1, p.H-1)
	ax, ay := fx-float64(x0), fy-float64(y0)
	top := p.At(x0, y0)*(1-ax) + p.At(x1, y0)*ax
	bot := p.At(x0, y1)*(1-ax) + p.At(x1, y1)*ax
	return top*(1-ay) + bot*ay
}

func clampInt(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
