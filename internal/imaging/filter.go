package imaging

import "math"

// GaussianKernel returns a normalised 1-D Gaussian kernel of the given odd
// size. A non-positive sigma is derived from the size the way common vision
// libraries do: 0.3*((size-1)*0.5-1)+0.8.
func GaussianKernel(size int, sigma float64) []float64 {
	if size < 1 {
		size = 1
	}
	if size%2 == 0 {
		size++
	}
	if sigma <= 0 {
		sigma = 0.3*(float64(size-1)*0.5-1) + 0.8
	}
	k := make([]float64, size)
	half := size / 2
	var sum float64
	for i := range k {
		d := float64(i - half)
		k[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// GaussianBlur applies a separable size×size Gaussian blur with mirrored
// (reflect-101) borders.
func GaussianBlur(p *Plane, size int, sigma float64) *Plane {
	k := GaussianKernel(size, sigma)
	return convolveSeparable(p, k)
}

// BoxBlur applies a separable mean filter of the given odd size.
func BoxBlur(p *Plane, size int) *Plane {
	if size%2 == 0 {
		size++
	}
	k := make([]float64, size)
	for i := range k {
		k[i] = 1 / float64(size)
	}
	return convolveSeparable(p, k)
}

func convolveSeparable(p *Plane, k []float64) *Plane {
	half := len(k) / 2
	tmp := NewPlane(p.W, p.H)
	out := NewPlane(p.W, p.H)

	for y := 0; y < p.H; y++ {
		row := p.Pix[y*p.W : (y+1)*p.W]
		for x := 0; x < p.W; x++ {
			var acc float64
			for i, kv := range k {
				acc += kv * row[reflect101(x+i-half, p.W)]
			}
			tmp.Pix[y*p.W+x] = acc
		}
	}
	for y := 0; y < p.H; y++ {
		for x := 0; x < p.W; x++ {
			var acc float64
			for i, kv := range k {
				acc += kv * tmp.Pix[reflect101(y+i-half, p.H)*p.W+x]
			}
			out.Pix[y*p.W+x] = acc
		}
	}
	return out
}

// reflect101 mirrors i into [0, n) without repeating the edge sample.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}
