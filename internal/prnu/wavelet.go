package prnu

import "math"

// Daubechies-2 reconstruction low-pass filter. The high-pass filter is its
// quadrature mirror: g[n] = (-1)^n h[3-n].
var db2Lo = [4]float64{
	0.48296291314469025,
	0.836516303737469,
	0.22414386804185735,
	-0.12940952255092145,
}

var db2Hi = [4]float64{
	db2Lo[3],
	-db2Lo[2],
	db2Lo[1],
	-db2Lo[0],
}

// dwt1 performs one periodised analysis step on n samples of src taken with
// the given stride, writing n/2 approximation then n/2 detail coefficients
// to dst (contiguous).
func dwt1(src []float64, off, stride, n int, dst []float64) {
	half := n / 2
	for k := 0; k < half; k++ {
		var a, d float64
		for i := 0; i < 4; i++ {
			x := src[off+((2*k+i)%n)*stride]
			a += db2Lo[i] * x
			d += db2Hi[i] * x
		}
		dst[k] = a
		dst[half+k] = d
	}
}

// idwt1 inverts dwt1: src holds n/2 approximation then n/2 detail
// coefficients; the n reconstructed samples are written to dst with stride.
func idwt1(src []float64, dst []float64, off, stride, n int) {
	half := n / 2
	for i := 0; i < n; i++ {
		dst[off+i*stride] = 0
	}
	for k := 0; k < half; k++ {
		a, d := src[k], src[half+k]
		for i := 0; i < 4; i++ {
			idx := off + ((2*k+i)%n)*stride
			dst[idx] += db2Lo[i]*a + db2Hi[i]*d
		}
	}
}

// dwt2 decomposes data (w×h, row-major) in place for the given number of
// levels using the Mallat layout: after each level the approximation band
// occupies the top-left quadrant of the previous region.
func dwt2(data []float64, w, h, levels int) {
	buf := make([]float64, max(w, h))
	cw, ch := w, h
	for l := 0; l < levels; l++ {
		for y := 0; y < ch; y++ {
			dwt1(data, y*w, 1, cw, buf)
			copy(data[y*w:y*w+cw], buf[:cw])
		}
		for x := 0; x < cw; x++ {
			dwt1(data, x, w, ch, buf)
			for y := 0; y < ch; y++ {
				data[y*w+x] = buf[y]
			}
		}
		cw /= 2
		ch /= 2
	}
}

// idwt2 inverts dwt2.
func idwt2(data []float64, w, h, levels int) {
	buf := make([]float64, max(w, h))
	for l := levels - 1; l >= 0; l-- {
		cw, ch := w>>l, h>>l
		for x := 0; x < cw; x++ {
			for y := 0; y < ch; y++ {
				buf[y] = data[y*w+x]
			}
			idwt1(buf, data, x, w, ch)
		}
		for y := 0; y < ch; y++ {
			copy(buf[:cw], data[y*w:y*w+cw])
			idwt1(buf, data, y*w, 1, cw)
		}
	}
}

// usableLevels returns how many periodised levels fit w×h: each level
// halves both sides and needs at least the filter length of samples.
func usableLevels(w, h, want int) int {
	levels := 0
	for levels < want && w%2 == 0 && h%2 == 0 && w >= 4 && h >= 4 {
		w /= 2
		h /= 2
		levels++
	}
	return levels
}

// isDetail reports whether (x, y) lies outside the approximation band of a
// w×h decomposition at the given level.
func isDetail(x, y, w, h, level int) bool {
	return x >= w>>level || y >= h>>level
}

func softThreshold(v, t float64) float64 {
	switch {
	case v > t:
		return v - t
	case v < -t:
		return v + t
	default:
		return 0
	}
}

// universalThreshold is sigma·sqrt(2·ln n).
func universalThreshold(sigma float64, n int) float64 {
	return sigma * math.Sqrt(2*math.Log(float64(n)))
}
