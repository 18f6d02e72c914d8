package features

import (
	"math"
	"math/cmplx"

	"github.com/gwlsn/vidproof/internal/imaging"
	"github.com/gwlsn/vidproof/internal/sampler"
	"github.com/gwlsn/vidproof/internal/stats"
)

const (
	blockSize = 8
	histBins  = 100
)

// dctBasis[u][x] is the orthonormal DCT-II basis for an 8-point transform.
var dctBasis = func() [blockSize][blockSize]float64 {
	var b [blockSize][blockSize]float64
	for u := 0; u < blockSize; u++ {
		alpha := math.Sqrt(2.0 / blockSize)
		if u == 0 {
			alpha = math.Sqrt(1.0 / blockSize)
		}
		for x := 0; x < blockSize; x++ {
			b[u][x] = alpha * math.Cos(float64(2*x+1)*float64(u)*math.Pi/(2*blockSize))
		}
	}
	return b
}()

// DCT looks for periodic peaks in the histogram of 8×8 block DCT
// coefficients, the trace left by quantising an already quantised signal.
type DCT struct {
	every  int
	factor float64

	evaluated int
	spikes    int
}

func NewDCT(every int, factor float64) *DCT {
	if every < 1 {
		every = 1
	}
	return &DCT{every: every, factor: factor}
}

func (d *DCT) Name() string { return "dct" }

func (d *DCT) Observe(f *sampler.SampledFrame) error {
	if f.Seq%d.every != 0 {
		return nil
	}
	coeffs := blockCoefficients(f.Luma)
	if len(coeffs) == 0 {
		return nil
	}
	d.evaluated++
	if histogramHasSpike(coeffs, d.factor) {
		d.spikes++
	}
	return nil
}

func (d *DCT) Finish(fv *FeatureVector) {
	fv.DCTEvaluated = d.evaluated
	fv.DCTSpikes = d.spikes
	if d.evaluated == 0 {
		d.Abandon(fv, "no frames evaluated")
		return
	}
	fv.DoubleCompressionRate = Value(stats.Round(float64(d.spikes)/float64(d.evaluated)*100, 1))
}

func (d *DCT) Abandon(fv *FeatureVector, reason string) {
	fv.DoubleCompressionRate = Unavailable(reason)
}

// blockCoefficients transforms every full 8×8 block of p (level shifted by
// -128) and returns the AC coefficients outside the first row and column.
func blockCoefficients(p *imaging.Plane) []float64 {
	bw, bh := p.W/blockSize, p.H/blockSize
	if bw == 0 || bh == 0 {
		return nil
	}
	out := make([]float64, 0, bw*bh*(blockSize-1)*(blockSize-1))

	var block, tmp [blockSize][blockSize]float64
	for by := 0; by < bh; by++ {
		for bx := 0; bx < bw; bx++ {
			for y := 0; y < blockSize; y++ {
				row := p.Pix[(by*blockSize+y)*p.W+bx*blockSize:]
				for x := 0; x < blockSize; x++ {
					block[y][x] = row[x] - 128
				}
			}
			// rows then columns
			for y := 0; y < blockSize; y++ {
				for u := 0; u < blockSize; u++ {
					var acc float64
					for x := 0; x < blockSize; x++ {
						acc += dctBasis[u][x] * block[y][x]
					}
					tmp[y][u] = acc
				}
			}
			for v := 1; v < blockSize; v++ {
				for u := 1; u < blockSize; u++ {
					var acc float64
					for y := 0; y < blockSize; y++ {
						acc += dctBasis[v][y] * tmp[y][u]
					}
					out = append(out, acc)
				}
			}
		}
	}
	return out
}

// histogramHasSpike reports whether the DFT of the coefficient histogram has
// a low-frequency peak (bins 1..9) above factor × the mean of those bins.
func histogramHasSpike(coeffs []float64, factor float64) bool {
	counts, _ := stats.Histogram(coeffs, histBins)
	mags := dftMagnitudes(counts, 1, 10)
	maxMag := 0.0
	for _, m := range mags {
		maxMag = math.Max(maxMag, m)
	}
	return maxMag > stats.Mean(mags)*factor
}

// dftMagnitudes returns |X[k]| for k in [from, to).
func dftMagnitudes(xs []int, from, to int) []float64 {
	n := len(xs)
	out := make([]float64, 0, to-from)
	for k := from; k < to; k++ {
		var sum complex128
		for t, x := range xs {
			angle := -2 * math.Pi * float64(k*t) / float64(n)
			sum += complex(float64(x), 0) * cmplx.Exp(complex(0, angle))
		}
		out = append(out, cmplx.Abs(sum))
	}
	return out
}
