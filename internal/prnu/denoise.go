package prnu

import (
	"fmt"
	"math"

	"github.com/gwlsn/vidproof/internal/config"
	"github.com/gwlsn/vidproof/internal/imaging"
	"github.com/gwlsn/vidproof/internal/stats"
)

// Denoiser removes scene content from a luma plane, leaving the noise
// residual to be computed as plane - Denoise(plane).
type Denoiser interface {
	Name() string
	Denoise(p *imaging.Plane) *imaging.Plane
}

// NewDenoiser returns the named strategy. Selection happens once, at
// construction.
func NewDenoiser(name string, waveletLevels int) (Denoiser, error) {
	switch name {
	case config.DenoiserWavelet:
		return WaveletDenoiser{Levels: waveletLevels}, nil
	case config.DenoiserGaussian:
		return GaussianDenoiser{Size: 5}, nil
	default:
		return nil, fmt.Errorf("unknown denoiser %q (want one of %v)", name, config.ValidDenoisers)
	}
}

// WaveletDenoiser is Daubechies-2 wavelet shrinkage: the noise sigma is
// estimated from the finest detail bands by median absolute value, and every
// detail coefficient is soft-thresholded at the universal threshold.
type WaveletDenoiser struct {
	Levels int
}

func (WaveletDenoiser) Name() string { return config.DenoiserWavelet }

func (d WaveletDenoiser) Denoise(p *imaging.Plane) *imaging.Plane {
	levels := usableLevels(p.W, p.H, max(d.Levels, 1))
	if levels == 0 {
		return GaussianDenoiser{Size: 5}.Denoise(p)
	}

	out := p.Clone()
	dwt2(out.Pix, p.W, p.H, levels)

	finest := make([]float64, 0, len(out.Pix)*3/4)
	for y := 0; y < p.H; y++ {
		for x := 0; x < p.W; x++ {
			if isDetail(x, y, p.W, p.H, 1) {
				finest = append(finest, math.Abs(out.Pix[y*p.W+x]))
			}
		}
	}
	sigma := stats.Median(finest)/0.6745 + 1e-12
	thr := universalThreshold(sigma, len(p.Pix))

	for y := 0; y < p.H; y++ {
		for x := 0; x < p.W; x++ {
			if isDetail(x, y, p.W, p.H, levels) {
				i := y*p.W + x
				out.Pix[i] = softThreshold(out.Pix[i], thr)
			}
		}
	}

	idwt2(out.Pix, p.W, p.H, levels)
	return out
}

// GaussianDenoiser is a plain Gaussian low-pass.
type GaussianDenoiser struct {
	Size int
}

func (GaussianDenoiser) Name() string { return config.DenoiserGaussian }

func (d GaussianDenoiser) Denoise(p *imaging.Plane) *imaging.Plane {
	return imaging.GaussianBlur(p, d.Size, 0)
}
