package features

import (
	"github.com/gwlsn/vidproof/internal/imaging"
	"github.com/gwlsn/vidproof/internal/sampler"
	"github.com/gwlsn/vidproof/internal/stats"
)

// Noise scores each frame by the variance of its high-pass residual
// (luma minus a 5×5 Gaussian blur).
type Noise struct {
	scores []float64
}

func NewNoise() *Noise {
	return &Noise{}
}

func (n *Noise) Name() string { return "noise" }

func (n *Noise) Observe(f *sampler.SampledFrame) error {
	residual := f.Luma.Sub(imaging.GaussianBlur(f.Luma, 5, 0))
	n.scores = append(n.scores, stats.Variance(residual.Pix))
	return nil
}

func (n *Noise) Finish(fv *FeatureVector) {
	fv.NoiseScores = roundAll(n.scores, 3)
	if len(n.scores) == 0 {
		n.Abandon(fv, "no frames")
		return
	}
	fv.NoiseStd = Value(stats.Round(stats.Std(n.scores), 2))
}

func (n *Noise) Abandon(fv *FeatureVector, reason string) {
	fv.NoiseStd = Unavailable(reason)
}
