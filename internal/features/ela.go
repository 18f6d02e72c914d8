package features

import (
	"github.com/gwlsn/vidproof/internal/imaging"
	"github.com/gwlsn/vidproof/internal/sampler"
	"github.com/gwlsn/vidproof/internal/stats"
)

// ELA scores each frame by the variance of its JPEG re-compression error,
// averaged over several qualities. The spread of scores across frames is the
// signal.
type ELA struct {
	qualities []int
	scores    []float64
}

func NewELA(qualities []int) *ELA {
	return &ELA{qualities: qualities}
}

func (e *ELA) Name() string { return "ela" }

func (e *ELA) Observe(f *sampler.SampledFrame) error {
	var sum float64
	for _, q := range e.qualities {
		v, err := imaging.ErrorLevelVariance(f.Image, q)
		if err != nil {
			return err
		}
		sum += v
	}
	e.scores = append(e.scores, sum/float64(len(e.qualities)))
	return nil
}

func (e *ELA) Finish(fv *FeatureVector) {
	fv.ELAScores = roundAll(e.scores, 3)
	if len(e.scores) == 0 {
		e.Abandon(fv, "no frames")
		return
	}
	mean, std := stats.MeanStd(e.scores)
	fv.ELAStd = Value(stats.Round(std, 2))
	fv.ELAMean = Value(stats.Round(mean, 2))
}

func (e *ELA) Abandon(fv *FeatureVector, reason string) {
	fv.ELAStd = Unavailable(reason)
	fv.ELAMean = Unavailable(reason)
}

func roundAll(xs []float64, places int) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = stats.Round(x, places)
	}
	return out
}
