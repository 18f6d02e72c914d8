package features

import (
	"github.com/gwlsn/vidproof/internal/imaging"
	"github.com/gwlsn/vidproof/internal/sampler"
	"github.com/gwlsn/vidproof/internal/stats"
)

// Duplicate counts consecutive sampled pairs that are nearly identical.
// The ratio is taken over comparisons (n-1), so n identical frames give 100%.
type Duplicate struct {
	threshold   float64
	prev        *imaging.Plane
	count       int
	comparisons int
}

func NewDuplicate(threshold float64) *Duplicate {
	return &Duplicate{threshold: threshold}
}

func (d *Duplicate) Name() string { return "duplicate" }

func (d *Duplicate) Observe(f *sampler.SampledFrame) error {
	if d.prev != nil {
		d.comparisons++
		if imaging.MeanAbsDiff(f.Luma, d.prev) < d.threshold {
			d.count++
		}
	}
	d.prev = f.Luma
	return nil
}

func (d *Duplicate) Finish(fv *FeatureVector) {
	fv.DuplicateCount = d.count
	fv.DuplicateComparisons = d.comparisons
	if d.comparisons == 0 {
		d.Abandon(fv, "fewer than two frames")
		return
	}
	fv.DuplicateRate = Value(stats.Round(float64(d.count)/float64(d.comparisons)*100, 2))
}

func (d *Duplicate) Abandon(fv *FeatureVector, reason string) {
	fv.DuplicateRate = Unavailable(reason)
}
