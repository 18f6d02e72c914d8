package features

import (
	"github.com/gwlsn/vidproof/internal/flow"
	"github.com/gwlsn/vidproof/internal/imaging"
	"github.com/gwlsn/vidproof/internal/sampler"
	"github.com/gwlsn/vidproof/internal/stats"
)

// Motion flags flow-magnitude spikes against a rolling window of the
// preceding magnitudes. Anomalies are counted as they occur and are never
// revised by later frames.
type Motion struct {
	window  int
	k       float64
	minMean float64
	measure func(prev, next *imaging.Plane) float64

	prev       *imaging.Plane
	magnitudes []float64
	anomalies  int
}

func NewMotion(window int, k, minMean float64, opts flow.Options) *Motion {
	return &Motion{
		window:  window,
		k:       k,
		minMean: minMean,
		measure: func(prev, next *imaging.Plane) float64 {
			return flow.MeanMagnitude(prev, next, opts)
		},
	}
}

func (m *Motion) Name() string { return "motion" }

func (m *Motion) Observe(f *sampler.SampledFrame) error {
	if m.prev == nil {
		m.prev = f.Luma
		return nil
	}
	mag := m.measure(m.prev, f.Luma)
	m.prev = f.Luma

	if n := len(m.magnitudes); n >= m.window {
		mean, std := stats.MeanStd(m.magnitudes[n-m.window:])
		if mag > mean+m.k*std && mean > m.minMean {
			m.anomalies++
		}
	}
	m.magnitudes = append(m.magnitudes, mag)
	return nil
}

// Anomalies returns the running anomaly count.
func (m *Motion) Anomalies() int {
	return m.anomalies
}

func (m *Motion) Finish(fv *FeatureVector) {
	fv.MotionMagnitudes = roundAll(m.magnitudes, 4)
	if len(m.magnitudes) == 0 {
		m.Abandon(fv, "fewer than two frames")
		return
	}
	fv.MotionAnomalies = Value(float64(m.anomalies))
}

func (m *Motion) Abandon(fv *FeatureVector, reason string) {
	fv.MotionAnomalies = Unavailable(reason)
}
