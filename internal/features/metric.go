package features

import (
	"encoding/json"
	"math"

	"github.com/gwlsn/vidproof/internal/stage"
)

// Metric is a scalar that is either a finite number or explicitly
// unavailable. Unavailable metrics serialise as JSON null, never as 0.
type Metric struct {
	Value     float64
	Available bool
	Reason    string // why the metric is unavailable
}

// Value returns an available metric. Non-finite input becomes unavailable.
func Value(v float64) Metric {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Unavailable("non-finite value")
	}
	return Metric{Value: v, Available: true}
}

// Unavailable returns a metric carrying only the reason it is missing.
func Unavailable(reason string) Metric {
	return Metric{Reason: reason}
}

// Above reports whether the metric is available and strictly greater than t.
func (m Metric) Above(t float64) bool {
	return m.Available && m.Value > t
}

// Or returns the value, or def when unavailable.
func (m Metric) Or(def float64) float64 {
	if !m.Available {
		return def
	}
	return m.Value
}

func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Available {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Unavailable("")
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Value(v)
	return nil
}

// FeatureVector is the per-run aggregate of extractor statistics. Each
// extractor owns a disjoint set of fields.
type FeatureVector struct {
	SampledFrames int `json:"sampled_frames"`

	// compression artifacts (ELA)
	ELAStd    Metric    `json:"ela_std"`
	ELAMean   Metric    `json:"ela_mean"`
	ELAScores []float64 `json:"ela_scores,omitempty"`

	// sensor/processing noise
	NoiseStd    Metric    `json:"noise_std"`
	NoiseScores []float64 `json:"noise_scores,omitempty"`

	// frame repetition
	DuplicateRate        Metric `json:"duplicate_rate_percent"`
	DuplicateCount       int    `json:"duplicate_count"`
	DuplicateComparisons int    `json:"duplicate_comparisons"`

	// optical flow
	MotionAnomalies  Metric    `json:"motion_anomalies_count"`
	MotionMagnitudes []float64 `json:"motion_magnitudes,omitempty"`

	// double compression
	DoubleCompressionRate Metric `json:"double_compression_rate"`
	DCTEvaluated          int    `json:"dct_frames_evaluated"`
	DCTSpikes             int    `json:"dct_spikes"`

	// scene-level fusion features
	SceneDuplicateRatio Metric `json:"scene_duplicate_ratio"`
	CutDensity          Metric `json:"cut_density"`
	Cuts                int    `json:"cuts"`

	// Unavailable maps metric names to the reason they could not be computed.
	Unavailable map[string]string `json:"unavailable,omitempty"`
	// Failures lists extractors that failed mid-run.
	Failures []*stage.Failure `json:"failures,omitempty"`
}

func (fv *FeatureVector) metrics() map[string]*Metric {
	return map[string]*Metric{
		"ela_std":                 &fv.ELAStd,
		"ela_mean":                &fv.ELAMean,
		"noise_std":               &fv.NoiseStd,
		"duplicate_rate_percent":  &fv.DuplicateRate,
		"motion_anomalies_count":  &fv.MotionAnomalies,
		"double_compression_rate": &fv.DoubleCompressionRate,
		"scene_duplicate_ratio":   &fv.SceneDuplicateRatio,
		"cut_density":             &fv.CutDensity,
	}
}

// collectReasons fills Unavailable from the metrics' reasons.
func (fv *FeatureVector) collectReasons() {
	for name, m := range fv.metrics() {
		if m.Available {
			continue
		}
		if fv.Unavailable == nil {
			fv.Unavailable = make(map[string]string)
		}
		reason := m.Reason
		if reason == "" {
			reason = "not computed"
		}
		fv.Unavailable[name] = reason
	}
}

// AnyAvailable reports whether at least one metric carries a value.
func (fv *FeatureVector) AnyAvailable() bool {
	for _, m := range fv.metrics() {
		if m.Available {
			return true
		}
	}
	return false
}
