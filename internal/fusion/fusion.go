// Package fusion combines structural, heuristic and sensor-fingerprint
// signals into a single tamper probability.
package fusion

import (
	"math"
	"strings"

	"github.com/gwlsn/vidproof/internal/config"
	"github.com/gwlsn/vidproof/internal/features"
	"github.com/gwlsn/vidproof/internal/prnu"
	"github.com/gwlsn/vidproof/internal/stats"
)

// Verdict tiers.
const (
	TierTampered   = "TAMPERED — HIGH CONFIDENCE"
	TierSuspicious = "SUSPICIOUS — NEEDS MANUAL REVIEW"
	TierNoEvidence = "NO STRONG EVIDENCE OF TAMPERING"
)

// Probability cutoffs, exclusive.
const (
	HighConfidence = 0.85
	NeedsReview    = 0.60
)

// Weights are the logistic coefficients.
type Weights struct {
	GOP  float64 `json:"gop"`
	Dup  float64 `json:"duplicates"`
	Cut  float64 `json:"cuts"`
	Meta float64 `json:"metadata"`
	PRNU float64 `json:"prnu"`
	Bias float64 `json:"bias"`
}

// DefaultWeights returns the hand-calibrated coefficients.
func DefaultWeights() Weights {
	return WeightsFromConfig(config.DefaultConfig().Fusion)
}

// WeightsFromConfig converts the fusion section of the config.
func WeightsFromConfig(c config.FusionConfig) Weights {
	return Weights(c)
}

// Features is the input of Classify.
type Features struct {
	// GOPIrregularity is the keyframe interval CV, or 1.0 when the probe
	// failed or too few keyframes were found.
	GOPIrregularity float64         `json:"gop_irregularity"`
	DuplicateRatio  features.Metric `json:"duplicate_ratio"`
	CutDensity      features.Metric `json:"cut_density"`
	MetadataFlag    bool            `json:"metadata_flag"`
	PRNUStatus      prnu.Status     `json:"prnu_status"`
	PRNUScore       float64         `json:"prnu_score"`

	// Degraded names the inputs that hold a fail-safe value for a failed
	// stage rather than a measurement.
	Degraded []string `json:"degraded,omitempty"`
}

// Terms are the normalised inputs after clipping.
type Terms struct {
	GOP  float64 `json:"gop"`
	Dup  float64 `json:"dup"`
	Cut  float64 `json:"cut"`
	Meta float64 `json:"meta"`
	PRNU float64 `json:"prnu"`
}

// Result is the fused outcome.
type Result struct {
	Probability float64  `json:"tamper_probability"`
	Verdict     string   `json:"verdict"`
	Logit       float64  `json:"logit"`
	Terms       Terms    `json:"terms"`
	Unavailable []string `json:"unavailable,omitempty"`

	// Overridden is set when Verdict is not the tier of Probability.
	Overridden string `json:"overridden,omitempty"`
}

// Override replaces the verdict and records why. Probability keeps the
// computed value.
func (r *Result) Override(tier, reason string) {
	if r.Verdict == tier {
		return
	}
	r.Verdict = tier
	r.Overridden = reason
}

// Classify is a pure function of its inputs. Fail-safe inputs can raise the
// probability but never convict: a high-confidence verdict resting on any
// of them is lowered to needs-review.
func Classify(f Features, w Weights) Result {
	terms := Normalize(f)
	z := w.GOP*terms.GOP +
		w.Dup*terms.Dup +
		w.Cut*terms.Cut +
		w.Meta*terms.Meta +
		w.PRNU*terms.PRNU +
		w.Bias
	p := logistic(z)

	var missing []string
	if !f.DuplicateRatio.Available {
		missing = append(missing, "duplicate_ratio")
	}
	if !f.CutDensity.Available {
		missing = append(missing, "cut_density")
	}

	res := Result{
		Probability: stats.Round(p, 4),
		Verdict:     Tier(p),
		Logit:       stats.Round(z, 4),
		Terms:       terms,
		Unavailable: missing,
	}
	if res.Verdict == TierTampered && len(f.Degraded) > 0 {
		res.Override(TierSuspicious, "fail-safe inputs: "+strings.Join(f.Degraded, ", "))
	}
	return res
}

// Normalize scales and clips each feature. Unavailable duplicate and cut
// metrics contribute nothing.
func Normalize(f Features) Terms {
	t := Terms{
		GOP: math.Min(f.GOPIrregularity/1.0, 1.5),
		Dup: math.Min(f.DuplicateRatio.Or(0)/15.0, 1.5),
		Cut: math.Min(f.CutDensity.Or(0)/0.9, 1.5),
	}
	if f.MetadataFlag {
		t.Meta = 1
	}
	switch f.PRNUStatus {
	case prnu.StatusOK:
		t.PRNU = 1 - stats.Clamp(f.PRNUScore, 0, 100)/100
	case prnu.StatusComputationError:
		t.PRNU = 0.5
	}
	return t
}

// Tier maps a probability to its verdict string.
func Tier(p float64) string {
	switch {
	case p > HighConfidence:
		return TierTampered
	case p > NeedsReview:
		return TierSuspicious
	default:
		return TierNoEvidence
	}
}

func logistic(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
