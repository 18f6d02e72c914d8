// Package verdict turns raw analysis statistics into human-facing judgements:
// the PRNU verdict with its explanation bullets, and the additive heuristic
// suspicion score over all extractors.
package verdict

import (
	"fmt"

	"github.com/gwlsn/vidproof/internal/prnu"
	"github.com/gwlsn/vidproof/internal/stats"
)

// MinFrames is the frame count a PRNU estimate needs to earn its frame points.
const MinFrames = 15

// PRNU classifications, best to worst, plus the two non-ladder states.
const (
	HighlyConsistent     = "HIGHLY CONSISTENT – VERY LIKELY AUTHENTIC"
	ConsistentCamera     = "CONSISTENT CAMERA – PROBABLY AUTHENTIC"
	ModeratelyConsistent = "MODERATELY CONSISTENT – NEEDS REVIEW"
	Inconsistent         = "INCONSISTENT – POSSIBLE TAMPERING / MULTI-CAMERA"
	StrongTampering      = "STRONG EVIDENCE OF TAMPERING OR HEAVY EDITING"
	ComputationFailed    = "COMPUTATION FAILED"
	InsufficientData     = "INSUFFICIENT DATA – INCONCLUSIVE"
)

// Checks is the fixed battery of pass/fail tests.
type Checks struct {
	FramesSufficient   bool `json:"frames_sufficient"`
	MeanHighEnough     bool `json:"mean_corr_high_enough"`
	MeanTooLow         bool `json:"mean_corr_too_low"`
	StdLowEnough       bool `json:"std_corr_low_enough"`
	StdTooHigh         bool `json:"std_corr_too_high"`
	MADLowEnough       bool `json:"mad_corr_low_enough"`
	MADTooHigh         bool `json:"mad_corr_too_high"`
	NoComputationError bool `json:"no_computation_error"`
}

// TamperingRange reports whether any metric fell into the tampering band.
func (c Checks) TamperingRange() bool {
	return c.MeanTooLow || c.StdTooHigh || c.MADTooHigh
}

// Benchmark is the typical range of a correlation statistic.
type Benchmark struct {
	MaxTypical float64 `json:"max_typical"`
	MinTypical float64 `json:"min_typical"`
}

// Benchmarks are the typical ranges of the four statistics.
type Benchmarks struct {
	Mean   Benchmark `json:"mean_corr"`
	Median Benchmark `json:"median_corr"`
	Std    Benchmark `json:"std_corr"`
	MAD    Benchmark `json:"mad_corr"`
}

// Ratios are the statistics divided by their typical maxima.
type Ratios struct {
	Mean   float64 `json:"mean_corr"`
	Median float64 `json:"median_corr"`
	Std    float64 `json:"std_corr"`
	MAD    float64 `json:"mad_corr"`
}

var typical = Benchmarks{
	Mean:   Benchmark{MaxTypical: 0.50, MinTypical: 0.02},
	Median: Benchmark{MaxTypical: 0.50, MinTypical: 0.02},
	Std:    Benchmark{MaxTypical: 0.50},
	MAD:    Benchmark{MaxTypical: 0.30},
}

// Verdict is the explained judgement of one PRNU result.
type Verdict struct {
	Classification string      `json:"classification"`
	Confidence     string      `json:"confidence"`
	Score          float64     `json:"overall_score_0_100"`
	Status         prnu.Status `json:"status"`
	Mean           float64     `json:"mean_corr"`
	Median         float64     `json:"median_corr"`
	Std            float64     `json:"std_corr"`
	MAD            float64     `json:"mad_corr"`
	FramesUsed     int         `json:"frames_used"`
	ThresholdsUsed string      `json:"thresholds_used"`
	Profile        string      `json:"profile"`
	Checks         Checks      `json:"detailed_checks"`
	Bullets        []string    `json:"explanation_bullets"`
	Benchmarks     Benchmarks  `json:"benchmarks"`
	Ratios         Ratios      `json:"ratios"`
	RawNotes       string      `json:"raw_notes"`
}

// Inconsistent reports whether a successful estimate landed in the low end of
// the ladder (INCONSISTENT or worse).
func (v *Verdict) Inconsistent() bool {
	return v != nil && v.Status == prnu.StatusOK && v.Score < 50
}

// Evaluate scores r against the profile. It is a pure function: the same
// inputs always produce the same verdict.
func Evaluate(r prnu.Result, p prnu.ThresholdProfile) Verdict {
	cons, tamp := p.Consistent, p.Tampering

	checks := Checks{
		FramesSufficient:   r.NumFrames >= MinFrames,
		MeanHighEnough:     r.Mean >= cons.MeanMin,
		MeanTooLow:         r.Mean <= tamp.MeanMax,
		StdLowEnough:       r.Std <= cons.StdMax,
		StdTooHigh:         r.Std >= tamp.StdMin,
		MADLowEnough:       r.MAD <= cons.MADMax,
		MADTooHigh:         r.MAD >= tamp.MADMin,
		NoComputationError: r.Status != prnu.StatusComputationError,
	}

	score := 0.0
	if checks.FramesSufficient {
		score += 25
	}
	if checks.MeanHighEnough {
		score += 30
	}
	if checks.StdLowEnough {
		score += 15
	}
	if checks.MADLowEnough {
		score += 15
	}
	if checks.TamperingRange() {
		score -= 30
	}
	score = stats.Clamp(score, 0, 100)

	ratios := Ratios{
		Mean:   stats.Round(r.Mean/typical.Mean.MaxTypical, 4),
		Median: stats.Round(r.Median/typical.Median.MaxTypical, 4),
		Std:    stats.Round(r.Std/typical.Std.MaxTypical, 4),
		MAD:    stats.Round(r.MAD/typical.MAD.MaxTypical, 4),
	}

	v := Verdict{
		Score:          score,
		Status:         r.Status,
		Mean:           stats.Round(r.Mean, 4),
		Median:         stats.Round(r.Median, 4),
		Std:            stats.Round(r.Std, 4),
		MAD:            stats.Round(r.MAD, 4),
		FramesUsed:     r.NumFrames,
		ThresholdsUsed: thresholdsLabel(p),
		Profile:        p.Name,
		Checks:         checks,
		Bullets:        bullets(r, checks, ratios, cons),
		Benchmarks:     typical,
		Ratios:         ratios,
		RawNotes:       r.Note,
	}
	v.Classification, v.Confidence = classify(r.Status, score)
	return v
}

func thresholdsLabel(p prnu.ThresholdProfile) string {
	if p.Adaptive() {
		return prnu.ModeAdaptive
	}
	return prnu.ModeStrict
}

func classify(status prnu.Status, score float64) (string, string) {
	switch {
	case status == prnu.StatusComputationError:
		return ComputationFailed, "N/A"
	case status == prnu.StatusInsufficientFrames, status == prnu.StatusNoValidPatches:
		return InsufficientData, "N/A"
	case score >= 85:
		return HighlyConsistent, "Very High"
	case score >= 70:
		return ConsistentCamera, "High"
	case score >= 50:
		return ModeratelyConsistent, "Medium"
	case score >= 25:
		return Inconsistent, "Low"
	default:
		return StrongTampering, "Very Low"
	}
}

func bullets(r prnu.Result, c Checks, ratios Ratios, cons prnu.ConsistentLimits) []string {
	var out []string
	if !c.FramesSufficient {
		out = append(out, fmt.Sprintf("Only %d frames used (need ≥%d)", r.NumFrames, MinFrames))
	}

	if c.MeanHighEnough {
		out = append(out, fmt.Sprintf("Mean corr %.4f ≥ %.4f → strong fingerprint (%.3f of typical max 0.50)",
			r.Mean, cons.MeanMin, ratios.Mean))
	} else {
		out = append(out, fmt.Sprintf("Mean corr %.4f < %.4f → weak/no fingerprint (%.3f of typical max 0.50)",
			r.Mean, cons.MeanMin, ratios.Mean))
	}

	if c.StdLowEnough {
		out = append(out, fmt.Sprintf("Std dev %.4f ≤ %.4f → stable across frames (%.3f of typical max 0.50)",
			r.Std, cons.StdMax, ratios.Std))
	} else {
		out = append(out, fmt.Sprintf("Std dev %.4f > %.4f → unstable (possible splicing) (%.3f of typical max 0.50)",
			r.Std, cons.StdMax, ratios.Std))
	}

	if c.MADLowEnough {
		out = append(out, fmt.Sprintf("MAD %.4f ≤ %.4f → very uniform noise (%.3f of typical max 0.30)",
			r.MAD, cons.MADMax, ratios.MAD))
	} else {
		out = append(out, fmt.Sprintf("MAD %.4f > %.4f → outliers in noise pattern (%.3f of typical max 0.30)",
			r.MAD, cons.MADMax, ratios.MAD))
	}

	if c.TamperingRange() {
		out = append(out, "One or more metrics fall into tampering range")
	}
	if r.Status != prnu.StatusOK && r.Note != "" {
		out = append(out, "Estimator status: "+r.Note)
	}
	return out
}
