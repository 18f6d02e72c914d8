package verdict

import (
	"fmt"

	"github.com/gwlsn/vidproof/internal/config"
	"github.com/gwlsn/vidproof/internal/features"
	"github.com/gwlsn/vidproof/internal/prnu"
	"github.com/gwlsn/vidproof/internal/structural"
)

// Suspicion tiers.
const (
	TierAuthentic    = "Authentic"
	TierSuspicious   = "Suspicious – Edited"
	TierManipulated  = "Very Likely Manipulated"
	TierForged       = "Highly Forged"
	TierInconclusive = "Inconclusive"
)

// NoIssues is the single issue reported when nothing tripped.
const NoIssues = "No major issues"

// Points added per tripped signal.
const (
	pointsELA       = 28
	pointsNoise     = 25
	pointsDuplicate = 20
	pointsMotion    = 22
	pointsDCT       = 26
	pointsFlagged   = 18
	pointsPRNU      = 20
)

// Structural bundles the container-level findings the heuristic consumes.
// Any field may be nil when the stage did not run.
type Structural struct {
	GOP      *structural.GOPReport
	Metadata *structural.MetadataReport
	PRNU     *Verdict
}

// Suspicion is the additive 0..100 score and its tier.
type Suspicion struct {
	Score  int      `json:"score"`
	Tier   string   `json:"tier"`
	Issues []string `json:"issues"`
}

// Heuristic adds fixed points for every signal that crosses its threshold.
// With no evidence at all the tier is Inconclusive rather than Authentic.
func Heuristic(fv *features.FeatureVector, s Structural, t config.ScoringConfig) Suspicion {
	var score int
	var issues []string
	add := func(points int, issue string) {
		score += points
		for _, existing := range issues {
			if existing == issue {
				return
			}
		}
		issues = append(issues, issue)
	}

	if fv != nil {
		if fv.ELAStd.Above(t.ELAStd) {
			add(pointsELA, fmt.Sprintf("ELA inconsistency (σ=%.1f)", fv.ELAStd.Value))
		}
		if fv.NoiseStd.Above(t.NoiseStd) {
			add(pointsNoise, fmt.Sprintf("Noise inconsistency (σ=%.1f)", fv.NoiseStd.Value))
		}
		if fv.DuplicateRate.Above(t.DuplicateRate) {
			add(pointsDuplicate, fmt.Sprintf("Frame duplication (%.1f%%)", fv.DuplicateRate.Value))
		}
		if fv.MotionAnomalies.Above(float64(t.MotionAnomalies)) {
			add(pointsMotion, "Motion spikes")
		}
		if fv.DCTEvaluated > 0 && fv.DoubleCompressionRate.Above(t.DoubleCompRate) {
			add(pointsDCT, "Double compression")
		}
	}

	if s.GOP != nil && s.GOP.Flagged {
		add(pointsFlagged, "GOP: "+s.GOP.Reason)
	}
	if m := s.Metadata; m != nil {
		if m.ProEditor {
			add(pointsFlagged, fmt.Sprintf("Professional editor tag (%s)", m.EditorMatch))
		}
		if m.Inconsistent {
			add(pointsFlagged, "Metadata: "+m.Verdict)
		}
	}
	if s.PRNU.Inconsistent() {
		add(pointsPRNU, "Sensor fingerprint: "+s.PRNU.Classification)
	}

	score = min(score, 100)
	tier := tierFor(score)
	if !hasEvidence(fv, s) {
		tier = TierInconclusive
	}
	if len(issues) == 0 {
		issues = []string{NoIssues}
	}
	return Suspicion{Score: score, Tier: tier, Issues: issues}
}

func tierFor(score int) string {
	switch {
	case score < 40:
		return TierAuthentic
	case score < 65:
		return TierSuspicious
	case score < 90:
		return TierManipulated
	default:
		return TierForged
	}
}

// hasEvidence reports whether any stage produced a usable measurement. A
// failed GOP probe is flagged fail-safe but carries no evidence of its own.
func hasEvidence(fv *features.FeatureVector, s Structural) bool {
	if fv != nil && fv.AnyAvailable() {
		return true
	}
	if s.GOP != nil && s.GOP.Error == nil {
		return true
	}
	if s.Metadata != nil {
		return true
	}
	return s.PRNU != nil && s.PRNU.Status == prnu.StatusOK
}
