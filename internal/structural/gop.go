// Package structural inspects container-level evidence: keyframe (GOP)
// regularity, metadata consistency, file digests and embedded strings.
package structural

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gwlsn/vidproof/internal/features"
	"github.com/gwlsn/vidproof/internal/logger"
	"github.com/gwlsn/vidproof/internal/stage"
	"github.com/gwlsn/vidproof/internal/stats"
)

// KeyframeProber lists keyframe timestamps. *ffmpeg.Prober satisfies it.
type KeyframeProber interface {
	Keyframes(ctx context.Context, path string) ([]float64, error)
}

// GOPOptions configures the keyframe analysis.
type GOPOptions struct {
	Timeout      time.Duration
	CVThreshold  float64 // flag when std/mean of intervals exceeds this
	MinKeyframes int     // fewer keyframes than this is flagged outright
}

// fusionMinKeyframes is the keyframe count below which the fusion
// irregularity falls back to its fail-safe value.
const fusionMinKeyframes = 5

// GOPReport is the outcome of the keyframe analysis. Failures do not escape:
// they are recorded in Error and the report is flagged.
type GOPReport struct {
	Keyframes    int             `json:"keyframe_count"`
	Intervals    []float64       `json:"intervals_sec,omitempty"`
	AvgInterval  features.Metric `json:"avg_gop_sec"`
	StdInterval  features.Metric `json:"gop_std"`
	CV           features.Metric `json:"gop_cv"`
	Irregularity float64         `json:"irregularity"`
	Flagged      bool            `json:"flagged"`
	Reason       string          `json:"reason"`
	Error        *stage.Failure  `json:"error,omitempty"`
}

// GOPAnalyzer measures keyframe interval regularity.
type GOPAnalyzer struct {
	prober KeyframeProber
	opts   GOPOptions
}

// NewGOPAnalyzer creates a GOPAnalyzer.
func NewGOPAnalyzer(prober KeyframeProber, opts GOPOptions) *GOPAnalyzer {
	return &GOPAnalyzer{prober: prober, opts: opts}
}

// Analyze probes path for keyframes and scores the interval spread. When
// the probe fails or times out the result is flagged, since the absence of
// keyframe evidence must not read as a clean bill.
func (a *GOPAnalyzer) Analyze(ctx context.Context, path string) GOPReport {
	start := time.Now()

	probeCtx := ctx
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	times, err := a.prober.Keyframes(probeCtx, path)
	if err != nil {
		if ctx.Err() == nil && errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", stage.ErrProbeTimeout, a.opts.Timeout, err)
		} else if ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", stage.ErrProbeFailed, err)
		}
		logger.Warn("Keyframe probe failed", "path", path, "error", err)
		return FailedGOP(stage.Fail(stage.GOP, err))
	}

	report := ScoreKeyframes(times, a.opts)
	logger.Debug("GOP analysis complete",
		"path", path,
		"keyframes", report.Keyframes,
		"flagged", report.Flagged,
		"duration", time.Since(start).String())
	return report
}

// FailedGOP is the fail-safe report substituted when the analysis could not
// run: flagged, with the fusion irregularity at its fallback value.
func FailedGOP(f *stage.Failure) GOPReport {
	return GOPReport{
		AvgInterval:  features.Unavailable(f.Message),
		StdInterval:  features.Unavailable(f.Message),
		CV:           features.Unavailable(f.Message),
		Irregularity: 1.0,
		Flagged:      true,
		Reason:       "keyframe probe failed",
		Error:        f,
	}
}

// ScoreKeyframes computes the GOP report from keyframe timestamps.
func ScoreKeyframes(times []float64, opts GOPOptions) GOPReport {
	report := GOPReport{Keyframes: len(times), Irregularity: 1.0}

	if len(times) < 2 {
		reason := fmt.Sprintf("only %d keyframes", len(times))
		report.AvgInterval = features.Unavailable(reason)
		report.StdInterval = features.Unavailable(reason)
		report.CV = features.Unavailable(reason)
		report.Flagged = true
		report.Reason = fmt.Sprintf("fewer than %d keyframes", opts.MinKeyframes)
		return report
	}

	intervals := make([]float64, len(times)-1)
	for i := 1; i < len(times); i++ {
		intervals[i-1] = times[i] - times[i-1]
	}
	mean, std := stats.MeanStd(intervals)
	cv := std / (mean + 1e-9)

	report.Intervals = roundAll(intervals, 3)
	report.AvgInterval = features.Value(stats.Round(mean, 3))
	report.StdInterval = features.Value(stats.Round(std, 3))
	report.CV = features.Value(stats.Round(cv, 3))

	if len(times) >= fusionMinKeyframes {
		report.Irregularity = stats.Round(cv, 3)
	}

	switch {
	case len(times) < opts.MinKeyframes:
		report.Flagged = true
		report.Reason = fmt.Sprintf("fewer than %d keyframes", opts.MinKeyframes)
	case cv > opts.CVThreshold:
		report.Flagged = true
		report.Reason = fmt.Sprintf("irregular keyframe intervals (cv %.3f > %.2f)", cv, opts.CVThreshold)
	default:
		report.Reason = "regular keyframe intervals"
	}
	return report
}

func roundAll(xs []float64, places int) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = stats.Round(x, places)
	}
	return out
}
