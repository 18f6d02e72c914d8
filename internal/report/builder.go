package report

import (
	"errors"
	"math"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/gwlsn/vidproof/internal/config"
	"github.com/gwlsn/vidproof/internal/features"
	"github.com/gwlsn/vidproof/internal/ffmpeg"
	"github.com/gwlsn/vidproof/internal/fusion"
	"github.com/gwlsn/vidproof/internal/prnu"
	"github.com/gwlsn/vidproof/internal/sampler"
	"github.com/gwlsn/vidproof/internal/stage"
	"github.com/gwlsn/vidproof/internal/structural"
	"github.com/gwlsn/vidproof/internal/verdict"
)

// Inputs carries every stage outcome of a run into the builder.
type Inputs struct {
	Path     string
	Probe    *ffmpeg.ProbeResult
	Sampling stage.Result[sampler.Summary]
	Features stage.Result[*features.FeatureVector]
	GOP      stage.Result[structural.GOPReport]
	Metadata stage.Result[structural.MetadataReport]
	Evidence stage.Result[*structural.Evidence]
	PRNU     stage.Result[prnu.Result]
	Profile  prnu.ThresholdProfile
}

// Builder derives the verdicts and assembles the report.
type Builder struct {
	weights fusion.Weights
	scoring config.ScoringConfig
	now     func() time.Time
}

// NewBuilder creates a Builder.
func NewBuilder(w fusion.Weights, scoring config.ScoringConfig) *Builder {
	return &Builder{weights: w, scoring: scoring, now: time.Now}
}

// Build assembles the report. Failed stages are replaced by explicit error
// markers and their fail-safe values, so the report always carries a
// verdict. A verdict that rests on fail-safe values is never a
// high-confidence one.
func (b *Builder) Build(in Inputs) *ForensicReport {
	r := &ForensicReport{
		ID:        uuid.NewString(),
		File:      filepath.Base(in.Path),
		Path:      in.Path,
		CreatedAt: b.now().UTC(),
		BasicInfo: basicInfo(in.Probe),
		PerFrame:  map[string]any{},
		Errors:    []*stage.Failure{},
	}
	fail := func(f *stage.Failure) {
		if f != nil {
			r.Errors = append(r.Errors, f)
		}
	}

	if s, err := in.Sampling.Get(); err == nil {
		r.Sampling = &Sampling{
			Stride:    s.Plan.Stride,
			Width:     s.Plan.Width,
			Height:    s.Plan.Height,
			Sampled:   s.Sampled,
			Changed:   s.Changed,
			SpanSec:   s.Span,
			ElapsedMS: s.Elapsed.Milliseconds(),
		}
	} else {
		fail(in.Sampling.Err)
	}

	if in.Features.Ok() && in.Features.Value != nil {
		fv := *in.Features.Value
		r.PerFrame["ela_scores"] = SummarizeArray(fv.ELAScores)
		r.PerFrame["noise_scores"] = SummarizeArray(fv.NoiseScores)
		r.PerFrame["motion_magnitudes"] = SummarizeArray(fv.MotionMagnitudes)
		fv.ELAScores, fv.NoiseScores, fv.MotionMagnitudes = nil, nil, nil
		r.Features = &fv
		for _, f := range fv.Failures {
			fail(f)
		}
	} else {
		fail(in.Features.Err)
	}

	gop := in.GOP.Value
	if !in.GOP.Ok() {
		gop = structural.FailedGOP(in.GOP.Err)
	}
	fail(gop.Error)
	r.Structural.GOP = &gop

	var degraded []string
	if gop.Error != nil {
		degraded = append(degraded, stage.GOP)
	}

	// an unchecked container contributes nothing rather than a flag
	var metaFlag bool
	if in.Metadata.Ok() {
		meta := in.Metadata.Value
		r.Structural.Metadata = &meta
		metaFlag = meta.ProEditor || meta.Inconsistent
	} else {
		fail(in.Metadata.Err)
	}

	if in.Evidence.Ok() {
		r.Evidence = in.Evidence.Value
	} else {
		fail(in.Evidence.Err)
	}

	res := in.PRNU.Value
	if !in.PRNU.Ok() {
		fail(in.PRNU.Err)
		res = prnu.Result{
			Status: prnu.StatusComputationError,
			Note:   "computation_error",
			Error:  in.PRNU.Err.Message,
		}
	} else if res.Status == prnu.StatusComputationError {
		fail(stage.Fail(stage.PRNU, errors.New(res.Error)))
	}
	if res.Status == prnu.StatusComputationError {
		degraded = append(degraded, stage.PRNU)
	}
	r.PerFrame["prnu_corr"] = SummarizeArray(res.PerFrame)
	r.PRNU = &PRNU{
		Reference: SummarizePlane(res.Pattern),
		Profile:   in.Profile.Name,
	}
	r.PRNU.Result = res
	r.PRNU.PerFrame = nil
	r.PRNU.Pattern = nil

	v := stage.Run(stage.Verdict, func() (verdict.Verdict, error) {
		return verdict.Evaluate(res, in.Profile), nil
	})
	if v.Ok() {
		r.Verdict = &v.Value
	} else {
		fail(v.Err)
	}

	r.Heuristic = verdict.Heuristic(r.Features, verdict.Structural{
		GOP:      r.Structural.GOP,
		Metadata: r.Structural.Metadata,
		PRNU:     r.Verdict,
	}, b.scoring)

	r.Inputs = fusion.Features{
		GOPIrregularity: gop.Irregularity,
		DuplicateRatio:  features.Unavailable("features unavailable"),
		CutDensity:      features.Unavailable("features unavailable"),
		MetadataFlag:    metaFlag,
		PRNUStatus:      res.Status,
		Degraded:        degraded,
	}
	if r.Features != nil {
		r.Inputs.DuplicateRatio = r.Features.SceneDuplicateRatio
		r.Inputs.CutDensity = r.Features.CutDensity
	}
	if r.Verdict != nil {
		r.Inputs.PRNUScore = r.Verdict.Score
	}

	fused := stage.Run(stage.Fusion, func() (fusion.Result, error) {
		return fusion.Classify(r.Inputs, b.weights), nil
	})
	if fused.Ok() {
		r.Fusion = fused.Value
	} else {
		fail(fused.Err)
		r.Fusion = fusion.Result{Probability: 0.5, Verdict: fusion.TierSuspicious, Overridden: "fusion failed"}
	}
	// without any evidence the fused verdict cannot clear the video
	if r.Heuristic.Tier == verdict.TierInconclusive {
		r.Fusion.Override(fusion.TierSuspicious, "no stage produced usable evidence")
	}

	r.Final = Final{
		Score:  int(math.Round(100 * r.Fusion.Probability)),
		Tier:   r.Fusion.Verdict,
		Issues: r.Heuristic.Issues,
	}
	return r
}

func basicInfo(p *ffmpeg.ProbeResult) *BasicInfo {
	if p == nil {
		return nil
	}
	return &BasicInfo{
		Width:      p.Width,
		Height:     p.Height,
		FPS:        p.FrameRate,
		Duration:   p.Duration.Seconds(),
		FrameCount: p.FrameCount,
		Container:  p.Format,
		VideoCodec: p.VideoCodec,
		AudioCodec: p.AudioCodec,
		Bitrate:    p.Bitrate,
		Size:       p.Size,
		SizeHuman:  humanize.Bytes(uint64(p.Size)),
		PixelFmt:   p.PixelFormat,
	}
}
