// Package pipeline wires the analysis stages together: one Analyzer run per
// evidence file, and the Calibrator that derives threshold profiles from
// reference footage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gwlsn/vidproof/internal/config"
	"github.com/gwlsn/vidproof/internal/features"
	"github.com/gwlsn/vidproof/internal/ffmpeg"
	"github.com/gwlsn/vidproof/internal/fusion"
	"github.com/gwlsn/vidproof/internal/logger"
	"github.com/gwlsn/vidproof/internal/prnu"
	"github.com/gwlsn/vidproof/internal/report"
	"github.com/gwlsn/vidproof/internal/sampler"
	"github.com/gwlsn/vidproof/internal/stage"
	"github.com/gwlsn/vidproof/internal/structural"
)

// Prober inspects containers. *ffmpeg.Prober satisfies it.
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
	Keyframes(ctx context.Context, path string) ([]float64, error)
}

// Tools are the external collaborators of a run.
type Tools struct {
	Prober    Prober
	Decoder   sampler.Decoder
	Subtitles structural.SubtitleSource // optional
}

// NewTools returns the ffmpeg-backed tools named by cfg.
func NewTools(cfg *config.Config) Tools {
	return Tools{
		Prober:    ffmpeg.NewProber(cfg.FFprobePath),
		Decoder:   ffmpeg.NewFrameDecoder(cfg.FFmpegPath),
		Subtitles: ffmpeg.NewSubtitleExtractor(cfg.FFmpegPath, structural.MaxSubtitleBytes),
	}
}

// Analyzer runs the full forensic pipeline. It holds only read-only state
// and is safe for concurrent use; every run owns its own frame buffers and
// accumulators.
type Analyzer struct {
	cfg       *config.Config
	prober    Prober
	sampler   *sampler.Sampler
	sampling  sampler.Options
	gop       *structural.GOPAnalyzer
	evidence  *structural.EvidenceCollector
	estimator *prnu.Estimator
	builder   *report.Builder
	profile   prnu.ThresholdProfile
}

// NewAnalyzer creates an Analyzer judging PRNU against profile.
func NewAnalyzer(cfg *config.Config, tools Tools, profile prnu.ThresholdProfile) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	denoiser, err := prnu.NewDenoiser(cfg.PRNU.Denoiser, cfg.PRNU.WaveletLevels)
	if err != nil {
		return nil, err
	}
	opts := sampler.OptionsFromConfig(cfg.Sampler)
	return &Analyzer{
		cfg:      cfg,
		prober:   tools.Prober,
		sampler:  sampler.New(tools.Decoder, opts),
		sampling: opts,
		gop: structural.NewGOPAnalyzer(tools.Prober, structural.GOPOptions{
			Timeout:      cfg.ProbeTimeout,
			CVThreshold:  cfg.Scoring.GOPIrregularity,
			MinKeyframes: cfg.Scoring.MinGOPKeyframes,
		}),
		evidence:  structural.NewEvidenceCollector(tools.Subtitles),
		estimator: prnu.NewEstimator(denoiser, prnu.OptionsFromConfig(cfg.PRNU)),
		builder:   report.NewBuilder(fusion.WeightsFromConfig(cfg.Fusion), cfg.Scoring),
		profile:   profile,
	}, nil
}

// Profile returns the threshold profile in use.
func (a *Analyzer) Profile() prnu.ThresholdProfile {
	return a.profile
}

// Analyze runs every stage over path. The only errors returned are
// cancellation and fatal-to-asset failures (wrapping
// stage.ErrAssetUnreadable); everything else is recorded in the report.
func (a *Analyzer) Analyze(ctx context.Context, path string) (*report.ForensicReport, error) {
	start := time.Now()

	probe, err := a.probe(ctx, path)
	if err != nil {
		return nil, err
	}
	asset := sampler.AssetFromProbe(probe)
	if _, err := sampler.NewPlan(asset, a.sampling); err != nil {
		return nil, stage.Unreadable(err)
	}

	in := report.Inputs{Path: path, Probe: probe, Profile: a.profile}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		in.GOP = stage.Run(stage.GOP, func() (structural.GOPReport, error) {
			return a.gop.Analyze(gctx, path), nil
		})
		return nil
	})
	g.Go(func() error {
		in.Metadata = stage.Run(stage.Metadata, func() (structural.MetadataReport, error) {
			return structural.CheckMetadata(probe), nil
		})
		return nil
	})
	g.Go(func() error {
		in.Evidence = stage.Run(stage.Evidence, func() (*structural.Evidence, error) {
			return a.evidence.Collect(gctx, path, probe.SubtitleStreams)
		})
		return nil
	})

	var prnuFrames []*image.Gray
	g.Go(func() error {
		set := features.NewSet(a.cfg.Extractors)
		every := max(a.cfg.PRNU.FrameEvery, 1)
		changed := 0

		sum, err := a.sampler.Run(gctx, asset, func(f *sampler.SampledFrame) error {
			set.Observe(f)
			if f.Changed {
				if changed%every == 0 {
					prnuFrames = append(prnuFrames, f.Gray())
				}
				changed++
			}
			return nil
		})
		switch {
		case err == nil:
			in.Sampling = stage.OK(sum)
		case ctx.Err() != nil:
			return ctx.Err()
		case sum.Sampled == 0:
			return stage.Unreadable(err)
		default:
			// a stream that breaks part way through still yields evidence
			logger.Warn("Sampling ended early", "path", path, "sampled", sum.Sampled, "error", err)
			in.Sampling = stage.Err[sampler.Summary](stage.Sampling, err)
		}
		in.Features = stage.OK(set.Finish())
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	in.PRNU = stage.Run(stage.PRNU, func() (prnu.Result, error) {
		return a.estimator.Estimate(ctx, prnuFrames, asset.Width, asset.Height), nil
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := a.builder.Build(in)
	logger.Info("Analysis complete",
		"path", path,
		"verdict", r.Fusion.Verdict,
		"probability", r.Probability(),
		"suspicion", r.Score,
		"errors", len(r.Errors),
		"duration", time.Since(start).String())
	return r, nil
}

// probe inspects the container. Any failure here is fatal to the asset.
func (a *Analyzer) probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
	probeCtx, cancel := context.WithTimeout(ctx, a.cfg.ProbeTimeout)
	defer cancel()

	probe, err := a.prober.Probe(probeCtx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", stage.ErrProbeTimeout, err)
		}
		return nil, stage.Unreadable(err)
	}
	if !probe.HasVideo() {
		return nil, stage.Unreadable(fmt.Errorf("no decodable video stream in %s", path))
	}
	return probe, nil
}
