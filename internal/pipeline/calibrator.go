package pipeline

import (
	"context"
	"image"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gwlsn/vidproof/internal/config"
	"github.com/gwlsn/vidproof/internal/logger"
	"github.com/gwlsn/vidproof/internal/prnu"
	"github.com/gwlsn/vidproof/internal/sampler"
)

// Calibrator estimates PRNU statistics over reference videos from a single
// trusted camera and derives an adaptive threshold profile from them.
type Calibrator struct {
	prober    Prober
	sampler   *sampler.Sampler
	estimator *prnu.Estimator
	timeout   time.Duration
	maxFrames int
	jobs      int
}

// NewCalibrator creates a Calibrator.
func NewCalibrator(cfg *config.Config, tools Tools) (*Calibrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	denoiser, err := prnu.NewDenoiser(cfg.PRNU.Denoiser, cfg.PRNU.WaveletLevels)
	if err != nil {
		return nil, err
	}
	return &Calibrator{
		prober:    tools.Prober,
		sampler:   sampler.New(tools.Decoder, sampler.OptionsFromConfig(cfg.Sampler)),
		estimator: prnu.NewEstimator(denoiser, prnu.OptionsFromConfig(cfg.PRNU)),
		timeout:   cfg.ProbeTimeout,
		maxFrames: cfg.PRNU.CalibrationFrames,
		jobs:      max(cfg.PRNU.CalibrationJobs, 1),
	}, nil
}

// Calibrate processes every path and derives the named profile. Videos that
// fail are listed in the calibration with their error; only cancellation
// or the absence of any usable video fails the whole run.
func (c *Calibrator) Calibrate(ctx context.Context, name string, paths []string) (*prnu.Calibration, error) {
	start := time.Now()
	results := make([]prnu.VideoCalibration, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.jobs)
	for i, path := range paths {
		g.Go(func() error {
			results[i] = c.calibrateOne(gctx, path)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cal, err := prnu.Calibrate(name, results)
	if err != nil {
		return cal, err
	}
	logger.Info("Calibration complete",
		"name", name,
		"videos", len(paths),
		"valid", cal.Global.Videos,
		"duration", time.Since(start).String())
	return cal, nil
}

func (c *Calibrator) calibrateOne(ctx context.Context, path string) prnu.VideoCalibration {
	vc := prnu.VideoCalibration{Name: filepath.Base(path)}

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	probe, err := c.prober.Probe(probeCtx, path)
	cancel()
	if err != nil {
		vc.Err = err
		return vc
	}
	asset := sampler.AssetFromProbe(probe)

	// the gate already drops near-identical frames
	var frames []*image.Gray
	if _, err := c.sampler.Run(ctx, asset, func(f *sampler.SampledFrame) error {
		if f.Changed {
			frames = append(frames, f.Gray())
		}
		return nil
	}); err != nil {
		vc.Err = err
		return vc
	}

	frames = spread(frames, c.maxFrames)
	vc.Result = c.estimator.Estimate(ctx, frames, asset.Width, asset.Height)
	logger.Debug("Reference video estimated",
		"path", path,
		"frames", len(frames),
		"status", vc.Result.Status,
		"mean", vc.Result.Mean)
	return vc
}

// spread keeps at most n items, evenly spaced and including the first.
func spread[T any](items []T, n int) []T {
	if n <= 0 || len(items) <= n {
		return items
	}
	out := make([]T, n)
	for i := range out {
		out[i] = items[i*len(items)/n]
	}
	return out
}
