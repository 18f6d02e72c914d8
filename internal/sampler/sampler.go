// Package sampler extracts a bounded, evenly strided sequence of frames from
// a video in a single forward pass.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/gwlsn/vidproof/internal/config"
	"github.com/gwlsn/vidproof/internal/ffmpeg"
	"github.com/gwlsn/vidproof/internal/imaging"
	"github.com/gwlsn/vidproof/internal/logger"
	"github.com/gwlsn/vidproof/internal/stage"
)

// Asset is the immutable description of the video under analysis.
type Asset struct {
	Path        string
	Width       int
	Height      int
	FPS         float64
	TotalFrames int64
	Duration    time.Duration
}

// AssetFromProbe builds an Asset from ffprobe metadata. A missing frame rate
// falls back to 30 fps.
func AssetFromProbe(p *ffmpeg.ProbeResult) Asset {
	fps := p.FrameRate
	if fps <= 0 {
		fps = 30
	}
	return Asset{
		Path:        p.Path,
		Width:       p.Width,
		Height:      p.Height,
		FPS:         fps,
		TotalFrames: p.FrameCount,
		Duration:    p.Duration,
	}
}

// Options bound the sampling cost.
type Options struct {
	MaxSamples    int
	Scale         float64
	MinDimension  int
	GateThreshold float64
}

// OptionsFromConfig converts the sampler section of the config.
func OptionsFromConfig(c config.SamplerConfig) Options {
	return Options{
		MaxSamples:    c.MaxSamples,
		Scale:         c.Scale,
		MinDimension:  c.MinDimension,
		GateThreshold: c.GateThreshold,
	}
}

// Plan is the deterministic sampling schedule for one asset.
type Plan struct {
	MaxSamples int `json:"max_samples"`
	Stride     int `json:"stride"`
	Width      int `json:"width"`
	Height     int `json:"height"`
}

// NewPlan computes the schedule: at most MaxSamples frames, every Stride-th
// frame, decoded at Scale × native size with a MinDimension floor.
func NewPlan(a Asset, opts Options) (Plan, error) {
	if a.TotalFrames <= 0 {
		return Plan{}, stage.Unreadable(fmt.Errorf("frame count %d", a.TotalFrames))
	}
	if a.Width <= 0 || a.Height <= 0 {
		return Plan{}, stage.Unreadable(fmt.Errorf("invalid dimensions %dx%d", a.Width, a.Height))
	}

	maxSamples := int64(opts.MaxSamples)
	if maxSamples <= 0 || maxSamples > a.TotalFrames {
		maxSamples = a.TotalFrames
	}
	stride := max(1, a.TotalFrames/maxSamples)

	return Plan{
		MaxSamples: int(maxSamples),
		Stride:     int(stride),
		Width:      max(opts.MinDimension, int(float64(a.Width)*opts.Scale)),
		Height:     max(opts.MinDimension, int(float64(a.Height)*opts.Scale)),
	}, nil
}

// SampledFrame is one decoded frame at working resolution. It is never
// mutated after the sampler hands it out.
type SampledFrame struct {
	Seq       int            // position in the sampled sequence
	Index     int            // source frame index
	Timestamp float64        // seconds
	Image     *image.RGBA    // working-resolution RGB
	Luma      *imaging.Plane // BT.601 luma of Image
	Changed   bool           // passed the perceptual gate against the previous kept frame
	Diff      float64        // mean abs luma difference to the previous kept frame
}

// Gray returns the frame's luma as an 8-bit image.
func (f *SampledFrame) Gray() *image.Gray {
	return f.Luma.ToGray()
}

// Summary describes a completed sampling pass.
type Summary struct {
	Plan    Plan          `json:"plan"`
	Sampled int           `json:"sampled"`
	Changed int           `json:"changed"`
	Span    float64       `json:"span_seconds"` // timestamp of last frame minus first
	Elapsed time.Duration `json:"-"`
}

// Decoder opens a strided frame stream. *ffmpeg.FrameDecoder satisfies it.
type Decoder interface {
	Open(ctx context.Context, path string, sel ffmpeg.Selection) (ffmpeg.FrameReader, error)
}

// Sampler runs sampling passes. It holds no per-run state and is safe for
// concurrent use.
type Sampler struct {
	decoder Decoder
	opts    Options
}

// New creates a Sampler.
func New(decoder Decoder, opts Options) *Sampler {
	return &Sampler{decoder: decoder, opts: opts}
}

// Run decodes the planned frames and hands each to visit in playback order.
// Only the previous kept frame's luma is retained between calls, so memory
// stays bounded by the working resolution regardless of video length.
// Decode failures are fatal to the asset and wrap stage.ErrAssetUnreadable.
func (s *Sampler) Run(ctx context.Context, a Asset, visit func(*SampledFrame) error) (Summary, error) {
	start := time.Now()

	plan, err := NewPlan(a, s.opts)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Plan: plan}

	reader, err := s.decoder.Open(ctx, a.Path, ffmpeg.Selection{
		Stride:    plan.Stride,
		Width:     plan.Width,
		Height:    plan.Height,
		MaxFrames: plan.MaxSamples,
	})
	if err != nil {
		return sum, stage.Unreadable(err)
	}
	defer reader.Close()

	var prevKept *imaging.Plane
	var first, last float64

	for sum.Sampled < plan.MaxSamples {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		frame, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return sum, ctxErr
			}
			return sum, stage.Unreadable(fmt.Errorf("decode failed after %d frames: %w", sum.Sampled, err))
		}

		sf := &SampledFrame{
			Seq:       sum.Sampled,
			Index:     frame.Index,
			Timestamp: float64(frame.Index) / a.FPS,
			Image:     frame.Image,
			Luma:      imaging.LumaFromRGBA(frame.Image),
		}
		if prevKept == nil {
			sf.Changed = true
		} else {
			sf.Diff = imaging.MeanAbsDiff(sf.Luma, prevKept)
			sf.Changed = sf.Diff > s.opts.GateThreshold
		}
		if sf.Changed {
			prevKept = sf.Luma
			sum.Changed++
		}

		if sum.Sampled == 0 {
			first = sf.Timestamp
		}
		last = sf.Timestamp
		sum.Sampled++

		if err := visit(sf); err != nil {
			return sum, err
		}
	}

	if sum.Sampled == 0 {
		return sum, stage.Unreadable(errors.New("no frames decoded"))
	}

	sum.Span = last - first
	sum.Elapsed = time.Since(start)
	logger.Debug("Sampling complete",
		"path", a.Path,
		"sampled", sum.Sampled,
		"changed", sum.Changed,
		"stride", plan.Stride,
		"duration", sum.Elapsed.String())
	return sum, nil
}

// Sample runs a pass and collects every frame. Intended for small inputs
// such as calibration clips and tests.
func (s *Sampler) Sample(ctx context.Context, a Asset) ([]*SampledFrame, Summary, error) {
	var frames []*SampledFrame
	sum, err := s.Run(ctx, a, func(f *SampledFrame) error {
		frames = append(frames, f)
		return nil
	})
	return frames, sum, err
}
