// Package prnu estimates a sensor noise fingerprint (photo-response
// non-uniformity) from a set of frames and measures how consistently each
// frame carries it.
package prnu

import (
	"context"
	"fmt"
	"image"
	"runtime/debug"
	"time"

	"github.com/gwlsn/vidproof/internal/config"
	"github.com/gwlsn/vidproof/internal/flow"
	"github.com/gwlsn/vidproof/internal/imaging"
	"github.com/gwlsn/vidproof/internal/logger"
	"github.com/gwlsn/vidproof/internal/stats"
)

// Status is the terminal state of an estimation. Only StatusComputationError
// is an error; the other non-ok states are valid low-confidence outcomes.
type Status string

const (
	StatusOK                 Status = "ok"
	StatusInsufficientFrames Status = "insufficient_frames"
	StatusNoValidPatches     Status = "no_valid_patches"
	StatusComputationError   Status = "computation_error"
)

// Result is the outcome of one estimation.
type Result struct {
	Status    Status    `json:"status"`
	NumFrames int       `json:"num_frames"`
	PatchSize int       `json:"patch_size"`
	Denoiser  string    `json:"denoiser"`
	Mean      float64   `json:"mean_corr"`
	Median    float64   `json:"median_corr"`
	Std       float64   `json:"std_corr"`
	MAD       float64   `json:"mad_corr"`
	Patches   int       `json:"valid_patches"`
	PerFrame  []float64 `json:"per_frame_corrs,omitempty"`
	Note      string    `json:"notes"`
	Error     string    `json:"error,omitempty"`

	// Pattern is the reference noise pattern. It is large and never
	// serialised; reports carry a summary instead.
	Pattern *imaging.Plane `json:"-"`
}

// Options configures the estimator.
type Options struct {
	MinFrames     int
	WorkingSize   int
	MotionWeights bool
	Flow          flow.Options
}

// OptionsFromConfig converts the PRNU section of the config.
func OptionsFromConfig(c config.PRNUConfig) Options {
	return Options{
		MinFrames:     c.MinFrames,
		WorkingSize:   c.WorkingSize,
		MotionWeights: c.MotionWeights,
		Flow:          flow.DefaultOptions(),
	}
}

// PatchSize picks the correlation patch size from the source resolution:
// smaller patches for low-resolution sources, larger for high-resolution.
func PatchSize(width, height int) int {
	m := min(width, height)
	switch {
	case m < 480:
		return 32
	case m > 1080:
		return 128
	default:
		return 64
	}
}

// Estimator computes PRNU statistics. It holds no per-run state.
type Estimator struct {
	denoiser Denoiser
	opts     Options
}

// NewEstimator creates an Estimator with the given denoising strategy.
func NewEstimator(d Denoiser, opts Options) *Estimator {
	return &Estimator{denoiser: d, opts: opts}
}

// Estimate builds the reference pattern from frames and correlates every
// frame against it patch by patch. srcWidth and srcHeight are the native
// dimensions of the video and select the patch size. A panic inside the
// numeric core is reported as StatusComputationError.
func (e *Estimator) Estimate(ctx context.Context, frames []*image.Gray, srcWidth, srcHeight int) (res Result) {
	start := time.Now()
	res = Result{
		NumFrames: len(frames),
		PatchSize: PatchSize(srcWidth, srcHeight),
		Denoiser:  e.denoiser.Name(),
		PerFrame:  []float64{},
	}

	if len(frames) < e.opts.MinFrames {
		res.Status = StatusInsufficientFrames
		res.Note = fmt.Sprintf("insufficient_frames (need >= %d)", e.opts.MinFrames)
		return res
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("PRNU estimation panicked", "panic", p, "stack", string(debug.Stack()))
			res = Result{
				Status:    StatusComputationError,
				NumFrames: len(frames),
				PatchSize: res.PatchSize,
				Denoiser:  res.Denoiser,
				PerFrame:  []float64{},
				Note:      "computation_error",
				Error:     fmt.Sprint(p),
			}
		}
	}()

	residuals, weights, err := e.residuals(ctx, frames)
	if err != nil {
		res.Status = StatusComputationError
		res.Note = "computation_error"
		res.Error = err.Error()
		return res
	}
	pattern := weightedMean(residuals, weights)
	res.Pattern = pattern

	corrs, perFrame := correlate(pattern, residuals, res.PatchSize)
	res.PerFrame = roundAll(perFrame, 4)
	res.Patches = len(corrs)

	if len(corrs) == 0 {
		res.Status = StatusNoValidPatches
		res.Note = "no_valid_patches"
		return res
	}

	mean, std := stats.MeanStd(corrs)
	res.Status = StatusOK
	res.Note = "ok"
	res.Mean = stats.Round(mean, 4)
	res.Median = stats.Round(stats.Median(corrs), 4)
	res.Std = stats.Round(std, 4)
	res.MAD = stats.Round(stats.MAD(corrs), 4)

	logger.Debug("PRNU estimated",
		"frames", len(frames),
		"patches", len(corrs),
		"mean", res.Mean,
		"duration", time.Since(start).String())
	return res
}

// residuals returns the unit-variance noise residual of every frame and the
// normalised motion weights.
func (e *Estimator) residuals(ctx context.Context, frames []*image.Gray) ([]*imaging.Plane, []float64, error) {
	size := e.opts.WorkingSize
	residuals := make([]*imaging.Plane, len(frames))
	weights := make([]float64, len(frames))

	var prev *imaging.Plane
	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		gray := imaging.PlaneFromGray(imaging.ResizeGray(f, size, size))
		residuals[i] = e.residual(gray)

		weights[i] = 1
		if e.opts.MotionWeights && prev != nil {
			// favour stable frames but never drop one
			weights[i] = 1 / (1 + flow.MeanMagnitude(prev, gray, e.opts.Flow))
		}
		prev = gray
	}

	var total float64
	for _, w := range weights {
		total += w
	}
	for i := range weights {
		weights[i] /= total
	}
	return residuals, weights, nil
}

// residual is (p - denoise(p)), zero-mean and scaled to unit std.
func (e *Estimator) residual(p *imaging.Plane) *imaging.Plane {
	r := p.Sub(e.denoiser.Denoise(p))
	mean, std := stats.MeanStd(r.Pix)
	if std < stats.MinStd {
		std = stats.MinStd
	}
	for i, v := range r.Pix {
		r.Pix[i] = (v - mean) / std
	}
	return r
}

func weightedMean(planes []*imaging.Plane, weights []float64) *imaging.Plane {
	out := imaging.NewPlane(planes[0].W, planes[0].H)
	for k, p := range planes {
		w := weights[k]
		for i, v := range p.Pix {
			out.Pix[i] += w * v
		}
	}
	return out
}

// correlate returns every valid (frame, patch) Pearson correlation and the
// per-frame mean (0 for frames without a valid patch).
func correlate(pattern *imaging.Plane, residuals []*imaging.Plane, ps int) ([]float64, []float64) {
	type patch struct{ x, y int }
	var patches []patch
	var refs [][]float64
	for y := 0; y+ps <= pattern.H; y += ps {
		for x := 0; x+ps <= pattern.W; x += ps {
			patches = append(patches, patch{x, y})
			refs = append(refs, pattern.Region(x, y, ps, ps, nil))
		}
	}

	var all []float64
	perFrame := make([]float64, len(residuals))
	buf := make([]float64, 0, ps*ps)
	for k, r := range residuals {
		var sum float64
		var n int
		for i, p := range patches {
			buf = r.Region(p.x, p.y, ps, ps, buf)
			c, ok := stats.Pearson(refs[i], buf)
			if !ok {
				continue
			}
			all = append(all, c)
			sum += c
			n++
		}
		if n > 0 {
			perFrame[k] = sum / float64(n)
		}
	}
	return all, perFrame
}

func roundAll(xs []float64, places int) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = stats.Round(x, places)
	}
	return out
}
