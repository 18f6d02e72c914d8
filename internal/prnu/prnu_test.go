package prnu

import (
	"context"
	"errors"
	"image"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwlsn/vidproof/internal/config"
	"github.com/gwlsn/vidproof/internal/flow"
	"github.com/gwlsn/vidproof/internal/imaging"
	"github.com/gwlsn/vidproof/internal/stats"
)

func TestWaveletRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	w, h := 32, 16
	orig := make([]float64, w*h)
	for i := range orig {
		orig[i] = rng.Float64() * 255
	}
	data := append([]float64(nil), orig...)

	dwt2(data, w, h, 2)
	assert.NotEqual(t, orig, data)
	idwt2(data, w, h, 2)

	for i := range orig {
		require.InDelta(t, orig[i], data[i], 1e-9, "sample %d", i)
	}
}

func TestUsableLevels(t *testing.T) {
	tests := []struct {
		w, h, want, expected int
	}{
		{256, 256, 2, 2},
		{256, 256, 10, 7},
		{6, 6, 2, 1},
		{5, 8, 2, 0},
		{2, 2, 1, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, usableLevels(tt.w, tt.h, tt.want), "%dx%d want %d", tt.w, tt.h, tt.want)
	}
}

func TestSoftThreshold(t *testing.T) {
	assert.Equal(t, 2.0, softThreshold(5, 3))
	assert.Equal(t, -2.0, softThreshold(-5, 3))
	assert.Equal(t, 0.0, softThreshold(2.5, 3))
}

func TestNewDenoiser(t *testing.T) {
	d, err := NewDenoiser(config.DenoiserWavelet, 2)
	require.NoError(t, err)
	assert.Equal(t, "wavelet", d.Name())

	d, err = NewDenoiser(config.DenoiserGaussian, 2)
	require.NoError(t, err)
	assert.Equal(t, "gaussian", d.Name())

	_, err = NewDenoiser("bm3d", 2)
	assert.Error(t, err)
}

func TestWaveletDenoiserRemovesNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	clean := imaging.NewPlane(64, 64)
	noisy := imaging.NewPlane(64, 64)
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := 80 + float64(x)
			clean.Set(x, y, v)
			noisy.Set(x, y, v+rng.NormFloat64()*6)
		}
	}

	out := WaveletDenoiser{Levels: 2}.Denoise(noisy)
	require.Equal(t, noisy.W, out.W)
	require.Equal(t, noisy.H, out.H)

	before := rms(noisy.Sub(clean).Pix)
	after := rms(out.Sub(clean).Pix)
	assert.Less(t, after, before)
}

func TestWaveletDenoiserOddSizeFallsBack(t *testing.T) {
	p := imaging.NewPlane(7, 5)
	for i := range p.Pix {
		p.Pix[i] = 100
	}
	out := WaveletDenoiser{Levels: 2}.Denoise(p)
	for _, v := range out.Pix {
		assert.InDelta(t, 100, v, 1e-9)
	}
}

func TestPatchSize(t *testing.T) {
	tests := []struct {
		w, h, expected int
	}{
		{640, 360, 32},
		{640, 480, 64},
		{1920, 1080, 64},
		{3840, 2160, 128},
		{2160, 3840, 128},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, PatchSize(tt.w, tt.h), "%dx%d", tt.w, tt.h)
	}
}

func testOptions() Options {
	return Options{
		MinFrames:   15,
		WorkingSize: 128,
		Flow:        flow.DefaultOptions(),
	}
}

// cameraFrames renders n frames of moving smooth content that all carry the
// same fixed sensor pattern plus independent shot noise.
func cameraFrames(n int, seed int64) []*image.Gray {
	rng := rand.New(rand.NewSource(seed))
	const size = 128
	pattern := make([]float64, size*size)
	for i := range pattern {
		pattern[i] = rng.NormFloat64() * 6
	}

	frames := make([]*image.Gray, n)
	for k := range frames {
		g := image.NewGray(image.Rect(0, 0, size, size))
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				v := 90 + 0.3*float64(x) + 0.2*float64(y) + float64(k) +
					pattern[y*size+x] + rng.NormFloat64()*2
				g.Pix[y*g.Stride+x] = uint8(math.Max(0, math.Min(255, math.Round(v))))
			}
		}
		frames[k] = g
	}
	return frames
}

func TestEstimateInsufficientFrames(t *testing.T) {
	e := NewEstimator(GaussianDenoiser{Size: 5}, testOptions())
	res := e.Estimate(context.Background(), cameraFrames(5, 1), 640, 480)

	assert.Equal(t, StatusInsufficientFrames, res.Status)
	assert.Equal(t, 5, res.NumFrames)
	assert.Equal(t, 64, res.PatchSize)
	assert.Contains(t, res.Note, "insufficient_frames")
	assert.Empty(t, res.PerFrame)
	assert.Nil(t, res.Pattern)
}

func TestEstimateConsistentCamera(t *testing.T) {
	for _, name := range config.ValidDenoisers {
		t.Run(name, func(t *testing.T) {
			d, err := NewDenoiser(name, 2)
			require.NoError(t, err)

			e := NewEstimator(d, testOptions())
			res := e.Estimate(context.Background(), cameraFrames(20, 3), 640, 480)

			require.Equal(t, StatusOK, res.Status, res.Error)
			assert.Equal(t, 20, res.NumFrames)
			assert.Equal(t, 64, res.PatchSize)
			assert.Equal(t, name, res.Denoiser)
			assert.Len(t, res.PerFrame, 20)
			// 128x128 working size holds 2x2 patches of 64
			assert.Equal(t, 20*4, res.Patches)
			assert.Greater(t, res.Mean, 0.3)
			assert.GreaterOrEqual(t, res.Std, 0.0)
			assert.GreaterOrEqual(t, res.MAD, 0.0)
			require.NotNil(t, res.Pattern)
			assert.Equal(t, 128, res.Pattern.W)
			assert.Equal(t, stats.Round(res.Mean, 4), res.Mean)
		})
	}
}

func TestEstimateMotionWeights(t *testing.T) {
	opts := testOptions()
	opts.MotionWeights = true
	e := NewEstimator(GaussianDenoiser{Size: 5}, opts)

	res := e.Estimate(context.Background(), cameraFrames(16, 4), 640, 480)
	require.Equal(t, StatusOK, res.Status)
	assert.Greater(t, res.Mean, 0.3)
}

func TestEstimateFlatFramesHaveNoValidPatches(t *testing.T) {
	frames := make([]*image.Gray, 15)
	for i := range frames {
		g := image.NewGray(image.Rect(0, 0, 128, 128))
		for j := range g.Pix {
			g.Pix[j] = 120
		}
		frames[i] = g
	}

	e := NewEstimator(GaussianDenoiser{Size: 5}, testOptions())
	res := e.Estimate(context.Background(), frames, 640, 480)

	assert.Equal(t, StatusNoValidPatches, res.Status)
	assert.Equal(t, 0, res.Patches)
	assert.Len(t, res.PerFrame, 15)
	for _, v := range res.PerFrame {
		assert.Equal(t, 0.0, v)
	}
}

type panicDenoiser struct{}

func (panicDenoiser) Name() string { return "panic" }

func (panicDenoiser) Denoise(*imaging.Plane) *imaging.Plane { panic("boom") }

func TestEstimateRecoversPanic(t *testing.T) {
	e := NewEstimator(panicDenoiser{}, testOptions())
	res := e.Estimate(context.Background(), cameraFrames(15, 5), 640, 480)

	assert.Equal(t, StatusComputationError, res.Status)
	assert.Equal(t, "boom", res.Error)
	assert.Equal(t, 15, res.NumFrames)
}

func TestEstimateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEstimator(GaussianDenoiser{Size: 5}, testOptions())
	res := e.Estimate(ctx, cameraFrames(15, 6), 640, 480)

	assert.Equal(t, StatusComputationError, res.Status)
	assert.Equal(t, context.Canceled.Error(), res.Error)
}

func okResult(mean, std, mad float64) Result {
	return Result{Status: StatusOK, NumFrames: 30, PatchSize: 64, Mean: mean, Median: mean, Std: std, MAD: mad}
}

func TestCalibrate(t *testing.T) {
	videos := []VideoCalibration{
		{Name: "a.mp4", Result: okResult(0.030, 0.010, 0.008)},
		{Name: "b.mp4", Result: okResult(0.040, 0.020, 0.010)},
		{Name: "c.mp4", Result: okResult(0.050, 0.030, 0.012)},
		{Name: "d.mp4", Result: okResult(0.060, 0.040, 0.020)},
		{Name: "e.mp4", Result: okResult(0.070, 0.045, 0.025)},
		{Name: "short.mp4", Result: Result{Status: StatusInsufficientFrames, NumFrames: 3}},
		{Name: "broken.mp4", Err: errors.New("unreadable")},
	}

	cal, err := Calibrate("phone", videos)
	require.NoError(t, err)

	assert.NotEmpty(t, cal.ID)
	assert.Equal(t, "phone", cal.Name)
	assert.Len(t, cal.Videos, 7)
	assert.Equal(t, "unreadable", cal.Videos[6].Error)
	assert.Equal(t, 5, cal.Global.Videos)

	assert.Equal(t, 0.03, cal.Global.Mean.Min)
	assert.Equal(t, 0.05, cal.Global.Mean.Median)
	assert.Equal(t, 0.07, cal.Global.Mean.Max)

	p20 := cal.Suggestions.MeanP20
	assert.GreaterOrEqual(t, p20, cal.Global.Mean.Min)
	assert.LessOrEqual(t, p20, cal.Global.Mean.Median)

	p := cal.Profile
	assert.Equal(t, ModeAdaptive, p.Mode)
	assert.True(t, p.Adaptive())
	assert.Equal(t, 5, p.Videos)

	strict := StrictProfile()
	assert.GreaterOrEqual(t, p.Consistent.MeanMin, strict.Consistent.MeanMin)
	assert.LessOrEqual(t, p.Consistent.StdMax, strict.Consistent.StdMax)
	assert.LessOrEqual(t, p.Consistent.MADMax, strict.Consistent.MADMax)
	assert.LessOrEqual(t, p.Tampering.MeanMax, strict.Tampering.MeanMax)
	assert.GreaterOrEqual(t, p.Tampering.StdMin, strict.Tampering.StdMin)
	assert.GreaterOrEqual(t, p.Tampering.MADMin, strict.Tampering.MADMin)

	for _, key := range []string{"mean", "std", "mad"} {
		bins := cal.Histograms[key]
		require.Len(t, bins, 8, key)
		total := 0
		for _, b := range bins {
			total += b.Count
		}
		assert.Equal(t, 5, total, key)
	}
	assert.Contains(t, cal.Histograms["mean"][0].Range, "0.0300–")
}

func TestCalibrateNoData(t *testing.T) {
	cal, err := Calibrate("empty", []VideoCalibration{
		{Name: "short.mp4", Result: Result{Status: StatusInsufficientFrames}},
		{Name: "bad.mp4", Err: errors.New("no video stream")},
	})
	assert.ErrorIs(t, err, ErrNoCalibrationData)
	require.NotNil(t, cal)
	assert.Len(t, cal.Videos, 2)
}

func TestProfileSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles", "phone.yaml")

	cal, err := Calibrate("phone", []VideoCalibration{
		{Name: "a.mp4", Result: okResult(0.04, 0.02, 0.01)},
	})
	require.NoError(t, err)

	require.NoError(t, SaveProfile(cal.Profile, path))
	loaded, err := LoadProfile(path)
	require.NoError(t, err)

	assert.Equal(t, cal.Profile.Name, loaded.Name)
	assert.Equal(t, cal.Profile.Consistent, loaded.Consistent)
	assert.Equal(t, cal.Profile.Tampering, loaded.Tampering)
	assert.True(t, cal.Profile.CreatedAt.Equal(loaded.CreatedAt))
}

func TestLoadProfileMissing(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func rms(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x * x
	}
	return math.Sqrt(s / float64(len(xs)))
}
