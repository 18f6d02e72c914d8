package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwlsn/vidproof/internal/config"
	"github.com/gwlsn/vidproof/internal/ffmpeg"
	"github.com/gwlsn/vidproof/internal/fusion"
	"github.com/gwlsn/vidproof/internal/prnu"
	"github.com/gwlsn/vidproof/internal/report"
	"github.com/gwlsn/vidproof/internal/stage"
	"github.com/gwlsn/vidproof/internal/verdict"
)

const (
	srcWidth   = 320
	srcHeight  = 240
	workWidth  = 160
	workHeight = 120
)

type fakeProber struct {
	results      map[string]*ffmpeg.ProbeResult
	keyframes    []float64
	keyframesErr error
	probes       atomic.Int32
}

func (p *fakeProber) Probe(_ context.Context, path string) (*ffmpeg.ProbeResult, error) {
	p.probes.Add(1)
	r, ok := p.results[path]
	if !ok {
		return nil, &ffmpeg.ProbeError{Err: errors.New("invalid data found when processing input")}
	}
	return r, nil
}

func (p *fakeProber) Keyframes(_ context.Context, _ string) ([]float64, error) {
	return p.keyframes, p.keyframesErr
}

// camera renders frames of slowly brightening smooth content that carry one
// fixed sensor pattern plus per-frame shot noise. Frames in
// [spliceFrom, spliceTo) carry a second sensor's pattern instead.
type camera struct {
	total   int
	pattern []float64
	failAt  int
	opens   atomic.Int32

	splice               []float64
	spliceFrom, spliceTo int
}

func newCamera(total int, seed int64) *camera {
	return &camera{total: total, pattern: sensorPattern(seed), failAt: -1}
}

func sensorPattern(seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	p := make([]float64, workWidth*workHeight)
	for i := range p {
		p[i] = rng.NormFloat64() * 6
	}
	return p
}

// spliced inserts frames [from, to) recorded by the sensor of seed.
func (c *camera) spliced(from, to int, seed int64) *camera {
	c.splice, c.spliceFrom, c.spliceTo = sensorPattern(seed), from, to
	return c
}

func (c *camera) patternAt(idx int) []float64 {
	if c.splice != nil && idx >= c.spliceFrom && idx < c.spliceTo {
		return c.splice
	}
	return c.pattern
}

func (c *camera) Open(_ context.Context, _ string, sel ffmpeg.Selection) (ffmpeg.FrameReader, error) {
	c.opens.Add(1)
	if sel.Width != workWidth || sel.Height != workHeight {
		return nil, errors.New("unexpected working size")
	}
	return &cameraReader{c: c, sel: sel}, nil
}

type cameraReader struct {
	c      *camera
	sel    ffmpeg.Selection
	next   int
	served int
}

func (r *cameraReader) Next() (*ffmpeg.Frame, error) {
	if r.next >= r.c.total || (r.sel.MaxFrames > 0 && r.served >= r.sel.MaxFrames) {
		return nil, io.EOF
	}
	if r.c.failAt >= 0 && r.next >= r.c.failAt {
		return nil, &ffmpeg.DecodeError{Err: errors.New("corrupt packet"), Frames: r.served}
	}

	idx := r.next
	pattern := r.c.patternAt(idx)
	rng := rand.New(rand.NewSource(int64(idx) + 1000))
	img := image.NewRGBA(image.Rect(0, 0, workWidth, workHeight))
	for y := 0; y < workHeight; y++ {
		for x := 0; x < workWidth; x++ {
			v := 70 + 0.4*float64(x) + 0.3*float64(y) + 0.2*float64(idx) +
				pattern[y*workWidth+x] + rng.NormFloat64()*2
			g := uint8(math.Max(0, math.Min(255, math.Round(v))))
			o := img.PixOffset(x, y)
			img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = g, g, g, 255
		}
	}

	r.next += max(r.sel.Stride, 1)
	r.served++
	return &ffmpeg.Frame{Index: idx, Image: img}, nil
}

func (r *cameraReader) Close() error { return nil }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Sampler.MaxSamples = 60
	cfg.PRNU.FrameEvery = 1
	cfg.PRNU.WorkingSize = 128
	cfg.PRNU.CalibrationFrames = 30
	cfg.ProbeTimeout = 5 * time.Second
	return cfg
}

func evidenceFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("....ftypisom....encoder=Lavf61.7.100...."), 0644))
	return path
}

func probeFor(path string) *ffmpeg.ProbeResult {
	return &ffmpeg.ProbeResult{
		Path:       path,
		Size:       40,
		Duration:   10 * time.Second,
		Format:     "mov,mp4,m4a,3gp,3g2,mj2",
		VideoCodec: "h264",
		Width:      srcWidth,
		Height:     srcHeight,
		FrameRate:  30,
		FrameCount: 300,
		FormatTags: map[string]string{"encoder": "Lavf61.7.100", "creation_time": "2026-01-01T10:00:00.000000Z"},
		StreamTags: map[string]string{"creation_time": "2026-01-01T10:00:00.000000Z"},
	}
}

func newProber(paths ...string) *fakeProber {
	p := &fakeProber{
		results:   map[string]*ffmpeg.ProbeResult{},
		keyframes: []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
	}
	for _, path := range paths {
		p.results[path] = probeFor(path)
	}
	return p
}

func newAnalyzer(t *testing.T, prober *fakeProber, cam *camera) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(testConfig(), Tools{Prober: prober, Decoder: cam}, prnu.StrictProfile())
	require.NoError(t, err)
	return a
}

func TestAnalyzeAuthenticAgainstCalibratedProfile(t *testing.T) {
	cfg := testConfig()
	// calibrate on the same frames the analysis will see
	cfg.PRNU.CalibrationFrames = cfg.Sampler.MaxSamples

	refs := []string{"/ref/a.mp4", "/ref/b.mp4", "/ref/c.mp4"}
	c, err := NewCalibrator(cfg, Tools{Prober: newProber(refs...), Decoder: newCamera(300, 1)})
	require.NoError(t, err)
	cal, err := c.Calibrate(context.Background(), "bodycam", refs)
	require.NoError(t, err)
	require.True(t, cal.Profile.Adaptive())

	path := evidenceFile(t, "clip.mp4")
	a, err := NewAnalyzer(cfg, Tools{Prober: newProber(path), Decoder: newCamera(300, 1)}, cal.Profile)
	require.NoError(t, err)

	r, err := a.Analyze(context.Background(), path)
	require.NoError(t, err)

	require.Equal(t, prnu.StatusOK, r.PRNU.Status, r.PRNU.Error)
	assert.Equal(t, "bodycam", r.PRNU.Profile)
	assert.GreaterOrEqual(t, r.PRNU.Mean, cal.Profile.Consistent.MeanMin)
	assert.True(t, r.Verdict.Checks.MeanHighEnough)
	assert.False(t, r.Verdict.Inconsistent())
	assert.Equal(t, fusion.TierNoEvidence, r.Tier)
	assert.Less(t, r.Score, 60)
}

func TestAnalyzeSplicedSegment(t *testing.T) {
	path := evidenceFile(t, "spliced.mp4")
	prober := newProber(path)
	// keyframes crowd around the splice boundaries
	prober.keyframes = []float64{0, 0.2, 0.25, 5, 5.05, 9.9, 9.95, 10}

	// seconds 5-7 at 30 fps come from another sensor
	cam := newCamera(300, 1).spliced(150, 210, 99)
	r, err := newAnalyzer(t, prober, cam).Analyze(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, r.Errors)

	strict := prnu.StrictProfile()
	require.Equal(t, prnu.StatusOK, r.PRNU.Status, r.PRNU.Error)
	assert.GreaterOrEqual(t, r.PRNU.Std, strict.Tampering.StdMin)
	assert.True(t, r.Verdict.Checks.StdTooHigh)
	assert.True(t, r.Verdict.Inconsistent())

	assert.True(t, r.Structural.GOP.Flagged)
	assert.Greater(t, r.Structural.GOP.Irregularity, 1.3)

	assert.Greater(t, r.Score, 60)
	assert.Equal(t, fusion.TierTampered, r.Tier)
	assert.Equal(t, r.Fusion.Verdict, r.Tier)
	assert.Contains(t, r.Issues, "Sensor fingerprint: "+r.Verdict.Classification)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.NoError(t, report.Validate(data))
}

func TestAnalyzeAuthentic(t *testing.T) {
	path := evidenceFile(t, "clip.mp4")
	a := newAnalyzer(t, newProber(path), newCamera(300, 1))

	r, err := a.Analyze(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Empty(t, r.Errors)
	assert.Equal(t, "clip.mp4", r.File)
	require.NotNil(t, r.Sampling)
	assert.Equal(t, 60, r.Sampling.Sampled)
	assert.Equal(t, 5, r.Sampling.Stride)

	require.NotNil(t, r.Features)
	assert.Equal(t, 60, r.Features.SampledFrames)
	assert.True(t, r.Features.ELAStd.Available)
	assert.Equal(t, 0.0, r.Features.DuplicateRate.Value)

	assert.False(t, r.Structural.GOP.Flagged)
	assert.Equal(t, 0.0, r.Structural.GOP.Irregularity)
	require.NotNil(t, r.Structural.Metadata)
	assert.False(t, r.Structural.Metadata.Inconsistent)

	require.NotNil(t, r.Evidence)
	assert.Len(t, r.Evidence.Hashes.SHA256, 64)

	require.Equal(t, prnu.StatusOK, r.PRNU.Status, r.PRNU.Error)
	assert.Equal(t, 32, r.PRNU.PatchSize)
	assert.Greater(t, r.PRNU.Mean, 0.1)
	assert.Equal(t, verdict.HighlyConsistent, r.Verdict.Classification)
	assert.Equal(t, fusion.TierNoEvidence, r.Fusion.Verdict)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.NoError(t, report.Validate(data))
}

func TestAnalyzeUnreadableProbe(t *testing.T) {
	cam := newCamera(300, 1)
	a := newAnalyzer(t, newProber(), cam)

	r, err := a.Analyze(context.Background(), evidenceFile(t, "broken.mp4"))
	assert.Nil(t, r)
	assert.ErrorIs(t, err, stage.ErrAssetUnreadable)
	assert.Equal(t, int32(0), cam.opens.Load())
}

func TestAnalyzeZeroFrames(t *testing.T) {
	path := evidenceFile(t, "empty.mp4")
	prober := newProber(path)
	prober.results[path].FrameCount = 0
	prober.results[path].Duration = 0
	cam := newCamera(300, 1)

	r, err := newAnalyzer(t, prober, cam).Analyze(context.Background(), path)
	assert.Nil(t, r)
	assert.ErrorIs(t, err, stage.ErrAssetUnreadable)
	assert.Equal(t, int32(0), cam.opens.Load())
}

func TestAnalyzeNoVideoStream(t *testing.T) {
	path := evidenceFile(t, "audio.m4a")
	prober := newProber(path)
	prober.results[path].VideoCodec = ""

	_, err := newAnalyzer(t, prober, newCamera(300, 1)).Analyze(context.Background(), path)
	assert.ErrorIs(t, err, stage.ErrAssetUnreadable)
}

func TestAnalyzeUndecodable(t *testing.T) {
	path := evidenceFile(t, "corrupt.mp4")
	cam := newCamera(300, 1)
	cam.failAt = 0

	r, err := newAnalyzer(t, newProber(path), cam).Analyze(context.Background(), path)
	assert.Nil(t, r)
	assert.ErrorIs(t, err, stage.ErrAssetUnreadable)
}

func TestAnalyzePartialDecode(t *testing.T) {
	path := evidenceFile(t, "truncated.mp4")
	cam := newCamera(300, 1)
	cam.failAt = 100

	r, err := newAnalyzer(t, newProber(path), cam).Analyze(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, r.FailedStages(), stage.Sampling)
	require.NotNil(t, r.Features)
	assert.Equal(t, 20, r.Features.SampledFrames)
	assert.Equal(t, prnu.StatusOK, r.PRNU.Status)
}

func TestAnalyzeKeyframeProbeFailure(t *testing.T) {
	path := evidenceFile(t, "clip.mp4")
	prober := newProber(path)
	prober.keyframesErr = errors.New("exit status 1")

	r, err := newAnalyzer(t, prober, newCamera(300, 1)).Analyze(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{stage.GOP}, r.FailedStages())
	assert.True(t, r.Structural.GOP.Flagged)
	assert.Equal(t, 1.0, r.Structural.GOP.Irregularity)
	assert.Equal(t, stage.ReasonProbe, r.Errors[0].Reason)
}

func TestAnalyzeCancelled(t *testing.T) {
	path := evidenceFile(t, "clip.mp4")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newAnalyzer(t, newProber(path), newCamera(300, 1)).Analyze(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewAnalyzerRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"negative wavelet levels", func(c *config.Config) { c.PRNU.WaveletLevels = -3 }},
		{"no ela qualities", func(c *config.Config) { c.Extractors.ELAQualities = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			tools := Tools{Prober: newProber(), Decoder: newCamera(1, 1)}
			_, err := NewAnalyzer(cfg, tools, prnu.StrictProfile())
			assert.Error(t, err)
			_, err = NewCalibrator(cfg, tools)
			assert.Error(t, err)
		})
	}
}

func TestNewAnalyzerUnknownDenoiser(t *testing.T) {
	cfg := testConfig()
	cfg.PRNU.Denoiser = "bm3d"
	_, err := NewAnalyzer(cfg, Tools{Prober: newProber(), Decoder: newCamera(1, 1)}, prnu.StrictProfile())
	assert.Error(t, err)
}

func TestCalibrate(t *testing.T) {
	paths := []string{"/ref/a.mp4", "/ref/b.mp4", "/ref/c.mp4"}
	prober := newProber(paths[:2]...)

	c, err := NewCalibrator(testConfig(), Tools{Prober: prober, Decoder: newCamera(300, 7)})
	require.NoError(t, err)

	cal, err := c.Calibrate(context.Background(), "phone", paths)
	require.NoError(t, err)

	require.Len(t, cal.Videos, 3)
	assert.Equal(t, "a.mp4", cal.Videos[0].Video)
	assert.Equal(t, prnu.StatusOK, cal.Videos[0].Status)
	assert.Equal(t, 30, cal.Videos[0].NumFrames)
	assert.NotEmpty(t, cal.Videos[2].Error)

	assert.Equal(t, 2, cal.Global.Videos)
	assert.Equal(t, "phone", cal.Profile.Name)
	assert.True(t, cal.Profile.Adaptive())
	assert.Equal(t, int32(3), prober.probes.Load())
}

func TestCalibrateNoUsableVideos(t *testing.T) {
	c, err := NewCalibrator(testConfig(), Tools{Prober: newProber(), Decoder: newCamera(300, 7)})
	require.NoError(t, err)

	_, err = c.Calibrate(context.Background(), "phone", []string{"/ref/missing.mp4"})
	assert.ErrorIs(t, err, prnu.ErrNoCalibrationData)
}

func TestSpread(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.Equal(t, items, spread(items, 0))
	assert.Equal(t, items, spread(items, 20))
	assert.Equal(t, []int{0, 2, 4, 6, 8}, spread(items, 5))
	assert.Equal(t, []int{0, 3, 6}, spread(items, 3))
}
