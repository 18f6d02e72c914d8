package structural

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/gwlsn/vidproof/internal/ffmpeg"
	"github.com/gwlsn/vidproof/internal/stage"
)

var gopOpts = GOPOptions{Timeout: time.Second, CVThreshold: 1.3, MinKeyframes: 4}

type fakeKeyframes struct {
	times []float64
	err   error
	block bool
}

func (f *fakeKeyframes) Keyframes(ctx context.Context, _ string) ([]float64, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.times, f.err
}

func regular(n int, gap float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) * gap
	}
	return out
}

func TestScoreKeyframesRegular(t *testing.T) {
	r := ScoreKeyframes(regular(10, 2), gopOpts)
	assert.False(t, r.Flagged)
	assert.Equal(t, 10, r.Keyframes)
	assert.InDelta(t, 2.0, r.AvgInterval.Value, 1e-9)
	assert.InDelta(t, 0, r.CV.Value, 1e-9)
	assert.InDelta(t, 0, r.Irregularity, 1e-9)
	assert.Len(t, r.Intervals, 9)
}

func TestScoreKeyframesIrregular(t *testing.T) {
	// one very long GOP among short ones
	times := []float64{0, 0.5, 1.0, 1.5, 2.0, 2.5, 30}
	r := ScoreKeyframes(times, gopOpts)
	assert.True(t, r.Flagged)
	assert.Greater(t, r.CV.Value, 1.3)
	assert.Equal(t, r.CV.Value, r.Irregularity)
	assert.Contains(t, r.Reason, "irregular")
}

func TestScoreKeyframesTooFew(t *testing.T) {
	tests := []struct {
		name         string
		times        []float64
		flagged      bool
		irregularity float64
	}{
		{"none", nil, true, 1.0},
		{"one", []float64{0}, true, 1.0},
		{"three", regular(3, 2), true, 1.0},
		{"four regular", regular(4, 2), false, 1.0},
		{"five regular", regular(5, 2), false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ScoreKeyframes(tt.times, gopOpts)
			assert.Equal(t, tt.flagged, r.Flagged)
			assert.InDelta(t, tt.irregularity, r.Irregularity, 1e-9)
		})
	}
}

func TestGOPAnalyzerProbeFailure(t *testing.T) {
	a := NewGOPAnalyzer(&fakeKeyframes{err: errors.New("exit status 1")}, gopOpts)
	r := a.Analyze(context.Background(), "x.mp4")

	assert.True(t, r.Flagged)
	assert.Equal(t, 1.0, r.Irregularity)
	require.NotNil(t, r.Error)
	assert.Equal(t, stage.ReasonProbe, r.Error.Reason)
	assert.False(t, r.CV.Available)
}

func TestGOPAnalyzerTimeout(t *testing.T) {
	opts := gopOpts
	opts.Timeout = 20 * time.Millisecond
	a := NewGOPAnalyzer(&fakeKeyframes{block: true}, opts)

	r := a.Analyze(context.Background(), "x.mp4")
	assert.True(t, r.Flagged)
	require.NotNil(t, r.Error)
	assert.Equal(t, stage.ReasonTimeout, r.Error.Reason)
	assert.ErrorIs(t, r.Error, stage.ErrProbeTimeout)
}

func TestGOPAnalyzerSuccess(t *testing.T) {
	a := NewGOPAnalyzer(&fakeKeyframes{times: regular(8, 1)}, gopOpts)
	r := a.Analyze(context.Background(), "x.mp4")
	assert.False(t, r.Flagged)
	assert.Nil(t, r.Error)
}

func probeWith(format, stream map[string]string) *ffmpeg.ProbeResult {
	return &ffmpeg.ProbeResult{
		Duration:       10 * time.Second,
		StreamDuration: 10 * time.Second,
		FrameRate:      30,
		DeclaredFrames: 300,
		FormatTags:     format,
		StreamTags:     stream,
	}
}

func checks(r MetadataReport) []string {
	var out []string
	for _, a := range r.Anomalies {
		out = append(out, a.Check)
	}
	return out
}

func TestCheckMetadataClean(t *testing.T) {
	r := CheckMetadata(probeWith(
		map[string]string{"encoder": "Lavf60.3.100", "creation_time": "2024-03-01T10:00:00.000000Z"},
		map[string]string{"encoder": "Lavc60.31.102 libx264", "creation_time": "2024-03-01T10:00:01.000000Z"},
	))
	assert.Empty(t, r.Anomalies)
	assert.Equal(t, VerdictClean, r.Verdict)
	assert.Zero(t, r.TraceScore)
	assert.Equal(t, []string{"None Detected"}, r.Messages())
}

func TestCheckMetadataProEditorStreamOverrides(t *testing.T) {
	r := CheckMetadata(probeWith(
		map[string]string{"encoder": "Lavf60.3.100", "creation_time": "2024-03-01T10:00:00Z"},
		map[string]string{"encoder": "Adobe Premiere Pro 2024"},
	))
	assert.True(t, r.ProEditor)
	assert.Equal(t, "premiere", r.EditorMatch)
	assert.Contains(t, checks(r), "pro_editor")
	assert.Contains(t, checks(r), "encoder_mismatch")
	assert.Equal(t, 40, r.TraceScore)
	assert.Equal(t, VerdictLikelyEdited, r.Verdict)
	assert.True(t, r.Inconsistent)
}

func TestCheckMetadataMissingTags(t *testing.T) {
	r := CheckMetadata(probeWith(map[string]string{}, map[string]string{}))
	assert.ElementsMatch(t, []string{"missing_encoder", "missing_creation_time"}, checks(r))
	assert.Equal(t, 20, r.TraceScore)
	assert.Equal(t, VerdictPossiblyEdited, r.Verdict)
	assert.False(t, r.Inconsistent)
}

func TestCheckMetadataMismatches(t *testing.T) {
	p := probeWith(
		map[string]string{"encoder": "Lavf58", "creation_time": "2024-03-01T10:00:00Z"},
		map[string]string{"creation_time": "2024-03-01T12:00:00Z"},
	)
	p.StreamDuration = 7 * time.Second
	p.DeclaredFrames = 100

	r := CheckMetadata(p)
	assert.ElementsMatch(t, []string{"creation_time_mismatch", "duration_mismatch", "frame_count_mismatch"}, checks(r))
	assert.Equal(t, 50, r.TraceScore)
}

func TestProEditor(t *testing.T) {
	tests := []struct {
		format, stream string
		want           bool
	}{
		{"DaVinci Resolve", "", true},
		{"Lavf60", "", false},
		{"Adobe Premiere", "Lavc60 libx264", false}, // stream tag wins
		{"", "VEGAS Pro 20", true},
		{"", "Wondershare Filmora", true},
	}
	for _, tt := range tests {
		p := &ffmpeg.ProbeResult{
			FormatTags: map[string]string{"encoder": tt.format},
			StreamTags: map[string]string{},
		}
		if tt.stream != "" {
			p.StreamTags["encoder"] = tt.stream
		}
		assert.Equal(t, tt.want, ProEditor(p), "%q/%q", tt.format, tt.stream)
	}
}

func TestEncoderFamily(t *testing.T) {
	assert.Equal(t, "libav", encoderFamily("Lavf60.3.100"))
	assert.Equal(t, "libav", encoderFamily("Lavc60.31.102 libx264"))
	assert.Equal(t, "adobe", encoderFamily("Adobe Premiere Pro"))
	assert.Equal(t, "handbrake", encoderFamily("HandBrake 1.6.1"))
}

func TestPrintableStrings(t *testing.T) {
	data := []byte("\x00\x01hello\x00ftypisom\x00\x02short\x00tab\tline\nend\xff")
	got, truncated, err := PrintableStrings(bytes.NewReader(data), 6, 10)
	require.NoError(t, err)
	assert.False(t, truncated)

	require.Len(t, got, 2)
	assert.Equal(t, "ftypisom", got[0].String)
	assert.Equal(t, int64(8), got[0].Offset)
	assert.Equal(t, "0x8", got[0].HexOffset)
	assert.Equal(t, "tab\tline\nend", got[1].String)
	assert.Equal(t, 12, got[1].Length)
}

func TestPrintableStringsLimitAndEOF(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 5; i++ {
		buf.WriteString("abcdefgh\x00")
	}
	buf.WriteString("trailing") // no terminator
	got, truncated, err := PrintableStrings(&buf, 6, 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.True(t, truncated)

	got, _, err = PrintableStrings(strings.NewReader("\x00trailing"), 6, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "trailing", got[0].String)
}

func TestPrintableStringsCapsLongRuns(t *testing.T) {
	long := strings.Repeat("A", maxStringBytes+100)
	got, _, err := PrintableStrings(strings.NewReader(long), 6, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].String, maxStringBytes)
	assert.Equal(t, maxStringBytes+100, got[0].Length)
}

func TestHashFile(t *testing.T) {
	content := []byte("evidence bytes \x00\x01\x02 moov mdat")
	path := filepath.Join(t.TempDir(), "clip.bin")
	require.NoError(t, os.WriteFile(path, content, 0644))

	h, err := HashFile(context.Background(), path)
	require.NoError(t, err)

	md := md5.Sum(content)
	sh := sha256.Sum256(content)
	b2 := blake2b.Sum256(content)
	assert.Equal(t, int64(len(content)), h.Size)
	assert.Equal(t, hex.EncodeToString(md[:]), h.MD5)
	assert.Equal(t, hex.EncodeToString(sh[:]), h.SHA256)
	assert.Equal(t, hex.EncodeToString(b2[:]), h.BLAKE2b)
}

type fakeSubtitles struct {
	called bool
}

func (f *fakeSubtitles) Extract(_ context.Context, _ string, streams []ffmpeg.SubtitleStream) ([]ffmpeg.Subtitle, error) {
	f.called = true
	return []ffmpeg.Subtitle{{Stream: streams[0], SRT: "1\n00:00:00,000 --> 00:00:01,000\nhi\n"}}, nil
}

func TestEvidenceCollector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("\x00\x00\x00\x18ftypmp42\x00encoder=Lavf60\x00"), 0644))

	subs := &fakeSubtitles{}
	ev, err := NewEvidenceCollector(subs).Collect(context.Background(), path, []ffmpeg.SubtitleStream{{Index: 2, CodecName: "mov_text"}})
	require.NoError(t, err)

	assert.Equal(t, int64(28), ev.Hashes.Size)
	assert.NotEmpty(t, ev.Hashes.SHA256)
	require.Len(t, ev.Strings, 2)
	assert.Equal(t, "encoder=Lavf60", ev.Strings[1].String)
	assert.True(t, subs.called)
	assert.Len(t, ev.Subtitles, 1)
}

func TestEvidenceCollectorMissingFile(t *testing.T) {
	_, err := NewEvidenceCollector(nil).Collect(context.Background(), "/nonexistent/clip.mp4", nil)
	assert.Error(t, err)
}

func TestHashFileCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.bin")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := HashFile(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}
