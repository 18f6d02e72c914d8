package ffmpeg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gwlsn/vidproof/internal/ffmpeg/ffmpegtest"
)

func TestProbe(t *testing.T) {
	testFile := ffmpegtest.Clip(t, ffmpegtest.ClipOptions{Seconds: 2, Width: 320, Height: 240, FPS: 25, Title: "probe test"})

	prober := NewProber("ffprobe")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := prober.Probe(ctx, testFile)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}

	if result.Path != testFile {
		t.Errorf("expected path %s, got %s", testFile, result.Path)
	}
	if result.Size == 0 {
		t.Error("expected non-zero size")
	}
	if result.Duration < 1500*time.Millisecond || result.Duration > 2500*time.Millisecond {
		t.Errorf("expected duration ~2s, got %v", result.Duration)
	}
	if result.VideoCodec != "h264" {
		t.Errorf("expected video codec h264, got %s", result.VideoCodec)
	}
	if result.Width != 320 || result.Height != 240 {
		t.Errorf("expected 320x240, got %dx%d", result.Width, result.Height)
	}
	if result.FrameRate < 24 || result.FrameRate > 26 {
		t.Errorf("expected frame rate ~25, got %f", result.FrameRate)
	}
	if result.FrameCount < 45 || result.FrameCount > 55 {
		t.Errorf("expected ~50 frames, got %d", result.FrameCount)
	}
	if result.FormatTags["title"] != "probe test" {
		t.Errorf("expected title tag, got %v", result.FormatTags)
	}
	if !result.HasVideo() {
		t.Error("expected HasVideo")
	}

	t.Logf("Probe result: %+v", result)
}

func TestProbeNonExistent(t *testing.T) {
	ffmpegtest.RequireTools(t)

	prober := NewProber("ffprobe")
	_, err := prober.Probe(context.Background(), "/nonexistent/file.mkv")
	if err == nil {
		t.Fatal("expected error for non-existent file")
	}
	var probeErr *ProbeError
	if !errors.As(err, &probeErr) {
		t.Errorf("expected *ProbeError, got %T", err)
	}
}

func TestProbeCancelled(t *testing.T) {
	ffmpegtest.RequireTools(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewProber("ffprobe").Probe(ctx, "/nonexistent/file.mkv")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestKeyframes(t *testing.T) {
	testFile := ffmpegtest.Clip(t, ffmpegtest.ClipOptions{Seconds: 4, FPS: 25, GOP: 25})

	times, err := NewProber("ffprobe").Keyframes(context.Background(), testFile)
	if err != nil {
		t.Fatalf("Keyframes failed: %v", err)
	}
	if len(times) != 4 {
		t.Fatalf("expected 4 keyframes, got %d (%v)", len(times), times)
	}
	for i := 1; i < len(times); i++ {
		if gap := times[i] - times[i-1]; gap < 0.9 || gap > 1.1 {
			t.Errorf("keyframe gap %d = %f, want ~1s", i, gap)
		}
	}
}

func TestParseProbeOutput(t *testing.T) {
	data := []byte(`{
		"format": {
			"format_name": "mov,mp4,m4a,3gp,3g2,mj2",
			"duration": "10.010000",
			"size": "1048576",
			"bit_rate": "838860",
			"tags": {"Encoder": "Lavf60.3.100", "creation_time": "2024-03-01T10:00:00.000000Z"}
		},
		"streams": [
			{"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
			 "r_frame_rate": "30000/1001", "duration": "10.010000", "nb_frames": "300",
			 "pix_fmt": "yuv420p10le", "tags": {"ENCODER": "Adobe Premiere Pro"}},
			{"index": 1, "codec_type": "audio", "codec_name": "aac"}
		],
		"chapters": [{"id": 0, "start_time": "0.000000"}]
	}`)

	result, err := parseProbeOutput("/evidence/a.mp4", data)
	if err != nil {
		t.Fatalf("parseProbeOutput failed: %v", err)
	}

	if result.Duration != 10010*time.Millisecond {
		t.Errorf("Duration = %v", result.Duration)
	}
	if result.DeclaredFrames != 300 || result.FrameCount != 300 {
		t.Errorf("frames = %d/%d, want 300", result.DeclaredFrames, result.FrameCount)
	}
	if result.BitDepth != 10 {
		t.Errorf("BitDepth = %d, want 10", result.BitDepth)
	}
	if result.FormatTags["encoder"] != "Lavf60.3.100" {
		t.Errorf("format tags not lower-cased: %v", result.FormatTags)
	}
	if result.StreamTags["encoder"] != "Adobe Premiere Pro" {
		t.Errorf("stream tags not lower-cased: %v", result.StreamTags)
	}
	if result.AudioCodec != "aac" || result.StreamCount != 2 || result.Chapters != 1 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestParseProbeOutputEstimatesFrameCount(t *testing.T) {
	data := []byte(`{"format": {"duration": "4.0"}, "streams": [
		{"codec_type": "video", "codec_name": "vp9", "width": 640, "height": 360, "r_frame_rate": "25/1"}]}`)

	result, err := parseProbeOutput("x.webm", data)
	if err != nil {
		t.Fatal(err)
	}
	if result.DeclaredFrames != 0 {
		t.Errorf("DeclaredFrames = %d, want 0", result.DeclaredFrames)
	}
	if result.FrameCount != 100 {
		t.Errorf("FrameCount = %d, want 100", result.FrameCount)
	}
}

func TestParseProbeOutputInvalid(t *testing.T) {
	if _, err := parseProbeOutput("x", []byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestParseKeyframes(t *testing.T) {
	data := []byte("0.000000,K__\n0.040000,___\n0.080000,___\n2.000000,K_\nN/A,K__\n4.000000,KD_\n\n")
	got := parseKeyframes(data)
	want := []float64{0, 2, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keyframe %d = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"30/1", 30.0},
		{"30000/1001", 29.97002997002997},
		{"24000/1001", 23.976023976023978},
		{"25/1", 25.0},
		{"60/1", 60.0},
		{"0/0", 0},
		{"", 0},
		{"30", 30.0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseFrameRate(tt.input)
			if result != tt.expected {
				t.Errorf("parseFrameRate(%q) = %f, expected %f", tt.input, result, tt.expected)
			}
		})
	}
}

func TestIsVideoFile(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"/path/to/video.mkv", true},
		{"/path/to/video.MKV", true},
		{"/path/to/video.mp4", true},
		{"/path/to/video.avi", true},
		{"/path/to/video.mov", true},
		{"/path/to/clip.3gp", true},
		{"/path/to/video.txt", false},
		{"/path/to/video.jpg", false},
		{"/path/to/video", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			result := IsVideoFile(tt.path)
			if result != tt.expected {
				t.Errorf("IsVideoFile(%q) = %v, expected %v", tt.path, result, tt.expected)
			}
		})
	}
}

func TestInferBitDepth(t *testing.T) {
	tests := []struct {
		pixFmt string
		want   int
	}{
		{"yuv420p", 8},
		{"yuv420p10le", 10},
		{"p010le", 10},
		{"yuv444p12le", 12},
		{"", 8},
	}
	for _, tt := range tests {
		if got := inferBitDepth(tt.pixFmt); got != tt.want {
			t.Errorf("inferBitDepth(%q) = %d, want %d", tt.pixFmt, got, tt.want)
		}
	}
}

func TestLastLines(t *testing.T) {
	out := "a\nb\nc\nd\n"
	if got := lastLines(out, 2); got != "c | d" {
		t.Errorf("lastLines = %q", got)
	}
}
