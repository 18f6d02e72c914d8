// Package ffmpegtest generates short synthetic clips for tests that need a
// real video file. Tests are skipped when ffmpeg is not installed.
package ffmpegtest

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"testing"
)

// ClipOptions describes a synthetic test clip.
type ClipOptions struct {
	Seconds int
	Width   int
	Height  int
	FPS     int
	GOP     int    // keyframe interval in frames (0 = encoder default)
	Title   string // written as a container tag when non-empty
	Encoder string // overrides the encoder tag when non-empty
}

// RequireTools skips the test unless both ffmpeg and ffprobe are on PATH.
func RequireTools(t testing.TB) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found in PATH", bin)
		}
	}
}

// Clip encodes a testsrc2 clip into a temp dir and returns its path.
func Clip(t testing.TB, opts ClipOptions) string {
	t.Helper()
	RequireTools(t)

	if opts.Seconds <= 0 {
		opts.Seconds = 2
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 320, 240
	}
	if opts.FPS <= 0 {
		opts.FPS = 25
	}

	out := filepath.Join(t.TempDir(), "clip.mp4")
	src := fmt.Sprintf("testsrc2=size=%dx%d:rate=%d:duration=%d", opts.Width, opts.Height, opts.FPS, opts.Seconds)
	args := []string{
		"-hide_banner", "-nostdin", "-v", "error",
		"-f", "lavfi", "-i", src,
		"-c:v", "libx264", "-pix_fmt", "yuv420p", "-preset", "ultrafast",
	}
	if opts.GOP > 0 {
		args = append(args, "-g", fmt.Sprint(opts.GOP), "-keyint_min", fmt.Sprint(opts.GOP), "-sc_threshold", "0")
	}
	if opts.Title != "" {
		args = append(args, "-metadata", "title="+opts.Title)
	}
	if opts.Encoder != "" {
		args = append(args, "-metadata", "encoder="+opts.Encoder)
	}
	args = append(args, "-y", out)

	cmd := exec.Command("ffmpeg", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("could not encode test clip (libx264 missing?): %v: %s", err, output)
	}
	return out
}
