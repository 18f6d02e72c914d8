package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/gwlsn/vidproof/internal/logger"
)

// SubtitleStream describes one subtitle track found by ffprobe.
type SubtitleStream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	Language  string `json:"language,omitempty"`
}

// textSubtitleCodecs lists subtitle codecs ffmpeg can render to SRT.
// Bitmap formats (dvd_subtitle, hdmv_pgs_subtitle, dvb_subtitle) carry
// images, not text, and are skipped.
var textSubtitleCodecs = map[string]bool{
	"subrip":   true,
	"srt":      true,
	"ass":      true,
	"ssa":      true,
	"text":     true,
	"webvtt":   true,
	"mov_text": true,
}

// IsTextSubtitle returns true if the codec carries text that can be extracted.
// Normalizes to lowercase and trims whitespace for safety.
func IsTextSubtitle(codecName string) bool {
	return textSubtitleCodecs[strings.ToLower(strings.TrimSpace(codecName))]
}

// FilterText partitions subtitle streams into extractable text streams and
// the unique codec names of the skipped ones.
func FilterText(streams []SubtitleStream) (text []SubtitleStream, skippedCodecs []string) {
	seen := make(map[string]bool)
	for _, s := range streams {
		if IsTextSubtitle(s.CodecName) {
			text = append(text, s)
			continue
		}
		if !seen[s.CodecName] {
			seen[s.CodecName] = true
			skippedCodecs = append(skippedCodecs, s.CodecName)
		}
	}
	return text, skippedCodecs
}

// Subtitle is the SRT rendering of one embedded text subtitle stream.
type Subtitle struct {
	Stream    SubtitleStream `json:"stream"`
	SRT       string         `json:"srt"`
	Truncated bool           `json:"truncated,omitempty"`
}

// SubtitleExtractor renders embedded text subtitles with ffmpeg.
type SubtitleExtractor struct {
	ffmpegPath string
	maxBytes   int
}

// NewSubtitleExtractor creates an extractor that keeps at most maxBytes of
// SRT text per stream.
func NewSubtitleExtractor(ffmpegPath string, maxBytes int) *SubtitleExtractor {
	return &SubtitleExtractor{ffmpegPath: ffmpegPath, maxBytes: maxBytes}
}

// Extract renders every text subtitle stream. Streams that fail are logged
// and skipped.
func (x *SubtitleExtractor) Extract(ctx context.Context, path string, streams []SubtitleStream) ([]Subtitle, error) {
	text, skipped := FilterText(streams)
	if len(skipped) > 0 {
		logger.Debug("Skipping bitmap subtitle streams", "path", path, "codecs", skipped)
	}

	var out []Subtitle
	for _, s := range text {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		srt, err := x.extractOne(ctx, path, s.Index)
		if err != nil {
			logger.Warn("Subtitle extraction failed", "path", path, "stream", s.Index, "error", err)
			continue
		}
		sub := Subtitle{Stream: s, SRT: srt}
		if x.maxBytes > 0 && len(sub.SRT) > x.maxBytes {
			sub.SRT = sub.SRT[:x.maxBytes]
			sub.Truncated = true
		}
		out = append(out, sub)
	}
	return out, nil
}

func (x *SubtitleExtractor) extractOne(ctx context.Context, path string, index int) (string, error) {
	args := []string{
		"-hide_banner", "-nostdin", "-v", "error",
		"-i", path,
		"-map", "0:" + strconv.Itoa(index),
		"-f", "srt", "pipe:1",
	}
	logger.Debug("FFmpeg command", "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, x.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg failed: %w (%s)", err, lastLines(stderr.String(), 3))
	}
	return string(output), nil
}
