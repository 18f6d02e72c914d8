package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ProbeResult contains container and stream metadata for an evidence file
type ProbeResult struct {
	Path           string            `json:"path"`
	Size           int64             `json:"size"`
	Duration       time.Duration     `json:"duration"`
	StreamDuration time.Duration     `json:"stream_duration"` // video stream duration, 0 if not reported
	Format         string            `json:"format"`
	VideoCodec     string            `json:"video_codec"`
	AudioCodec     string            `json:"audio_codec"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	Bitrate        int64             `json:"bitrate"` // bits per second
	FrameRate      float64           `json:"frame_rate"`
	FrameCount     int64             `json:"frame_count"`     // declared nb_frames, else duration x fps
	DeclaredFrames int64             `json:"declared_frames"` // nb_frames as written by the muxer, 0 if absent
	Profile        string            `json:"profile"`
	PixelFormat    string            `json:"pix_fmt"`
	BitDepth       int               `json:"bit_depth"`
	StreamCount    int               `json:"stream_count"`
	Chapters       int               `json:"chapters"`
	FormatTags     map[string]string `json:"format_tags"` // keys lower-cased
	StreamTags     map[string]string `json:"stream_tags"` // first video stream, keys lower-cased

	SubtitleStreams []SubtitleStream `json:"subtitle_streams,omitempty"`
}

// HasVideo reports whether a decodable video stream was found.
func (r *ProbeResult) HasVideo() bool {
	return r.VideoCodec != "" && r.Width > 0 && r.Height > 0
}

// ffprobeOutput represents the JSON output from ffprobe
type ffprobeOutput struct {
	Format   ffprobeFormat    `json:"format"`
	Streams  []ffprobeStream  `json:"streams"`
	Chapters []ffprobeChapter `json:"chapters"`
}

type ffprobeFormat struct {
	Filename   string            `json:"filename"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

type ffprobeStream struct {
	Index            int               `json:"index"`
	CodecType        string            `json:"codec_type"`
	CodecName        string            `json:"codec_name"`
	Width            int               `json:"width"`
	Height           int               `json:"height"`
	RFrameRate       string            `json:"r_frame_rate"`
	AvgFrameRate     string            `json:"avg_frame_rate"`
	Duration         string            `json:"duration"`
	NbFrames         string            `json:"nb_frames"`
	Profile          string            `json:"profile"`
	PixelFormat      string            `json:"pix_fmt"`
	BitsPerRawSample string            `json:"bits_per_raw_sample"`
	Tags             map[string]string `json:"tags"`
}

type ffprobeChapter struct {
	ID        int64  `json:"id"`
	StartTime string `json:"start_time"`
}

// ProbeError is returned when ffprobe exits unsuccessfully.
type ProbeError struct {
	Err    error
	Stderr string
}

func (e *ProbeError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("ffprobe failed: %v", e.Err)
	}
	return fmt.Sprintf("ffprobe failed: %v (%s)", e.Err, e.Stderr)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// Prober wraps ffprobe functionality
type Prober struct {
	ffprobePath string
}

// NewProber creates a new Prober with the given ffprobe path
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath}
}

// Probe returns metadata about a video file
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	output, err := p.run(ctx,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-show_chapters",
		path,
	)
	if err != nil {
		return nil, err
	}
	return parseProbeOutput(path, output)
}

// Keyframes returns the presentation timestamps, in seconds, of every
// keyframe packet in the first video stream.
func (p *Prober) Keyframes(ctx context.Context, path string) ([]float64, error) {
	output, err := p.run(ctx,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "packet=pts_time,flags",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return nil, err
	}
	return parseKeyframes(output), nil
}

func (p *Prober) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &ProbeError{Err: ctxErr}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ProbeError{Err: err, Stderr: lastLines(stderr.String(), 3)}
		}
		return nil, &ProbeError{Err: err}
	}
	return output, nil
}

func parseProbeOutput(path string, data []byte) (*ProbeResult, error) {
	var probeOutput ffprobeOutput
	if err := json.Unmarshal(data, &probeOutput); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	result := &ProbeResult{
		Path:        path,
		Format:      probeOutput.Format.FormatName,
		StreamCount: len(probeOutput.Streams),
		Chapters:    len(probeOutput.Chapters),
		FormatTags:  lowerKeys(probeOutput.Format.Tags),
		StreamTags:  map[string]string{},
	}

	// Parse format-level metadata
	if probeOutput.Format.Size != "" {
		result.Size, _ = strconv.ParseInt(probeOutput.Format.Size, 10, 64)
	}
	if probeOutput.Format.BitRate != "" {
		result.Bitrate, _ = strconv.ParseInt(probeOutput.Format.BitRate, 10, 64)
	}
	result.Duration = parseSeconds(probeOutput.Format.Duration)

	// Parse stream-level metadata
	for i := range probeOutput.Streams {
		stream := &probeOutput.Streams[i]
		switch stream.CodecType {
		case "video":
			if result.VideoCodec == "" { // Take first video stream
				result.VideoCodec = stream.CodecName
				result.Width = stream.Width
				result.Height = stream.Height
				result.FrameRate = parseFrameRate(stream.RFrameRate)
				if result.FrameRate == 0 {
					result.FrameRate = parseFrameRate(stream.AvgFrameRate)
				}
				result.StreamDuration = parseSeconds(stream.Duration)
				result.DeclaredFrames, _ = strconv.ParseInt(stream.NbFrames, 10, 64)
				result.Profile = stream.Profile
				result.PixelFormat = stream.PixelFormat
				if stream.BitsPerRawSample != "" {
					result.BitDepth, _ = strconv.Atoi(stream.BitsPerRawSample)
				}
				// Fallback: infer bit depth from pixel format if not provided
				if result.BitDepth == 0 {
					result.BitDepth = inferBitDepth(stream.PixelFormat)
				}
				result.StreamTags = lowerKeys(stream.Tags)
			}
		case "audio":
			if result.AudioCodec == "" { // Take first audio stream
				result.AudioCodec = stream.CodecName
			}
		case "subtitle":
			result.SubtitleStreams = append(result.SubtitleStreams, SubtitleStream{
				Index:     stream.Index,
				CodecName: stream.CodecName,
				Language:  lowerKeys(stream.Tags)["language"],
			})
		}
	}

	result.FrameCount = result.DeclaredFrames
	if result.FrameCount <= 0 {
		duration := result.StreamDuration
		if duration == 0 {
			duration = result.Duration
		}
		result.FrameCount = int64(duration.Seconds() * result.FrameRate)
	}

	return result, nil
}

// parseKeyframes reads "pts_time,flags" CSV rows and keeps keyframe timestamps.
func parseKeyframes(data []byte) []float64 {
	var times []float64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Split(strings.TrimSpace(line), ",")
		if len(fields) < 2 || !strings.Contains(fields[1], "K") {
			continue
		}
		if fields[0] == "N/A" {
			continue
		}
		ts, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		times = append(times, ts)
	}
	return times
}

func lowerKeys(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[strings.ToLower(k)] = v
	}
	return out
}

func parseSeconds(s string) time.Duration {
	if s == "" || s == "N/A" {
		return 0
	}
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return time.Duration(sec * float64(time.Second))
}

// parseFrameRate parses a frame rate string like "30000/1001" or "30/1"
func parseFrameRate(s string) float64 {
	if s == "" || s == "0/0" {
		return 0
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}

// inferBitDepth attempts to determine bit depth from pixel format string
func inferBitDepth(pixFmt string) int {
	if pixFmt == "" {
		return 8 // Default to 8-bit if unknown
	}
	if strings.Contains(pixFmt, "10le") || strings.Contains(pixFmt, "10be") || strings.Contains(pixFmt, "p010") {
		return 10
	}
	if strings.Contains(pixFmt, "12le") || strings.Contains(pixFmt, "12be") {
		return 12
	}
	return 8
}

// IsVideoFile returns true if the file extension suggests a video file
func IsVideoFile(path string) bool {
	ext := strings.ToLower(path)
	videoExtensions := []string{
		".mkv", ".mp4", ".avi", ".mov", ".wmv", ".flv",
		".webm", ".m4v", ".mpeg", ".mpg", ".m2ts", ".ts", ".3gp",
	}
	for _, ve := range videoExtensions {
		if strings.HasSuffix(ext, ve) {
			return true
		}
	}
	return false
}

// Available reports whether the given binary can be found on PATH (or at the given path).
func Available(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}

// lastLines returns the last n non-empty lines from output
func lastLines(output string, n int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
