package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gwlsn/vidproof/internal/logger"
)

// firstFrameTimeout bounds how long ffmpeg may run without emitting a frame.
// A decoder that produces nothing for this long is almost always stuck on an
// unsupported or corrupt stream.
const firstFrameTimeout = 20 * time.Second

// Selection describes which frames to decode and at what size.
type Selection struct {
	Stride    int // keep every Stride-th decoded frame (1 = all)
	Width     int // output width in pixels
	Height    int // output height in pixels
	MaxFrames int // stop after this many kept frames (0 = no limit)
}

func (s Selection) filter() string {
	stride := s.Stride
	if stride < 1 {
		stride = 1
	}
	scale := "scale=" + strconv.Itoa(s.Width) + ":" + strconv.Itoa(s.Height) + ":flags=area"
	if stride == 1 {
		return scale
	}
	return fmt.Sprintf("select='not(mod(n\\,%d))',%s", stride, scale)
}

// Frame is one decoded RGBA frame.
type Frame struct {
	Index int // source frame index in decode order
	Image *image.RGBA
}

// FrameReader yields decoded frames in order. Next returns io.EOF once the
// stream is exhausted.
type FrameReader interface {
	Next() (*Frame, error)
	Close() error
}

// DecodeError represents a decode failure with the tail of ffmpeg's stderr
type DecodeError struct {
	Err    error
	Stderr string
	Frames int // frames delivered before failure
}

func (e *DecodeError) Error() string {
	if e.Stderr == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (%s)", e.Err, e.Stderr)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// FrameDecoder wraps ffmpeg frame extraction
type FrameDecoder struct {
	ffmpegPath string
}

// NewFrameDecoder creates a new FrameDecoder with the given ffmpeg path
func NewFrameDecoder(ffmpegPath string) *FrameDecoder {
	return &FrameDecoder{ffmpegPath: ffmpegPath}
}

// Open starts ffmpeg and returns a reader over the selected frames.
// The caller must Close the reader.
func (d *FrameDecoder) Open(ctx context.Context, inputPath string, sel Selection) (FrameReader, error) {
	if sel.Width <= 0 || sel.Height <= 0 {
		return nil, fmt.Errorf("invalid output size %dx%d", sel.Width, sel.Height)
	}

	args := []string{
		"-hide_banner",
		"-nostdin",
		"-v", "error",
		"-i", inputPath,
		"-map", "0:v:0",
		"-an", "-sn", "-dn",
		"-vf", sel.filter(),
		"-vsync", "0",
	}
	if sel.MaxFrames > 0 {
		args = append(args, "-frames:v", strconv.Itoa(sel.MaxFrames))
	}
	args = append(args, "-f", "rawvideo", "-pix_fmt", "rgba", "pipe:1")

	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, d.ffmpegPath, args...)

	logger.Debug("FFmpeg command", "args", strings.Join(args, " "))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	r := &rawReader{
		ctx:       ctx,
		cmd:       cmd,
		cancel:    cancel,
		width:     sel.Width,
		height:    sel.Height,
		stride:    max(sel.Stride, 1),
		firstSeen: make(chan struct{}),
	}
	cmd.Stderr = &r.stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	r.src = bufio.NewReaderSize(stdout, sel.Width*sel.Height*4)

	go r.watchdog()

	return r, nil
}

// rawReader slices ffmpeg's rawvideo stdout into fixed-size RGBA frames.
type rawReader struct {
	ctx    context.Context
	cmd    *exec.Cmd
	cancel context.CancelFunc
	src    *bufio.Reader
	stderr bytes.Buffer

	width, height int
	stride        int
	frames        int

	firstSeen chan struct{}
	firstOnce sync.Once
	stalled   bool
	stallMu   sync.Mutex

	done    bool
	waitErr error
}

func (r *rawReader) watchdog() {
	select {
	case <-r.firstSeen:
	case <-r.ctx.Done():
	case <-time.After(firstFrameTimeout):
		logger.Warn("FFmpeg produced no frames within timeout, killing process",
			"timeout", firstFrameTimeout)
		r.stallMu.Lock()
		r.stalled = true
		r.stallMu.Unlock()
		r.cancel()
	}
}

func (r *rawReader) Next() (*Frame, error) {
	if r.done {
		return nil, io.EOF
	}

	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	_, err := io.ReadFull(r.src, img.Pix)
	switch {
	case err == nil:
		r.firstOnce.Do(func() { close(r.firstSeen) })
		f := &Frame{Index: r.frames * r.stride, Image: img}
		r.frames++
		return f, nil
	case errors.Is(err, io.EOF):
		r.done = true
		if werr := r.wait(); werr != nil {
			return nil, werr
		}
		return nil, io.EOF
	default:
		r.done = true
		if werr := r.wait(); werr != nil {
			return nil, werr
		}
		return nil, &DecodeError{
			Err:    fmt.Errorf("truncated frame after %d frames: %w", r.frames, err),
			Frames: r.frames,
		}
	}
}

// wait reaps the process once and converts failures into a DecodeError.
func (r *rawReader) wait() error {
	if r.cmd.ProcessState != nil {
		return r.waitErr
	}
	err := r.cmd.Wait()
	r.cancel()
	if err == nil {
		return nil
	}

	r.stallMu.Lock()
	stalled := r.stalled
	r.stallMu.Unlock()

	switch {
	case r.ctx.Err() != nil:
		r.waitErr = r.ctx.Err()
	case stalled:
		r.waitErr = &DecodeError{
			Err:    fmt.Errorf("ffmpeg produced no frames within %s", firstFrameTimeout),
			Stderr: lastLines(r.stderr.String(), 5),
		}
	default:
		stderrOutput := r.stderr.String()
		if stderrOutput != "" {
			logger.Error("FFmpeg failed", "error", err, "stderr", lastLines(stderrOutput, 5))
		}
		r.waitErr = &DecodeError{
			Err:    fmt.Errorf("ffmpeg failed: %w", err),
			Stderr: lastLines(stderrOutput, 5),
			Frames: r.frames,
		}
	}
	return r.waitErr
}

// Close stops ffmpeg if it is still running. Errors caused by the early stop
// are not reported.
func (r *rawReader) Close() error {
	r.firstOnce.Do(func() { close(r.firstSeen) })
	if r.cmd.ProcessState != nil {
		return nil
	}
	if !r.done {
		r.done = true
		r.cancel()
		_ = r.cmd.Wait()
		return nil
	}
	return r.wait()
}
