package structural

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/gwlsn/vidproof/internal/ffmpeg"
	"github.com/gwlsn/vidproof/internal/logger"
)

const (
	// DefaultMinStringLen is the shortest run of printable bytes reported.
	DefaultMinStringLen = 6
	// DefaultStringLimit caps the number of strings kept per file.
	DefaultStringLimit = 2000
	// maxStringBytes caps the text stored for a single string; Length still
	// reports the full run.
	maxStringBytes = 4096
	// MaxSubtitleBytes caps the SRT text kept per subtitle stream.
	MaxSubtitleBytes = 64 << 10
)

// Hashes are the digests of an evidence file.
type Hashes struct {
	Size    int64  `json:"size"`
	MD5     string `json:"md5"`
	SHA256  string `json:"sha256"`
	BLAKE2b string `json:"blake2b_256"`
}

// PrintableString is a run of printable ASCII found in the raw file bytes.
type PrintableString struct {
	Offset    int64  `json:"offset"`
	HexOffset string `json:"hex_offset"`
	Length    int    `json:"length"`
	String    string `json:"string"`
}

// Evidence is the byte-level record of an evidence file.
type Evidence struct {
	Hashes           Hashes            `json:"hashes"`
	Strings          []PrintableString `json:"printable_strings"`
	StringsTruncated bool              `json:"printable_strings_truncated,omitempty"`
	Subtitles        []ffmpeg.Subtitle `json:"embedded_subtitles,omitempty"`
}

// SubtitleSource extracts embedded text subtitles. *ffmpeg.SubtitleExtractor
// satisfies it.
type SubtitleSource interface {
	Extract(ctx context.Context, path string, streams []ffmpeg.SubtitleStream) ([]ffmpeg.Subtitle, error)
}

// EvidenceCollector hashes a file, scans it for printable strings in the
// same pass and renders embedded subtitles.
type EvidenceCollector struct {
	subtitles SubtitleSource
	minLen    int
	limit     int
}

// NewEvidenceCollector creates a collector. subtitles may be nil.
func NewEvidenceCollector(subtitles SubtitleSource) *EvidenceCollector {
	return &EvidenceCollector{
		subtitles: subtitles,
		minLen:    DefaultMinStringLen,
		limit:     DefaultStringLimit,
	}
}

// Collect reads path once and returns its evidence record.
func (c *EvidenceCollector) Collect(ctx context.Context, path string, streams []ffmpeg.SubtitleStream) (*Evidence, error) {
	start := time.Now()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := newStringScanner(c.minLen, c.limit)
	hashes, err := hashReader(ctx, io.TeeReader(f, scanner))
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	scanner.flush()

	ev := &Evidence{
		Hashes:           hashes,
		Strings:          scanner.strings,
		StringsTruncated: scanner.truncated,
	}

	if c.subtitles != nil && len(streams) > 0 {
		subs, err := c.subtitles.Extract(ctx, path, streams)
		if err != nil {
			logger.Warn("Subtitle extraction incomplete", "path", path, "error", err)
		}
		ev.Subtitles = subs
	}

	logger.Debug("Evidence collected",
		"path", path,
		"size", hashes.Size,
		"strings", len(ev.Strings),
		"duration", time.Since(start).String())
	return ev, nil
}

// HashFile returns the MD5, SHA-256 and BLAKE2b-256 digests of path.
func HashFile(ctx context.Context, path string) (Hashes, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hashes{}, err
	}
	defer f.Close()
	return hashReader(ctx, f)
}

func hashReader(ctx context.Context, r io.Reader) (Hashes, error) {
	b2, err := blake2b.New256(nil)
	if err != nil {
		return Hashes{}, err
	}
	digests := []hash.Hash{md5.New(), sha256.New(), b2}
	writers := make([]io.Writer, len(digests))
	for i, d := range digests {
		writers[i] = d
	}

	n, err := io.Copy(io.MultiWriter(writers...), ctxReader{ctx: ctx, r: r})
	if err != nil {
		return Hashes{}, err
	}
	return Hashes{
		Size:    n,
		MD5:     hex.EncodeToString(digests[0].Sum(nil)),
		SHA256:  hex.EncodeToString(digests[1].Sum(nil)),
		BLAKE2b: hex.EncodeToString(digests[2].Sum(nil)),
	}, nil
}

// ctxReader aborts a long copy when the context is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// PrintableStrings returns runs of at least minLen printable ASCII bytes
// (plus tab, LF and CR) in file order, keeping at most limit of them.
func PrintableStrings(r io.Reader, minLen, limit int) ([]PrintableString, bool, error) {
	s := newStringScanner(minLen, limit)
	if _, err := io.Copy(s, r); err != nil {
		return nil, false, err
	}
	s.flush()
	return s.strings, s.truncated, nil
}

// stringScanner is an io.Writer that extracts printable runs from a byte
// stream. Once limit strings are held it only tracks that more exist.
type stringScanner struct {
	minLen int
	limit  int

	offset    int64
	start     int64
	runLen    int
	buf       []byte
	strings   []PrintableString
	truncated bool
}

func newStringScanner(minLen, limit int) *stringScanner {
	return &stringScanner{minLen: minLen, limit: limit}
}

func isPrintable(b byte) bool {
	return (b >= 32 && b <= 126) || b == '\t' || b == '\n' || b == '\r'
}

func (s *stringScanner) Write(p []byte) (int, error) {
	for _, b := range p {
		if isPrintable(b) {
			if s.runLen == 0 {
				s.start = s.offset
				s.buf = s.buf[:0]
			}
			s.runLen++
			if len(s.buf) < maxStringBytes {
				s.buf = append(s.buf, b)
			}
		} else {
			s.flush()
		}
		s.offset++
	}
	return len(p), nil
}

func (s *stringScanner) flush() {
	if s.runLen >= s.minLen {
		if s.limit > 0 && len(s.strings) >= s.limit {
			s.truncated = true
		} else {
			s.strings = append(s.strings, PrintableString{
				Offset:    s.start,
				HexOffset: fmt.Sprintf("0x%X", s.start),
				Length:    s.runLen,
				String:    string(s.buf),
			})
		}
	}
	s.runLen = 0
}
