package structural

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gwlsn/vidproof/internal/ffmpeg"
)

// proEditors are encoder substrings left by professional editing suites.
var proEditors = []string{
	"premiere",
	"adobe",
	"after effects",
	"davinci",
	"vegas",
	"filmora",
}

// Checklist weights
const (
	weightMissingEncoder     = 10
	weightProEditor          = 25
	weightMissingCreation    = 10
	weightCreationMismatch   = 20
	weightEncoderMismatch    = 15
	weightDurationMismatch   = 15
	weightFrameCountMismatch = 15
)

// Checklist tolerances
const (
	creationTolerance   = 2 * time.Second
	durationTolerance   = time.Second
	frameCountTolerance = 0.02
)

// Metadata verdicts
const (
	VerdictClean          = "Clean"
	VerdictPossiblyEdited = "Possibly Edited"
	VerdictLikelyEdited   = "Likely Edited"
)

// Anomaly is one failed metadata check.
type Anomaly struct {
	Check   string `json:"check"`
	Message string `json:"message"`
	Weight  int    `json:"weight"`
}

// MetadataReport is the result of the container/stream tag checklist.
type MetadataReport struct {
	Encoder      string    `json:"encoder"`       // stream tag, else container tag
	CreationTime string    `json:"creation_time"` // container tag, else stream tag
	ProEditor    bool      `json:"pro_editor"`
	EditorMatch  string    `json:"editor_match,omitempty"`
	Anomalies    []Anomaly `json:"anomalies"`
	TraceScore   int       `json:"trace_score"`
	Verdict      string    `json:"verdict"`
	Inconsistent bool      `json:"inconsistent"` // verdict is Likely Edited
}

// Messages returns the anomaly strings, or "None Detected".
func (r *MetadataReport) Messages() []string {
	if len(r.Anomalies) == 0 {
		return []string{"None Detected"}
	}
	out := make([]string, len(r.Anomalies))
	for i, a := range r.Anomalies {
		out[i] = a.Message
	}
	return out
}

// CheckMetadata runs the metadata checklist over probe output.
func CheckMetadata(p *ffmpeg.ProbeResult) MetadataReport {
	var r MetadataReport
	add := func(check string, weight int, format string, args ...any) {
		r.Anomalies = append(r.Anomalies, Anomaly{Check: check, Message: fmt.Sprintf(format, args...), Weight: weight})
		r.TraceScore += weight
	}

	formatEnc := strings.TrimSpace(p.FormatTags["encoder"])
	streamEnc := strings.TrimSpace(p.StreamTags["encoder"])
	r.Encoder = formatEnc
	if streamEnc != "" {
		r.Encoder = streamEnc
	}

	if r.Encoder == "" {
		add("missing_encoder", weightMissingEncoder, "Encoder tag missing")
	} else if match := matchProEditor(r.Encoder); match != "" {
		r.ProEditor = true
		r.EditorMatch = match
		add("pro_editor", weightProEditor, "Professional editing software in encoder tag: %s", r.Encoder)
	}

	formatCreated := p.FormatTags["creation_time"]
	streamCreated := p.StreamTags["creation_time"]
	r.CreationTime = formatCreated
	if r.CreationTime == "" {
		r.CreationTime = streamCreated
	}

	if r.CreationTime == "" {
		add("missing_creation_time", weightMissingCreation, "creation_time tag missing")
	} else if formatCreated != "" && streamCreated != "" {
		ft, ferr := parseTagTime(formatCreated)
		st, serr := parseTagTime(streamCreated)
		if ferr == nil && serr == nil {
			if d := ft.Sub(st).Abs(); d > creationTolerance {
				add("creation_time_mismatch", weightCreationMismatch,
					"Timestamp mismatch: container %s vs stream %s (%s apart)", formatCreated, streamCreated, d)
			}
		}
	}

	if formatEnc != "" && streamEnc != "" && encoderFamily(formatEnc) != encoderFamily(streamEnc) {
		add("encoder_mismatch", weightEncoderMismatch,
			"Encoder mismatch: container %q vs stream %q", formatEnc, streamEnc)
	}

	if p.Duration > 0 && p.StreamDuration > 0 {
		if d := (p.Duration - p.StreamDuration).Abs(); d > durationTolerance {
			add("duration_mismatch", weightDurationMismatch,
				"Duration mismatch: container %.2fs vs stream %.2fs", p.Duration.Seconds(), p.StreamDuration.Seconds())
		}
	}

	if p.DeclaredFrames > 0 && p.FrameRate > 0 {
		dur := p.StreamDuration
		if dur == 0 {
			dur = p.Duration
		}
		expected := dur.Seconds() * p.FrameRate
		if expected > 0 {
			if rel := math.Abs(float64(p.DeclaredFrames)-expected) / expected; rel > frameCountTolerance {
				add("frame_count_mismatch", weightFrameCountMismatch,
					"Frame count mismatch: declared %d vs %.0f expected from duration (%.1f%%)",
					p.DeclaredFrames, expected, rel*100)
			}
		}
	}

	switch {
	case r.TraceScore == 0:
		r.Verdict = VerdictClean
	case r.TraceScore <= 30:
		r.Verdict = VerdictPossiblyEdited
	default:
		r.Verdict = VerdictLikelyEdited
		r.Inconsistent = true
	}
	return r
}

// ProEditor reports whether the encoder tags name a professional editor.
// Stream tags override container tags.
func ProEditor(p *ffmpeg.ProbeResult) bool {
	enc := p.FormatTags["encoder"]
	if s := p.StreamTags["encoder"]; s != "" {
		enc = s
	}
	return matchProEditor(enc) != ""
}

func matchProEditor(encoder string) string {
	enc := strings.ToLower(encoder)
	for _, e := range proEditors {
		if strings.Contains(enc, e) {
			return e
		}
	}
	return ""
}

// encoderFamily reduces an encoder string to its product name so that
// libavformat and libavcodec tags ("Lavf60.3.100", "Lavc60.31 libx264")
// compare equal.
func encoderFamily(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if f := strings.Fields(s); len(f) > 0 {
		s = f[0]
	}
	s = strings.TrimRight(s, "0123456789.")
	if strings.HasPrefix(s, "lav") {
		return "libav"
	}
	return s
}

func parseTagTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006:01:02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}
