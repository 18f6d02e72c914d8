// Package report assembles, validates and persists the forensic report of one
// analysis run.
package report

import (
	"time"

	"github.com/gwlsn/vidproof/internal/features"
	"github.com/gwlsn/vidproof/internal/fusion"
	"github.com/gwlsn/vidproof/internal/prnu"
	"github.com/gwlsn/vidproof/internal/stage"
	"github.com/gwlsn/vidproof/internal/structural"
	"github.com/gwlsn/vidproof/internal/verdict"
)

// BasicInfo describes the video as probed.
type BasicInfo struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	Duration   float64 `json:"duration_sec"`
	FrameCount int64   `json:"frame_count"`
	Container  string  `json:"container"`
	VideoCodec string  `json:"video_codec"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	Bitrate    int64   `json:"bitrate"`
	Size       int64   `json:"size"`
	SizeHuman  string  `json:"size_human"`
	PixelFmt   string  `json:"pixel_format,omitempty"`
}

// Sampling summarises the frame sampler's work.
type Sampling struct {
	Stride    int     `json:"stride"`
	Width     int     `json:"working_width"`
	Height    int     `json:"working_height"`
	Sampled   int     `json:"sampled_frames"`
	Changed   int     `json:"changed_frames"`
	SpanSec   float64 `json:"span_sec"`
	ElapsedMS int64   `json:"elapsed_ms"`
}

// Structural groups the container-level findings.
type Structural struct {
	GOP      *structural.GOPReport      `json:"gop"`
	Metadata *structural.MetadataReport `json:"metadata"`
}

// PRNU is the serialised estimator output. The reference pattern is always
// replaced by its summary.
type PRNU struct {
	prnu.Result
	Reference any    `json:"prnu_ref"`
	Profile   string `json:"threshold_profile"`
}

// ForensicReport is the terminal output of an analysis run. It is built once
// and never modified afterwards.
type ForensicReport struct {
	ID        string    `json:"id"`
	File      string    `json:"file"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`

	BasicInfo  *BasicInfo              `json:"basic_info"`
	Sampling   *Sampling               `json:"sampling"`
	Evidence   *structural.Evidence    `json:"evidence"`
	Structural Structural              `json:"structural"`
	Features   *features.FeatureVector `json:"features"`
	PerFrame   map[string]any          `json:"per_frame"`
	PRNU       *PRNU                   `json:"prnu"`
	Verdict    *verdict.Verdict        `json:"prnu_verdict"`
	Fusion     fusion.Result           `json:"fusion"`
	Inputs     fusion.Features         `json:"fusion_inputs"`
	Heuristic  verdict.Suspicion       `json:"heuristic"`
	Errors     []*stage.Failure        `json:"errors"`

	Final
}

// Final is the report's one conclusion: the fused tamper probability on a
// 0..100 scale with the fused tier, explained by the heuristic's findings.
type Final struct {
	Score  int      `json:"suspicion_score"`
	Tier   string   `json:"final_verdict"`
	Issues []string `json:"issues_found"`
}

// Probability is the fused tamper probability.
func (r *ForensicReport) Probability() float64 {
	return r.Fusion.Probability
}

// FailedStages lists the names of the stages that recorded a failure.
func (r *ForensicReport) FailedStages() []string {
	names := make([]string, 0, len(r.Errors))
	for _, f := range r.Errors {
		names = append(names, f.Stage)
	}
	return names
}
