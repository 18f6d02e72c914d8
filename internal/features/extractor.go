// Package features computes the per-frame forensic signals over a sampled
// frame sequence in a single forward pass.
package features

import (
	"github.com/gwlsn/vidproof/internal/config"
	"github.com/gwlsn/vidproof/internal/flow"
	"github.com/gwlsn/vidproof/internal/logger"
	"github.com/gwlsn/vidproof/internal/sampler"
	"github.com/gwlsn/vidproof/internal/stage"
)

// Extractor consumes sampled frames in playback order and writes its own
// fields of the FeatureVector when the pass is complete.
type Extractor interface {
	Name() string
	Observe(f *sampler.SampledFrame) error
	Finish(fv *FeatureVector)
	// Abandon marks the extractor's fields unavailable after a failure.
	Abandon(fv *FeatureVector, reason string)
}

// Set fans frames out to a group of extractors. A failing extractor is
// dropped for the rest of the run; the others continue.
type Set struct {
	extractors []Extractor
	failed     map[string]*stage.Failure
	frames     int
}

// NewSet builds the standard extractor battery from config.
func NewSet(cfg config.ExtractorConfig) *Set {
	return NewSetOf(
		NewELA(cfg.ELAQualities),
		NewNoise(),
		NewDuplicate(cfg.DuplicateThreshold),
		NewMotion(cfg.MotionWindow, cfg.MotionK, cfg.MotionMinMean, flow.DefaultOptions()),
		NewDCT(cfg.DCTEvery, cfg.DCTSpikeFactor),
		NewScene(cfg.SceneThreshold),
	)
}

// NewSetOf groups arbitrary extractors.
func NewSetOf(extractors ...Extractor) *Set {
	return &Set{
		extractors: extractors,
		failed:     make(map[string]*stage.Failure),
	}
}

// Observe feeds one frame to every extractor that has not failed.
func (s *Set) Observe(f *sampler.SampledFrame) {
	s.frames++
	for _, e := range s.extractors {
		name := e.Name()
		if _, dead := s.failed[name]; dead {
			continue
		}
		res := stage.Run(stage.Features+"/"+name, func() (struct{}, error) {
			return struct{}{}, e.Observe(f)
		})
		if !res.Ok() {
			logger.Warn("Extractor dropped", "extractor", name, "frame", f.Index, "error", res.Err.Message)
			s.failed[name] = res.Err
		}
	}
}

// Finish assembles the FeatureVector.
func (s *Set) Finish() *FeatureVector {
	fv := &FeatureVector{SampledFrames: s.frames}
	for _, e := range s.extractors {
		if f, dead := s.failed[e.Name()]; dead {
			e.Abandon(fv, "extractor failed: "+f.Message)
			fv.Failures = append(fv.Failures, f)
			continue
		}
		e.Finish(fv)
	}
	fv.collectReasons()
	return fv
}
