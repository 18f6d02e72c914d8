package features

import (
	"github.com/gwlsn/vidproof/internal/imaging"
	"github.com/gwlsn/vidproof/internal/sampler"
	"github.com/gwlsn/vidproof/internal/stats"
)

const (
	sceneWidth  = 160
	sceneHeight = 120
	// minCutDiffs is the number of frame differences needed before cut
	// detection is attempted.
	minCutDiffs = 20
)

// Scene compares consecutive frames on a coarse 160×120 grid. It yields the
// near-identical frame ratio and the density of abrupt cuts per second, both
// consumed by fusion.
type Scene struct {
	threshold float64

	prev        *imaging.Plane
	diffs       []float64
	first, last float64
	near        int
	seen        bool
}

func NewScene(threshold float64) *Scene {
	return &Scene{threshold: threshold}
}

func (s *Scene) Name() string { return "scene" }

func (s *Scene) Observe(f *sampler.SampledFrame) error {
	small := imaging.ResizePlane(f.Luma, sceneWidth, sceneHeight)
	if !s.seen {
		s.first = f.Timestamp
		s.seen = true
	}
	s.last = f.Timestamp

	if s.prev != nil {
		d := imaging.MeanAbsDiff(small, s.prev)
		s.diffs = append(s.diffs, d)
		if d < s.threshold {
			s.near++
		}
	}
	s.prev = small
	return nil
}

func (s *Scene) Finish(fv *FeatureVector) {
	if len(s.diffs) == 0 {
		s.Abandon(fv, "fewer than two frames")
		return
	}
	fv.SceneDuplicateRatio = Value(stats.Round(float64(s.near)/float64(len(s.diffs))*100, 2))

	if len(s.diffs) < minCutDiffs {
		fv.CutDensity = Value(0)
		return
	}
	mean, std := stats.MeanStd(s.diffs)
	threshold := mean + 3*std
	for _, d := range s.diffs {
		if d > threshold {
			fv.Cuts++
		}
	}
	span := max(s.last-s.first, 1)
	fv.CutDensity = Value(stats.Round(float64(fv.Cuts)/span, 3))
}

func (s *Scene) Abandon(fv *FeatureVector, reason string) {
	fv.SceneDuplicateRatio = Unavailable(reason)
	fv.CutDensity = Unavailable(reason)
}
