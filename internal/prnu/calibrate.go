package prnu

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gwlsn/vidproof/internal/stats"
)

// ErrNoCalibrationData is returned when no reference video produced usable
// PRNU statistics.
var ErrNoCalibrationData = errors.New("no valid PRNU results from reference videos")

const histogramBins = 8

// VideoCalibration is the estimation outcome for one reference video. Err is
// set when the video could not be processed at all.
type VideoCalibration struct {
	Name   string
	Result Result
	Err    error
}

// VideoStats is the per-video line of a calibration.
type VideoStats struct {
	Video     string  `json:"video"`
	Status    Status  `json:"status,omitempty"`
	NumFrames int     `json:"num_frames"`
	PatchSize int     `json:"patch_size"`
	Mean      float64 `json:"mean"`
	Median    float64 `json:"median"`
	Std       float64 `json:"std"`
	MAD       float64 `json:"mad"`
	Error     string  `json:"error,omitempty"`
}

// GlobalStats summarises each statistic over the valid videos.
type GlobalStats struct {
	Videos int           `json:"videos"`
	Mean   stats.Summary `json:"mean"`
	Std    stats.Summary `json:"std"`
	MAD    stats.Summary `json:"mad"`
}

// Suggestions are the raw percentiles before clamping to the strict limits.
type Suggestions struct {
	MeanP20 float64 `json:"mean_p20"`
	StdP80  float64 `json:"std_p80"`
	MADP80  float64 `json:"mad_p80"`
}

// HistogramBin is one bar of a calibration histogram.
type HistogramBin struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

// Calibration is the full output of a calibration run.
type Calibration struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name"`
	CreatedAt   time.Time                 `json:"created_at"`
	Videos      []VideoStats              `json:"videos"`
	Global      GlobalStats               `json:"global"`
	Suggestions Suggestions               `json:"suggestions"`
	Profile     ThresholdProfile          `json:"profile"`
	Histograms  map[string][]HistogramBin `json:"histograms"`
}

// Calibrate derives an adaptive threshold profile from reference videos
// recorded by a single trusted camera. Only videos whose estimation ended
// with StatusOK contribute; each statistic further ignores non-positive
// values. The derived limits are never looser than the strict profile.
func Calibrate(name string, videos []VideoCalibration) (*Calibration, error) {
	cal := &Calibration{
		ID:         uuid.New().String(),
		Name:       name,
		CreatedAt:  time.Now().UTC(),
		Videos:     make([]VideoStats, 0, len(videos)),
		Histograms: map[string][]HistogramBin{},
	}

	var means, stds, mads []float64
	for _, v := range videos {
		vs := VideoStats{Video: v.Name}
		if v.Err != nil {
			vs.Error = v.Err.Error()
			cal.Videos = append(cal.Videos, vs)
			continue
		}
		r := v.Result
		vs.Status = r.Status
		vs.NumFrames = r.NumFrames
		vs.PatchSize = r.PatchSize
		vs.Mean, vs.Median, vs.Std, vs.MAD = r.Mean, r.Median, r.Std, r.MAD
		if r.Error != "" {
			vs.Error = r.Error
		}
		cal.Videos = append(cal.Videos, vs)

		if r.Status != StatusOK {
			continue
		}
		if r.Mean > 0 {
			means = append(means, r.Mean)
		}
		if r.Std > 0 {
			stds = append(stds, r.Std)
		}
		if r.MAD > 0 {
			mads = append(mads, r.MAD)
		}
	}

	if len(means) == 0 {
		return cal, ErrNoCalibrationData
	}

	cal.Global = GlobalStats{
		Videos: len(means),
		Mean:   roundSummary(stats.Summarize(means)),
		Std:    roundSummary(stats.Summarize(stds)),
		MAD:    roundSummary(stats.Summarize(mads)),
	}

	strict := StrictProfile()
	sug := Suggestions{
		MeanP20: stats.Round(stats.Percentile(means, 20), 4),
		// an empty slice yields 0, which the clamps below replace with
		// the strict limit
		StdP80: stats.Round(stats.Percentile(stds, 80), 4),
		MADP80: stats.Round(stats.Percentile(mads, 80), 4),
	}
	cal.Suggestions = sug
	cal.Profile = ThresholdProfile{
		Name: name,
		Mode: ModeAdaptive,
		Consistent: ConsistentLimits{
			MeanMin: max(sug.MeanP20, strict.Consistent.MeanMin),
			StdMax:  orLimit(min(sug.StdP80, strict.Consistent.StdMax), len(stds), strict.Consistent.StdMax),
			MADMax:  orLimit(min(sug.MADP80, strict.Consistent.MADMax), len(mads), strict.Consistent.MADMax),
		},
		Tampering: TamperingLimits{
			MeanMax: min(sug.MeanP20, strict.Tampering.MeanMax),
			StdMin:  max(sug.StdP80, strict.Tampering.StdMin),
			MADMin:  max(sug.MADP80, strict.Tampering.MADMin),
		},
		Videos:    len(means),
		CreatedAt: cal.CreatedAt,
	}

	cal.Histograms["mean"] = histogram(means)
	cal.Histograms["std"] = histogram(stds)
	cal.Histograms["mad"] = histogram(mads)
	return cal, nil
}

// orLimit falls back to the strict limit when no sample backed the value.
func orLimit(v float64, n int, strict float64) float64 {
	if n == 0 {
		return strict
	}
	return v
}

func histogram(xs []float64) []HistogramBin {
	if len(xs) == 0 {
		return []HistogramBin{}
	}
	counts, edges := stats.Histogram(xs, histogramBins)
	bins := make([]HistogramBin, len(counts))
	for i, c := range counts {
		bins[i] = HistogramBin{
			Range: fmt.Sprintf("%.4f–%.4f", edges[i], edges[i+1]),
			Count: c,
		}
	}
	return bins
}

func roundSummary(s stats.Summary) stats.Summary {
	return stats.Summary{
		Min:    stats.Round(s.Min, 4),
		P25:    stats.Round(s.P25, 4),
		Median: stats.Round(s.Median, 4),
		P75:    stats.Round(s.P75, 4),
		Max:    stats.Round(s.Max, 4),
	}
}
