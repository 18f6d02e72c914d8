package store

import (
	"time"

	"github.com/gwlsn/vidproof/internal/jobs"
	"github.com/gwlsn/vidproof/internal/prnu"
	"github.com/gwlsn/vidproof/internal/report"
)

// Store is everything the service persists. Implementations must be safe
// for concurrent use.
type Store interface {
	// Job queue persistence (see jobs.Store)
	jobs.Store

	// IndexReport records a written report. Re-indexing the same file
	// replaces its entry.
	IndexReport(ref report.Reference, r *report.ForensicReport) error

	// GetReport returns the index entry for a report ID, or nil.
	GetReport(id string) (*ReportEntry, error)

	// ListReports returns the newest entries first. limit <= 0 means all.
	ListReports(limit int) ([]ReportEntry, error)

	// SaveProfile stores a threshold profile under its name.
	SaveProfile(p prnu.ThresholdProfile) error

	// SaveCalibration stores the calibration's profile together with the
	// calibration summary it was derived from.
	SaveCalibration(c *prnu.Calibration) error

	// GetProfile returns the named profile, or nil.
	GetProfile(name string) (*prnu.ThresholdProfile, error)

	// GetCalibration returns the calibration behind a profile, or nil when
	// the profile was imported without one.
	GetCalibration(name string) (*prnu.Calibration, error)

	// ListProfiles returns stored profiles ordered by name.
	ListProfiles() ([]prnu.ThresholdProfile, error)

	// DeleteProfile removes a profile. Missing profiles are not an error.
	DeleteProfile(name string) error

	// Stats summarises what is stored.
	Stats() (Stats, error)
}

// ReportEntry is the indexed summary of one report file.
type ReportEntry struct {
	ID             string    `json:"id"`
	Filename       string    `json:"filename"`
	RelativePath   string    `json:"relative_path"`
	File           string    `json:"file"`
	Path           string    `json:"path"`
	Verdict        string    `json:"verdict"`
	Probability    float64   `json:"tamper_probability"`
	SuspicionScore int       `json:"suspicion_score"`
	Tier           string    `json:"final_verdict"`
	Profile        string    `json:"threshold_profile"`
	FailedStages   []string  `json:"failed_stages"`
	CreatedAt      time.Time `json:"created_at"`
}

// Stats holds persisted counts.
type Stats struct {
	Jobs     int            `json:"jobs"`
	Reports  int            `json:"reports"`
	Profiles int            `json:"profiles"`
	Verdicts map[string]int `json:"verdicts"` // indexed reports by fusion verdict
}
