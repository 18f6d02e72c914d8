package jobs

import (
	"time"
)

// Status represents the current state of a job
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped" // probe showed nothing to analyze
)

// Job is one queued forensic analysis of an evidence file.
type Job struct {
	ID        string  `json:"id"`
	InputPath string  `json:"input_path"`
	Status    Status  `json:"status"`
	Error     string  `json:"error,omitempty"`
	InputSize int64   `json:"input_size"`
	Duration  int64   `json:"duration_ms,omitempty"` // Video duration in ms
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	FrameRate float64 `json:"frame_rate,omitempty"`
	Codec     string  `json:"video_codec,omitempty"`

	// Populated on completion
	ReportID       string   `json:"report_id,omitempty"`
	ReportFile     string   `json:"report_file,omitempty"`
	Profile        string   `json:"threshold_profile,omitempty"`
	Verdict        string   `json:"verdict,omitempty"`
	Probability    float64  `json:"tamper_probability,omitempty"`
	SuspicionScore int      `json:"suspicion_score,omitempty"`
	Tier           string   `json:"final_verdict,omitempty"`
	FailedStages   []string `json:"failed_stages,omitempty"`
	AnalysisTime   int64    `json:"analysis_ms,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case StatusComplete, StatusFailed, StatusCancelled, StatusSkipped:
		return true
	}
	return false
}

// Copy returns a snapshot safe to hand out while the queue keeps mutating j.
func (j *Job) Copy() *Job {
	c := *j
	if j.FailedStages != nil {
		c.FailedStages = append([]string(nil), j.FailedStages...)
	}
	return &c
}

// Outcome is what a finished analysis records on its job.
type Outcome struct {
	ReportID       string
	ReportFile     string
	Profile        string
	Verdict        string
	Probability    float64
	SuspicionScore int
	Tier           string
	FailedStages   []string
}
