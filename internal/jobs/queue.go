package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gwlsn/vidproof/internal/ffmpeg"
	"github.com/gwlsn/vidproof/internal/logger"
)

// Store defines the persistence interface for job data.
// This interface is implemented by internal/store.SQLiteStore.
type Store interface {
	SaveJob(job *Job) error
	GetJob(id string) (*Job, error)
	DeleteJob(id string) error
	SaveJobs(jobs []*Job) error
	GetAllJobs() ([]*Job, []string, error)
	AppendToOrder(id string) error
	SetOrder(order []string) error
	ResetRunningJobs() (int, error)
	Close() error
}

// Queue manages the job queue with persistence
type Queue struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string // Job IDs in order of creation
	store Store    // Persistence store (nil = in-memory only)
	now   func() time.Time
}

// NewQueue creates a new in-memory job queue (for testing).
// Use NewQueueWithStore for production use with persistence.
func NewQueue() *Queue {
	return &Queue{
		jobs:  make(map[string]*Job),
		order: make([]string, 0),
		now:   time.Now,
	}
}

// NewQueueWithStore creates a job queue backed by a persistent store.
// The store should already be initialized and have running jobs reset.
func NewQueueWithStore(store Store) (*Queue, error) {
	q := NewQueue()
	q.store = store

	if store != nil {
		jobs, order, err := store.GetAllJobs()
		if err != nil {
			return nil, fmt.Errorf("load jobs from store: %w", err)
		}
		for _, job := range jobs {
			q.jobs[job.ID] = job
		}
		q.order = order
	}

	return q, nil
}

// persist saves a job to the store (if configured).
// Called with lock held.
func (q *Queue) persist(job *Job) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(job); err != nil {
		logger.Warn("Failed to persist job", "job_id", job.ID, "error", err)
	}
}

// persistOrder adds a job ID to the store's order (if configured).
// Called with lock held.
func (q *Queue) persistOrder(id string) {
	if q.store == nil {
		return
	}
	if err := q.store.AppendToOrder(id); err != nil {
		logger.Warn("Failed to persist job order", "job_id", id, "error", err)
	}
}

// persistDelete removes a job from the store (if configured).
// Called with lock held.
func (q *Queue) persistDelete(id string) {
	if q.store == nil {
		return
	}
	if err := q.store.DeleteJob(id); err != nil {
		logger.Warn("Failed to delete job from store", "job_id", id, "error", err)
	}
}

// newJob builds a pending (or skipped) job from a probe.
func (q *Queue) newJob(probe *ffmpeg.ProbeResult) *Job {
	job := &Job{
		ID:        generateID(),
		InputPath: probe.Path,
		Status:    StatusPending,
		InputSize: probe.Size,
		Duration:  probe.Duration.Milliseconds(),
		Width:     probe.Width,
		Height:    probe.Height,
		FrameRate: probe.FrameRate,
		Codec:     probe.VideoCodec,
		CreatedAt: q.now(),
	}
	if reason := checkSkipReason(probe); reason != "" {
		job.Status = StatusSkipped
		job.Error = reason
		job.CompletedAt = job.CreatedAt
	}
	return job
}

// Add queues an analysis of probe.Path.
func (q *Queue) Add(probe *ffmpeg.ProbeResult) (*Job, error) {
	if probe == nil || probe.Path == "" {
		return nil, fmt.Errorf("add job: missing probe")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.newJob(probe)
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)

	q.persist(job)
	q.persistOrder(job.ID)

	if job.Status == StatusSkipped {
		logger.Info("Job skipped", "job_id", job.ID, "file", job.InputPath, "reason", job.Error)
	}
	return job.Copy(), nil
}

// AddMultiple adds multiple jobs at once with batched persistence
func (q *Queue) AddMultiple(probes []*ffmpeg.ProbeResult) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobList := make([]*Job, 0, len(probes))
	for _, probe := range probes {
		if probe == nil || probe.Path == "" {
			continue
		}
		job := q.newJob(probe)
		q.jobs[job.ID] = job
		q.order = append(q.order, job.ID)
		jobList = append(jobList, job)
	}

	if q.store != nil && len(jobList) > 0 {
		if err := q.store.SaveJobs(jobList); err != nil {
			logger.Warn("Failed to persist jobs batch", "error", err)
		}
		for _, job := range jobList {
			q.persistOrder(job.ID)
		}
	}

	out := make([]*Job, len(jobList))
	for i, job := range jobList {
		out[i] = job.Copy()
	}
	return out, nil
}

// Get returns a snapshot of a job by ID, or nil.
func (q *Queue) Get(id string) *Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if job, ok := q.jobs[id]; ok {
		return job.Copy()
	}
	return nil
}

// GetAll returns all jobs in order
func (q *Queue) GetAll() []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	jobs := make([]*Job, 0, len(q.order))
	for _, id := range q.order {
		if job, ok := q.jobs[id]; ok {
			jobs = append(jobs, job.Copy())
		}
	}
	return jobs
}

// GetNext returns the next pending job (for workers to pick up)
func (q *Queue) GetNext() *Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, id := range q.order {
		if job, ok := q.jobs[id]; ok && job.Status == StatusPending {
			return job.Copy()
		}
	}
	return nil
}

// StartJob marks a job as running. Only one caller can win a given job.
func (q *Queue) StartJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	if job.Status != StatusPending {
		return jobStateError(ErrJobNotPending, id, job.Status)
	}

	job.Status = StatusRunning
	job.Error = ""
	job.StartedAt = q.now()

	q.persist(job)
	return nil
}

// CompleteJob records the outcome of a finished analysis.
func (q *Queue) CompleteJob(id string, out Outcome) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	if job.Status != StatusRunning {
		return jobStateError(ErrJobNotRunning, id, job.Status)
	}

	job.Status = StatusComplete
	job.ReportID = out.ReportID
	job.ReportFile = out.ReportFile
	job.Profile = out.Profile
	job.Verdict = out.Verdict
	job.Probability = out.Probability
	job.SuspicionScore = out.SuspicionScore
	job.Tier = out.Tier
	job.FailedStages = append([]string(nil), out.FailedStages...)
	job.CompletedAt = q.now()
	job.AnalysisTime = job.CompletedAt.Sub(job.StartedAt).Milliseconds()

	q.persist(job)
	return nil
}

// FailJob marks a job as failed
func (q *Queue) FailJob(id string, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	if job.IsTerminal() {
		return jobStateError(ErrJobTerminal, id, job.Status)
	}

	job.Status = StatusFailed
	job.Error = errMsg
	job.CompletedAt = q.now()

	q.persist(job)
	return nil
}

// CancelJob cancels a job
func (q *Queue) CancelJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	if job.IsTerminal() {
		return jobStateError(ErrJobTerminal, id, job.Status)
	}

	job.Status = StatusCancelled
	job.CompletedAt = q.now()

	q.persist(job)
	return nil
}

// Requeue resets a running job back to pending and moves it to the front of the queue.
// Used when reducing worker count or pausing.
func (q *Queue) Requeue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	if job.Status != StatusRunning {
		return jobStateError(ErrJobNotRunning, id, job.Status)
	}

	job.Status = StatusPending
	job.StartedAt = time.Time{}

	newOrder := []string{id}
	for _, oid := range q.order {
		if oid != id {
			newOrder = append(newOrder, oid)
		}
	}
	q.order = newOrder

	q.persist(job)
	if q.store != nil {
		if err := q.store.SetOrder(q.order); err != nil {
			logger.Warn("Failed to persist job order", "error", err)
		}
	}
	return nil
}

// Retry queues a fresh copy of a finished job at the back of the queue.
// The original stays in place so its report link survives.
func (q *Queue) Retry(id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	old, ok := q.jobs[id]
	if !ok {
		return nil, jobNotFoundError(id)
	}
	if !old.IsTerminal() {
		return nil, jobStateError(ErrJobActive, id, old.Status)
	}

	job := &Job{
		ID:        generateID(),
		InputPath: old.InputPath,
		Status:    StatusPending,
		InputSize: old.InputSize,
		Duration:  old.Duration,
		Width:     old.Width,
		Height:    old.Height,
		FrameRate: old.FrameRate,
		Codec:     old.Codec,
		CreatedAt: q.now(),
	}
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)

	q.persist(job)
	q.persistOrder(job.ID)
	return job.Copy(), nil
}

// Clear removes jobs from the queue. If filterStatus is empty, clears all
// non-running jobs. If specified, clears only jobs matching that status.
// Running jobs are never cleared.
func (q *Queue) Clear(filterStatus Status) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	newOrder := make([]string, 0, len(q.order))
	for _, id := range q.order {
		job, ok := q.jobs[id]
		if !ok {
			continue
		}
		if job.Status == StatusRunning {
			newOrder = append(newOrder, id)
			continue
		}
		if filterStatus != "" && job.Status != filterStatus {
			newOrder = append(newOrder, id)
			continue
		}
		q.persistDelete(id)
		delete(q.jobs, id)
		count++
	}
	q.order = newOrder

	return count
}

// Remove removes a single job from the queue. Running jobs must be
// cancelled first.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	if job.Status == StatusRunning {
		return jobStateError(ErrJobActive, id, job.Status)
	}

	q.persistDelete(id)
	delete(q.jobs, id)

	newOrder := make([]string, 0, len(q.order))
	for _, jid := range q.order {
		if jid != id {
			newOrder = append(newOrder, jid)
		}
	}
	q.order = newOrder
	return nil
}

// Stats returns queue statistics
type Stats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Complete  int `json:"complete"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
	Total     int `json:"total"`

	// Completed analyses by fusion verdict
	Verdicts map[string]int `json:"verdicts"`
	// Bytes of evidence analyzed to completion
	BytesAnalyzed int64 `json:"bytes_analyzed"`
}

func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := Stats{Verdicts: make(map[string]int)}
	for _, job := range q.jobs {
		stats.Total++
		switch job.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusComplete:
			stats.Complete++
			stats.BytesAnalyzed += job.InputSize
			if job.Verdict != "" {
				stats.Verdicts[job.Verdict]++
			}
		case StatusFailed:
			stats.Failed++
		case StatusCancelled:
			stats.Cancelled++
		case StatusSkipped:
			stats.Skipped++
		}
	}
	return stats
}

// generateID creates a time-ordered job ID; lexical order matches
// creation order.
func generateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// checkSkipReason returns why the file cannot be analyzed, or "".
func checkSkipReason(probe *ffmpeg.ProbeResult) string {
	if !probe.HasVideo() {
		return "No video stream"
	}
	if probe.FrameCount <= 0 {
		return "No decodable frames"
	}
	return ""
}
