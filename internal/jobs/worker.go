package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gwlsn/vidproof/internal/logger"
	"github.com/gwlsn/vidproof/internal/report"
)

// Analyzer runs the forensic pipeline over one file.
// *pipeline.Analyzer satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, path string) (*report.ForensicReport, error)
}

// ReportWriter persists a finished report. *report.Writer satisfies it.
type ReportWriter interface {
	Write(r *report.ForensicReport) (report.Reference, error)
}

// ReportIndexer records written reports for later lookup.
// *store.SQLiteStore satisfies it.
type ReportIndexer interface {
	IndexReport(ref report.Reference, r *report.ForensicReport) error
}

const defaultPollInterval = 500 * time.Millisecond

// Worker processes analysis jobs from the queue
type Worker struct {
	id    int
	pool  *WorkerPool
	queue *Queue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Currently running job (for cancellation)
	currentJobMu sync.Mutex
	currentJob   *Job
	jobCancel    context.CancelFunc
	jobDone      chan struct{} // Closed when current job finishes
}

// WorkerPool manages multiple workers. The analyzer is shared by every
// worker and must be safe for concurrent use.
type WorkerPool struct {
	mu           sync.Mutex
	workers      []*Worker
	queue        *Queue
	analyzer     Analyzer
	writer       ReportWriter
	indexer      ReportIndexer
	nextWorkerID int
	poll         time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// Pause state - when true, workers won't pick up new jobs
	paused   bool
	pausedMu sync.RWMutex
}

// runningJob tracks a job being processed by a worker.
// Used by Resize and Pause to collect and manage running jobs.
type runningJob struct {
	worker *Worker
	jobID  string
}

// NewWorkerPool creates a pool of n workers (clamped to the valid range).
func NewWorkerPool(queue *Queue, analyzer Analyzer, writer ReportWriter, n int) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	n = ClampWorkerCount(n)

	pool := &WorkerPool{
		workers:  make([]*Worker, 0, n),
		queue:    queue,
		analyzer: analyzer,
		writer:   writer,
		poll:     defaultPollInterval,
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := 0; i < n; i++ {
		pool.workers = append(pool.workers, pool.createWorker())
	}
	return pool
}

// SetIndexer registers where written reports are indexed. Call before Start.
func (p *WorkerPool) SetIndexer(ix ReportIndexer) {
	p.indexer = ix
}

// createWorker creates a new worker with the next available ID
func (p *WorkerPool) createWorker() *Worker {
	worker := &Worker{
		id:    p.nextWorkerID,
		pool:  p,
		queue: p.queue,
	}
	p.nextWorkerID++
	return worker
}

// Start starts all workers
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.workers {
		w.Start(p.ctx)
	}
}

// Stop stops all workers. Jobs interrupted by shutdown stay "running" in
// the store and are reset to pending on the next start.
func (p *WorkerPool) Stop() {
	p.cancel()

	p.mu.Lock()
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
}

// CancelJob cancels a job whether it is running or still pending.
func (p *WorkerPool) CancelJob(jobID string) error {
	p.mu.Lock()
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()

	for _, w := range workers {
		if done := w.CancelCurrentJob(jobID); done != nil {
			<-done
			return nil
		}
	}
	return p.queue.CancelJob(jobID)
}

// Resize changes the number of workers in the pool.
// Shrinking requeues the most recently started jobs first.
func (p *WorkerPool) Resize(n int) {
	n = ClampWorkerCount(n)

	p.mu.Lock()
	defer p.mu.Unlock()

	current := len(p.workers)

	if n > current {
		for i := current; i < n; i++ {
			worker := p.createWorker()
			worker.Start(p.ctx)
			p.workers = append(p.workers, worker)
		}
		return
	}
	if n == current {
		return
	}

	workersToStop := current - n
	running := p.runningJobsLocked()

	// IDs are time ordered, so larger = newer
	sort.Slice(running, func(i, j int) bool {
		return running[i].jobID > running[j].jobID
	})

	stopped := 0
	for _, rj := range running {
		if stopped >= workersToStop {
			break
		}

		// Requeue while still running so the worker sees a pending job
		// and leaves it alone.
		if err := p.queue.Requeue(rj.jobID); err != nil {
			logger.Warn("Failed to requeue job during resize", "job_id", rj.jobID, "error", err)
		}
		rj.worker.CancelAndStop()

		for j, w := range p.workers {
			if w == rj.worker {
				p.workers = append(p.workers[:j], p.workers[j+1:]...)
				break
			}
		}
		stopped++
	}

	// Idle workers go from the end
	for len(p.workers) > n {
		w := p.workers[len(p.workers)-1]
		p.workers = p.workers[:len(p.workers)-1]
		w.CancelAndStop()
	}
}

// runningJobsLocked collects busy workers. Called with p.mu held.
func (p *WorkerPool) runningJobsLocked() []runningJob {
	var running []runningJob
	for _, w := range p.workers {
		w.currentJobMu.Lock()
		if w.currentJob != nil {
			running = append(running, runningJob{worker: w, jobID: w.currentJob.ID})
		}
		w.currentJobMu.Unlock()
	}
	return running
}

// WorkerCount returns the current number of workers
func (p *WorkerPool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// IsPaused returns whether job processing is paused
func (p *WorkerPool) IsPaused() bool {
	p.pausedMu.RLock()
	defer p.pausedMu.RUnlock()
	return p.paused
}

// Pause stops all running analyses and prevents new ones from starting.
// Returns the number of jobs that were requeued.
func (p *WorkerPool) Pause() int {
	p.pausedMu.Lock()
	p.paused = true
	p.pausedMu.Unlock()

	p.mu.Lock()
	running := p.runningJobsLocked()
	p.mu.Unlock()

	sort.Slice(running, func(i, j int) bool {
		return running[i].jobID < running[j].jobID
	})

	// Requeue puts a job at the front, so go newest first to leave the
	// oldest at the head of the queue.
	count := 0
	for i := len(running) - 1; i >= 0; i-- {
		rj := running[i]
		if err := p.queue.Requeue(rj.jobID); err != nil {
			logger.Warn("Failed to requeue job during pause", "job_id", rj.jobID, "error", err)
			continue
		}
		count++

		if done := rj.worker.CancelCurrentJob(rj.jobID); done != nil {
			<-done
		}
	}

	return count
}

// Unpause allows workers to pick up jobs again
func (p *WorkerPool) Unpause() {
	p.pausedMu.Lock()
	p.paused = false
	p.pausedMu.Unlock()
}

// Start starts the worker's processing loop. Starting twice is a no-op.
func (w *Worker) Start(parentCtx context.Context) {
	if w.cancel != nil {
		return
	}
	w.ctx, w.cancel = context.WithCancel(parentCtx)
	w.wg.Add(1)

	go w.run()
}

// Stop stops the worker. A worker that never started has nothing to stop.
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
}

// run is the main worker loop
func (w *Worker) run() {
	defer w.wg.Done()

	for {
		if w.ctx.Err() != nil {
			return
		}

		var job *Job
		if !w.pool.IsPaused() {
			job = w.queue.GetNext()
		}
		if job == nil {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(w.pool.poll):
				continue
			}
		}

		w.processJob(job)
	}
}

// processJob runs one analysis and records its outcome.
func (w *Worker) processJob(job *Job) {
	jobCtx, jobCancel := context.WithCancel(w.ctx)
	defer jobCancel()

	w.currentJobMu.Lock()
	w.currentJob = job
	w.jobCancel = jobCancel
	w.jobDone = make(chan struct{})
	w.currentJobMu.Unlock()

	defer func() {
		w.currentJobMu.Lock()
		w.currentJob = nil
		w.jobCancel = nil
		if w.jobDone != nil {
			close(w.jobDone)
			w.jobDone = nil
		}
		w.currentJobMu.Unlock()
	}()

	// First worker to start the job wins
	if err := w.queue.StartJob(job.ID); err != nil {
		return
	}

	logger.Info("Job started", "job_id", job.ID, "worker", w.id, "file", job.InputPath,
		"size", humanize.Bytes(uint64(max(job.InputSize, 0))))
	start := time.Now()

	rep, err := w.pool.analyzer.Analyze(jobCtx, job.InputPath)

	if jobCtx.Err() != nil {
		w.handleInterrupted(job.ID)
		return
	}
	if err != nil {
		logger.Error("Job failed", "job_id", job.ID, "error", err)
		_ = w.queue.FailJob(job.ID, err.Error())
		return
	}

	ref, err := w.pool.writer.Write(rep)
	if err != nil {
		logger.Error("Job failed - report not saved", "job_id", job.ID, "error", err)
		_ = w.queue.FailJob(job.ID, fmt.Sprintf("save report: %v", err))
		return
	}
	if w.pool.indexer != nil {
		if err := w.pool.indexer.IndexReport(ref, rep); err != nil {
			logger.Warn("Failed to index report", "job_id", job.ID, "report", ref.Filename, "error", err)
		}
	}

	out := Outcome{
		ReportID:       rep.ID,
		ReportFile:     ref.RelativePath,
		Verdict:        rep.Fusion.Verdict,
		Probability:    rep.Probability(),
		SuspicionScore: rep.Score,
		Tier:           rep.Tier,
		FailedStages:   rep.FailedStages(),
	}
	if rep.PRNU != nil {
		out.Profile = rep.PRNU.Profile
	}

	logger.Info("Job complete", "job_id", job.ID,
		"duration", time.Since(start).Round(time.Millisecond).String(),
		"verdict", out.Verdict, "probability", out.Probability)

	if err := w.queue.CompleteJob(job.ID, out); err != nil && !errors.Is(err, ErrJobNotRunning) {
		logger.Warn("Failed to complete job", "job_id", job.ID, "error", err)
	}
}

// handleInterrupted settles a job whose context was cancelled. A job that
// Pause or Resize already requeued is left pending; shutdown leaves it
// running so the store resets it on the next start.
func (w *Worker) handleInterrupted(id string) {
	if w.ctx.Err() != nil {
		logger.Info("Job interrupted by shutdown", "job_id", id)
		return
	}
	if cur := w.queue.Get(id); cur != nil && cur.Status == StatusRunning {
		logger.Info("Job cancelled", "job_id", id)
		_ = w.queue.CancelJob(id)
	}
}

// CancelCurrentJob cancels the job if it matches the given ID.
// Returns a channel that will be closed when the job finishes, or nil if job not found.
func (w *Worker) CancelCurrentJob(jobID string) <-chan struct{} {
	w.currentJobMu.Lock()
	defer w.currentJobMu.Unlock()

	if w.currentJob != nil && w.currentJob.ID == jobID && w.jobCancel != nil {
		w.jobCancel()
		return w.jobDone
	}
	return nil
}

// CancelAndStop cancels any current job and stops the worker immediately
func (w *Worker) CancelAndStop() {
	w.currentJobMu.Lock()
	if w.jobCancel != nil {
		w.jobCancel()
	}
	w.currentJobMu.Unlock()

	w.Stop()
}
