package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gwlsn/vidproof/internal/browse"
	"github.com/gwlsn/vidproof/internal/config"
	"github.com/gwlsn/vidproof/internal/jobs"
	"github.com/gwlsn/vidproof/internal/logger"
	"github.com/gwlsn/vidproof/internal/prnu"
	"github.com/gwlsn/vidproof/internal/store"
)

// Calibrator derives threshold profiles. *pipeline.Calibrator satisfies it.
type Calibrator interface {
	Calibrate(ctx context.Context, name string, paths []string) (*prnu.Calibration, error)
}

// Handler provides HTTP API handlers
type Handler struct {
	browser    *browse.Browser
	queue      *jobs.Queue
	workerPool *jobs.WorkerPool
	store      store.Store
	calibrator Calibrator
	cfg        *config.Config
	cfgPath    string

	// Background work started by requests, stopped by Close
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	calMu       sync.Mutex
	calibrating map[string]bool
}

// NewHandler creates a new API handler
func NewHandler(browser *browse.Browser, queue *jobs.Queue, workerPool *jobs.WorkerPool, st store.Store, calibrator Calibrator, cfg *config.Config, cfgPath string) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		browser:     browser,
		queue:       queue,
		workerPool:  workerPool,
		store:       st,
		calibrator:  calibrator,
		cfg:         cfg,
		cfgPath:     cfgPath,
		bgCtx:       ctx,
		bgCancel:    cancel,
		calibrating: make(map[string]bool),
	}
}

// Close cancels background probing and calibration and waits for them.
func (h *Handler) Close() {
	h.bgCancel()
	h.bg.Wait()
}

// response helpers

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// jobErrorStatus maps queue errors to HTTP statuses.
func jobErrorStatus(err error) int {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrJobActive), errors.Is(err, jobs.ErrJobTerminal),
		errors.Is(err, jobs.ErrJobNotPending), errors.Is(err, jobs.ErrJobNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Browse handles GET /api/browse?path=...
func (h *Handler) Browse(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	result, err := h.browser.Browse(ctx, r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// CreateAnalysesRequest is the request body for queueing evidence
type CreateAnalysesRequest struct {
	Paths []string `json:"paths"`
}

// CreateAnalyses handles POST /api/analyses. It responds immediately and
// probes the files in the background; jobs show up in ListAnalyses.
func (h *Handler) CreateAnalyses(w http.ResponseWriter, r *http.Request) {
	var req CreateAnalysesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "no paths provided")
		return
	}
	for _, p := range req.Paths {
		if _, err := h.browser.Resolve(p); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: %v", p, err))
			return
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "processing",
		"message": fmt.Sprintf("Processing %d paths in background...", len(req.Paths)),
	})

	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		ctx, cancel := context.WithTimeout(h.bgCtx, 5*time.Minute)
		defer cancel()

		probes, err := h.browser.VideoFiles(ctx, req.Paths, nil)
		if err != nil {
			logger.Error("Failed to collect video files", "paths", len(req.Paths), "error", err)
			return
		}
		if len(probes) == 0 {
			logger.Warn("No video files found", "paths", req.Paths)
			return
		}
		added, err := h.queue.AddMultiple(probes)
		if err != nil {
			logger.Error("Failed to queue analyses", "error", err)
			return
		}
		logger.Info("Analyses queued", "count", len(added))
	}()
}

// ListAnalyses handles GET /api/analyses
func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   h.queue.GetAll(),
		"stats":  h.queue.Stats(),
		"paused": h.workerPool.IsPaused(),
	})
}

// GetAnalysis handles GET /api/analyses/{id}
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	job := h.queue.Get(r.PathValue("id"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// DeleteAnalysis handles DELETE /api/analyses/{id}. Pending and running
// jobs are cancelled; finished ones are removed from the queue. Their
// reports stay on disk.
func (h *Handler) DeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job := h.queue.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	if !job.IsTerminal() {
		if err := h.workerPool.CancelJob(id); err != nil {
			writeError(w, jobErrorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": string(jobs.StatusCancelled)})
		return
	}

	if err := h.queue.Remove(id); err != nil {
		writeError(w, jobErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// RetryAnalysis handles POST /api/analyses/{id}/retry
func (h *Handler) RetryAnalysis(w http.ResponseWriter, r *http.Request) {
	job, err := h.queue.Retry(r.PathValue("id"))
	if err != nil {
		writeError(w, jobErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// ClearAnalyses handles POST /api/analyses/clear?status=...
func (h *Handler) ClearAnalyses(w http.ResponseWriter, r *http.Request) {
	count := h.queue.Clear(jobs.Status(r.URL.Query().Get("status")))
	writeJSON(w, http.StatusOK, map[string]any{
		"cleared": count,
		"message": fmt.Sprintf("Cleared %d jobs", count),
	})
}

// ListReports handles GET /api/reports?limit=N
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.store.ListReports(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []store.ReportEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetReport handles GET /api/reports/{id}. The report file is returned
// as written.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	entry, err := h.store.GetReport(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}

	data, err := os.ReadFile(filepath.Join(h.cfg.ReportDir, entry.Filename))
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusGone, "report file missing: "+entry.Filename)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Query().Get("download") != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entry.Filename))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ListProfiles handles GET /api/profiles. The built-in strict profile is
// always listed first.
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	stored, err := h.store.ListProfiles()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	profiles := append([]prnu.ThresholdProfile{prnu.StrictProfile()}, stored...)

	h.calMu.Lock()
	running := make([]string, 0, len(h.calibrating))
	for name := range h.calibrating {
		running = append(running, name)
	}
	h.calMu.Unlock()
	sort.Strings(running)

	writeJSON(w, http.StatusOK, map[string]any{
		"profiles":    profiles,
		"active":      h.cfg.ThresholdProfile,
		"calibrating": running,
	})
}

// GetProfile handles GET /api/profiles/{name}
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == prnu.ModeStrict {
		writeJSON(w, http.StatusOK, map[string]any{"profile": prnu.StrictProfile()})
		return
	}

	p, err := h.store.GetProfile(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	cal, err := h.store.GetCalibration(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": p, "calibration": cal})
}

// CalibrateRequest is the request body for a calibration run
type CalibrateRequest struct {
	Name  string   `json:"name"`
	Paths []string `json:"paths"`
}

// Calibrate handles POST /api/profiles/calibrate. The run happens in the
// background; the profile appears in ListProfiles when it is stored.
func (h *Handler) Calibrate(w http.ResponseWriter, r *http.Request) {
	var req CalibrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Name == prnu.ModeStrict {
		writeError(w, http.StatusBadRequest, "a profile name other than \"strict\" is required")
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "no reference videos provided")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	probes, err := h.browser.VideoFiles(ctx, req.Paths, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(probes) == 0 {
		writeError(w, http.StatusBadRequest, "no readable reference videos found")
		return
	}
	paths := make([]string, len(probes))
	for i, p := range probes {
		paths[i] = p.Path
	}

	h.calMu.Lock()
	if h.calibrating[req.Name] {
		h.calMu.Unlock()
		writeError(w, http.StatusConflict, "calibration already running: "+req.Name)
		return
	}
	h.calibrating[req.Name] = true
	h.calMu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "calibrating",
		"name":   req.Name,
		"videos": len(paths),
	})

	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		defer func() {
			h.calMu.Lock()
			delete(h.calibrating, req.Name)
			h.calMu.Unlock()
		}()

		cal, err := h.calibrator.Calibrate(h.bgCtx, req.Name, paths)
		if err != nil {
			logger.Error("Calibration failed", "name", req.Name, "error", err)
			return
		}
		if err := h.store.SaveCalibration(cal); err != nil {
			logger.Error("Failed to save calibration", "name", req.Name, "error", err)
			return
		}
		logger.Info("Threshold profile stored", "name", req.Name, "videos", cal.Global.Videos)
	}()
}

// GetConfig handles GET /api/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"evidence_path":     h.cfg.EvidencePath,
		"report_dir":        h.cfg.ReportDir,
		"watch_dir":         h.cfg.WatchDir,
		"workers":           h.workerPool.WorkerCount(),
		"threshold_profile": h.cfg.ThresholdProfile,
		"log_level":         logger.Level(),
		"sampler":           h.cfg.Sampler,
		"extractors":        h.cfg.Extractors,
		"scoring":           h.cfg.Scoring,
		"prnu":              h.cfg.PRNU,
		"fusion":            h.cfg.Fusion,
	})
}

// UpdateConfigRequest is the request body for updating config
type UpdateConfigRequest struct {
	Workers  *int    `json:"workers,omitempty"`
	LogLevel *string `json:"log_level,omitempty"`
}

// UpdateConfig handles PUT /api/config. Only runtime settings can change;
// analysis parameters need a restart so every report in a run is produced
// the same way.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Workers != nil {
		if !jobs.IsValidWorkerCount(*req.Workers) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("workers must be %d-%d", jobs.MinWorkers, jobs.MaxWorkers))
			return
		}
		h.cfg.Workers = *req.Workers
		h.workerPool.Resize(*req.Workers)
	}
	if req.LogLevel != nil {
		h.cfg.LogLevel = *req.LogLevel
		logger.SetLevel(*req.LogLevel)
	}

	if h.cfgPath != "" {
		if err := h.cfg.Save(h.cfgPath); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save config: %v", err))
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// Stats handles GET /api/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stored, err := h.store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queue":   h.queue.Stats(),
		"store":   stored,
		"workers": h.workerPool.WorkerCount(),
		"paused":  h.workerPool.IsPaused(),
	})
}

// PauseQueue handles POST /api/queue/pause. Running analyses are put
// back at the head of the queue.
func (h *Handler) PauseQueue(w http.ResponseWriter, r *http.Request) {
	n := h.workerPool.Pause()
	writeJSON(w, http.StatusOK, map[string]any{"status": "paused", "requeued": n})
}

// ResumeQueue handles POST /api/queue/resume
func (h *Handler) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	h.workerPool.Unpause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}
