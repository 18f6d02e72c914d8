package api

import (
	"net/http"
	"time"

	"github.com/gwlsn/vidproof/internal/logger"
)

// registerAPIRoutes registers all API endpoints on the given mux
func registerAPIRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("GET /api/browse", h.Browse)

	// Analyses (queue jobs)
	mux.HandleFunc("GET /api/analyses", h.ListAnalyses)
	mux.HandleFunc("POST /api/analyses", h.CreateAnalyses)
	mux.HandleFunc("POST /api/analyses/clear", h.ClearAnalyses)
	mux.HandleFunc("GET /api/analyses/{id}", h.GetAnalysis)
	mux.HandleFunc("DELETE /api/analyses/{id}", h.DeleteAnalysis)
	mux.HandleFunc("POST /api/analyses/{id}/retry", h.RetryAnalysis)

	// Reports
	mux.HandleFunc("GET /api/reports", h.ListReports)
	mux.HandleFunc("GET /api/reports/{id}", h.GetReport)

	// Threshold profiles
	mux.HandleFunc("GET /api/profiles", h.ListProfiles)
	mux.HandleFunc("POST /api/profiles/calibrate", h.Calibrate)
	mux.HandleFunc("GET /api/profiles/{name}", h.GetProfile)

	// Queue control (stop/resume)
	mux.HandleFunc("POST /api/queue/pause", h.PauseQueue)
	mux.HandleFunc("POST /api/queue/resume", h.ResumeQueue)

	// Configuration
	mux.HandleFunc("GET /api/config", h.GetConfig)
	mux.HandleFunc("PUT /api/config", h.UpdateConfig)

	mux.HandleFunc("GET /api/stats", h.Stats)
}

// NewRouter creates a new HTTP router with all API endpoints
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()
	registerAPIRoutes(mux, h)

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("vidproof API - see /api/analyses\n"))
	})

	return logRequests(mux)
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String())
	})
}
