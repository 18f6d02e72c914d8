package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gwlsn/vidproof/internal/logger"
	"github.com/gwlsn/vidproof/internal/report"
)

// ImportResult contains the outcome of indexing a report directory.
type ImportResult struct {
	Imported int
	Skipped  int      // already indexed
	Failed   int      // unreadable or not a report
	Errors   []string // one line per failed file
}

// ImportReports indexes report files in dir written before the database
// existed, or by the CLI. Files are never modified; unreadable ones are
// counted and logged. A missing directory imports nothing.
func (s *SQLiteStore) ImportReports(dir string) (*ImportResult, error) {
	result := &ImportResult{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, fmt.Errorf("read report dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && report.IsReportFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		indexed, err := s.hasReportFile(name)
		if err != nil {
			return result, fmt.Errorf("check report %s: %w", name, err)
		}
		if indexed {
			result.Skipped++
			continue
		}

		r, err := report.Read(filepath.Join(dir, name))
		if err == nil && r.ID == "" {
			err = fmt.Errorf("missing report id")
		}
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, err))
			logger.Warn("Skipping unreadable report", "file", name, "error", err)
			continue
		}

		ref := report.Reference{
			Filename:     name,
			RelativePath: filepath.ToSlash(filepath.Join(filepath.Base(dir), name)),
			Timestamp:    r.CreatedAt,
		}
		if err := s.IndexReport(ref, r); err != nil {
			return result, fmt.Errorf("index report %s: %w", name, err)
		}
		result.Imported++
	}

	if result.Imported > 0 || result.Failed > 0 {
		logger.Info("Report import complete",
			"dir", dir,
			"imported", result.Imported,
			"skipped", result.Skipped,
			"failed", result.Failed,
		)
	}
	return result, nil
}

// InitStore opens the database, recovers interrupted jobs and indexes any
// reports in reportDir that are not yet known. This is the main entry
// point for store initialization.
func InitStore(dbPath, reportDir string) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// Crash recovery
	count, err := store.ResetRunningJobs()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("reset running jobs: %w", err)
	}
	if count > 0 {
		logger.Info("Reset interrupted jobs to pending", "count", count)
	}

	if reportDir != "" {
		if _, err := store.ImportReports(reportDir); err != nil {
			logger.Warn("Report import failed", "dir", reportDir, "error", err)
		}
	}

	return store, nil
}
