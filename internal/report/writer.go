package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gwlsn/vidproof/internal/logger"
)

// FilePrefix starts every report file name.
const FilePrefix = "Videoforensics-"

// Reference locates a written report.
type Reference struct {
	Filename     string    `json:"filename"`
	RelativePath string    `json:"relative_path"`
	Timestamp    time.Time `json:"timestamp"`
}

// Writer persists reports as uniquely named JSON files under Dir.
type Writer struct {
	Dir string
	now func() time.Time
}

// NewWriter creates a Writer for dir.
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir, now: time.Now}
}

// Write validates the report and writes it atomically. The report is
// rejected before anything touches the disk when it does not match the
// schema.
func (w *Writer) Write(r *ForensicReport) (Reference, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return Reference{}, fmt.Errorf("encode report: %w", err)
	}
	if err := Validate(data); err != nil {
		return Reference{}, err
	}

	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return Reference{}, fmt.Errorf("create report dir: %w", err)
	}

	ts := w.now()
	name := FileName(ts)
	path := filepath.Join(w.Dir, name)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return Reference{}, fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return Reference{}, fmt.Errorf("write report: %w", err)
	}

	logger.Info("Report saved", "file", r.File, "report", name, "size", len(data))
	return Reference{
		Filename:     name,
		RelativePath: filepath.ToSlash(filepath.Join(filepath.Base(w.Dir), name)),
		Timestamp:    ts,
	}, nil
}

// FileName is Videoforensics-YYYYmmdd_HHMMSS-<uuid hex>.json.
func FileName(ts time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s%s-%s.json", FilePrefix, ts.Format("20060102_150405"), id)
}

// Read loads a report written by Write.
func Read(path string) (*ForensicReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r ForensicReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", filepath.Base(path), err)
	}
	return &r, nil
}

// IsReportFile reports whether name looks like a file produced by Write.
func IsReportFile(name string) bool {
	return strings.HasPrefix(name, FilePrefix) && strings.HasSuffix(name, ".json")
}
