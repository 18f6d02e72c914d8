package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gwlsn/vidproof/internal/fusion"
	"github.com/gwlsn/vidproof/internal/jobs"
	"github.com/gwlsn/vidproof/internal/report"
)

// writeReportFile writes r the way report.Writer names its files.
func writeReportFile(t *testing.T, dir string, r *report.ForensicReport) string {
	t.Helper()
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal report: %v", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	name := report.FileName(r.CreatedAt)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		t.Fatal(err)
	}
	return name
}

func TestImportReports_MissingDir(t *testing.T) {
	store := openTestStore(t)

	result, err := store.ImportReports(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if result.Imported != 0 || result.Failed != 0 {
		t.Errorf("expected nothing imported, got %+v", result)
	}
}

func TestImportReports_IndexesValidFiles(t *testing.T) {
	store := openTestStore(t)
	dir := filepath.Join(t.TempDir(), "reports")

	created := time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)
	name := writeReportFile(t, dir, createTestReport("imp-1", created, fusion.TierTampered))
	writeReportFile(t, dir, createTestReport("imp-2", created.Add(time.Hour), fusion.TierNoEvidence))

	// Not report files
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0644)
	os.Mkdir(filepath.Join(dir, "Videoforensics-dir.json"), 0755)

	result, err := store.ImportReports(dir)
	if err != nil {
		t.Fatalf("ImportReports: %v", err)
	}
	if result.Imported != 2 || result.Skipped != 0 || result.Failed != 0 {
		t.Errorf("unexpected result: %+v", result)
	}

	entry, err := store.GetReport("imp-1")
	if err != nil || entry == nil {
		t.Fatalf("imported report not indexed: %v", err)
	}
	if entry.Filename != name {
		t.Errorf("expected filename %s, got %s", name, entry.Filename)
	}
	if entry.RelativePath != "reports/"+name {
		t.Errorf("expected relative path reports/%s, got %s", name, entry.RelativePath)
	}
	if entry.Verdict != fusion.TierTampered || !entry.CreatedAt.Equal(created) {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestImportReports_SkipsIndexed(t *testing.T) {
	store := openTestStore(t)
	dir := filepath.Join(t.TempDir(), "reports")
	writeReportFile(t, dir, createTestReport("once", time.Now(), fusion.TierSuspicious))

	if _, err := store.ImportReports(dir); err != nil {
		t.Fatal(err)
	}
	result, err := store.ImportReports(dir)
	if err != nil {
		t.Fatal(err)
	}
	if result.Imported != 0 || result.Skipped != 1 {
		t.Errorf("expected second import to skip, got %+v", result)
	}
}

func TestImportReports_CorruptFiles(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"truncated", []byte(`{"id": "abc", "file": "clip.mp4"`)},
		{"invalid syntax", []byte(`{id: abc}`)},
		{"binary garbage", []byte{0x00, 0xff, 0x13, 0x37}},
		{"empty file", []byte{}},
		{"missing id", []byte(`{"file": "clip.mp4"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := openTestStore(t)
			dir := t.TempDir()

			path := filepath.Join(dir, report.FileName(time.Now()))
			os.WriteFile(path, tt.content, 0644)

			result, err := store.ImportReports(dir)
			if err != nil {
				t.Fatalf("corrupt files should not abort import: %v", err)
			}
			if result.Failed != 1 || len(result.Errors) != 1 {
				t.Errorf("expected 1 failure, got %+v", result)
			}

			// Never modified
			got, _ := os.ReadFile(path)
			if string(got) != string(tt.content) {
				t.Error("corrupt report file was modified")
			}
		})
	}
}

func TestInitStore_FreshStart(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "vidproof.db")

	store, err := InitStore(dbPath, "")
	if err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file should exist")
	}
	if store.Path() != dbPath {
		t.Errorf("expected path %s, got %s", dbPath, store.Path())
	}
}

func TestInitStore_ImportsReports(t *testing.T) {
	tmpDir := t.TempDir()
	reportDir := filepath.Join(tmpDir, "reports")
	writeReportFile(t, reportDir, createTestReport("cli-run", time.Now(), fusion.TierNoEvidence))

	store, err := InitStore(filepath.Join(tmpDir, "vidproof.db"), reportDir)
	if err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	defer store.Close()

	if got, _ := store.GetReport("cli-run"); got == nil {
		t.Error("report written outside the service should be indexed")
	}
}

func TestInitStore_ResetsRunningJobs(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "vidproof.db")

	store1, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	job := createTestJob("running")
	job.Status = jobs.StatusRunning
	job.StartedAt = time.Now()
	store1.SaveJob(job)
	store1.AppendToOrder(job.ID)
	store1.Close()

	// Reopen via InitStore (simulates restart)
	store2, err := InitStore(dbPath, "")
	if err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	defer store2.Close()

	got, _ := store2.GetJob("running")
	if got.Status != jobs.StatusPending {
		t.Errorf("expected status pending after restart, got %s", got.Status)
	}
	if !got.StartedAt.IsZero() {
		t.Errorf("expected no start time after restart, got %v", got.StartedAt)
	}
}
