package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/gwlsn/vidproof/internal/fusion"
	"github.com/gwlsn/vidproof/internal/jobs"
	"github.com/gwlsn/vidproof/internal/report"
	"github.com/gwlsn/vidproof/internal/stage"
)

func createBenchmarkJob(id string) *jobs.Job {
	return &jobs.Job{
		ID:             id,
		InputPath:      "/evidence/cam_" + id + ".mp4",
		Status:         jobs.StatusComplete,
		InputSize:      1000000000,
		Duration:       3600000,
		Width:          3840,
		Height:         2160,
		FrameRate:      29.97,
		Codec:          "hevc",
		Verdict:        fusion.TierSuspicious,
		Probability:    0.61,
		SuspicionScore: 52,
		FailedStages:   []string{stage.PRNU},
		CreatedAt:      time.Now(),
	}
}

func openBenchStore(b *testing.B) *SQLiteStore {
	b.Helper()
	store, err := NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatalf("failed to create store: %v", err)
	}
	b.Cleanup(func() { store.Close() })
	return store
}

func BenchmarkInsert(b *testing.B) {
	store := openBenchStore(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.SaveJob(createBenchmarkJob(fmt.Sprintf("job-%d", i)))
	}
}

func BenchmarkBatchInsert(b *testing.B) {
	store := openBenchStore(b)

	batch := make([]*jobs.Job, 100)
	for i := range batch {
		batch[i] = createBenchmarkJob(fmt.Sprintf("batch-%d", i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j, job := range batch {
			job.ID = fmt.Sprintf("batch-%d-%d", i, j)
		}
		store.SaveJobs(batch)
	}
}

func BenchmarkGetAllJobs(b *testing.B) {
	store := openBenchStore(b)

	for i := 0; i < 1000; i++ {
		job := createBenchmarkJob(fmt.Sprintf("job-%d", i))
		store.SaveJob(job)
		store.AppendToOrder(job.ID)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := store.GetAllJobs(); err != nil {
			b.Fatalf("GetAllJobs failed: %v", err)
		}
	}
}

func BenchmarkListReports(b *testing.B) {
	store := openBenchStore(b)

	base := time.Now()
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("r-%d", i)
		r := createTestReport(id, base.Add(time.Duration(i)*time.Second), fusion.TierNoEvidence)
		store.IndexReport(report.Reference{Filename: id + ".json", RelativePath: "reports/" + id + ".json"}, r)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.ListReports(50); err != nil {
			b.Fatalf("ListReports failed: %v", err)
		}
	}
}

func BenchmarkStats(b *testing.B) {
	store := openBenchStore(b)

	for i := 0; i < 1000; i++ {
		store.SaveJob(createBenchmarkJob(fmt.Sprintf("job-%d", i)))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.Stats(); err != nil {
			b.Fatalf("Stats failed: %v", err)
		}
	}
}

func TestPerformanceThresholds(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping performance threshold test in short mode")
	}

	store := openTestStore(t)

	// Lenient thresholds to account for CI variability
	t.Run("Insert1000Jobs", func(t *testing.T) {
		start := time.Now()
		for i := 0; i < 1000; i++ {
			job := createBenchmarkJob(fmt.Sprintf("insert-%d", i))
			store.SaveJob(job)
			store.AppendToOrder(job.ID)
		}
		elapsed := time.Since(start)

		if elapsed > 2*time.Second {
			t.Errorf("Insert 1000 jobs took %v (threshold: 2s)", elapsed)
		}
		t.Logf("Insert 1000 jobs: %v", elapsed)
	})

	t.Run("QueryAll1000Jobs", func(t *testing.T) {
		start := time.Now()
		_, _, err := store.GetAllJobs()
		elapsed := time.Since(start)

		if err != nil {
			t.Fatalf("GetAllJobs failed: %v", err)
		}
		if elapsed > 500*time.Millisecond {
			t.Errorf("Query all 1000 jobs took %v (threshold: 500ms)", elapsed)
		}
		t.Logf("Query all 1000 jobs: %v", elapsed)
	})
}
