package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gwlsn/vidproof/internal/jobs"
	"github.com/gwlsn/vidproof/internal/prnu"
	"github.com/gwlsn/vidproof/internal/report"
	_ "modernc.org/sqlite"
)

const schemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	input_path TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	input_size INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER,
	width INTEGER,
	height INTEGER,
	frame_rate REAL,
	video_codec TEXT,
	report_id TEXT,
	report_file TEXT,
	threshold_profile TEXT,
	verdict TEXT,
	tamper_probability REAL,
	suspicion_score INTEGER,
	final_verdict TEXT,
	failed_stages TEXT DEFAULT '',
	analysis_ms INTEGER,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS job_order (
	position INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL UNIQUE REFERENCES jobs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS reports (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL UNIQUE,
	relative_path TEXT NOT NULL,
	file TEXT,
	path TEXT,
	verdict TEXT,
	tamper_probability REAL NOT NULL DEFAULT 0,
	suspicion_score INTEGER NOT NULL DEFAULT 0,
	final_verdict TEXT,
	threshold_profile TEXT,
	failed_stages TEXT DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS threshold_profiles (
	name TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	consistent_mean_min REAL NOT NULL,
	consistent_std_max REAL NOT NULL,
	consistent_mad_max REAL NOT NULL,
	tampering_mean_max REAL NOT NULL,
	tampering_std_min REAL NOT NULL,
	tampering_mad_min REAL NOT NULL,
	videos INTEGER NOT NULL DEFAULT 0,
	calibration TEXT,
	created_at TEXT
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at);
`

// migrations[v] upgrades a database at version v to v+1.
var migrations = map[int][]string{
	// v1 -> v2: failed stage lists and calibration summaries
	1: {
		`ALTER TABLE jobs ADD COLUMN failed_stages TEXT DEFAULT ''`,
		`ALTER TABLE reports ADD COLUMN failed_stages TEXT DEFAULT ''`,
		`ALTER TABLE threshold_profiles ADD COLUMN calibration TEXT`,
	},
}

const jobColumns = `id, input_path, status, error, input_size, duration_ms, width, height,
	frame_rate, video_codec, report_id, report_file, threshold_profile, verdict,
	tamper_probability, suspicion_score, final_verdict, failed_stages, analysis_ms,
	created_at, started_at, completed_at`

const reportColumns = `id, filename, relative_path, file, path, verdict, tamper_probability,
	suspicion_score, final_verdict, threshold_profile, failed_stages, created_at`

const profileColumns = `name, mode, consistent_mean_min, consistent_std_max, consistent_mad_max,
	tampering_mean_max, tampering_std_min, tampering_mad_min, videos, created_at`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex // Protects concurrent access
	path string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-backed store.
// The database file is created if it doesn't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// migrate creates the schema on a fresh database and upgrades older ones.
func migrate(db *sql.DB) error {
	var version int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	switch {
	case err == nil:
	case isMissingTable(err):
		version = 0
	default:
		return fmt.Errorf("check schema version: %w", err)
	}

	if version > 0 && version < schemaVersion {
		for v := version; v < schemaVersion; v++ {
			for _, m := range migrations[v] {
				if _, err := db.Exec(m); err != nil {
					return fmt.Errorf("migration v%d->v%d failed: %w", v, v+1, err)
				}
			}
		}
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if version < schemaVersion {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("update schema version: %w", err)
		}
	}
	return nil
}

func isMissingTable(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || strings.Contains(err.Error(), "no such table")
}

// SaveJob inserts or updates a job.
func (s *SQLiteStore) SaveJob(job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(upsertJob, jobArgs(job)...)
	return err
}

// upsertJob updates in place; INSERT OR REPLACE would delete the row and
// cascade the delete into job_order.
var upsertJob = upsert("jobs", "id", jobColumns)

// upsert builds an INSERT ... ON CONFLICT DO UPDATE statement for table.
func upsert(table, key, columns string) string {
	cols := strings.Split(columns, ",")
	marks := make([]string, len(cols))
	var sets []string
	for i, c := range cols {
		c = strings.TrimSpace(c)
		cols[i] = c
		marks[i] = "?"
		if c != key {
			sets = append(sets, c+" = excluded."+c)
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), strings.Join(marks, ", "), key, strings.Join(sets, ", "))
}

func jobArgs(job *jobs.Job) []any {
	return []any{
		job.ID, job.InputPath, string(job.Status), nullString(job.Error),
		job.InputSize, nullInt64(job.Duration), nullInt(job.Width), nullInt(job.Height),
		nullFloat64(job.FrameRate), nullString(job.Codec),
		nullString(job.ReportID), nullString(job.ReportFile), nullString(job.Profile), nullString(job.Verdict),
		nullFloat64(job.Probability), nullInt(job.SuspicionScore), nullString(job.Tier),
		joinStages(job.FailedStages), nullInt64(job.AnalysisTime),
		formatTime(job.CreatedAt), formatTimePtr(job.StartedAt), formatTimePtr(job.CompletedAt),
	}
}

// GetJob retrieves a job by ID. Returns nil if not found.
func (s *SQLiteStore) GetJob(id string) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// DeleteJob removes a job by ID.
func (s *SQLiteStore) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// cascade removes it from job_order
	_, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id)
	return err
}

// SaveJobs persists multiple jobs in a transaction.
func (s *SQLiteStore) SaveJobs(jobList []*jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(upsertJob)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, job := range jobList {
		if _, err := stmt.Exec(jobArgs(job)...); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetAllJobs returns all jobs in queue order.
func (s *SQLiteStore) GetAllJobs() ([]*jobs.Job, []string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ` + prefixed("j.", jobColumns) + `
		FROM jobs j
		LEFT JOIN job_order o ON j.id = o.job_id
		ORDER BY o.position ASC, j.created_at ASC`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var jobList []*jobs.Job
	var order []string
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, nil, err
		}
		jobList = append(jobList, job)
		order = append(order, job.ID)
	}

	return jobList, order, rows.Err()
}

// GetJobsByStatus returns all jobs with the given status in queue order.
func (s *SQLiteStore) GetJobsByStatus(status jobs.Status) ([]*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT `+prefixed("j.", jobColumns)+`
		FROM jobs j
		LEFT JOIN job_order o ON j.id = o.job_id
		WHERE j.status = ?
		ORDER BY o.position ASC, j.created_at ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobList []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobList = append(jobList, job)
	}

	return jobList, rows.Err()
}

// AppendToOrder adds a job ID to the end of the queue.
func (s *SQLiteStore) AppendToOrder(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("INSERT OR IGNORE INTO job_order (job_id) VALUES (?)", id)
	return err
}

// SetOrder persists the full job order, replacing any existing order.
func (s *SQLiteStore) SetOrder(order []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM job_order"); err != nil {
		return err
	}
	// autoincrement gives sequential positions
	for _, jobID := range order {
		if _, err := tx.Exec("INSERT INTO job_order (job_id) VALUES (?)", jobID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ResetRunningJobs resets all running jobs to pending. Called on startup to
// recover analyses interrupted by a crash or shutdown.
func (s *SQLiteStore) ResetRunningJobs() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE jobs
		SET status = 'pending', started_at = NULL
		WHERE status = 'running'
	`)
	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	return int(count), err
}

// IndexReport records a written report.
func (s *SQLiteStore) IndexReport(ref report.Reference, r *report.ForensicReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := r.CreatedAt
	if created.IsZero() {
		created = ref.Timestamp
	}
	var profile string
	if r.PRNU != nil {
		profile = r.PRNU.Profile
	}

	_, err := s.db.Exec(`INSERT OR REPLACE INTO reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, ref.Filename, ref.RelativePath, nullString(r.File), nullString(r.Path),
		nullString(r.Fusion.Verdict), r.Probability(), r.Score, nullString(r.Tier),
		nullString(profile), joinStages(r.FailedStages()), formatTime(created),
	)
	return err
}

// GetReport returns the index entry for id, or nil.
func (s *SQLiteStore) GetReport(id string) (*ReportEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	e, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// hasReportFile reports whether filename is already indexed.
func (s *SQLiteStore) hasReportFile(filename string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM reports WHERE filename = ?`, filename).Scan(&n)
	return n > 0, err
}

// ListReports returns the newest reports first.
func (s *SQLiteStore) ListReports(limit int) ([]ReportEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.Query(`SELECT `+reportColumns+` FROM reports
		ORDER BY created_at DESC, filename DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ReportEntry
	for rows.Next() {
		e, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// SaveProfile stores p, replacing any profile with the same name. A
// calibration summary saved earlier under that name is dropped.
func (s *SQLiteStore) SaveProfile(p prnu.ThresholdProfile) error {
	return s.saveProfile(p, nil)
}

// SaveCalibration stores c.Profile along with the calibration summary.
func (s *SQLiteStore) SaveCalibration(c *prnu.Calibration) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}
	return s.saveProfile(c.Profile, data)
}

func (s *SQLiteStore) saveProfile(p prnu.ThresholdProfile, calibration []byte) error {
	if p.Name == "" {
		return fmt.Errorf("save profile: empty name")
	}
	if p.Name == prnu.ModeStrict {
		return fmt.Errorf("save profile: %q is built in", p.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var cal any
	if calibration != nil {
		cal = string(calibration)
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO threshold_profiles (`+profileColumns+`, calibration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Mode,
		p.Consistent.MeanMin, p.Consistent.StdMax, p.Consistent.MADMax,
		p.Tampering.MeanMax, p.Tampering.StdMin, p.Tampering.MADMin,
		p.Videos, formatTimePtr(p.CreatedAt), cal,
	)
	return err
}

// GetProfile returns the named profile, or nil.
func (s *SQLiteStore) GetProfile(name string) (*prnu.ThresholdProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+profileColumns+` FROM threshold_profiles WHERE name = ?`, name)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// GetCalibration returns the calibration stored with a profile, or nil.
func (s *SQLiteStore) GetCalibration(name string) (*prnu.Calibration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data sql.NullString
	err := s.db.QueryRow(`SELECT calibration FROM threshold_profiles WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !data.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var c prnu.Calibration
	if err := json.Unmarshal([]byte(data.String), &c); err != nil {
		return nil, fmt.Errorf("decode calibration %s: %w", name, err)
	}
	return &c, nil
}

// ListProfiles returns stored profiles ordered by name.
func (s *SQLiteStore) ListProfiles() ([]prnu.ThresholdProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ` + profileColumns + ` FROM threshold_profiles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []prnu.ThresholdProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// DeleteProfile removes a stored profile.
func (s *SQLiteStore) DeleteProfile(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM threshold_profiles WHERE name = ?`, name)
	return err
}

// Stats returns stored counts.
func (s *SQLiteStore) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Verdicts: make(map[string]int)}
	err := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM jobs),
			(SELECT COUNT(*) FROM reports),
			(SELECT COUNT(*) FROM threshold_profiles)
	`).Scan(&stats.Jobs, &stats.Reports, &stats.Profiles)
	if err != nil {
		return stats, err
	}

	rows, err := s.db.Query(`SELECT COALESCE(verdict, ''), COUNT(*) FROM reports GROUP BY verdict`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		var n int
		if err := rows.Scan(&v, &n); err != nil {
			return stats, err
		}
		if v != "" {
			stats.Verdicts[v] = n
		}
	}
	return stats, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Helper functions for scanning rows

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var job jobs.Job
	var status string
	var errStr, codec, reportID, reportFile, profile, verdict, tier, stages sql.NullString
	var duration, width, height, score, analysis sql.NullInt64
	var frameRate, probability sql.NullFloat64
	var createdAt, startedAt, completedAt sql.NullString

	err := row.Scan(
		&job.ID, &job.InputPath, &status, &errStr,
		&job.InputSize, &duration, &width, &height,
		&frameRate, &codec, &reportID, &reportFile, &profile, &verdict,
		&probability, &score, &tier, &stages, &analysis,
		&createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = jobs.Status(status)
	job.Error = errStr.String
	job.Duration = duration.Int64
	job.Width = int(width.Int64)
	job.Height = int(height.Int64)
	job.FrameRate = frameRate.Float64
	job.Codec = codec.String
	job.ReportID = reportID.String
	job.ReportFile = reportFile.String
	job.Profile = profile.String
	job.Verdict = verdict.String
	job.Probability = probability.Float64
	job.SuspicionScore = int(score.Int64)
	job.Tier = tier.String
	job.FailedStages = splitStages(stages.String)
	job.AnalysisTime = analysis.Int64
	job.CreatedAt = parseTime(createdAt.String)
	job.StartedAt = parseTime(startedAt.String)
	job.CompletedAt = parseTime(completedAt.String)

	return &job, nil
}

func scanReport(row rowScanner) (*ReportEntry, error) {
	var e ReportEntry
	var file, path, verdict, tier, profile, stages sql.NullString
	var createdAt string

	err := row.Scan(&e.ID, &e.Filename, &e.RelativePath, &file, &path, &verdict,
		&e.Probability, &e.SuspicionScore, &tier, &profile, &stages, &createdAt)
	if err != nil {
		return nil, err
	}

	e.File = file.String
	e.Path = path.String
	e.Verdict = verdict.String
	e.Tier = tier.String
	e.Profile = profile.String
	e.FailedStages = splitStages(stages.String)
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

func scanProfile(row rowScanner) (*prnu.ThresholdProfile, error) {
	var p prnu.ThresholdProfile
	var createdAt sql.NullString

	err := row.Scan(&p.Name, &p.Mode,
		&p.Consistent.MeanMin, &p.Consistent.StdMax, &p.Consistent.MADMax,
		&p.Tampering.MeanMax, &p.Tampering.StdMin, &p.Tampering.MADMin,
		&p.Videos, &createdAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdAt.String)
	return &p, nil
}

// prefixed qualifies every column in a column list with prefix.
func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}

// Helper functions for SQL values

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func joinStages(stages []string) string {
	return strings.Join(stages, ",")
}

func splitStages(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int) any {
	if i == 0 {
		return nil
	}
	return i
}

func nullInt64(i int64) any {
	if i == 0 {
		return nil
	}
	return i
}

func nullFloat64(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeFormat, s)
	return t
}
