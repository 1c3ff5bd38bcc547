// Package runstore keeps a sqlite ledger of batch runs and the per-video
// outcome of each.
package runstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/cycle.report/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Video outcome statuses.
const (
	StatusOK      = "ok"       // full and cycle exports written
	StatusNoCycle = "no_cycle" // full export only
	StatusEmpty   = "empty"    // no pose in any sampled frame
	StatusFailed  = "failed"
)

// Run is one invocation over an input directory.
type Run struct {
	ID         string
	InputDir   string
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is in progress
	Videos     int
	Failures   int
}

// VideoOutcome is what happened to one video in a run.
type VideoOutcome struct {
	Video     string
	Status    string
	Snapshots int
	Channel   string
	Period    int
	Score     float64
	FullPath  string
	CyclePath string
	Error     string
	Elapsed   time.Duration
}

// Store is the run ledger.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens (creating if needed) the ledger at path and applies pending
// migrations.
func Open(path string, clock timeutil.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Store{db: db, clock: clock}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}

	// m is not closed: that would close db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun starts a new run with a fresh UUID.
func (s *Store) BeginRun(inputDir string) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		InputDir:  inputDir,
		StartedAt: s.clock.Now(),
	}
	_, err := s.db.Exec(`INSERT INTO runs (run_id, input_dir, started_at) VALUES (?, ?, ?)`,
		run.ID, run.InputDir, run.StartedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// RecordVideo stores the outcome of one video. Recording the same video
// twice in a run replaces the earlier row.
func (s *Store) RecordVideo(runID string, o VideoOutcome) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO run_videos (
			run_id, video, status, snapshots, channel, period, score,
			full_path, cycle_path, error, elapsed_ms, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, o.Video, o.Status, o.Snapshots,
		nullString(o.Channel), nullInt(o.Period), nullFloat(o.Channel, o.Score),
		nullString(o.FullPath), nullString(o.CyclePath), nullString(o.Error),
		o.Elapsed.Milliseconds(), s.clock.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", o.Video, err)
	}
	return nil
}

// FinishRun stamps the run as complete with its totals.
func (s *Store) FinishRun(runID string, videos, failures int) error {
	res, err := s.db.Exec(`UPDATE runs SET finished_at = ?, videos = ?, failures = ? WHERE run_id = ?`,
		s.clock.Now().UnixNano(), videos, failures, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, input_dir, started_at, finished_at, videos, failures
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.InputDir, &started, &finished, &r.Videos, &r.Failures); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, started)
		if finished.Valid {
			r.FinishedAt = time.Unix(0, finished.Int64)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Videos returns the outcomes recorded for runID ordered by video name.
func (s *Store) Videos(runID string) ([]VideoOutcome, error) {
	rows, err := s.db.Query(`
		SELECT video, status, snapshots, channel, period, score,
			full_path, cycle_path, error, elapsed_ms
		FROM run_videos WHERE run_id = ? ORDER BY video`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VideoOutcome
	for rows.Next() {
		var o VideoOutcome
		var channel, fullPath, cyclePath, errText sql.NullString
		var period sql.NullInt64
		var score sql.NullFloat64
		var elapsedMs int64
		if err := rows.Scan(&o.Video, &o.Status, &o.Snapshots, &channel, &period, &score,
			&fullPath, &cyclePath, &errText, &elapsedMs); err != nil {
			return nil, err
		}
		o.Channel = channel.String
		o.Period = int(period.Int64)
		o.Score = score.Float64
		o.FullPath = fullPath.String
		o.CyclePath = cyclePath.String
		o.Error = errText.String
		o.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		out = append(out, o)
	}
	return out, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

// nullFloat stores the score only when a channel was selected; a zero
// score is meaningful in that case.
func nullFloat(channel string, v float64) interface{} {
	if channel == "" {
		return nil
	}
	return v
}
