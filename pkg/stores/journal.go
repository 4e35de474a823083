package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunRecord is one persisted run.
type RunRecord struct {
	ID          string
	Target      string
	Status      engine.RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
}

// TaskRecord is one persisted task result within a run.
type TaskRecord struct {
	RunID     string
	Task      string
	Status    engine.TaskStatus
	Actions   []engine.ActionResult
	StartedAt *time.Time
	Duration  time.Duration
	Error     string
}

// SQLiteJournal implements engine.Journal over a local SQLite file.
type SQLiteJournal struct {
	db   *sql.DB
	path string
}

var _ engine.Journal = (*SQLiteJournal)(nil)

// Open creates the journal, applies pending migrations, and returns it
// ready for use.
func Open(ctx context.Context, path string) (*SQLiteJournal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	j := &SQLiteJournal{db: db, path: path}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func (j *SQLiteJournal) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(j.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// RecordRunStart persists a new run.
func (j *SQLiteJournal) RecordRunStart(ctx context.Context, report *engine.RunReport) error {
	query := `INSERT INTO runs (id, target, status, started_at) VALUES (?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		report.ID, report.Target, string(engine.RunStatusRunning), report.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// RecordTaskResult appends one task result to a run.
func (j *SQLiteJournal) RecordTaskResult(ctx context.Context, runID string, result *engine.TaskResult) error {
	var actions []byte
	if len(result.Actions) > 0 {
		var err error
		actions, err = json.Marshal(result.Actions)
		if err != nil {
			return fmt.Errorf("encode action results: %w", err)
		}
	}

	var startedAt *time.Time
	if !result.StartedAt.IsZero() {
		t := result.StartedAt.UTC()
		startedAt = &t
	}

	query := `
		INSERT INTO task_results (run_id, task, status, actions, started_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, query,
		runID, result.Task, string(result.Status), nullableString(actions),
		startedAt, result.Duration.Milliseconds(), nullString(result.Error))
	if err != nil {
		return fmt.Errorf("record task result: %w", err)
	}
	return nil
}

// RecordRunEnd persists the final run state.
func (j *SQLiteJournal) RecordRunEnd(ctx context.Context, report *engine.RunReport) error {
	query := `UPDATE runs SET status = ?, completed_at = ? WHERE id = ?`

	result, err := j.db.ExecContext(ctx, query,
		string(report.Status), report.CompletedAt.UTC(), report.ID)
	if err != nil {
		return fmt.Errorf("record run end: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record run end: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", report.ID)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (j *SQLiteJournal) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, target, status, started_at, completed_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		var run RunRecord
		var status string
		if err := rows.Scan(&run.ID, &run.Target, &status, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = engine.RunStatus(status)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun retrieves one run by ID.
func (j *SQLiteJournal) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `SELECT id, target, status, started_at, completed_at FROM runs WHERE id = ?`

	var run RunRecord
	var status string
	err := j.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Target, &status, &run.StartedAt, &run.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	run.Status = engine.RunStatus(status)
	return &run, nil
}

// TaskResults returns the task results of a run in recorded order.
func (j *SQLiteJournal) TaskResults(ctx context.Context, runID string) ([]TaskRecord, error) {
	query := `
		SELECT run_id, task, status, actions, started_at, duration_ms, error
		FROM task_results
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := j.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list task results: %w", err)
	}
	defer rows.Close()

	results := []TaskRecord{}
	for rows.Next() {
		var record TaskRecord
		var status string
		var actions sql.NullString
		var errMsg sql.NullString
		var durationMS int64
		if err := rows.Scan(&record.RunID, &record.Task, &status, &actions,
			&record.StartedAt, &durationMS, &errMsg); err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		record.Status = engine.TaskStatus(status)
		record.Duration = time.Duration(durationMS) * time.Millisecond
		record.Error = errMsg.String
		if actions.Valid && actions.String != "" {
			if err := json.Unmarshal([]byte(actions.String), &record.Actions); err != nil {
				return nil, fmt.Errorf("decode action results: %w", err)
			}
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task results: %w", err)
	}
	return results, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableString(b []byte) *string {
	if len(b) == 0 {
		return nil
	}
	s := string(b)
	return &s
}
