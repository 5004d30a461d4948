package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/seantiz/crucible/internal/hook"
	"github.com/seantiz/crucible/internal/model"

	_ "modernc.org/sqlite"
)

const createResultsTable = `
CREATE TABLE IF NOT EXISTS results (
    case_id       TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    def_name      TEXT NOT NULL,
    state         TEXT NOT NULL,
    failure_kind  TEXT,
    failure_phase TEXT,
    error         TEXT,
    cleanup_error TEXT,
    attempts      INTEGER NOT NULL,
    work_dir      TEXT,
    duration_ms   INTEGER NOT NULL,
    created_at    DATETIME NOT NULL,
    started_at    DATETIME,
    finished_at   DATETIME
)`

const createPerfMetricsTable = `
CREATE TABLE IF NOT EXISTS perf_metrics (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    case_id    TEXT NOT NULL,
    metric     TEXT NOT NULL,
    value      REAL NOT NULL,
    reference  REAL NOT NULL,
    lower      REAL NOT NULL,
    upper      REAL NOT NULL,
    unit       TEXT,
    within     INTEGER NOT NULL,
    created_at DATETIME NOT NULL
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createResultsTable, createPerfMetricsTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResult inserts or replaces a case result.
func (s *SQLiteStore) SaveResult(ctx context.Context, r *model.Result) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO results (
			case_id, name, def_name, state, failure_kind, failure_phase,
			error, cleanup_error, attempts, work_dir, duration_ms,
			created_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CaseID, r.Name, r.DefName, r.State, string(r.FailureKind), string(r.FailurePhase),
		r.Error, r.CleanupError, r.Attempts, r.WorkDir, r.DurationMS,
		r.CreatedAt, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// GetResult retrieves a case result by case ID.
func (s *SQLiteStore) GetResult(ctx context.Context, caseID string) (*model.Result, error) {
	r := &model.Result{}
	var kind, phase string
	err := s.db.QueryRowContext(ctx,
		`SELECT case_id, name, def_name, state, failure_kind, failure_phase,
			error, cleanup_error, attempts, work_dir, duration_ms,
			created_at, started_at, finished_at
		FROM results WHERE case_id = ?`, caseID,
	).Scan(
		&r.CaseID, &r.Name, &r.DefName, &r.State, &kind, &phase,
		&r.Error, &r.CleanupError, &r.Attempts, &r.WorkDir, &r.DurationMS,
		&r.CreatedAt, &r.StartedAt, &r.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	r.FailureKind = model.FailureKind(kind)
	r.FailurePhase = hook.Phase(phase)
	return r, nil
}

// ListResults returns a paginated list of results ordered by created_at,
// along with the total count.
func (s *SQLiteStore) ListResults(ctx context.Context, limit, offset int) ([]*model.Result, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM results").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count results: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT case_id, name, def_name, state, failure_kind, failure_phase,
			error, cleanup_error, attempts, work_dir, duration_ms,
			created_at, started_at, finished_at
		FROM results ORDER BY created_at, case_id LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []*model.Result
	for rows.Next() {
		r := &model.Result{}
		var kind, phase string
		if err := rows.Scan(
			&r.CaseID, &r.Name, &r.DefName, &r.State, &kind, &phase,
			&r.Error, &r.CleanupError, &r.Attempts, &r.WorkDir, &r.DurationMS,
			&r.CreatedAt, &r.StartedAt, &r.FinishedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan result: %w", err)
		}
		r.FailureKind = model.FailureKind(kind)
		r.FailurePhase = hook.Phase(phase)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate results: %w", err)
	}

	return results, total, nil
}

// GetRunStats aggregates result counts by state and failure kind.
func (s *SQLiteStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{
		CountByState: make(map[string]int),
		CountByKind:  make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT state, COUNT(*) FROM results GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		stats.CountByState[state] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state counts: %w", err)
	}

	kindRows, err := s.db.QueryContext(ctx,
		"SELECT failure_kind, COUNT(*) FROM results WHERE failure_kind != '' GROUP BY failure_kind")
	if err != nil {
		return nil, fmt.Errorf("count by kind: %w", err)
	}
	defer kindRows.Close()
	for kindRows.Next() {
		var kind string
		var n int
		if err := kindRows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan kind count: %w", err)
		}
		stats.CountByKind[kind] = n
	}
	if err := kindRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kind counts: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM results").Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}

// InsertPerfMetric persists one evaluated performance metric.
func (s *SQLiteStore) InsertPerfMetric(ctx context.Context, m *model.PerfMetric) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO perf_metrics (
			case_id, metric, value, reference, lower, upper, unit, within, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.CaseID, m.Metric, m.Value, m.Reference, m.Lower, m.Upper, m.Unit, m.Within, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert perf metric: %w", err)
	}
	return nil
}

// GetPerfMetrics returns the recorded metrics for a case in insertion order.
func (s *SQLiteStore) GetPerfMetrics(ctx context.Context, caseID string) ([]model.PerfMetric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, metric, value, reference, lower, upper, unit, within, created_at
		FROM perf_metrics WHERE case_id = ? ORDER BY id`, caseID,
	)
	if err != nil {
		return nil, fmt.Errorf("get perf metrics: %w", err)
	}
	defer rows.Close()

	var metrics []model.PerfMetric
	for rows.Next() {
		var m model.PerfMetric
		if err := rows.Scan(
			&m.ID, &m.CaseID, &m.Metric, &m.Value, &m.Reference,
			&m.Lower, &m.Upper, &m.Unit, &m.Within, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan perf metric: %w", err)
		}
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate perf metrics: %w", err)
	}
	return metrics, nil
}
