package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ResultStore persists finished backtest runs in their own SQLite file,
// separate from the live trade ledger.
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "backtests.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureResultSchema(db *sql.DB) error {
	stmt := `CREATE TABLE IF NOT EXISTS backtest_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		finished_at INTEGER,
		error TEXT,
		stats_json TEXT,
		curve_json TEXT
	);`
	if _, err := db.Exec(stmt); err != nil {
		return fmt.Errorf("backtest schema: %w", err)
	}
	return nil
}

// SaveRun upserts a run record.
func (s *ResultStore) SaveRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("result store closed")
	}
	statsJSON, err := marshalNullable(run.Stats)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	curveJSON, err := marshalNullable(run.EquityCurve)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO backtest_runs
		(id, status, created_at, finished_at, error, stats_json, curve_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			error = excluded.error,
			stats_json = excluded.stats_json,
			curve_json = excluded.curve_json`,
		run.ID, run.Status, run.CreatedAt.Unix(), nullableUnix(run.FinishedAt),
		run.Error, statsJSON, curveJSON)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads one run; sql.ErrNoRows when absent.
func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return Run{}, fmt.Errorf("result store closed")
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, status, created_at, finished_at, error, stats_json, curve_json
		FROM backtest_runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns the most recent runs, newest first, without their
// equity curves.
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("result store closed")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, status, created_at, finished_at, error, stats_json, NULL
		FROM backtest_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run        Run
		createdAt  int64
		finishedAt sql.NullInt64
		errText    sql.NullString
		statsJSON  sql.NullString
		curveJSON  sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Status, &createdAt, &finishedAt, &errText, &statsJSON, &curveJSON); err != nil {
		return Run{}, err
	}
	run.CreatedAt = time.Unix(createdAt, 0).UTC()
	if finishedAt.Valid {
		run.FinishedAt = time.Unix(finishedAt.Int64, 0).UTC()
	}
	run.Error = errText.String
	if statsJSON.Valid && statsJSON.String != "" {
		var stats Stats
		if err := json.Unmarshal([]byte(statsJSON.String), &stats); err != nil {
			return Run{}, fmt.Errorf("run %s stats: %w", run.ID, err)
		}
		run.Stats = &stats
	}
	if curveJSON.Valid && curveJSON.String != "" {
		if err := json.Unmarshal([]byte(curveJSON.String), &run.EquityCurve); err != nil {
			return Run{}, fmt.Errorf("run %s curve: %w", run.ID, err)
		}
	}
	return run, nil
}

func marshalNullable(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	switch x := v.(type) {
	case *Stats:
		if x == nil {
			return sql.NullString{}, nil
		}
	case []EquityPoint:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
