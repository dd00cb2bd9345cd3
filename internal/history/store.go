// Package history persists finished build results: a SQLite archive for
// queryable retention and plain-text per-build log files for operators.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/buildrelay/internal/build"
)

// Store archives terminal build results in SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore opens (and if needed creates) the archive database.
// Use ":memory:" for tests.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS build_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id TEXT NOT NULL UNIQUE,
		project TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL,
		duration_seconds INTEGER NOT NULL,
		logs BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_project ON build_results(project);
	CREATE INDEX IF NOT EXISTS idx_completed_at ON build_results(completed_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append archives one terminal result.
func (s *Store) Append(ctx context.Context, result *build.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs, err := json.Marshal(result.Logs)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO build_results (build_id, project, status, started_at, completed_at, duration_seconds, logs) VALUES (?, ?, ?, ?, ?, ?, ?)",
		result.ID, result.ProjectName, string(result.Status),
		result.StartedAt.Unix(), result.CompletedAt.Unix(), result.DurationSeconds, logs,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// Recent returns up to limit results for a project, newest first.
func (s *Store) Recent(ctx context.Context, project string, limit int) ([]*build.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT build_id, project, status, started_at, completed_at, duration_seconds, logs FROM build_results WHERE project = ? ORDER BY completed_at DESC, id DESC LIMIT ?",
		project, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

// PruneOlderThan deletes archived results completed before the cutoff and
// returns how many rows were removed.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM build_results WHERE completed_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune results: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count pruned rows: %w", err)
	}
	return n, nil
}

func scanResults(rows *sql.Rows) ([]*build.Result, error) {
	var results []*build.Result
	for rows.Next() {
		var r build.Result
		var status string
		var startedUnix, completedUnix int64
		var logsJSON []byte

		err := rows.Scan(&r.ID, &r.ProjectName, &status, &startedUnix, &completedUnix, &r.DurationSeconds, &logsJSON)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}

		r.Status = build.Status(status)
		r.StartedAt = time.Unix(startedUnix, 0).UTC()
		r.CompletedAt = time.Unix(completedUnix, 0).UTC()

		if len(logsJSON) > 0 {
			if err := json.Unmarshal(logsJSON, &r.Logs); err != nil {
				return nil, fmt.Errorf("unmarshal logs: %w", err)
			}
		}

		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return results, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
