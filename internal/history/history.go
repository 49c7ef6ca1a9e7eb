// Package history archives purged tasks and generated insights to a
// local SQLite database so they stay inspectable after the in-memory
// retention windows expire. The scheduling path never reads from here.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quinn/tabmind/internal/capability"
	"github.com/quinn/tabmind/internal/insight"
	"github.com/quinn/tabmind/internal/task"
)

// Archive wraps the SQLite connection.
type Archive struct {
	sql  *sql.DB
	path string
}

// DefaultPath returns the default database path.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "tabmind", "tabmind.db")
}

// Open opens or creates the archive database, applies pragmas, and
// ensures the schema exists.
func Open(dbPath string) (*Archive, error) {
	if dbPath == "" {
		dbPath = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating db dir: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := applyPragmas(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := migrate(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &Archive{sql: sqlDB, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (a *Archive) Close() error {
	if a == nil || a.sql == nil {
		return nil
	}
	return a.sql.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			tab_id TEXT NOT NULL,
			name TEXT NOT NULL,
			capability TEXT NOT NULL,
			priority TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			params_json TEXT,
			result_json TEXT,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_completed_at ON tasks(completed_at);`,
		`CREATE TABLE IF NOT EXISTS insights (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			category TEXT NOT NULL,
			confidence REAL NOT NULL,
			actionable INTEGER NOT NULL,
			data_json TEXT,
			recommendations_json TEXT,
			generated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_insights_generated_at ON insights(generated_at);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ArchiveTask stores a terminal task. Re-archiving the same id is a
// no-op so the purge sweep can be retried safely.
func (a *Archive) ArchiveTask(t task.Task) error {
	params, err := json.Marshal(t.Parameters)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	result, err := json.Marshal(t.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = a.sql.Exec(
		`INSERT OR IGNORE INTO tasks
		 (id, tab_id, name, capability, priority, status, error, params_json, result_json, created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TabID, t.Name, string(t.Capability), t.Priority.String(), string(t.Status),
		t.Error, string(params), string(result), t.CreatedAt, t.StartedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("archive task: %w", err)
	}
	return nil
}

// ArchiveInsight stores a generated insight.
func (a *Archive) ArchiveInsight(in insight.Insight) error {
	data, err := json.Marshal(in.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}
	recs, err := json.Marshal(in.Recommendations)
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}

	actionable := 0
	if in.Actionable {
		actionable = 1
	}
	_, err = a.sql.Exec(
		`INSERT OR IGNORE INTO insights
		 (id, title, description, category, confidence, actionable, data_json, recommendations_json, generated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Title, in.Description, string(in.Category), in.Confidence, actionable,
		string(data), string(recs), in.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("archive insight: %w", err)
	}
	return nil
}

// RecentTasks returns the most recently completed archived tasks.
func (a *Archive) RecentTasks(limit int) ([]task.Task, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.sql.Query(
		`SELECT id, tab_id, name, capability, priority, status, error, params_json, result_json, created_at, started_at, completed_at
		 FROM tasks ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]task.Task, 0, limit)
	for rows.Next() {
		var (
			t                    task.Task
			capName, priority    string
			status               string
			errMsg               sql.NullString
			paramsJSON, resJSON  sql.NullString
			startedAt, completed sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.TabID, &t.Name, &capName, &priority, &status, &errMsg,
			&paramsJSON, &resJSON, &t.CreatedAt, &startedAt, &completed); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Capability = capability.Capability(capName)
		t.Priority = task.ParsePriority(priority)
		t.Status = task.Status(status)
		t.Error = errMsg.String
		if paramsJSON.Valid && paramsJSON.String != "null" {
			_ = json.Unmarshal([]byte(paramsJSON.String), &t.Parameters)
		}
		if resJSON.Valid && resJSON.String != "null" {
			_ = json.Unmarshal([]byte(resJSON.String), &t.Result)
		}
		if startedAt.Valid {
			started := startedAt.Time
			t.StartedAt = &started
		}
		if completed.Valid {
			done := completed.Time
			t.CompletedAt = &done
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentInsights returns the most recent archived insights, optionally
// filtered by category.
func (a *Archive) RecentInsights(limit int, category capability.Capability) ([]insight.Insight, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, title, description, category, confidence, actionable, data_json, recommendations_json, generated_at
	          FROM insights`
	args := []any{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, string(category))
	}
	query += ` ORDER BY generated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := a.sql.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query insights: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]insight.Insight, 0, limit)
	for rows.Next() {
		var (
			in             insight.Insight
			cat            string
			actionable     int
			dataJSON, recs sql.NullString
		)
		if err := rows.Scan(&in.ID, &in.Title, &in.Description, &cat, &in.Confidence,
			&actionable, &dataJSON, &recs, &in.GeneratedAt); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		in.Category = capability.Capability(cat)
		in.Actionable = actionable != 0
		if dataJSON.Valid && dataJSON.String != "null" {
			_ = json.Unmarshal([]byte(dataJSON.String), &in.Data)
		}
		if recs.Valid && recs.String != "null" {
			_ = json.Unmarshal([]byte(recs.String), &in.Recommendations)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// CountByStatus returns archived task counts grouped by status.
func (a *Archive) CountByStatus() (map[task.Status]int, error) {
	rows, err := a.sql.Query(`SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[task.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[task.Status(status)] = count
	}
	return out, rows.Err()
}

// PruneBefore deletes archived rows older than the cutoff.
func (a *Archive) PruneBefore(cutoff time.Time) error {
	if _, err := a.sql.Exec(`DELETE FROM tasks WHERE completed_at < ?`, cutoff); err != nil {
		return fmt.Errorf("prune tasks: %w", err)
	}
	if _, err := a.sql.Exec(`DELETE FROM insights WHERE generated_at < ?`, cutoff); err != nil {
		return fmt.Errorf("prune insights: %w", err)
	}
	return nil
}
