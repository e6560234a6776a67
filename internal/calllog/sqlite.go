package calllog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const defaultBusyTimeout = 5000

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS call_logs (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id    TEXT    NOT NULL DEFAULT '',
		kind          TEXT    NOT NULL,
		description   TEXT    NOT NULL DEFAULT '',
		system_prompt TEXT    NOT NULL DEFAULT '',
		prompt        TEXT    NOT NULL DEFAULT '',
		answer        TEXT    NOT NULL DEFAULT '',
		error         TEXT    NOT NULL DEFAULT '',
		duration_ms   INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT    NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_call_logs_session ON call_logs(session_id, id)`,
}

// SQLite persists call logs in a SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. The special
// path ":memory:" keeps it in memory. The schema is migrated automatically.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("calllog: create directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("calllog: open %s: %w", path, err)
	}
	// SQLite serialises writers; one connection also keeps :memory: alive.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("calllog: enable WAL: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("calllog: set busy_timeout: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("calllog: migrate: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

// Record inserts l.
func (s *SQLite) Record(ctx context.Context, l ds.CallLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO call_logs (session_id, kind, description, system_prompt, prompt, answer, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.SessionID, string(l.Kind), l.Description, l.SystemPrompt, l.Prompt, l.Answer, l.Error,
		l.Duration.Milliseconds(), l.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("calllog: insert: %w", err)
	}
	return nil
}

// List returns the logs of sessionID, or all logs, in insertion order.
func (s *SQLite) List(ctx context.Context, sessionID string) ([]ds.CallLog, error) {
	query := `SELECT session_id, kind, description, system_prompt, prompt, answer, error, duration_ms, created_at
		FROM call_logs`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("calllog: query: %w", err)
	}
	defer rows.Close()

	var out []ds.CallLog
	for rows.Next() {
		var (
			l         ds.CallLog
			kind      string
			durMillis int64
			created   string
		)
		if err := rows.Scan(&l.SessionID, &kind, &l.Description, &l.SystemPrompt, &l.Prompt,
			&l.Answer, &l.Error, &durMillis, &created); err != nil {
			return nil, fmt.Errorf("calllog: scan: %w", err)
		}
		l.Kind = ds.InferenceKind(kind)
		l.Duration = time.Duration(durMillis) * time.Millisecond
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			l.CreatedAt = t
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
