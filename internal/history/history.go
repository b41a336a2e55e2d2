// Package history is the persistent transcript log. Session windows evict
// old turns to bound the resolver's context; nothing is ever evicted here.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voicedesk/voicedesk/internal/session"
)

// Record is one logged turn.
type Record struct {
	TurnID    string
	SessionID string
	Role      session.Role
	Text      string
	// CommandType is set when the turn resolved to a command.
	CommandType string
	// OutcomeStatus is set when the turn produced an action outcome.
	OutcomeStatus string
	CreatedAt     time.Time
}

// Log is an append-only transcript store.
type Log struct {
	db *sql.DB
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS turns (
	turn_id        TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL,
	role           TEXT NOT NULL,
	text           TEXT NOT NULL,
	command_type   TEXT NOT NULL DEFAULT '',
	outcome_status TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at);
`

// Open creates or opens the transcript database at path.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open transcript database: %w", err)
	}
	// The log has a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create transcript schema: %w", err)
	}

	return &Log{db: db}, nil
}

// Append writes one record.
func (l *Log) Append(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO turns (turn_id, session_id, role, text, command_type, outcome_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.TurnID, rec.SessionID, string(rec.Role), rec.Text, rec.CommandType, rec.OutcomeStatus, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Recent returns up to limit records for a session, oldest first.
func (l *Log) Recent(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT turn_id, session_id, role, text, command_type, outcome_status, created_at
		FROM (
			SELECT * FROM turns WHERE session_id = ? ORDER BY created_at DESC, turn_id LIMIT ?
		) ORDER BY created_at ASC, turn_id`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var role string
		if err := rows.Scan(&rec.TurnID, &rec.SessionID, &role, &rec.Text, &rec.CommandType, &rec.OutcomeStatus, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		rec.Role = session.Role(role)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountForSession returns how many turns a session has logged.
func (l *Log) CountForSession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}

// Close releases the database.
func (l *Log) Close() error {
	return l.db.Close()
}
