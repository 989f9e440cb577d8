package sandbox

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/opensandbox/devbox/pkg/types"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS command_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sandbox_id TEXT NOT NULL,
    op TEXT NOT NULL,
    command TEXT NOT NULL,
    exit_code INTEGER,
    duration_ms INTEGER,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_command_log_sandbox ON command_log(sandbox_id, id);
`

// History is an in-memory SQLite log of commands executed in sandboxes. It
// lives only as long as the process.
type History struct {
	db    *sql.DB
	limit int
}

// OpenHistory opens an in-memory command log keeping at most limit entries
// per sandbox (0 keeps everything).
func OpenHistory(limit int) (*History, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	return &History{db: db, limit: limit}, nil
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

// Record appends one execution and trims the sandbox's log to the limit.
func (h *History) Record(sandboxID, op string, argv []string, exitCode int, d time.Duration) error {
	_, err := h.db.Exec(
		`INSERT INTO command_log (sandbox_id, op, command, exit_code, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sandboxID, op, describeCommand(argv), exitCode, d.Milliseconds(), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to log command: %w", err)
	}
	if h.limit <= 0 {
		return nil
	}
	_, err = h.db.Exec(
		`DELETE FROM command_log WHERE sandbox_id = ? AND id NOT IN
		   (SELECT id FROM command_log WHERE sandbox_id = ? ORDER BY id DESC LIMIT ?)`,
		sandboxID, sandboxID, h.limit)
	if err != nil {
		return fmt.Errorf("failed to trim command log: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for a sandbox, newest first.
func (h *History) Recent(sandboxID string, limit int) ([]types.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.Query(
		`SELECT id, op, command, exit_code, duration_ms, created_at FROM command_log
		 WHERE sandbox_id = ? ORDER BY id DESC LIMIT ?`, sandboxID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query command log: %w", err)
	}
	defer rows.Close()

	var entries []types.HistoryEntry
	for rows.Next() {
		var e types.HistoryEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Op, &e.Command, &e.ExitCode, &e.DurationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan command log: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Forget drops all entries for a sandbox.
func (h *History) Forget(sandboxID string) error {
	if _, err := h.db.Exec(`DELETE FROM command_log WHERE sandbox_id = ?`, sandboxID); err != nil {
		return fmt.Errorf("failed to drop command log: %w", err)
	}
	return nil
}
