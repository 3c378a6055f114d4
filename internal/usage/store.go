// Package usage archives per-turn token and cost counters to SQLite so
// totals survive adapter restarts.
package usage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marrowlabs/ferryman/internal/logger"
	"github.com/marrowlabs/ferryman/internal/wire"
)

// Turn is one archived agent run.
type Turn struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"sessionId"`
	FinishedAt time.Time `json:"finishedAt"`
	StopReason string    `json:"stopReason"`
	Input      int       `json:"input"`
	Output     int       `json:"output"`
	CacheRead  int       `json:"cacheRead"`
	CacheWrite int       `json:"cacheWrite"`
	Cost       float64   `json:"cost"`
}

// Totals are aggregated counters for one session or the whole archive.
type Totals struct {
	Turns  int     `json:"turns"`
	Input  int     `json:"input"`
	Output int     `json:"output"`
	Cost   float64 `json:"cost"`
}

// Store persists turns. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the archive database.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	// WAL mode and a busy timeout for concurrent access
	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate usage database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		finished_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		stop_reason TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cache_read_tokens INTEGER NOT NULL DEFAULT 0,
		cache_write_tokens INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
	CREATE INDEX IF NOT EXISTS idx_turns_finished ON turns(finished_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ArchiveTurn records one completed run. Best-effort: failures are logged
// and never surfaced to the event router.
func (s *Store) ArchiveTurn(sessionID string, u wire.Usage, stopReason string) {
	_, err := s.db.Exec(`
		INSERT INTO turns (session_id, finished_at, stop_reason, input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, cost)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, time.Now().UTC(), stopReason, u.Input, u.Output, u.CacheRead, u.CacheWrite, u.Cost)
	if err != nil {
		logger.Error("usage: archive turn for %s: %v", sessionID, err)
	}
}

// SessionTotals aggregates all archived turns for one session.
func (s *Store) SessionTotals(sessionID string) (Totals, error) {
	row := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost), 0)
		FROM turns WHERE session_id = ?`, sessionID)
	var t Totals
	if err := row.Scan(&t.Turns, &t.Input, &t.Output, &t.Cost); err != nil {
		return Totals{}, fmt.Errorf("session totals: %w", err)
	}
	return t, nil
}

// RecentTurns returns the latest archived turns, most recent first.
func (s *Store) RecentTurns(limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, finished_at, stop_reason, input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, cost
		FROM turns ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.FinishedAt, &t.StopReason,
			&t.Input, &t.Output, &t.CacheRead, &t.CacheWrite, &t.Cost); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Prune drops turns older than the retention window. Returns rows removed.
func (s *Store) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := s.db.Exec(`DELETE FROM turns WHERE finished_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune turns: %w", err)
	}
	return result.RowsAffected()
}
