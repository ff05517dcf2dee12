// Package journal keeps an SQLite audit trail of ingestion cycles.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// sqlite driver
	_ "modernc.org/sqlite"

	"github.com/okian/meterbridge/internal/domain/model"
)

// ErrClosed is returned when the journal is used after Close.
var ErrClosed = errors.New("journal: closed")

// Cycle is one journaled ingestion cycle.
type Cycle struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    string    `json:"outcome"`
	FirstDay   model.Day `json:"first_day"`
	LastDay    model.Day `json:"last_day"`
	Entries    int       `json:"entries"`
	SeedSum    float64   `json:"seed_sum"`
	FinalSum   float64   `json:"final_sum"`
	Error      string    `json:"error,omitempty"`
}

// Journal wraps the SQLite connection.
type Journal struct {
	db   *sql.DB
	path string
}

// Open creates or opens the journal at path and ensures the schema.
func Open(ctx context.Context, path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// one writer; the cycle worker is the only one recording
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	j := &Journal{db: db, path: path}
	if err := j.configure(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := j.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Path returns the database file path.
func (j *Journal) Path() string { return j.path }

func (j *Journal) configure(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := j.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (j *Journal) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cycles (
			id TEXT PRIMARY KEY,
			trigger_reason TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			outcome TEXT NOT NULL,
			first_day TEXT NOT NULL DEFAULT '',
			last_day TEXT NOT NULL DEFAULT '',
			entries INTEGER NOT NULL DEFAULT 0,
			seed_sum REAL NOT NULL DEFAULT 0,
			final_sum REAL NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON cycles(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_outcome ON cycles(outcome)`,
	}
	for _, stmt := range statements {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create cycles schema: %w", err)
		}
	}
	return nil
}

// Record inserts one cycle.
func (j *Journal) Record(ctx context.Context, c Cycle) error {
	if j == nil || j.db == nil {
		return ErrClosed
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO cycles (id, trigger_reason, started_at, finished_at, outcome, first_day, last_day, entries, seed_sum, final_sum, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Trigger,
		c.StartedAt.UTC().Format(time.RFC3339Nano), c.FinishedAt.UTC().Format(time.RFC3339Nano),
		c.Outcome, dayText(c.FirstDay), dayText(c.LastDay),
		c.Entries, c.SeedSum, c.FinalSum, c.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record cycle %s: %w", c.ID, err)
	}
	return nil
}

// Recent returns up to limit cycles, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Cycle, error) {
	if j == nil || j.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, trigger_reason, started_at, finished_at, outcome, first_day, last_day, entries, seed_sum, final_sum, error
		FROM cycles
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var out []Cycle
	for rows.Next() {
		var (
			c                 Cycle
			started, finished string
			firstDay, lastDay string
		)
		if err := rows.Scan(&c.ID, &c.Trigger, &started, &finished, &c.Outcome, &firstDay, &lastDay,
			&c.Entries, &c.SeedSum, &c.FinalSum, &c.Error); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		if c.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("cycle %s: started_at: %w", c.ID, err)
		}
		if c.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("cycle %s: finished_at: %w", c.ID, err)
		}
		if c.FirstDay, err = parseDayText(firstDay); err != nil {
			return nil, fmt.Errorf("cycle %s: first_day: %w", c.ID, err)
		}
		if c.LastDay, err = parseDayText(lastDay); err != nil {
			return nil, fmt.Errorf("cycle %s: last_day: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Counts returns the number of cycles per outcome.
func (j *Journal) Counts(ctx context.Context) (map[string]int, error) {
	if j == nil || j.db == nil {
		return nil, ErrClosed
	}
	rows, err := j.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM cycles GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count cycles: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func dayText(d model.Day) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func parseDayText(s string) (model.Day, error) {
	if s == "" {
		return model.Day{}, nil
	}
	return model.ParseDay(s)
}
