// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package usage keeps the durable, insert-only projection of every routed
// request: model, provider, capability, tokens, cost, and outcome. The
// ledger backs global budget checks and spend reconciliation.
package usage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one ledger row.
type Record struct {
	RequestID    string
	UserID       string
	Capability   string
	ModelID      string
	Provider     string
	InputTokens  int
	OutputTokens int
	Cost         float64
	Success      bool
	ErrorKind    string
	Timestamp    time.Time
}

// Ledger is an append-only SQLite store. Writes are serialized; reads run
// concurrently.
type Ledger struct {
	mu sync.Mutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id    TEXT NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	capability    TEXT NOT NULL,
	model_id      TEXT NOT NULL DEFAULT '',
	provider      TEXT NOT NULL DEFAULT '',
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost          REAL NOT NULL DEFAULT 0,
	success       INTEGER NOT NULL DEFAULT 0,
	error_kind    TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_user_time ON usage_records(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_time ON usage_records(created_at);
`

// timeFormat is fixed-width so lexicographic comparison on created_at
// matches chronological order. RFC3339Nano trims trailing zeros and would
// mis-order values around whole seconds.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Open creates or opens the ledger at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage ledger: %w", err)
	}
	// Single writer keeps SQLite happy under concurrency; reads multiplex
	// over the same connection pool.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize usage ledger: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Append inserts one record. Rows are never updated or deleted.
func (l *Ledger) Append(r Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.Exec(`
		INSERT INTO usage_records
			(request_id, user_id, capability, model_id, provider,
			 input_tokens, output_tokens, cost, success, error_kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, r.UserID, r.Capability, r.ModelID, r.Provider,
		r.InputTokens, r.OutputTokens, r.Cost, boolToInt(r.Success),
		r.ErrorKind, r.Timestamp.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (l *Ledger) spendSince(userID string, since time.Time) (float64, error) {
	var query string
	var args []any
	if userID == "" {
		query = `SELECT COALESCE(SUM(cost), 0) FROM usage_records WHERE created_at >= ?`
		args = []any{since.UTC().Format(timeFormat)}
	} else {
		query = `SELECT COALESCE(SUM(cost), 0) FROM usage_records WHERE user_id = ? AND created_at >= ?`
		args = []any{userID, since.UTC().Format(timeFormat)}
	}
	var total float64
	if err := l.db.QueryRow(query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to query spend: %w", err)
	}
	return total, nil
}

// GlobalDailySpend sums cost across all users since local midnight.
func (l *Ledger) GlobalDailySpend() (float64, error) {
	return l.spendSince("", startOfDay(time.Now()))
}

// GlobalMonthlySpend sums cost across all users since the first of the
// month.
func (l *Ledger) GlobalMonthlySpend() (float64, error) {
	return l.spendSince("", startOfMonth(time.Now()))
}

// UserDailySpend sums one user's cost since local midnight. Used to
// reconcile profile counters after external resets.
func (l *Ledger) UserDailySpend(userID string) (float64, error) {
	return l.spendSince(userID, startOfDay(time.Now()))
}

// UserMonthlySpend sums one user's cost since the first of the month.
func (l *Ledger) UserMonthlySpend(userID string) (float64, error) {
	return l.spendSince(userID, startOfMonth(time.Now()))
}

// DailyTotal is one day's aggregate for reporting.
type DailyTotal struct {
	Day      string
	Requests int
	Tokens   int
	Cost     float64
}

// DailyTotals aggregates the last n days of activity, newest first.
func (l *Ledger) DailyTotals(n int) ([]DailyTotal, error) {
	since := startOfDay(time.Now()).AddDate(0, 0, -(n - 1))
	rows, err := l.db.Query(`
		SELECT substr(created_at, 1, 10) AS day,
		       COUNT(*),
		       COALESCE(SUM(input_tokens + output_tokens), 0),
		       COALESCE(SUM(cost), 0)
		FROM usage_records
		WHERE created_at >= ?
		GROUP BY day
		ORDER BY day DESC`,
		since.UTC().Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily totals: %w", err)
	}
	defer rows.Close()

	var out []DailyTotal
	for rows.Next() {
		var d DailyTotal
		if err := rows.Scan(&d.Day, &d.Requests, &d.Tokens, &d.Cost); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}
