// Package history records finished runs in sqlite and derives route
// suggestions for the next run from them.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teslashibe/go-rover/internal/log"
)

// schema.sql creates the runs table.
//
//go:embed schema.sql
var schemaSQL string

// Run is one finished session.
type Run struct {
	ID           int64     `json:"id"`
	Session      string    `json:"session"`
	System       string    `json:"system"`
	Started      time.Time `json:"started"`
	Outcome      string    `json:"outcome"`
	Duration     float64   `json:"duration"` // simulated seconds
	Ticks        int       `json:"ticks"`
	Collisions   int       `json:"collisions"`
	Distance     float64   `json:"distance"`
	Energy       float64   `json:"energy"`
	Coverage     float64   `json:"coverage"` // percent
	Efficiency   float64   `json:"efficiency"`
	LateralMean  float64   `json:"lateral_mean"`
	GoalDistance float64   `json:"goal_distance"`
	StartX       float64   `json:"start_x"`
	StartY       float64   `json:"start_y"`
	EndX         float64   `json:"end_x"`
	EndY         float64   `json:"end_y"`
}

// DB is the run history database.
type DB struct {
	*sql.DB
}

// Open opens or creates the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Component("history").Debug("opened run history", "path", path)
	return &DB{db}, nil
}

// Add stores a run and returns its id. A zero Started time is set to now.
func (db *DB) Add(ctx context.Context, r *Run) (int64, error) {
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	query := `
		INSERT INTO runs (session, system, started_ms, outcome, duration, ticks, collisions,
			distance, energy, coverage, efficiency, lateral_mean, goal_distance,
			start_x, start_y, end_x, end_y)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := db.ExecContext(ctx, query,
		r.Session, r.System, r.Started.UnixMilli(), r.Outcome, r.Duration, r.Ticks, r.Collisions,
		r.Distance, r.Energy, r.Coverage, r.Efficiency, r.LateralMean, r.GoalDistance,
		r.StartX, r.StartY, r.EndX, r.EndY)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run ID: %w", err)
	}
	r.ID = id
	return id, nil
}

// List returns up to limit runs, newest first. An empty system lists
// every system; limit ≤ 0 means no limit.
func (db *DB) List(ctx context.Context, system string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, session, system, started_ms, outcome, duration, ticks, collisions,
			distance, energy, coverage, efficiency, lateral_mean, goal_distance,
			start_x, start_y, end_x, end_y
		FROM runs
		WHERE (? = '' OR system = ?)
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := db.QueryContext(ctx, query, system, system, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedMs int64
		if err := rows.Scan(&r.ID, &r.Session, &r.System, &startedMs, &r.Outcome, &r.Duration,
			&r.Ticks, &r.Collisions, &r.Distance, &r.Energy, &r.Coverage, &r.Efficiency,
			&r.LateralMean, &r.GoalDistance, &r.StartX, &r.StartY, &r.EndX, &r.EndY); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Started = time.UnixMilli(startedMs)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

// History returns every run of system, oldest first.
func (db *DB) History(ctx context.Context, system string) ([]Run, error) {
	runs, err := db.List(ctx, system, 0)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	return runs, nil
}

// Count returns the number of stored runs of system, or of all systems
// when system is empty.
func (db *DB) Count(ctx context.Context, system string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE (? = '' OR system = ?)`, system, system).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}
