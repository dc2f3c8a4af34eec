package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hazyhaar/avis/dbopen"
)

// Run is one pipeline run.
type Run struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Status        string     `json:"status"`
	Sources       int        `json:"sources"`
	FailedSources int        `json:"failed_sources"`
	Delivered     int        `json:"delivered"`
	Error         string     `json:"error,omitempty"`
}

// FetchLog is the outcome of one source within a run.
type FetchLog struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	SourceURL  string    `json:"source_url"`
	Strategy   string    `json:"strategy"`
	Status     string    `json:"status"`
	Found      int       `json:"found"`
	Accepted   int       `json:"accepted"`
	Delivered  int       `json:"delivered"`
	Duplicates int       `json:"duplicates"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// BeginRun inserts a running run.
func (l *Ledger) BeginRun(ctx context.Context, id string, started time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := dbopen.Exec(ctx, l.db,
		`INSERT INTO runs (id, started_at, status) VALUES (?, ?, 'running')`, id, started.UnixMilli()); err != nil {
		return wrap("begin run", err)
	}
	return nil
}

// FinishRun stores the final state of r.
func (l *Ledger) FinishRun(ctx context.Context, r Run) error {
	finished := l.now()
	if r.FinishedAt != nil {
		finished = *r.FinishedAt
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := dbopen.Exec(ctx, l.db,
		`UPDATE runs SET finished_at = ?, status = ?, sources = ?, failed_sources = ?, delivered = ?, error_message = ?
		WHERE id = ?`,
		finished.UnixMilli(), r.Status, r.Sources, r.FailedSources, r.Delivered, r.Error, r.ID); err != nil {
		return wrap("finish run", err)
	}
	return nil
}

// InsertFetchLog records a source outcome.
func (l *Ledger) InsertFetchLog(ctx context.Context, e FetchLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := dbopen.Exec(ctx, l.db,
		`INSERT INTO fetch_log (id, run_id, source_url, strategy, status, found, accepted, delivered,
		duplicates, skipped, failed, error_message, duration_ms, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.SourceURL, e.Strategy, e.Status, e.Found, e.Accepted, e.Delivered,
		e.Duplicates, e.Skipped, e.Failed, e.Error, e.DurationMs, e.FetchedAt.UnixMilli()); err != nil {
		return wrap("insert fetch log", err)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, status, sources, failed_sources, delivered, error_message`

type scanner interface{ Scan(dest ...any) error }

func scanRun(s scanner) (Run, error) {
	var r Run
	var started int64
	var finished sql.NullInt64
	if err := s.Scan(&r.ID, &started, &finished, &r.Status, &r.Sources, &r.FailedSources, &r.Delivered, &r.Error); err != nil {
		return r, err
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		r.FinishedAt = &t
	}
	return r, nil
}

// Runs returns recent runs, newest first.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrap("list runs", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, wrap("scan run", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list runs", err)
	}
	return out, nil
}

// LatestRun returns the most recent run, or nil when none exists.
func (l *Ledger) LatestRun(ctx context.Context) (*Run, error) {
	r, err := scanRun(l.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("latest run", err)
	}
	return &r, nil
}

// FetchLogs returns the source outcomes of a run.
func (l *Ledger) FetchLogs(ctx context.Context, runID string) ([]FetchLog, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, run_id, source_url, strategy, status, found, accepted, delivered,
		duplicates, skipped, failed, error_message, duration_ms, fetched_at
		FROM fetch_log WHERE run_id = ? ORDER BY fetched_at`, runID)
	if err != nil {
		return nil, wrap("fetch logs", err)
	}
	defer rows.Close()
	var out []FetchLog
	for rows.Next() {
		var e FetchLog
		var ms int64
		if err := rows.Scan(&e.ID, &e.RunID, &e.SourceURL, &e.Strategy, &e.Status, &e.Found, &e.Accepted,
			&e.Delivered, &e.Duplicates, &e.Skipped, &e.Failed, &e.Error, &e.DurationMs, &ms); err != nil {
			return nil, wrap("scan fetch log", err)
		}
		e.FetchedAt = time.UnixMilli(ms).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("fetch logs", err)
	}
	return out, nil
}
