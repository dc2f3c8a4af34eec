// CLAUDE:SUMMARY Durable SentLedger on SQLite: exact/link/near-duplicate membership, idempotent commit after delivery, retention pruning.
// CLAUDE:DEPENDS dbopen, fingerprint
// CLAUDE:EXPORTS Ledger, Open, New, Entry, Match, ErrLedger
// Package ledger is the persistent record of delivered notifications.
//
// Entries are committed only after a confirmed delivery. Writes go through
// one mutex; reads run concurrently under WAL. Every storage failure wraps
// ErrLedger, which the pipeline treats as fatal for the run.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/avis/dbopen"
	"github.com/hazyhaar/avis/notices/internal/fingerprint"
)

// ErrLedger marks persistence failures.
var ErrLedger = errors.New("ledger: unavailable")

func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLedger, op, err)
}

// Entry is one delivered item.
type Entry struct {
	Exact       string    `json:"exact"`
	Link        string    `json:"link"`
	Bucket      string    `json:"bucket"`
	Vector      []float32 `json:"-"`
	Title       string    `json:"title"`
	SourceURL   string    `json:"source_url"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// Match is how a candidate matched the ledger.
type Match string

const (
	NoMatch      Match = ""
	MatchExact   Match = "exact"
	MatchLink    Match = "link"
	MatchSimilar Match = "similar"
)

// Ledger wraps the ledger database.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
	mu     sync.Mutex // single writer
	dbOpts []dbopen.Option
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(lg *Ledger) {
		if l != nil {
			lg.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// WithBusyTimeout sets how long Open's connections wait on a locked
// database. Zero keeps the dbopen default.
func WithBusyTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.dbOpts = append(l.dbOpts, dbopen.WithBusyTimeout(int(d.Milliseconds())))
		}
	}
}

// WithSynchronous sets the SQLite synchronous mode used by Open.
func WithSynchronous(mode string) Option {
	return func(l *Ledger) {
		if mode != "" {
			l.dbOpts = append(l.dbOpts, dbopen.WithSynchronous(strings.ToUpper(mode)))
		}
	}
}

// Open opens (creating if needed) the ledger file at path.
func Open(path string, opts ...Option) (*Ledger, error) {
	l := newLedger(nil, opts)
	dbOpts := append([]dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(Schema)}, l.dbOpts...)
	db, err := dbopen.Open(path, dbOpts...)
	if err != nil {
		return nil, wrap("open", err)
	}
	l.db = db
	return l, nil
}

// New wraps an already-open database and applies the schema.
func New(db *sql.DB, opts ...Option) (*Ledger, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, wrap("apply schema", err)
	}
	return newLedger(db, opts), nil
}

func newLedger(db *sql.DB, opts []Option) *Ledger {
	l := &Ledger{db: db, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// Ping checks the database is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.db.PingContext(ctx); err != nil {
		return wrap("ping", err)
	}
	return nil
}

// IsDuplicate checks exact hash, then link, then vector similarity against
// entries in the same bucket (inclusive threshold).
func (l *Ledger) IsDuplicate(ctx context.Context, fp fingerprint.Fingerprint, link string, threshold float64) (Match, error) {
	var one int
	err := l.db.QueryRowContext(ctx, `SELECT 1 FROM sent WHERE exact = ?`, fp.Exact).Scan(&one)
	switch {
	case err == nil:
		return MatchExact, nil
	case !errors.Is(err, sql.ErrNoRows):
		return NoMatch, wrap("lookup exact", err)
	}

	if link != "" {
		err = l.db.QueryRowContext(ctx, `SELECT 1 FROM sent WHERE link = ? LIMIT 1`, link).Scan(&one)
		switch {
		case err == nil:
			return MatchLink, nil
		case !errors.Is(err, sql.ErrNoRows):
			return NoMatch, wrap("lookup link", err)
		}
	}

	if len(fp.Vector) == 0 || fp.Bucket == "" {
		return NoMatch, nil
	}
	rows, err := l.db.QueryContext(ctx, `SELECT vector FROM sent WHERE bucket = ? AND vector IS NOT NULL`, fp.Bucket)
	if err != nil {
		return NoMatch, wrap("scan bucket", err)
	}
	defer rows.Close()
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return NoMatch, wrap("scan vector", err)
		}
		if fingerprint.Cosine(fp.Vector, fingerprint.DecodeVector(blob)) >= threshold {
			return MatchSimilar, nil
		}
	}
	if err := rows.Err(); err != nil {
		return NoMatch, wrap("scan bucket", err)
	}
	return NoMatch, nil
}

// Commit records a delivered item. Idempotent: committing the same exact
// hash again is a no-op and reports false.
func (l *Ledger) Commit(ctx context.Context, e Entry) (bool, error) {
	if e.FirstSeenAt.IsZero() {
		e.FirstSeenAt = l.now()
	}
	var blob []byte
	if len(e.Vector) > 0 {
		blob = fingerprint.EncodeVector(e.Vector)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	res, err := dbopen.Exec(ctx, l.db,
		`INSERT OR IGNORE INTO sent (exact, link, bucket, vector, title, source_url, first_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Exact, e.Link, e.Bucket, blob, e.Title, e.SourceURL, e.FirstSeenAt.UnixMilli())
	if err != nil {
		return false, wrap("commit", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Pruned counts rows removed by Prune.
type Pruned struct {
	Sent int64 `json:"sent"`
	Runs int64 `json:"runs"`
}

// Prune deletes, in one transaction, sent entries first seen before cutoff
// and runs started before it (their fetch logs cascade). Younger rows are
// never touched.
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (Pruned, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ms := cutoff.UnixMilli()
	var p Pruned
	err := dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sent WHERE first_seen_at < ?`, ms)
		if err != nil {
			return fmt.Errorf("sent: %w", err)
		}
		p.Sent, _ = res.RowsAffected()
		res, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, ms)
		if err != nil {
			return fmt.Errorf("runs: %w", err)
		}
		p.Runs, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return Pruned{}, wrap("prune", err)
	}
	if p.Sent > 0 || p.Runs > 0 {
		l.logger.Info("ledger: pruned", "entries", p.Sent, "runs", p.Runs, "cutoff", cutoff.Format(time.RFC3339))
	}
	return p, nil
}

// Recent returns the most recently delivered entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT exact, link, bucket, title, source_url, first_seen_at
		FROM sent ORDER BY first_seen_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrap("recent", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ms int64
		if err := rows.Scan(&e.Exact, &e.Link, &e.Bucket, &e.Title, &e.SourceURL, &ms); err != nil {
			return nil, wrap("scan recent", err)
		}
		e.FirstSeenAt = time.UnixMilli(ms).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("recent", err)
	}
	return out, nil
}

// Count returns the number of sent entries.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sent`).Scan(&n); err != nil {
		return 0, wrap("count", err)
	}
	return n, nil
}
