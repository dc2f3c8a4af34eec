// CLAUDE:SUMMARY SQLite schema for the sent ledger, run history, per-source fetch log and strategy stats.
package ledger

// Schema is applied on every open; all statements are idempotent.
const Schema = `
-- Delivered items. Append-only apart from retention pruning.
CREATE TABLE IF NOT EXISTS sent (
    exact          TEXT PRIMARY KEY,
    link           TEXT NOT NULL DEFAULT '',
    bucket         TEXT NOT NULL DEFAULT '',
    vector         BLOB,
    title          TEXT NOT NULL DEFAULT '',
    source_url     TEXT NOT NULL DEFAULT '',
    first_seen_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sent_link ON sent(link);
CREATE INDEX IF NOT EXISTS idx_sent_bucket ON sent(bucket);
CREATE INDEX IF NOT EXISTS idx_sent_seen ON sent(first_seen_at);

-- One row per pipeline run.
CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    started_at      INTEGER NOT NULL,
    finished_at     INTEGER,
    status          TEXT NOT NULL DEFAULT 'running',
    sources         INTEGER NOT NULL DEFAULT 0,
    failed_sources  INTEGER NOT NULL DEFAULT 0,
    delivered       INTEGER NOT NULL DEFAULT 0,
    error_message   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

-- Per-source outcome of a run.
CREATE TABLE IF NOT EXISTS fetch_log (
    id             TEXT PRIMARY KEY,
    run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    source_url     TEXT NOT NULL,
    strategy       TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL,
    found          INTEGER NOT NULL DEFAULT 0,
    accepted       INTEGER NOT NULL DEFAULT 0,
    delivered      INTEGER NOT NULL DEFAULT 0,
    duplicates     INTEGER NOT NULL DEFAULT 0,
    skipped        INTEGER NOT NULL DEFAULT 0,
    failed         INTEGER NOT NULL DEFAULT 0,
    error_message  TEXT NOT NULL DEFAULT '',
    duration_ms    INTEGER NOT NULL DEFAULT 0,
    fetched_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_log_run ON fetch_log(run_id);
CREATE INDEX IF NOT EXISTS idx_fetch_log_source ON fetch_log(source_url, fetched_at DESC);

-- Consecutive failures per source and fetch strategy, for adaptive ordering.
CREATE TABLE IF NOT EXISTS strategy_stats (
    source_url            TEXT NOT NULL,
    strategy              TEXT NOT NULL,
    consecutive_failures  INTEGER NOT NULL DEFAULT 0,
    successes             INTEGER NOT NULL DEFAULT 0,
    failures              INTEGER NOT NULL DEFAULT 0,
    updated_at            INTEGER NOT NULL,
    PRIMARY KEY (source_url, strategy)
);
`
