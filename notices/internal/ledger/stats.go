package ledger

import (
	"context"

	"github.com/hazyhaar/avis/dbopen"
)

// ConsecutiveFailures returns the current failure streak per strategy for
// a source.
func (l *Ledger) ConsecutiveFailures(ctx context.Context, source string) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT strategy, consecutive_failures FROM strategy_stats WHERE source_url = ?`, source)
	if err != nil {
		return nil, wrap("strategy stats", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, wrap("scan strategy stats", err)
		}
		out[name] = n
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("strategy stats", err)
	}
	return out, nil
}

// RecordStrategy updates the streak: success resets it, failure extends it.
func (l *Ledger) RecordStrategy(ctx context.Context, source, strategy string, ok bool) error {
	succ, fail := 0, 1
	if ok {
		succ, fail = 1, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := dbopen.Exec(ctx, l.db,
		`INSERT INTO strategy_stats (source_url, strategy, consecutive_failures, successes, failures, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_url, strategy) DO UPDATE SET
			consecutive_failures = CASE WHEN excluded.successes > 0 THEN 0 ELSE strategy_stats.consecutive_failures + 1 END,
			successes = strategy_stats.successes + excluded.successes,
			failures = strategy_stats.failures + excluded.failures,
			updated_at = excluded.updated_at`,
		source, strategy, fail, succ, fail, l.now().UnixMilli())
	if err != nil {
		return wrap("record strategy", err)
	}
	return nil
}
