package pipeline

import (
	"time"

	"github.com/hazyhaar/avis/notices/internal/ledger"
)

// Source and run statuses.
const (
	StatusOK           = "ok"
	StatusFetchFailed  = "fetch_failed"
	StatusParseFailed  = "parse_failed"
	StatusTimeout      = "timeout"
	StatusLedgerFailed = "ledger_failed"

	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// SourceOutcome is the result of one source pass.
type SourceOutcome struct {
	Source     string        `json:"source"`
	Name       string        `json:"name,omitempty"`
	Status     string        `json:"status"`
	Strategy   string        `json:"strategy,omitempty"`
	Found      int           `json:"found"`
	Accepted   int           `json:"accepted"`
	Delivered  int           `json:"delivered"`
	Duplicates int           `json:"duplicates"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

func (o SourceOutcome) failed() bool {
	switch o.Status {
	case StatusFetchFailed, StatusParseFailed, StatusTimeout:
		return true
	}
	return false
}

func (o SourceOutcome) fetchLog(runID, id string) ledger.FetchLog {
	return ledger.FetchLog{
		ID: id, RunID: runID, SourceURL: o.Source, Strategy: o.Strategy, Status: o.Status,
		Found: o.Found, Accepted: o.Accepted, Delivered: o.Delivered, Duplicates: o.Duplicates,
		Skipped: o.Skipped, Failed: o.Failed, Error: o.Error,
		DurationMs: o.Duration.Milliseconds(), FetchedAt: time.Now().UTC(),
	}
}

// Summary is the end-of-run report.
type Summary struct {
	RunID         string          `json:"run_id"`
	Status        string          `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	Sources       []SourceOutcome `json:"sources"`
	Delivered     int             `json:"delivered"`
	Duplicates    int             `json:"duplicates"`
	Failed        int             `json:"failed"`
	FailedSources int             `json:"failed_sources"`
	Alert         bool            `json:"alert"`
	DryRun        bool            `json:"dry_run,omitempty"`
}

func (s *Summary) tally() {
	for _, o := range s.Sources {
		s.Delivered += o.Delivered
		s.Duplicates += o.Duplicates
		s.Failed += o.Failed
		if o.failed() {
			s.FailedSources++
		}
	}
}
