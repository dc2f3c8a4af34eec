// CLAUDE:SUMMARY Notices service: wires fetcher, browser, extractor, date resolver, recency filter, fingerprinter, ledger and dispatcher into one run under a file lock.
// CLAUDE:DEPENDS channels, idgen, notices/internal/*
// CLAUDE:EXPORTS Service, New, ServiceOption, WithSender, WithClock, WithDB, WithStrategy, Source, Summary, Run, Entry
package notices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/avis/channels"
	"github.com/hazyhaar/avis/idgen"
	"github.com/hazyhaar/avis/notices/internal/browser"
	"github.com/hazyhaar/avis/notices/internal/dates"
	"github.com/hazyhaar/avis/notices/internal/dispatch"
	"github.com/hazyhaar/avis/notices/internal/extract"
	"github.com/hazyhaar/avis/notices/internal/fetch"
	"github.com/hazyhaar/avis/notices/internal/fingerprint"
	"github.com/hazyhaar/avis/notices/internal/ledger"
	"github.com/hazyhaar/avis/notices/internal/pdftext"
	"github.com/hazyhaar/avis/notices/internal/pipeline"
	"github.com/hazyhaar/avis/notices/internal/recency"
	"github.com/hazyhaar/avis/notices/internal/runlock"
	"github.com/hazyhaar/avis/notices/internal/scheduler"
)

type (
	// Source is one monitored page.
	Source = pipeline.Source
	// Summary is the report of one run.
	Summary = pipeline.Summary
	// SourceOutcome is the result of one source within a run.
	SourceOutcome = pipeline.SourceOutcome
	// Entry is one delivered notice in the ledger.
	Entry = ledger.Entry
	// Run is one recorded run.
	Run = ledger.Run
	// FetchLog is one recorded source pass.
	FetchLog = ledger.FetchLog
	// ResolvedDate is a publish date and where it came from.
	ResolvedDate = dates.ResolvedDate
)

// runIDPrefix starts every run ID; the rest is a UUIDv7.
const runIDPrefix = "run_"

// Service runs discovery passes and answers status queries.
type Service struct {
	cfg    *Config
	logger *slog.Logger
	now    func() time.Time
	loc    *time.Location

	db         *sql.DB
	sender     channels.Sender
	strategies []fetch.Strategy

	ledger     *ledger.Ledger
	fetcher    *fetch.Fetcher
	browser    *browser.Strategy
	resolver   *dates.Resolver
	filter     *recency.Filter
	dispatcher *dispatch.Dispatcher
	pipeline   *pipeline.Pipeline
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithSender replaces the sender built from Config.Channel.
func WithSender(s channels.Sender) ServiceOption { return func(svc *Service) { svc.sender = s } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ServiceOption { return func(svc *Service) { svc.now = now } }

// WithDB uses an open database for the ledger instead of Config.Ledger.Path.
// The Service closes it on Close.
func WithDB(db *sql.DB) ServiceOption { return func(svc *Service) { svc.db = db } }

// WithStrategy registers an extra fetch strategy (or replaces a built-in one
// of the same name).
func WithStrategy(s fetch.Strategy) ServiceOption {
	return func(svc *Service) { svc.strategies = append(svc.strategies, s) }
}

// New validates cfg and builds the service. A nil cfg uses DefaultConfig.
func New(cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{cfg: cfg, logger: logger, now: time.Now, loc: time.Local}
	for _, o := range opts {
		o(svc)
	}

	if cfg.DryRun && svc.sender == nil {
		cfg.Channel.Platform = "stdout"
	}
	// An injected sender carries its own credentials.
	if svc.sender != nil && cfg.Channel.Platform != svc.sender.Platform() {
		cfg.Channel.Platform = "stdout"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Dates.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Dates.Timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		svc.loc = loc
	}

	var err error
	if svc.db != nil {
		svc.ledger, err = ledger.New(svc.db, ledger.WithLogger(logger), ledger.WithClock(svc.now))
	} else {
		svc.ledger, err = ledger.Open(cfg.Ledger.Path,
			ledger.WithLogger(logger),
			ledger.WithClock(svc.now),
			ledger.WithBusyTimeout(cfg.Ledger.BusyTimeout),
			ledger.WithSynchronous(cfg.Ledger.Synchronous),
		)
	}
	if err != nil {
		return nil, err
	}

	if svc.sender == nil {
		svc.sender, err = channels.New(cfg.Channel, logger)
		if err != nil {
			svc.ledger.Close()
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
	}

	fetchOpts := []fetch.Option{fetch.WithLogger(logger), fetch.WithStats(svc.ledger)}
	if cfg.Browser.Disabled {
		cfg.Fetch.Strategies = withoutBrowser(cfg.Fetch.Strategies)
	} else {
		svc.browser = browser.New(cfg.Browser.Config, logger)
		fetchOpts = append(fetchOpts, fetch.WithStrategy(svc.browser))
	}
	for _, s := range svc.strategies {
		fetchOpts = append(fetchOpts, fetch.WithStrategy(s))
	}
	svc.fetcher = fetch.New(cfg.Fetch, fetchOpts...)

	svc.resolver = dates.New(
		dates.WithLocation(svc.loc),
		dates.WithClock(svc.now),
		dates.WithGetter(svc.fetcher),
		dates.WithPDF(pdftext.Pages, cfg.Dates.PDFPages),
		dates.WithLogger(logger),
	)
	svc.filter = recency.New(cfg.Recency, svc.resolver.Today)
	svc.dispatcher = dispatch.New(svc.sender, cfg.Dispatch, logger)

	pcfg := cfg.Pipeline
	pcfg.DryRun = cfg.DryRun
	svc.pipeline = pipeline.New(pcfg, pipeline.Deps{
		Fetcher:       svc.fetcher,
		Extractor:     extract.New(cfg.Extract, extract.NewKeywordSet(cfg.Keywords), logger),
		Dates:         svc.resolver,
		Filter:        svc.filter,
		Fingerprinter: fingerprint.New(cfg.Fingerprint, logger),
		Store:         svc.ledger,
		Notifier:      svc.dispatcher,
		NewID:         idgen.Prefixed(runIDPrefix, idgen.Default),
		Logger:        logger,
		Now:           svc.now,
	})

	logger.Info("notices: service ready",
		"platform", svc.sender.Platform(),
		"ledger", cfg.Ledger.Path,
		"window", cfg.Recency.Window,
		"browser", svc.browser != nil,
		"dry_run", cfg.DryRun,
	)
	return svc, nil
}

func withoutBrowser(names []string) []string {
	if len(names) == 0 {
		return []string{"direct", "alt"}
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != "browser" {
			out = append(out, n)
		}
	}
	return out
}

// Config returns the effective configuration.
func (svc *Service) Config() *Config { return svc.cfg }

// Run performs one discovery pass. Empty sources uses the configured
// catalog. Returns ErrRunInProgress when another run holds the lock and an
// error wrapping ErrLedger when the ledger fails.
func (svc *Service) Run(ctx context.Context, sources []Source) (*Summary, error) {
	if len(sources) == 0 {
		var err error
		sources, err = svc.cfg.AllSources()
		if err != nil {
			return nil, err
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no sources configured", ErrConfig)
	}

	lock, err := runlock.Acquire(svc.cfg.LockPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			svc.logger.Warn("notices: release run lock", "path", lock.Path(), "error", err)
		}
	}()

	return svc.pipeline.Run(ctx, sources)
}

// Schedule runs the catalog every Scheduler.Interval, pruning the ledger
// after each successful run, until ctx is cancelled.
func (svc *Service) Schedule(ctx context.Context) {
	sch := scheduler.New(func(ctx context.Context) error {
		if _, err := svc.Run(ctx, nil); err != nil {
			return err
		}
		_, err := svc.Prune(ctx)
		return err
	}, svc.cfg.Scheduler, svc.logger)
	sch.Run(ctx)
}

// PruneResult counts rows removed by Prune.
type PruneResult = ledger.Pruned

// Prune drops ledger entries and run records older than the retention.
func (svc *Service) Prune(ctx context.Context) (PruneResult, error) {
	cutoff := svc.now().Add(-svc.cfg.Ledger.Retention)
	res, err := svc.ledger.Prune(ctx, cutoff)
	if err != nil {
		return res, err
	}
	svc.logger.Info("notices: pruned", "cutoff", cutoff, "sent", res.Sent, "runs", res.Runs)
	return res, nil
}

// Recent returns the newest ledger entries.
func (svc *Service) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return svc.ledger.Recent(ctx, limit)
}

// Runs returns the newest runs.
func (svc *Service) Runs(ctx context.Context, limit int) ([]Run, error) {
	return svc.ledger.Runs(ctx, limit)
}

// LatestRun returns the newest run, or nil when none was recorded.
func (svc *Service) LatestRun(ctx context.Context) (*Run, error) {
	return svc.ledger.LatestRun(ctx)
}

// FetchLogs returns the per-source records of a run.
func (svc *Service) FetchLogs(ctx context.Context, runID string) ([]FetchLog, error) {
	return svc.ledger.FetchLogs(ctx, runID)
}

// ResolveDate runs the date heuristics on a notice text and link. Document
// links (PDF) are fetched; detail pages are not.
func (svc *Service) ResolveDate(ctx context.Context, text, link string) ResolvedDate {
	return svc.resolver.Resolve(ctx, dates.Input{Title: text, Link: link})
}

func (svc *Service) inWindow(d time.Time) bool { return svc.filter.InWindow(d) }

// Ping checks the ledger.
func (svc *Service) Ping(ctx context.Context) error { return svc.ledger.Ping(ctx) }

// Close stops the browser and closes the ledger.
func (svc *Service) Close() error {
	var errs []error
	if svc.browser != nil {
		if err := svc.browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := svc.ledger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
