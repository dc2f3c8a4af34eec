// CLAUDE:SUMMARY Run orchestrator: bounded-concurrency source passes (fetch → extract → resolve → filter → dedup → deliver → commit), summary, systemic alert.
// CLAUDE:DEPENDS fetch, extract, dates, recency, fingerprint, ledger, dispatch, idgen
// CLAUDE:EXPORTS Pipeline, New, Config, Deps, Source, SourceOutcome, Summary
// Package pipeline runs one discovery pass over every configured source.
//
// Sources run in parallel under a bounded pool; items within a source are
// processed in document order. A source failure is recorded and never
// affects the others. A ledger failure cancels the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/avis/idgen"
	"github.com/hazyhaar/avis/notices/internal/dates"
	"github.com/hazyhaar/avis/notices/internal/dispatch"
	"github.com/hazyhaar/avis/notices/internal/extract"
	"github.com/hazyhaar/avis/notices/internal/fetch"
	"github.com/hazyhaar/avis/notices/internal/fingerprint"
	"github.com/hazyhaar/avis/notices/internal/ledger"
	"github.com/hazyhaar/avis/notices/internal/recency"
)

// Source is one monitored page. Immutable for the run.
type Source struct {
	URL          string        `yaml:"url" json:"url"`
	Name         string        `yaml:"name" json:"name,omitempty"`
	CrawlDelay   time.Duration `yaml:"crawl_delay" json:"crawl_delay,omitempty"`
	Strategies   []string      `yaml:"strategies" json:"strategies,omitempty"`
	FollowDetail bool          `yaml:"follow_detail" json:"follow_detail,omitempty"`
	// Kind is "html", "feed" or empty to sniff.
	Kind string `yaml:"kind" json:"kind,omitempty"`
}

// Fetcher retrieves source pages.
type Fetcher interface {
	Fetch(ctx context.Context, t fetch.Target) (*fetch.RawDocument, error)
	ResetRun()
}

// Extractor finds candidates in a document.
type Extractor interface {
	Extract(in extract.Input) ([]extract.Candidate, error)
}

// DateResolver resolves a candidate's publish date.
type DateResolver interface {
	Resolve(ctx context.Context, in dates.Input) dates.ResolvedDate
}

// Store is the ledger surface the pipeline needs.
type Store interface {
	IsDuplicate(ctx context.Context, fp fingerprint.Fingerprint, link string, threshold float64) (ledger.Match, error)
	Commit(ctx context.Context, e ledger.Entry) (bool, error)
	BeginRun(ctx context.Context, id string, started time.Time) error
	FinishRun(ctx context.Context, r ledger.Run) error
	InsertFetchLog(ctx context.Context, e ledger.FetchLog) error
}

// Notifier delivers notices and alerts.
type Notifier interface {
	Notify(ctx context.Context, n dispatch.Notice) error
	Alert(ctx context.Context, text string) error
}

// Config bounds a run.
type Config struct {
	Concurrency   int           `yaml:"concurrency"`
	SourceTimeout time.Duration `yaml:"source_timeout"`
	RunTimeout    time.Duration `yaml:"run_timeout"`
	// AlertRatio is the failed-source share that triggers the systemic alert.
	AlertRatio float64 `yaml:"alert_ratio"`
	// AlertMinSources is the smallest run the alert considers.
	AlertMinSources int `yaml:"alert_min_sources"`
	// DryRun sends messages without recording them in the ledger.
	DryRun bool `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = 3 * time.Minute
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 30 * time.Minute
	}
	if c.AlertRatio <= 0 || c.AlertRatio > 1 {
		c.AlertRatio = 0.5
	}
	if c.AlertMinSources <= 0 {
		c.AlertMinSources = 3
	}
}

// Deps are the constructed components a Pipeline drives.
type Deps struct {
	Fetcher       Fetcher
	Extractor     Extractor
	Dates         DateResolver
	Filter        *recency.Filter
	Fingerprinter *fingerprint.Fingerprinter
	Store         Store
	Notifier      Notifier
	NewID         idgen.Generator
	Logger        *slog.Logger
	Now           func() time.Time
}

// Pipeline is safe for sequential Run calls; the run lock lives above it.
type Pipeline struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

// New returns a Pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	cfg.defaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewID == nil {
		deps.NewID = idgen.Prefixed("run_", idgen.Default)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{cfg: cfg, deps: deps, log: deps.Logger}
}

// Run executes one pass over sources.
func (p *Pipeline) Run(ctx context.Context, sources []Source) (*Summary, error) {
	bg := context.WithoutCancel(ctx)
	sum := &Summary{RunID: p.deps.NewID(), StartedAt: p.deps.Now().UTC(), DryRun: p.cfg.DryRun}
	if err := p.deps.Store.BeginRun(bg, sum.RunID, sum.StartedAt); err != nil {
		return nil, err
	}
	p.deps.Fetcher.ResetRun()
	p.log.Info("pipeline: run started", "run_id", sum.RunID, "sources", len(sources), "dry_run", p.cfg.DryRun)

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.RunTimeout)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(p.cfg.Concurrency)

	outcomes := make([]SourceOutcome, len(sources))
	claimed := &sync.Map{}
	for i, src := range sources {
		g.Go(func() error {
			out, err := p.runSource(gctx, src, claimed)
			outcomes[i] = out
			return err
		})
	}
	runErr := g.Wait()

	sum.Sources = outcomes
	sum.FinishedAt = p.deps.Now().UTC()
	sum.tally()

	if runErr == nil {
		for _, o := range outcomes {
			if err := p.deps.Store.InsertFetchLog(bg, o.fetchLog(sum.RunID, p.deps.NewID())); err != nil {
				runErr = err
				break
			}
		}
	}

	switch {
	case errors.Is(runErr, ledger.ErrLedger):
		sum.Status = StatusFailed
	case ctx.Err() != nil || errors.Is(runCtx.Err(), context.DeadlineExceeded):
		sum.Status = StatusCancelled
	default:
		sum.Status = StatusCompleted
	}

	if sum.Status != StatusFailed {
		p.systemicAlert(bg, sum)
	}

	rec := ledger.Run{
		ID: sum.RunID, Status: sum.Status, Sources: len(outcomes),
		FailedSources: sum.FailedSources, Delivered: sum.Delivered,
	}
	fin := sum.FinishedAt
	rec.FinishedAt = &fin
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := p.deps.Store.FinishRun(bg, rec); err != nil && runErr == nil {
		runErr = err
		sum.Status = StatusFailed
	}

	p.log.Info("pipeline: run finished",
		"run_id", sum.RunID, "status", sum.Status,
		"sources", len(outcomes), "failed_sources", sum.FailedSources,
		"delivered", sum.Delivered, "duplicates", sum.Duplicates,
		"delivery_failures", sum.Failed, "duration", sum.FinishedAt.Sub(sum.StartedAt))
	if runErr != nil {
		return sum, fmt.Errorf("pipeline: run %s: %w", sum.RunID, runErr)
	}
	return sum, nil
}

// runSource is one source pass. Only ledger errors are returned; everything
// else is recorded on the outcome.
func (p *Pipeline) runSource(ctx context.Context, src Source, claimed *sync.Map) (SourceOutcome, error) {
	start := time.Now()
	out := SourceOutcome{Source: src.URL, Name: src.Name, Status: StatusOK}
	log := p.log.With("source", src.URL)
	defer func() { out.Duration = time.Since(start) }()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.SourceTimeout)
	defer cancel()

	doc, err := p.deps.Fetcher.Fetch(ctx, fetch.Target{URL: src.URL, CrawlDelay: src.CrawlDelay, Strategies: src.Strategies})
	if err != nil {
		out.Status, out.Error = StatusFetchFailed, err.Error()
		var ff *fetch.FetchFailure
		if errors.As(err, &ff) {
			out.Strategy = ff.Strategy
		}
		log.Warn("pipeline: fetch failed", "error", err)
		return out, nil
	}
	out.Strategy = doc.Strategy

	base := doc.FinalURL
	if base == "" {
		base = src.URL
	}
	cands, err := p.deps.Extractor.Extract(extract.Input{URL: base, Body: doc.Body, ContentType: doc.ContentType, Kind: src.Kind})
	if err != nil {
		out.Status, out.Error = StatusParseFailed, err.Error()
		log.Warn("pipeline: extract failed", "error", err)
		return out, nil
	}
	out.Found = len(cands)

	interrupted := func(i int, err error) {
		out.Status, out.Error = StatusTimeout, err.Error()
		out.Skipped += len(cands) - i
		log.Warn("pipeline: source pass interrupted", "processed", i, "error", err)
	}

	pass := p.deps.Filter.NewPass()
scan:
	for i, c := range cands {
		if ctx.Err() != nil {
			interrupted(i, ctx.Err())
			break
		}
		rd := p.deps.Dates.Resolve(ctx, dates.Input{
			RawDateText: c.RawDateText, Title: c.Title, Link: c.Link, FollowDetail: src.FollowDetail,
		})
		// Resolve may have spent the rest of the source deadline on a download.
		if ctx.Err() != nil {
			interrupted(i, ctx.Err())
			break
		}
		switch pass.Accept(rd) {
		case recency.Reject:
			out.Skipped++
			continue
		case recency.Stop:
			out.Skipped += len(cands) - i
			log.Debug("pipeline: early exit", "at", i, "date", rd.Date.Format(time.DateOnly))
			break scan
		}
		out.Accepted++

		if err := p.deliver(ctx, src, c, rd, claimed, &out, log); err != nil {
			if ctx.Err() != nil && isContextErr(err) {
				interrupted(i+1, err)
				break
			}
			out.Status, out.Error = StatusLedgerFailed, err.Error()
			log.Error("pipeline: ledger failure", "error", err)
			return out, err
		}
	}
	log.Info("pipeline: source done",
		"strategy", out.Strategy, "found", out.Found, "accepted", out.Accepted,
		"delivered", out.Delivered, "duplicates", out.Duplicates, "failed", out.Failed)
	return out, nil
}

// deliver runs dedup → send → commit for one accepted candidate. Only
// ledger errors are returned.
func (p *Pipeline) deliver(ctx context.Context, src Source, c extract.Candidate, rd dates.ResolvedDate, claimed *sync.Map, out *SourceOutcome, log *slog.Logger) error {
	fp := p.deps.Fingerprinter.Compute(ctx, c.Title, c.Link)
	if _, dup := claimed.LoadOrStore(fp.Exact, struct{}{}); dup {
		out.Duplicates++
		return nil
	}
	match, err := p.deps.Store.IsDuplicate(ctx, fp, c.Link, p.deps.Fingerprinter.Threshold())
	if err != nil {
		claimed.Delete(fp.Exact)
		return err
	}
	if match != ledger.NoMatch {
		out.Duplicates++
		log.Debug("pipeline: duplicate", "link", c.Link, "match", match)
		return nil
	}

	if err := p.deps.Notifier.Notify(ctx, dispatch.Notice{Title: c.Title, Link: c.Link, SourceURL: src.URL, Date: rd.Date}); err != nil {
		out.Failed++
		claimed.Delete(fp.Exact)
		log.Warn("pipeline: delivery failed, will retry next run", "link", c.Link, "error", err)
		return nil
	}

	if p.cfg.DryRun {
		out.Delivered++
		log.Info("pipeline: dry run, not recorded", "link", c.Link, "provenance", rd.Provenance)
		return nil
	}

	// The message is out; record it even if the source deadline just passed.
	if _, err := p.deps.Store.Commit(context.WithoutCancel(ctx), ledger.Entry{
		Exact: fp.Exact, Link: c.Link, Bucket: fp.Bucket, Vector: fp.Vector,
		Title: c.Title, SourceURL: src.URL, FirstSeenAt: p.deps.Now().UTC(),
	}); err != nil {
		return err
	}
	out.Delivered++
	log.Info("pipeline: delivered", "link", c.Link, "provenance", rd.Provenance)
	return nil
}

// isContextErr reports a store error caused by the source deadline or run
// cancellation rather than by the database itself.
func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func (p *Pipeline) systemicAlert(ctx context.Context, sum *Summary) {
	total := len(sum.Sources)
	if total < p.cfg.AlertMinSources || float64(sum.FailedSources)/float64(total) < p.cfg.AlertRatio {
		return
	}
	sum.Alert = true
	var sample []string
	for _, o := range sum.Sources {
		if o.failed() && len(sample) < 5 {
			sample = append(sample, o.Source+": "+o.Error)
		}
	}
	p.log.Error("pipeline: systemic failure", "run_id", sum.RunID, "failed_sources", sum.FailedSources, "sources", total)
	if err := p.deps.Notifier.Alert(ctx, dispatch.FormatAlert(sum.FailedSources, total, sample)); err != nil {
		p.log.Warn("pipeline: alert delivery failed", "error", err)
	}
}
