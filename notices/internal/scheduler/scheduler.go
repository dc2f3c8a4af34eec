// CLAUDE:SUMMARY Ticker loop that triggers a pipeline run every interval for serve mode.
// Package scheduler triggers runs on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/avis/notices/internal/runlock"
)

// RunFunc performs one run.
type RunFunc func(ctx context.Context) error

// Config configures the scheduler.
type Config struct {
	// Interval between runs. Default: 30 minutes.
	Interval time.Duration `yaml:"interval"`
	// SkipInitial disables the run at start.
	SkipInitial bool `yaml:"skip_initial"`
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Minute
	}
}

// Scheduler calls a RunFunc periodically.
type Scheduler struct {
	run    RunFunc
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	last    time.Time
	lastErr error
	runs    int
}

// New creates a Scheduler.
func New(run RunFunc, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{run: run, config: cfg, logger: logger}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if !s.config.SkipInitial {
		s.tick(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	err := s.run(ctx)
	s.mu.Lock()
	s.last, s.lastErr = start, err
	s.runs++
	s.mu.Unlock()

	switch {
	case err == nil:
		s.logger.Debug("scheduler: run done", "duration", time.Since(start))
	case errors.Is(err, runlock.ErrRunInProgress):
		s.logger.Info("scheduler: previous run still in progress, skipping")
	case ctx.Err() != nil:
		// shutting down
	default:
		s.logger.Error("scheduler: run failed", "error", err)
	}
}

// Last returns when the last run started and its error.
func (s *Scheduler) Last() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastErr
}

// Runs returns the number of completed ticks.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}
