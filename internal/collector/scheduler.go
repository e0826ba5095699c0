package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/johnayoung/go-kline-archiver/internal/config"
	"github.com/johnayoung/go-kline-archiver/internal/logger"
	"github.com/johnayoung/go-kline-archiver/internal/models"
)

// DailyFetcher runs one daily fetch phase.
type DailyFetcher interface {
	FetchDaily(ctx context.Context, req DailyRequest) (*Report, error)
}

// SymbolSource returns the symbols to refresh on each tick.
type SymbolSource func(ctx context.Context) ([]string, error)

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Cron           string
	Location       *time.Location
	TradingType    models.TradingType
	Intervals      []string
	VerifyChecksum bool
	Symbols        SymbolSource
}

// NewSchedulerOptions builds options from the scheduler configuration.
func NewSchedulerOptions(cfg config.SchedulerConfig) (SchedulerOptions, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return SchedulerOptions{}, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	return SchedulerOptions{Cron: cfg.Cron, Location: loc}, nil
}

// SchedulerStats provides scheduler run statistics
type SchedulerStats struct {
	CompletedRuns int64
	FailedRuns    int64
	LastRunTime   time.Time
	LastError     string
	NextRunTime   time.Time
}

// Scheduler refreshes the previous day's daily archives on a cron schedule.
// A tick that fires while the previous run is still going is skipped.
type Scheduler struct {
	fetcher  DailyFetcher
	opts     SchedulerOptions
	schedule cron.Schedule
	cron     *cron.Cron
	logger   *logger.ComponentLogger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stats   SchedulerStats
}

// NewScheduler validates the cron expression and creates a stopped scheduler.
func NewScheduler(fetcher DailyFetcher, opts SchedulerOptions, l *logger.ComponentLogger) (*Scheduler, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("daily fetcher is required")
	}
	if opts.Symbols == nil {
		return nil, fmt.Errorf("symbol source is required")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	schedule, err := cron.ParseStandard(opts.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", opts.Cron, err)
	}
	if l == nil {
		l = logger.NewComponentLogger(nil, "scheduler")
	}

	return &Scheduler{
		fetcher:  fetcher,
		opts:     opts,
		schedule: schedule,
		logger:   l,
		now:      time.Now,
	}, nil
}

// Start registers the job and starts the cron runner. Runs use ctx, so cancelling it
// aborts an in-flight run.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	c := cron.New(
		cron.WithLocation(s.opts.Location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(s.opts.Cron, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.ErrorWithContext(ctx, "scheduled run failed", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}

	c.Start()
	s.cron = c
	s.running = true
	s.stats.NextRunTime = s.schedule.Next(s.now().In(s.opts.Location))

	s.logger.InfoWithContext(ctx, "scheduler started",
		"cron", s.opts.Cron,
		"timezone", s.opts.Location.String(),
		"next_run", s.stats.NextRunTime)
	return nil
}

// Stop stops the cron runner and waits for a running job or ctx, whichever is first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.running = false
	s.cron = nil
	s.mu.Unlock()

	done := c.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for scheduled run: %w", ctx.Err())
	}
}

// IsRunning reports whether the cron runner is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Next returns the first run time strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.opts.Location))
}

// GetStats returns a copy of the run statistics.
func (s *Scheduler) GetStats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// RunOnce fetches the daily archives for the day before now, in the scheduler's
// location. Output is tagged with that date, e.g. BTCUSDT-1m-2024-03-10.parquet, so
// a refresh never replaces a full-history file.
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	now := s.now().In(s.opts.Location)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)

	ctx = logger.WithRunID(ctx, logger.NewRunID())
	s.logger.InfoWithContext(ctx, "scheduled run starting", "date", day.Format(models.DateLayout))

	report, err := s.run(ctx, day)

	s.mu.Lock()
	s.stats.LastRunTime = now
	s.stats.NextRunTime = s.schedule.Next(now)
	if err != nil {
		s.stats.FailedRuns++
		s.stats.LastError = err.Error()
	} else {
		s.stats.CompletedRuns++
		s.stats.LastError = ""
	}
	s.mu.Unlock()

	return report, err
}

func (s *Scheduler) run(ctx context.Context, day time.Time) (*Report, error) {
	symbols, err := s.opts.Symbols(ctx)
	if err != nil {
		return nil, err
	}

	return s.fetcher.FetchDaily(ctx, DailyRequest{
		TradingType:    s.opts.TradingType,
		Symbols:        symbols,
		Intervals:      s.opts.Intervals,
		Dates:          []time.Time{day},
		Start:          day,
		End:            day,
		VerifyChecksum: s.opts.VerifyChecksum,
		Tag:            day.Format(models.DateLayout),
	})
}
