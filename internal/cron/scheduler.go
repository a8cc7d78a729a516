// Package cron keeps the raffle table export fresh by regenerating it
// on a cron schedule, so organizers always have a recent file even if
// nobody ran /export.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/meetquest/internal/export"
)

// DefaultSchedule refreshes the table every five minutes.
const DefaultSchedule = "*/5 * * * *"

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the export scheduler.
type Config struct {
	Exporter *export.Exporter
	Logger   *slog.Logger
	Expr     string // cron expression; defaults to DefaultSchedule
}

// Scheduler refreshes the raffle table export at cron-determined times.
type Scheduler struct {
	exporter *export.Exporter
	logger   *slog.Logger
	expr     string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the given config. Returns
// an error when the cron expression does not parse.
func NewScheduler(cfg Config) (*Scheduler, error) {
	expr := cfg.Expr
	if expr == "" {
		expr = DefaultSchedule
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		exporter: cfg.Exporter,
		logger:   logger,
		expr:     expr,
	}, nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("export scheduler started", "schedule", s.expr)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("export scheduler stopped")
}

// loop fires an immediate refresh on startup, then sleeps until each
// cron-determined run time.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.refresh(ctx)

	for {
		next, err := NextRunTime(s.expr, time.Now())
		if err != nil {
			// Validated in NewScheduler, so this cannot happen.
			s.logger.Error("export scheduler: bad cron expression", "expr", s.expr, "error", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			s.refresh(ctx)
		}
	}
}

func (s *Scheduler) refresh(ctx context.Context) {
	rows, err := s.exporter.Refresh(ctx)
	if err != nil {
		s.logger.Error("export scheduler: refresh failed", "error", err)
		return
	}
	if rows > 0 {
		s.logger.Debug("export scheduler: table refreshed", "participants", rows)
	}
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
