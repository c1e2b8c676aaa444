package server

import (
	"context"
	"log/slog"
	"time"

	"consentline/internal/engine"
)

const defaultScanInterval = 15 * time.Minute

// Scheduler runs the closure scan on a fixed interval until its context is
// canceled. Each tick is a full scan; a tick that overruns the interval
// delays the next one instead of overlapping it.
type Scheduler struct {
	Engine   engine.Engine
	Interval time.Duration
	Logger   *slog.Logger
	// OnScan observes each summary, mainly for tests and the CLI.
	OnScan func(engine.ScanSummary)
}

func (s Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s Scheduler) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = defaultScanInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger().Info("scheduler started", "event", "scheduler.started", "module", "server", "interval", interval.String())
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			s.logger().Info("scheduler stopped", "event", "scheduler.stopped", "module", "server")
			return
		case <-ticker.C:
		}
	}
}

func (s Scheduler) tick(ctx context.Context) {
	summary, err := s.Engine.RunClosureScanFrom(ctx, "scheduler")
	if err != nil {
		s.logger().Error("closure scan failed", "event", "scheduler.scan_failed", "module", "server", "error", err)
		return
	}
	if s.OnScan != nil {
		s.OnScan(summary)
	}
}
