// Package maintenance runs the periodic token upkeep: the weekly token
// sweep, the daily metrics report and telemetry retention. All scheduling
// is driven from Go tickers inside the long-running API process.
package maintenance

import (
	"context"
	"log/slog"
	"time"
)

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	SweepInterval   time.Duration // Aged, struck and invalid token removal
	MetricsInterval time.Duration // Daily report for yesterday + retention
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval:   7 * 24 * time.Hour,
		MetricsInterval: 24 * time.Hour,
	}
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, sweeper *Sweeper, reporter *Reporter, cfg Config, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"sweep", cfg.SweepInterval,
		"metrics", cfg.MetricsInterval)

	tickers := make([]*time.Ticker, 0, 2)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	if cfg.SweepInterval > 0 && sweeper != nil {
		t := time.NewTicker(cfg.SweepInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() {
			if _, err := sweeper.Run(ctx); err != nil {
				logger.Warn("Sweep: failed", "error", err)
			}
		})
	}

	if cfg.MetricsInterval > 0 {
		t := time.NewTicker(cfg.MetricsInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { dailyMetrics(ctx, reporter, logger) })
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// dailyMetrics reports on yesterday, then applies retention. A failed report
// does not skip retention.
func dailyMetrics(ctx context.Context, reporter *Reporter, logger *slog.Logger) {
	date := reporter.Yesterday()
	if _, err := reporter.GenerateDaily(ctx, date); err != nil {
		logger.Warn("Metrics: failed to generate daily report", "date", date, "error", err)
	}
	if _, err := reporter.Retention(ctx); err != nil {
		logger.Warn("Metrics: retention failed", "error", err)
	}
}
