// Package maintenance runs periodic background tasks as Go tickers.
// All scheduled housekeeping is driven from Go since cmd/api is already a
// persistent, long-running service (required for LISTEN/NOTIFY).
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	CleanupInterval   time.Duration // purge old notification attempts
	DayResetInterval  time.Duration // roll today_completed at the day boundary
	ReconcileInterval time.Duration // repair counter drift from missed events
	ResetZone         string        // reference zone for the day boundary
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig(resetZone string) Config {
	return Config{
		CleanupInterval:   30 * time.Minute,
		DayResetInterval:  5 * time.Minute,
		ReconcileInterval: 1 * time.Hour,
		ResetZone:         resetZone,
	}
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, pool *pgxpool.Pool, cfg Config, logger *slog.Logger) {
	logger.Info("maintenance tickers started",
		"cleanup", cfg.CleanupInterval,
		"day_reset", cfg.DayResetInterval,
		"reconcile", cfg.ReconcileInterval)

	tickers := make([]*time.Ticker, 0, 3)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	if cfg.CleanupInterval > 0 {
		t := time.NewTicker(cfg.CleanupInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { cleanup(ctx, pool, logger) })
	}

	if cfg.DayResetInterval > 0 {
		t := time.NewTicker(cfg.DayResetInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { resetDayCounter(ctx, pool, cfg.ResetZone, logger) })
	}

	if cfg.ReconcileInterval > 0 {
		t := time.NewTicker(cfg.ReconcileInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { reconcileCounters(ctx, pool, logger) })
	}

	<-ctx.Done()
	logger.Info("maintenance tickers stopped")
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

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// cleanup removes notification attempts older than 30 days. Assignments are
// kept — they are the user's deed history.
func cleanup(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) {
	tag, err := pool.Exec(ctx, `
		DELETE FROM notification_attempts
		WHERE created_at < NOW() - INTERVAL '30 days'`)
	if err != nil {
		logger.Warn("cleanup: failed to purge old attempts", "error", err)
	} else if tag.RowsAffected() > 0 {
		logger.Info("cleanup: purged old attempts", "count", tag.RowsAffected())
	}
}

// resetDayCounter rolls today_completed to zero when the reference zone's
// calendar date moves past the stored one. The WHERE clause makes the roll
// idempotent across overlapping ticks.
func resetDayCounter(ctx context.Context, pool *pgxpool.Pool, resetZone string, logger *slog.Logger) {
	loc, err := time.LoadLocation(resetZone)
	if err != nil {
		loc = time.UTC
	}
	today := time.Now().In(loc).Format("2006-01-02")

	tag, err := pool.Exec(ctx, `
		UPDATE global_counters
		SET today_completed = 0, today_date = $1::date
		WHERE id = 1 AND today_date < $1::date`, today)
	if err != nil {
		logger.Warn("day reset failed", "error", err)
	} else if tag.RowsAffected() > 0 {
		logger.Info("today_completed reset", "date", today)
	}
}

// reconcileCounters repairs today_completed after listener downtime by
// recounting completions for the stored counter date. Runs as a single
// store-side statement so it cannot lose concurrent increments.
func reconcileCounters(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) {
	tag, err := pool.Exec(ctx, `
		UPDATE global_counters g
		SET today_completed = sub.n
		FROM (
			SELECT COUNT(*) AS n
			FROM daily_assignments a, global_counters c
			WHERE a.completed AND a.assigned_date = c.today_date AND c.id = 1
		) sub
		WHERE g.id = 1 AND g.today_completed <> sub.n`)
	if err != nil {
		logger.Warn("counter reconcile failed", "error", err)
	} else if tag.RowsAffected() > 0 {
		logger.Info("counter drift repaired")
	}
}
