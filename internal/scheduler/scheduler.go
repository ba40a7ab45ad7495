// Package scheduler orchestrates one trigger tick: eligibility evaluation,
// daily task assignment for candidates lacking one, and notification
// fan-out. Each invocation is stateless; all durable transitions are
// conditional creates, so a killed run resumes safely on the next tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"github.com/dailydeed/dailydeed-scheduler/internal/assignment"
	"github.com/dailydeed/dailydeed-scheduler/internal/catalog"
	"github.com/dailydeed/dailydeed-scheduler/internal/config"
	"github.com/dailydeed/dailydeed-scheduler/internal/eligibility"
	"github.com/dailydeed/dailydeed-scheduler/internal/fanout"
	"github.com/dailydeed/dailydeed-scheduler/internal/push"
	"github.com/dailydeed/dailydeed-scheduler/internal/store"
)

// Scheduler wires the evaluator, selector, and dispatcher over one store.
type Scheduler struct {
	pool   *pgxpool.Pool
	cfg    *config.Config
	sender push.Multicast
	logger *slog.Logger
}

// New creates a Scheduler. sender may be nil (FCM not configured); ticks
// then persist assignments but skip fan-out.
func New(pool *pgxpool.Pool, cfg *config.Config, sender push.Multicast, logger *slog.Logger) *Scheduler {
	return &Scheduler{pool: pool, cfg: cfg, sender: sender, logger: logger}
}

// RunTick performs one scheduler invocation at the supplied trigger time.
// now comes from the trigger source; a non-increasing now only shifts
// bucketing, never correctness.
func (s *Scheduler) RunTick(ctx context.Context, now time.Time) (*fanout.Report, error) {
	pg := pgStore{s.pool}

	users, err := store.NotifiableUsers(ctx, s.pool)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	tasks, err := store.ActiveTasks(ctx, s.pool)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	evaluator := &eligibility.Evaluator{
		Store:               pg,
		Granularity:         s.cfg.TriggerGranularity,
		FallbackTimezone:    s.cfg.FallbackTimezone,
		MaxTransientRetries: s.cfg.MaxTransientRetries,
		Logger:              s.logger,
	}
	candidates, err := evaluator.EligibleUsers(ctx, now, users)
	if err != nil {
		return nil, fmt.Errorf("evaluate eligibility: %w", err)
	}
	if len(candidates) == 0 {
		s.logger.Info("no eligible users this window", "users", len(users))
		return &fanout.Report{}, nil
	}
	s.logger.Info("eligible cohort", "count", len(candidates), "users", len(users))

	selector := &assignment.Selector{
		Store:      pg,
		WindowDays: s.cfg.HistoryWindowDays,
		Logger:     s.logger,
	}

	taskByID := make(map[int]store.Task, len(tasks))
	for _, t := range tasks {
		taskByID[t.ID] = t
	}

	var recipients []fanout.Recipient
	for _, cand := range candidates {
		assigned, err := selector.SelectDailyTask(ctx, tasks, cand.User.ID, cand.LocalDate)
		if errors.Is(err, catalog.ErrCatalogEmpty) {
			s.logger.Error("catalog empty, skipping user", "user_id", cand.User.ID)
			continue
		}
		if err != nil {
			s.logger.Warn("assignment failed, skipping user", "user_id", cand.User.ID, "error", err)
			continue
		}

		body := s.taskBody(ctx, taskByID, assigned.TaskID, cand.User.Locale)
		for _, token := range cand.User.Tokens {
			recipients = append(recipients, fanout.Recipient{
				UserID:    cand.User.ID,
				LocalDate: cand.LocalDate,
				Message: push.Message{
					Token: token,
					Title: "DailyDeed",
					Body:  body,
					Data: map[string]string{
						"task_id": fmt.Sprintf("%d", assigned.TaskID),
						"date":    cand.LocalDate,
					},
				},
			})
		}
	}

	if s.sender == nil {
		// Assignments are persisted; delivery waits until a transport is
		// configured.
		s.logger.Info("push transport not configured, skipping fan-out", "recipients", len(recipients))
		return &fanout.Report{Recipients: len(recipients)}, nil
	}

	dispatcher := &fanout.Dispatcher{
		Store:     pg,
		Sender:    s.sender,
		BatchSize: s.cfg.BatchSize,
		Workers:   s.cfg.FanoutWorkers,
		Logger:    s.logger,
	}
	return dispatcher.Dispatch(ctx, recipients)
}

// AssignUser computes (or returns) the daily assignment for one user at the
// supplied time, using the user's local calendar date. Backs the CLI assign
// command and the GET today endpoint.
func (s *Scheduler) AssignUser(ctx context.Context, userID string, now time.Time) (*store.Assignment, error) {
	date, err := s.UserLocalDate(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	tasks, err := store.ActiveTasks(ctx, s.pool)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	selector := &assignment.Selector{
		Store:      pgStore{s.pool},
		WindowDays: s.cfg.HistoryWindowDays,
		Logger:     s.logger,
	}
	return selector.SelectDailyTask(ctx, tasks, userID, date)
}

// UserLocalDate resolves the user's current local calendar date, using the
// configured fallback zone when the stored timezone is missing or invalid.
func (s *Scheduler) UserLocalDate(ctx context.Context, userID string, now time.Time) (string, error) {
	user, err := store.UserByID(ctx, s.pool, userID)
	if err != nil {
		return "", err
	}
	evaluator := &eligibility.Evaluator{FallbackTimezone: s.cfg.FallbackTimezone}
	return evaluator.LocalDate(now, user.Timezone), nil
}

// Start runs the trigger loop at the configured granularity until ctx is
// cancelled. Intended to be called with `go` from cmd/api.
func (s *Scheduler) Start(ctx context.Context) {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.TriggerGranularity)
	_, err := c.AddFunc(spec, func() {
		report, err := s.RunTick(ctx, time.Now().UTC())
		if err != nil {
			// Includes total transport outages — left for the next tick.
			s.logger.Error("scheduler tick failed", "error", err)
			return
		}
		if report.Recipients > 0 {
			s.logger.Info("scheduler tick", "summary", report.Summary())
		}
	})
	if err != nil {
		s.logger.Error("invalid trigger spec", "spec", spec, "error", err)
		return
	}

	s.logger.Info("scheduler trigger started", "interval", s.cfg.TriggerGranularity)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler trigger stopped")
}

// taskBody resolves the notification text for a task in the user's locale.
// Assigned tasks can be deactivated later the same day; fall back to a
// direct lookup, then to a generic nudge.
func (s *Scheduler) taskBody(ctx context.Context, active map[int]store.Task, taskID int, locale string) string {
	if t, ok := active[taskID]; ok {
		return t.TextFor(locale)
	}
	if t, err := store.TaskByID(ctx, s.pool, taskID); err == nil {
		return t.TextFor(locale)
	}
	return "Time for today's good deed"
}
