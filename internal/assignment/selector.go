// Package assignment computes and persists the daily task for one user.
//
// Per (userID, local date) the lifecycle is Unassigned → Assigned →
// Completed, with no transition back. Selection is idempotent: a second call
// for the same user-day returns the existing assignment, and a lost
// conditional-create race is resolved by re-reading the winner's row.
package assignment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dailydeed/dailydeed-scheduler/internal/catalog"
	"github.com/dailydeed/dailydeed-scheduler/internal/store"
)

// Store is the minimal persistence view the selector needs.
type Store interface {
	GetAssignment(ctx context.Context, userID, date string) (*store.Assignment, error)
	CreateAssignment(ctx context.Context, userID, date string, taskID int) (bool, error)
	RecentTaskIDs(ctx context.Context, userID, date string, windowDays int) ([]int, error)
}

// Selector assigns each active user exactly one task per local calendar day.
type Selector struct {
	Store      Store
	WindowDays int // trailing no-repeat window, default 7
	Logger     *slog.Logger
}

// SelectDailyTask returns the assignment for (userID, date), creating it if
// absent. tasks is the active catalog snapshot for this invocation.
// catalog.ErrCatalogEmpty propagates; persistence conflicts never do.
func (s *Selector) SelectDailyTask(ctx context.Context, tasks []store.Task, userID, date string) (*store.Assignment, error) {
	existing, err := s.Store.GetAssignment(ctx, userID, date)
	if err != nil {
		return nil, fmt.Errorf("read assignment: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	recent, err := s.Store.RecentTaskIDs(ctx, userID, date, s.windowDays())
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	excluded := make(map[int]bool, len(recent))
	for _, id := range recent {
		excluded[id] = true
	}

	task, err := catalog.PickCandidate(tasks, excluded, userID, date)
	if err != nil {
		return nil, err
	}

	created, err := s.Store.CreateAssignment(ctx, userID, date, task.ID)
	if err != nil {
		return nil, fmt.Errorf("create assignment: %w", err)
	}
	if !created {
		s.Logger.Debug("assignment race lost, reading winner", "user_id", userID, "date", date)
	}

	// Read back the persisted row either way: on a lost race this is the
	// winner's assignment, which both invocations must agree on.
	persisted, err := s.Store.GetAssignment(ctx, userID, date)
	if err != nil {
		return nil, fmt.Errorf("read assignment after create: %w", err)
	}
	if persisted == nil {
		return nil, fmt.Errorf("assignment %s/%s vanished after create", userID, date)
	}
	return persisted, nil
}

func (s *Selector) windowDays() int {
	if s.WindowDays > 0 {
		return s.WindowDays
	}
	return 7
}
