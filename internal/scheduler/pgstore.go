package scheduler

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dailydeed/dailydeed-scheduler/internal/store"
)

// pgStore adapts the store package onto the narrow interfaces the
// evaluator, selector, and dispatcher declare.
type pgStore struct {
	pool *pgxpool.Pool
}

func (p pgStore) GetAssignment(ctx context.Context, userID, date string) (*store.Assignment, error) {
	return store.GetAssignment(ctx, p.pool, userID, date)
}

func (p pgStore) CreateAssignment(ctx context.Context, userID, date string, taskID int) (bool, error) {
	return store.CreateAssignment(ctx, p.pool, userID, date, taskID)
}

func (p pgStore) RecentTaskIDs(ctx context.Context, userID, date string, windowDays int) ([]int, error) {
	return store.RecentTaskIDs(ctx, p.pool, userID, date, windowDays)
}

func (p pgStore) SuccessAttemptExists(ctx context.Context, userID, date string) (bool, error) {
	return store.SuccessAttemptExists(ctx, p.pool, userID, date)
}

func (p pgStore) TransientAttemptCount(ctx context.Context, userID, date string) (int, error) {
	return store.TransientAttemptCount(ctx, p.pool, userID, date)
}

func (p pgStore) RecordSuccessAttempt(ctx context.Context, userID, date, token string) (bool, error) {
	return store.RecordSuccessAttempt(ctx, p.pool, userID, date, token)
}

func (p pgStore) RecordTransientAttempt(ctx context.Context, userID, date, token string) error {
	return store.RecordTransientAttempt(ctx, p.pool, userID, date, token)
}

func (p pgStore) DeactivateToken(ctx context.Context, token string) error {
	return store.DeactivateToken(ctx, p.pool, token)
}
