package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// --------------------------------------------------------------------------
// Catalog
// --------------------------------------------------------------------------

// ActiveTasks returns the full active catalog.
func ActiveTasks(ctx context.Context, pool *pgxpool.Pool) ([]Task, error) {
	rows, err := pool.Query(ctx, "active_tasks")
	if err != nil {
		return nil, fmt.Errorf("active tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var raw []byte
		if err := rows.Scan(&t.ID, &raw, &t.Category, &t.Difficulty); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if err := json.Unmarshal(raw, &t.Text); err != nil {
			return nil, fmt.Errorf("task %d text: %w", t.ID, err)
		}
		t.Active = true
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// TaskByID returns one catalog entry regardless of active flag.
func TaskByID(ctx context.Context, pool *pgxpool.Pool, id int) (*Task, error) {
	var t Task
	var raw []byte
	err := pool.QueryRow(ctx, "task_by_id", id).Scan(&t.ID, &raw, &t.Category, &t.Difficulty, &t.Active)
	if err != nil {
		return nil, fmt.Errorf("task %d: %w", id, err)
	}
	if err := json.Unmarshal(raw, &t.Text); err != nil {
		return nil, fmt.Errorf("task %d text: %w", id, err)
	}
	return &t, nil
}

// UpsertTask inserts or updates one catalog entry. Entries with an explicit
// ID are updated in place; entries without one get a fresh row. Returns the
// stored ID. Used by the catalog seed CLI, not the hot path, so the SQL is
// inline rather than prepared.
func UpsertTask(ctx context.Context, pool *pgxpool.Pool, t Task) (int, error) {
	raw, err := json.Marshal(t.Text)
	if err != nil {
		return 0, fmt.Errorf("marshal task text: %w", err)
	}

	var id int
	if t.ID > 0 {
		err = pool.QueryRow(ctx, `
			INSERT INTO tasks (id, text, category, difficulty, active)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET text = EXCLUDED.text,
			    category = EXCLUDED.category,
			    difficulty = EXCLUDED.difficulty,
			    active = EXCLUDED.active
			RETURNING id`,
			t.ID, raw, t.Category, t.Difficulty, t.Active).Scan(&id)
	} else {
		err = pool.QueryRow(ctx, `
			INSERT INTO tasks (text, category, difficulty, active)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			raw, t.Category, t.Difficulty, t.Active).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("upsert task: %w", err)
	}
	return id, nil
}

// --------------------------------------------------------------------------
// Users
// --------------------------------------------------------------------------

// NotifiableUsers returns all users with notifications enabled, with their
// active device tokens.
func NotifiableUsers(ctx context.Context, pool *pgxpool.Pool) ([]UserProfile, error) {
	rows, err := pool.Query(ctx, "notifiable_users")
	if err != nil {
		return nil, fmt.Errorf("notifiable users: %w", err)
	}
	defer rows.Close()

	var users []UserProfile
	for rows.Next() {
		var u UserProfile
		if err := rows.Scan(&u.ID, &u.Timezone, &u.NotifyMinutes, &u.Locale, &u.Tokens); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UserByID returns a single user profile with tokens.
func UserByID(ctx context.Context, pool *pgxpool.Pool, userID string) (*UserProfile, error) {
	var u UserProfile
	err := pool.QueryRow(ctx, "user_by_id", userID).Scan(&u.ID, &u.Timezone, &u.NotifyMinutes, &u.Locale, &u.Tokens)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}
	return &u, nil
}

// DeactivateToken marks a device token inactive after a permanent transport
// failure. The token is never retried afterwards.
func DeactivateToken(ctx context.Context, pool *pgxpool.Pool, token string) error {
	_, err := pool.Exec(ctx, "deactivate_token", token)
	return err
}

// --------------------------------------------------------------------------
// Assignments
// --------------------------------------------------------------------------

// GetAssignment returns the assignment for (userID, local date), or nil if
// none exists yet.
func GetAssignment(ctx context.Context, pool *pgxpool.Pool, userID, date string) (*Assignment, error) {
	var a Assignment
	err := pool.QueryRow(ctx, "assignment_get", userID, date).Scan(
		&a.UserID, &a.Date, &a.TaskID, &a.AssignedAt, &a.Completed, &a.CompletedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment %s/%s: %w", userID, date, err)
	}
	return &a, nil
}

// CreateAssignment conditionally creates the assignment row. Returns false
// when another invocation already created one — the caller re-reads the
// winner's row instead of treating it as an error.
func CreateAssignment(ctx context.Context, pool *pgxpool.Pool, userID, date string, taskID int) (bool, error) {
	tag, err := pool.Exec(ctx, "assignment_create", userID, date, taskID)
	if err != nil {
		return false, fmt.Errorf("create assignment %s/%s: %w", userID, date, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecentTaskIDs returns the task IDs assigned to a user in the trailing
// windowDays before (not including) date.
func RecentTaskIDs(ctx context.Context, pool *pgxpool.Pool, userID, date string, windowDays int) ([]int, error) {
	rows, err := pool.Query(ctx, "assignment_recent_tasks", userID, date, windowDays)
	if err != nil {
		return nil, fmt.Errorf("recent tasks %s: %w", userID, err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan recent task: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CompleteAssignment marks today's assignment completed. Returns false when
// there was nothing to complete (no row, or already completed).
func CompleteAssignment(ctx context.Context, pool *pgxpool.Pool, userID, date string) (bool, error) {
	tag, err := pool.Exec(ctx, "assignment_complete", userID, date)
	if err != nil {
		return false, fmt.Errorf("complete assignment %s/%s: %w", userID, date, err)
	}
	return tag.RowsAffected() > 0, nil
}

// --------------------------------------------------------------------------
// Notification attempts
// --------------------------------------------------------------------------

// RecordSuccessAttempt conditionally records a successful delivery. This row
// is the durable dedup guard: returns false if a success already exists for
// (userID, date), meaning another window beat us to it.
func RecordSuccessAttempt(ctx context.Context, pool *pgxpool.Pool, userID, date, token string) (bool, error) {
	tag, err := pool.Exec(ctx, "attempt_success_create", userID, date, token)
	if err != nil {
		return false, fmt.Errorf("record success %s/%s: %w", userID, date, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordTransientAttempt records a transient delivery failure. These rows
// count toward the per-day retry cap.
func RecordTransientAttempt(ctx context.Context, pool *pgxpool.Pool, userID, date, token string) error {
	if _, err := pool.Exec(ctx, "attempt_transient_create", userID, date, token); err != nil {
		return fmt.Errorf("record transient %s/%s: %w", userID, date, err)
	}
	return nil
}

// SuccessAttemptExists reports whether a successful attempt was already
// recorded for (userID, date).
func SuccessAttemptExists(ctx context.Context, pool *pgxpool.Pool, userID, date string) (bool, error) {
	var exists bool
	if err := pool.QueryRow(ctx, "attempt_success_exists", userID, date).Scan(&exists); err != nil {
		return false, fmt.Errorf("success exists %s/%s: %w", userID, date, err)
	}
	return exists, nil
}

// TransientAttemptCount returns how many transient failures were recorded
// for (userID, date).
func TransientAttemptCount(ctx context.Context, pool *pgxpool.Pool, userID, date string) (int, error) {
	var n int
	if err := pool.QueryRow(ctx, "attempt_transient_count", userID, date).Scan(&n); err != nil {
		return 0, fmt.Errorf("transient count %s/%s: %w", userID, date, err)
	}
	return n, nil
}

// --------------------------------------------------------------------------
// Global counters
// --------------------------------------------------------------------------

// IncrementCompleted issues an increment-by-1 intent for both completion
// counters. The store side applies it atomically; we never read-modify-write.
func IncrementCompleted(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, "counters_increment_completed"); err != nil {
		return fmt.Errorf("increment completed: %w", err)
	}
	return nil
}

// GetCounters returns the global counter row.
func GetCounters(ctx context.Context, pool *pgxpool.Pool) (*Counters, error) {
	var c Counters
	if err := pool.QueryRow(ctx, "counters_get").Scan(&c.TotalCompleted, &c.TodayCompleted, &c.TodayDate); err != nil {
		return nil, fmt.Errorf("get counters: %w", err)
	}
	return &c, nil
}

// StatsForDate returns assignment/completion/notification counts for one
// calendar date.
func StatsForDate(ctx context.Context, pool *pgxpool.Pool, date string) (*TodayStats, error) {
	var s TodayStats
	if err := pool.QueryRow(ctx, "stats_today", date).Scan(&s.Assigned, &s.Completed, &s.Notified); err != nil {
		return nil, fmt.Errorf("stats for %s: %w", date, err)
	}
	return &s, nil
}
