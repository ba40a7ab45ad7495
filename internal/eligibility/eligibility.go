// Package eligibility computes which users should receive a notification in
// the current trigger window.
//
// A user is eligible when their preferred local notification time falls in
// the current trigger bucket, no successful attempt exists yet for their
// local date, the transient retry cap has not been reached, and today's
// assignment is not already completed. The day boundary is per-user local
// date throughout.
package eligibility

import (
	"context"
	"log/slog"
	"time"

	"github.com/dailydeed/dailydeed-scheduler/internal/store"
)

// StatusReader is the minimal store view the evaluator needs. The in-memory
// candidate set is never authoritative for "already sent" — these durable
// records are.
type StatusReader interface {
	SuccessAttemptExists(ctx context.Context, userID, date string) (bool, error)
	TransientAttemptCount(ctx context.Context, userID, date string) (int, error)
	GetAssignment(ctx context.Context, userID, date string) (*store.Assignment, error)
}

// Candidate is an eligible user together with their local calendar date.
type Candidate struct {
	User      store.UserProfile
	LocalDate string
}

// Evaluator holds the window parameters and durable-state reader.
type Evaluator struct {
	Store               StatusReader
	Granularity         time.Duration // trigger bucket width
	FallbackTimezone    string        // used when a user's timezone is missing or invalid
	MaxTransientRetries int
	Logger              *slog.Logger
}

// EligibleUsers returns the duplicate-free candidate set for this trigger
// tick. Users whose store lookups fail are skipped with a warning; one bad
// row never aborts the run.
func (e *Evaluator) EligibleUsers(ctx context.Context, now time.Time, users []store.UserProfile) ([]Candidate, error) {
	seen := make(map[string]bool, len(users))
	var eligible []Candidate

	for _, u := range users {
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true

		loc := e.location(u.Timezone)
		localNow := now.In(loc)

		if !inBucket(localNow, u.NotifyMinutes, e.Granularity) {
			continue
		}

		date := localNow.Format("2006-01-02")

		sent, err := e.Store.SuccessAttemptExists(ctx, u.ID, date)
		if err != nil {
			e.Logger.Warn("eligibility: attempt lookup failed", "user_id", u.ID, "error", err)
			continue
		}
		if sent {
			continue
		}

		retries, err := e.Store.TransientAttemptCount(ctx, u.ID, date)
		if err != nil {
			e.Logger.Warn("eligibility: retry count failed", "user_id", u.ID, "error", err)
			continue
		}
		if retries >= e.MaxTransientRetries {
			continue
		}

		assignment, err := e.Store.GetAssignment(ctx, u.ID, date)
		if err != nil {
			e.Logger.Warn("eligibility: assignment lookup failed", "user_id", u.ID, "error", err)
			continue
		}
		if assignment != nil && assignment.Completed {
			continue // no point reminding a user who already finished
		}

		eligible = append(eligible, Candidate{User: u, LocalDate: date})
	}
	return eligible, nil
}

// LocalDate returns the user's local calendar date for now.
func (e *Evaluator) LocalDate(now time.Time, timezone string) string {
	return now.In(e.location(timezone)).Format("2006-01-02")
}

// location resolves a user timezone, falling back to the configured zone so
// users with missing or invalid timezones are never silently dropped.
func (e *Evaluator) location(timezone string) *time.Location {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err == nil {
			return loc
		}
	}
	if loc, err := time.LoadLocation(e.FallbackTimezone); err == nil {
		return loc
	}
	return time.UTC
}

// inBucket reports whether prefMinutes (minutes since local midnight) falls
// inside the trigger bucket containing localNow.
func inBucket(localNow time.Time, prefMinutes int, granularity time.Duration) bool {
	gran := int(granularity.Minutes())
	if gran <= 0 {
		gran = 15
	}
	nowM := localNow.Hour()*60 + localNow.Minute()
	bucket := nowM - nowM%gran
	return prefMinutes >= bucket && prefMinutes < bucket+gran
}
