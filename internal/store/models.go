// Package store reads and writes scheduler state in Postgres. All writes
// that can race across overlapping trigger windows are conditional creates;
// callers treat a lost race as "already done" and re-read.
package store

import "time"

// Outcome values for notification attempts.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
)

// Task is a catalog entry a user can be assigned. Immutable once created.
type Task struct {
	ID         int
	Text       map[string]string // locale -> text, "en" always present
	Category   string
	Difficulty int
	Active     bool
}

// TextFor returns the task text for a locale, falling back to English.
func (t Task) TextFor(locale string) string {
	if s, ok := t.Text[locale]; ok && s != "" {
		return s
	}
	return t.Text["en"]
}

// UserProfile is a registered app user with active device tokens.
// Read fresh on every scheduler invocation — timezone and notification
// time may change between runs.
type UserProfile struct {
	ID            string
	Timezone      string
	NotifyMinutes int // preferred local notification time, minutes since midnight
	Locale        string
	Tokens        []string
}

// Assignment is the task given to one user on one user-local calendar date.
type Assignment struct {
	UserID      string
	Date        string // user-local date, YYYY-MM-DD
	TaskID      int
	AssignedAt  time.Time
	Completed   bool
	CompletedAt *time.Time
}

// Counters is the global completion counter row.
type Counters struct {
	TotalCompleted int64
	TodayCompleted int64
	TodayDate      string
}

// TodayStats summarizes one calendar date for the ops API.
type TodayStats struct {
	Assigned  int64
	Completed int64
	Notified  int64
}
