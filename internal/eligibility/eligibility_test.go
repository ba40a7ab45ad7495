package eligibility

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dailydeed/dailydeed-scheduler/internal/store"
)

// fakeStatus is an in-memory StatusReader.
type fakeStatus struct {
	success     map[string]bool             // userID|date -> success attempt exists
	transients  map[string]int              // userID|date -> transient count
	assignments map[string]store.Assignment // userID|date
}

func newFakeStatus() *fakeStatus {
	return &fakeStatus{
		success:     make(map[string]bool),
		transients:  make(map[string]int),
		assignments: make(map[string]store.Assignment),
	}
}

func key(userID, date string) string { return userID + "|" + date }

func (f *fakeStatus) SuccessAttemptExists(_ context.Context, userID, date string) (bool, error) {
	return f.success[key(userID, date)], nil
}

func (f *fakeStatus) TransientAttemptCount(_ context.Context, userID, date string) (int, error) {
	return f.transients[key(userID, date)], nil
}

func (f *fakeStatus) GetAssignment(_ context.Context, userID, date string) (*store.Assignment, error) {
	if a, ok := f.assignments[key(userID, date)]; ok {
		return &a, nil
	}
	return nil, nil
}

func newEvaluator(status StatusReader) *Evaluator {
	return &Evaluator{
		Store:               status,
		Granularity:         15 * time.Minute,
		FallbackTimezone:    "UTC",
		MaxTransientRetries: 3,
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func jstUser(id string) store.UserProfile {
	return store.UserProfile{
		ID:            id,
		Timezone:      "Asia/Tokyo",
		NotifyMinutes: 8 * 60, // 08:00 local
		Locale:        "ja",
		Tokens:        []string{"tok-" + id},
	}
}

func TestEligible_LocalWindowMatch(t *testing.T) {
	ev := newEvaluator(newFakeStatus())
	users := []store.UserProfile{jstUser("u1")}

	// 23:05 UTC = 08:05 JST next day → inside the [08:00, 08:15) bucket.
	now := time.Date(2026, time.August, 31, 23, 5, 0, 0, time.UTC)
	got, err := ev.EligibleUsers(context.Background(), now, users)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 eligible user at 08:05 JST, got %d", len(got))
	}
	if got[0].LocalDate != "2026-09-01" {
		t.Fatalf("want local date 2026-09-01, got %s", got[0].LocalDate)
	}
}

func TestEligible_OutsideWindow(t *testing.T) {
	ev := newEvaluator(newFakeStatus())
	users := []store.UserProfile{jstUser("u1")}

	// 22:05 UTC = 07:05 JST → preferred 08:00 not in the [07:00, 07:15) bucket.
	now := time.Date(2026, time.August, 31, 22, 5, 0, 0, time.UTC)
	got, err := ev.EligibleUsers(context.Background(), now, users)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("want 0 eligible users at 07:05 JST, got %d", len(got))
	}
}

func TestEligible_AlreadyNotified(t *testing.T) {
	status := newFakeStatus()
	status.success[key("u1", "2026-09-01")] = true
	ev := newEvaluator(status)

	now := time.Date(2026, time.August, 31, 23, 5, 0, 0, time.UTC)
	got, err := ev.EligibleUsers(context.Background(), now, []store.UserProfile{jstUser("u1")})
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("already-notified user still eligible")
	}
}

func TestEligible_CompletedExcluded(t *testing.T) {
	status := newFakeStatus()
	status.assignments[key("u1", "2026-09-01")] = store.Assignment{
		UserID: "u1", Date: "2026-09-01", TaskID: 7, Completed: true,
	}
	ev := newEvaluator(status)

	now := time.Date(2026, time.August, 31, 23, 5, 0, 0, time.UTC)
	got, err := ev.EligibleUsers(context.Background(), now, []store.UserProfile{jstUser("u1")})
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("completed user still eligible")
	}
}

func TestEligible_UncompletedAssignmentStillEligible(t *testing.T) {
	status := newFakeStatus()
	status.assignments[key("u1", "2026-09-01")] = store.Assignment{
		UserID: "u1", Date: "2026-09-01", TaskID: 7,
	}
	ev := newEvaluator(status)

	now := time.Date(2026, time.August, 31, 23, 5, 0, 0, time.UTC)
	got, err := ev.EligibleUsers(context.Background(), now, []store.UserProfile{jstUser("u1")})
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("user with open assignment should be eligible")
	}
}

func TestEligible_TransientRetryCap(t *testing.T) {
	status := newFakeStatus()
	status.transients[key("u1", "2026-09-01")] = 3 // at the cap
	ev := newEvaluator(status)

	now := time.Date(2026, time.August, 31, 23, 5, 0, 0, time.UTC)
	got, err := ev.EligibleUsers(context.Background(), now, []store.UserProfile{jstUser("u1")})
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("user past retry cap still eligible")
	}
}

func TestEligible_FallbackTimezone(t *testing.T) {
	ev := newEvaluator(newFakeStatus())
	users := []store.UserProfile{
		{ID: "u1", Timezone: "", NotifyMinutes: 9 * 60},
		{ID: "u2", Timezone: "Not/AZone", NotifyMinutes: 9 * 60},
	}

	// 09:00 UTC, fallback zone UTC → both users in window.
	now := time.Date(2026, time.September, 1, 9, 0, 0, 0, time.UTC)
	got, err := ev.EligibleUsers(context.Background(), now, users)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("users without a valid timezone dropped: got %d of 2", len(got))
	}
}

func TestEligible_DuplicateFree(t *testing.T) {
	ev := newEvaluator(newFakeStatus())
	u := store.UserProfile{ID: "u1", Timezone: "UTC", NotifyMinutes: 9 * 60}

	now := time.Date(2026, time.September, 1, 9, 7, 0, 0, time.UTC)
	got, err := ev.EligibleUsers(context.Background(), now, []store.UserProfile{u, u, u})
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("duplicate user IDs not deduplicated: got %d", len(got))
	}
}

func TestInBucket_Boundaries(t *testing.T) {
	cases := []struct {
		name string
		hour, minute, pref int
		want bool
	}{
		{"start of bucket", 8, 0, 8 * 60, true},
		{"end of bucket exclusive", 8, 15, 8 * 60, false},
		{"pref later in bucket", 8, 2, 8*60 + 14, true},
		{"pref in previous bucket", 8, 16, 8 * 60, false},
		{"midnight bucket", 0, 5, 0, true},
	}
	for _, tc := range cases {
		localNow := time.Date(2026, time.September, 1, tc.hour, tc.minute, 30, 0, time.UTC)
		if got := inBucket(localNow, tc.pref, 15*time.Minute); got != tc.want {
			t.Fatalf("%s: inBucket=%v, want %v", tc.name, got, tc.want)
		}
	}
}
