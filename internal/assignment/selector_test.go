package assignment

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dailydeed/dailydeed-scheduler/internal/catalog"
	"github.com/dailydeed/dailydeed-scheduler/internal/store"
)

// fakeStore is an in-memory assignment store with the same conditional-create
// semantics as the Postgres implementation.
type fakeStore struct {
	assignments map[string]store.Assignment // userID|date
	history     map[string][]int            // userID -> recent task IDs
	creates     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		assignments: make(map[string]store.Assignment),
		history:     make(map[string][]int),
	}
}

func (f *fakeStore) key(userID, date string) string { return userID + "|" + date }

func (f *fakeStore) GetAssignment(_ context.Context, userID, date string) (*store.Assignment, error) {
	if a, ok := f.assignments[f.key(userID, date)]; ok {
		return &a, nil
	}
	return nil, nil
}

func (f *fakeStore) CreateAssignment(_ context.Context, userID, date string, taskID int) (bool, error) {
	f.creates++
	k := f.key(userID, date)
	if _, exists := f.assignments[k]; exists {
		return false, nil
	}
	f.assignments[k] = store.Assignment{
		UserID:     userID,
		Date:       date,
		TaskID:     taskID,
		AssignedAt: time.Now(),
	}
	return true, nil
}

func (f *fakeStore) RecentTaskIDs(_ context.Context, userID, _ string, _ int) ([]int, error) {
	return f.history[userID], nil
}

func testSelector(fs *fakeStore) *Selector {
	return &Selector{
		Store:  fs,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func makeCatalog(n int) []store.Task {
	tasks := make([]store.Task, 0, n)
	for i := 1; i <= n; i++ {
		tasks = append(tasks, store.Task{ID: i, Text: map[string]string{"en": "deed"}, Active: true})
	}
	return tasks
}

func TestSelectDailyTask_Idempotent(t *testing.T) {
	fs := newFakeStore()
	sel := testSelector(fs)
	tasks := makeCatalog(10)
	ctx := context.Background()

	first, err := sel.SelectDailyTask(ctx, tasks, "u1", "2026-09-01")
	if err != nil {
		t.Fatalf("first select: %v", err)
	}
	second, err := sel.SelectDailyTask(ctx, tasks, "u1", "2026-09-01")
	if err != nil {
		t.Fatalf("second select: %v", err)
	}
	if first.TaskID != second.TaskID {
		t.Fatalf("selector not idempotent: task %d then %d", first.TaskID, second.TaskID)
	}
	if len(fs.assignments) != 1 {
		t.Fatalf("want exactly one assignment row, got %d", len(fs.assignments))
	}
	if fs.creates != 1 {
		t.Fatalf("second call should not attempt a create, got %d creates", fs.creates)
	}
}

func TestSelectDailyTask_ExcludesRecentHistory(t *testing.T) {
	fs := newFakeStore()
	fs.history["u1"] = []int{1, 2, 3, 4}
	sel := testSelector(fs)

	got, err := sel.SelectDailyTask(context.Background(), makeCatalog(5), "u1", "2026-09-01")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.TaskID != 5 {
		t.Fatalf("recent task repeated: got %d, want 5", got.TaskID)
	}
}

func TestSelectDailyTask_HistoryExhaustsCatalog(t *testing.T) {
	fs := newFakeStore()
	fs.history["u1"] = []int{1, 2, 3}
	sel := testSelector(fs)

	// All three catalog tasks are in the window; selection must relax
	// rather than fail.
	got, err := sel.SelectDailyTask(context.Background(), makeCatalog(3), "u1", "2026-09-01")
	if err != nil {
		t.Fatalf("want relaxed selection, got error: %v", err)
	}
	if got.TaskID < 1 || got.TaskID > 3 {
		t.Fatalf("pick outside catalog: %d", got.TaskID)
	}
}

func TestSelectDailyTask_CatalogEmpty(t *testing.T) {
	fs := newFakeStore()
	sel := testSelector(fs)

	_, err := sel.SelectDailyTask(context.Background(), nil, "u1", "2026-09-01")
	if err != catalog.ErrCatalogEmpty {
		t.Fatalf("want ErrCatalogEmpty, got %v", err)
	}
	if len(fs.assignments) != 0 {
		t.Fatalf("assignment created despite empty catalog")
	}
}

func TestSelectDailyTask_LostRaceReturnsWinner(t *testing.T) {
	fs := newFakeStore()
	sel := testSelector(fs)
	ctx := context.Background()

	// Another invocation wins the conditional create between our existence
	// check and our insert.
	winner := store.Assignment{UserID: "u1", Date: "2026-09-01", TaskID: 99, AssignedAt: time.Now()}
	raceStore := &racingStore{fakeStore: fs, winner: winner}

	sel.Store = raceStore
	got, err := sel.SelectDailyTask(ctx, makeCatalog(10), "u1", "2026-09-01")
	if err != nil {
		t.Fatalf("lost race surfaced as error: %v", err)
	}
	if got.TaskID != 99 {
		t.Fatalf("loser must observe winner's row: got task %d, want 99", got.TaskID)
	}
}

// racingStore reports "not created" on the first create and injects the
// winner's row so the follow-up read observes it.
type racingStore struct {
	*fakeStore
	winner store.Assignment
}

func (r *racingStore) CreateAssignment(_ context.Context, userID, date string, _ int) (bool, error) {
	r.assignments[r.key(userID, date)] = r.winner
	return false, nil
}
