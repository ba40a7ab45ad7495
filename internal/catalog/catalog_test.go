package catalog

import (
	"testing"

	"github.com/dailydeed/dailydeed-scheduler/internal/store"
)

func makeCatalog(n int) []store.Task {
	tasks := make([]store.Task, 0, n)
	for i := 1; i <= n; i++ {
		tasks = append(tasks, store.Task{
			ID:     i,
			Text:   map[string]string{"en": "deed"},
			Active: true,
		})
	}
	return tasks
}

func TestPickCandidate_Deterministic(t *testing.T) {
	tasks := makeCatalog(20)

	first, err := PickCandidate(tasks, nil, "user-1", "2026-09-01")
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := PickCandidate(tasks, nil, "user-1", "2026-09-01")
		if err != nil {
			t.Fatalf("pick %d: %v", i, err)
		}
		if again.ID != first.ID {
			t.Fatalf("pick not deterministic: got %d then %d", first.ID, again.ID)
		}
	}
}

func TestPickCandidate_InputOrderIrrelevant(t *testing.T) {
	tasks := makeCatalog(10)
	reversed := make([]store.Task, len(tasks))
	for i, task := range tasks {
		reversed[len(tasks)-1-i] = task
	}

	a, err := PickCandidate(tasks, nil, "user-2", "2026-09-01")
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	b, err := PickCandidate(reversed, nil, "user-2", "2026-09-01")
	if err != nil {
		t.Fatalf("pick reversed: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("input order changed pick: %d vs %d", a.ID, b.ID)
	}
}

func TestPickCandidate_VariesAcrossUsersAndDays(t *testing.T) {
	tasks := makeCatalog(50)

	seen := make(map[int]bool)
	for _, key := range []struct{ user, date string }{
		{"user-1", "2026-09-01"},
		{"user-2", "2026-09-01"},
		{"user-1", "2026-09-02"},
		{"user-3", "2026-09-03"},
		{"user-4", "2026-09-04"},
	} {
		task, err := PickCandidate(tasks, nil, key.user, key.date)
		if err != nil {
			t.Fatalf("pick %s/%s: %v", key.user, key.date, err)
		}
		seen[task.ID] = true
	}
	// Over 5 seeds and 50 tasks an all-identical result would mean the seed
	// is ignored.
	if len(seen) < 2 {
		t.Fatalf("expected varied picks across seeds, all landed on the same task")
	}
}

func TestPickCandidate_RespectsExclusion(t *testing.T) {
	tasks := makeCatalog(5)
	excluded := map[int]bool{1: true, 2: true, 3: true, 4: true}

	task, err := PickCandidate(tasks, excluded, "user-1", "2026-09-01")
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if task.ID != 5 {
		t.Fatalf("expected only non-excluded task 5, got %d", task.ID)
	}
}

func TestPickCandidate_RelaxesWhenHistoryExhaustsCatalog(t *testing.T) {
	tasks := makeCatalog(3)
	excluded := map[int]bool{1: true, 2: true, 3: true}

	task, err := PickCandidate(tasks, excluded, "user-1", "2026-09-01")
	if err != nil {
		t.Fatalf("expected relaxed selection, got error: %v", err)
	}
	if task.ID < 1 || task.ID > 3 {
		t.Fatalf("relaxed pick outside catalog: %d", task.ID)
	}
}

func TestPickCandidate_SkipsInactive(t *testing.T) {
	tasks := makeCatalog(3)
	tasks[0].Active = false
	tasks[1].Active = false

	for i := 0; i < 5; i++ {
		task, err := PickCandidate(tasks, nil, "user-1", "2026-09-01")
		if err != nil {
			t.Fatalf("pick: %v", err)
		}
		if task.ID != 3 {
			t.Fatalf("inactive task assigned: %d", task.ID)
		}
	}
}

func TestPickCandidate_CatalogEmpty(t *testing.T) {
	if _, err := PickCandidate(nil, nil, "user-1", "2026-09-01"); err != ErrCatalogEmpty {
		t.Fatalf("want ErrCatalogEmpty, got %v", err)
	}

	inactive := makeCatalog(2)
	inactive[0].Active = false
	inactive[1].Active = false
	if _, err := PickCandidate(inactive, nil, "user-1", "2026-09-01"); err != ErrCatalogEmpty {
		t.Fatalf("want ErrCatalogEmpty for all-inactive catalog, got %v", err)
	}
}
