// Package catalog provides a read-only view over the active task set with
// deterministic candidate selection.
//
// Selection is seeded by a stable hash of (userID, date) rather than an
// unseeded random source, so concurrent or duplicate trigger invocations for
// the same user-day converge on the same task before persistence is even
// consulted.
package catalog

import (
	"errors"
	"hash/fnv"
	"math/rand/v2"
	"sort"

	"github.com/dailydeed/dailydeed-scheduler/internal/store"
)

// ErrCatalogEmpty is returned when there are zero active tasks. An exhausted
// exclusion set never produces this — the exclusion constraint is relaxed
// instead, so the experience is never blocked by a full history window.
var ErrCatalogEmpty = errors.New("catalog: no active tasks")

// PickCandidate selects a task for (userID, date) uniformly among active
// tasks whose ID is not in excludedIDs. If the exclusion set covers the
// entire active catalog, selection falls back to the full active set.
func PickCandidate(tasks []store.Task, excludedIDs map[int]bool, userID, date string) (store.Task, error) {
	active := make([]store.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Active {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		return store.Task{}, ErrCatalogEmpty
	}

	candidates := make([]store.Task, 0, len(active))
	for _, t := range active {
		if !excludedIDs[t.ID] {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		candidates = active // history window exhausted the catalog
	}

	// Stable ordering so the seeded index is reproducible regardless of
	// input order.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	rng := rand.New(rand.NewPCG(seed(userID, date), seed(date, userID)))
	return candidates[rng.IntN(len(candidates))], nil
}

// seed derives a stable 64-bit seed from two strings.
func seed(a, b string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(a))
	h.Write([]byte{'|'})
	h.Write([]byte(b))
	return h.Sum64()
}
