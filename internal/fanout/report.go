package fanout

import (
	"fmt"
	"time"
)

// Report tracks the outcome of one fan-out run.
type Report struct {
	RunID        string
	Recipients   int
	Batches      int
	Sent         int // success attempts newly recorded
	Duplicates   int // deliveries whose user-day was already recorded
	Permanent    int // tokens pruned after permanent failure
	Transient    int // recipients deferred to the next window
	CallFailures int // recipients lost to failed transport calls
	Duration     time.Duration
	Errors       []string
}

// Summary returns a human-readable summary.
func (r *Report) Summary() string {
	return fmt.Sprintf(
		"recipients=%d batches=%d sent=%d dup=%d permanent=%d transient=%d call_failed=%d dur=%s",
		r.Recipients, r.Batches, r.Sent, r.Duplicates, r.Permanent,
		r.Transient, r.CallFailures, r.Duration.Round(time.Millisecond))
}

// batchResult is the per-batch tally merged into the report under lock.
type batchResult struct {
	sent         int
	duplicates   int
	permanent    int
	transient    int
	callFailures int
	errors       []string
}

func (r *Report) merge(b batchResult) {
	r.Sent += b.sent
	r.Duplicates += b.duplicates
	r.Permanent += b.permanent
	r.Transient += b.transient
	r.CallFailures += b.callFailures
	r.Errors = append(r.Errors, b.errors...)
}
