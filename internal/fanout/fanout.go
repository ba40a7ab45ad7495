// Package fanout delivers daily reminders to the eligible cohort through the
// multicast push transport and reconciles per-recipient outcomes.
//
// Recipients are partitioned into transport-sized batches and dispatched by a
// bounded worker pool. The durable notification_attempts records — not the
// in-memory candidate set — are the authority for "already sent": a killed
// invocation resumes safely because recorded attempts stand and the next
// eligibility pass skips them.
package fanout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dailydeed/dailydeed-scheduler/internal/push"
)

// ErrTransportOutage means every recipient in every batch failed to deliver.
// Fatal for the invocation; the next scheduled tick retries naturally.
var ErrTransportOutage = errors.New("fanout: total transport outage")

// Store is the minimal persistence view the dispatcher needs.
type Store interface {
	RecordSuccessAttempt(ctx context.Context, userID, date, token string) (bool, error)
	RecordTransientAttempt(ctx context.Context, userID, date, token string) error
	DeactivateToken(ctx context.Context, token string) error
}

// Recipient is one deliverable (user, token) pair with its payload. A user
// with several devices appears once per token; their success attempt is
// recorded at most once per local date regardless.
type Recipient struct {
	UserID    string
	LocalDate string
	Message   push.Message
}

// Dispatcher fans a cohort out across the multicast transport.
type Dispatcher struct {
	Store     Store
	Sender    push.Multicast
	BatchSize int // transport upper bound per call
	Workers   int // bounded parallelism across batches
	Logger    *slog.Logger
}

// Dispatch sends to all recipients and reconciles outcomes. Partial batch
// failure never aborts later batches; only a total outage is escalated.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []Recipient) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.NewString(), Recipients: len(recipients)}

	if len(recipients) == 0 {
		report.Duration = time.Since(start)
		return report, nil
	}

	batches := partition(recipients, d.batchSize())
	report.Batches = len(batches)

	workers := d.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(batches) {
		workers = len(batches)
	}

	ch := make(chan []Recipient, len(batches))
	for _, b := range batches {
		ch <- b
	}
	close(ch)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range ch {
				r := d.sendBatch(ctx, batch)
				mu.Lock()
				report.merge(r)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	report.Duration = time.Since(start)

	d.Logger.Info("fan-out complete", "run_id", report.RunID, "summary", report.Summary())

	// Permanent token failures are the transport working as designed; an
	// outage is when nothing got through and every miss was transient or a
	// failed transport call.
	if report.Sent == 0 && report.Duplicates == 0 && report.Permanent == 0 &&
		report.Transient+report.CallFailures == report.Recipients {
		return report, ErrTransportOutage
	}
	return report, nil
}

// sendBatch dispatches one batch and records outcomes.
func (d *Dispatcher) sendBatch(ctx context.Context, batch []Recipient) batchResult {
	var r batchResult

	msgs := make([]push.Message, len(batch))
	for i, rec := range batch {
		msgs[i] = rec.Message
	}

	outcomes, err := d.Sender.SendEach(ctx, msgs)
	if err != nil {
		// Call-level failure: every recipient in this batch stays eligible
		// for the next window.
		d.Logger.Warn("batch send failed", "recipients", len(batch), "error", err)
		r.callFailures = len(batch)
		r.errors = append(r.errors, err.Error())
		return r
	}

	for i, rec := range batch {
		if i >= len(outcomes) {
			// Defect in the transport; treat the tail as transient.
			r.callFailures++
			continue
		}
		switch out := outcomes[i]; {
		case out.Status == push.StatusSuccess:
			created, err := d.Store.RecordSuccessAttempt(ctx, rec.UserID, rec.LocalDate, rec.Message.Token)
			if err != nil {
				d.Logger.Warn("record success failed", "user_id", rec.UserID, "error", err)
				r.errors = append(r.errors, err.Error())
				continue
			}
			if created {
				r.sent++
			} else {
				// Another device or overlapping window already recorded
				// this user-day.
				r.duplicates++
			}

		case out.Status.Permanent():
			if err := d.Store.DeactivateToken(ctx, rec.Message.Token); err != nil {
				d.Logger.Warn("token prune failed", "user_id", rec.UserID, "error", err)
				r.errors = append(r.errors, err.Error())
			}
			r.permanent++

		default: // transient
			if err := d.Store.RecordTransientAttempt(ctx, rec.UserID, rec.LocalDate, rec.Message.Token); err != nil {
				d.Logger.Warn("record transient failed", "user_id", rec.UserID, "error", err)
				r.errors = append(r.errors, err.Error())
			}
			r.transient++
		}
	}
	return r
}

func (d *Dispatcher) batchSize() int {
	if d.BatchSize > 0 {
		return d.BatchSize
	}
	return 500
}

// partition splits recipients into transport-sized chunks.
func partition(recipients []Recipient, size int) [][]Recipient {
	var batches [][]Recipient
	for len(recipients) > size {
		batches = append(batches, recipients[:size])
		recipients = recipients[size:]
	}
	return append(batches, recipients)
}
