package fanout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/dailydeed/dailydeed-scheduler/internal/push"
)

// fakeAttempts mirrors the conditional-create semantics of the Postgres
// attempt store. Safe for concurrent use like the real pool.
type fakeAttempts struct {
	mu         sync.Mutex
	success    map[string]bool // userID|date
	transients map[string]int
	pruned     map[string]bool // token
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{
		success:    make(map[string]bool),
		transients: make(map[string]int),
		pruned:     make(map[string]bool),
	}
}

func (f *fakeAttempts) RecordSuccessAttempt(_ context.Context, userID, date, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := userID + "|" + date
	if f.success[k] {
		return false, nil
	}
	f.success[k] = true
	return true, nil
}

func (f *fakeAttempts) RecordTransientAttempt(_ context.Context, userID, date, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transients[userID+"|"+date]++
	return nil
}

func (f *fakeAttempts) DeactivateToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned[token] = true
	return nil
}

// scriptedSender returns scripted outcomes keyed by token, success otherwise.
type scriptedSender struct {
	mu       sync.Mutex
	outcomes map[string]push.Status
	err      error
	calls    int
	maxSeen  int
}

func (s *scriptedSender) SendEach(_ context.Context, msgs []push.Message) ([]push.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(msgs) > s.maxSeen {
		s.maxSeen = len(msgs)
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([]push.Outcome, len(msgs))
	for i, m := range msgs {
		status, ok := s.outcomes[m.Token]
		if !ok {
			status = push.StatusSuccess
		}
		out[i] = push.Outcome{Status: status}
	}
	return out, nil
}

func testDispatcher(store Store, sender push.Multicast) *Dispatcher {
	return &Dispatcher{
		Store:     store,
		Sender:    sender,
		BatchSize: 500,
		Workers:   2,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func recipient(userID, token string) Recipient {
	return Recipient{
		UserID:    userID,
		LocalDate: "2026-09-01",
		Message:   push.Message{Token: token, Title: "DailyDeed", Body: "time for today's deed"},
	}
}

func TestDispatch_RecordsSuccessPerUserDay(t *testing.T) {
	attempts := newFakeAttempts()
	d := testDispatcher(attempts, &scriptedSender{})

	report, err := d.Dispatch(context.Background(), []Recipient{
		recipient("u1", "t1"),
		recipient("u2", "t2"),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Sent != 2 {
		t.Fatalf("want 2 sent, got %d", report.Sent)
	}
	if !attempts.success["u1|2026-09-01"] || !attempts.success["u2|2026-09-01"] {
		t.Fatalf("success attempts not recorded: %v", attempts.success)
	}
}

func TestDispatch_AtMostOnePerUserDay(t *testing.T) {
	attempts := newFakeAttempts()
	d := testDispatcher(attempts, &scriptedSender{})
	recipients := []Recipient{recipient("u1", "t1")}

	if _, err := d.Dispatch(context.Background(), recipients); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	report, err := d.Dispatch(context.Background(), recipients)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if report.Sent != 0 || report.Duplicates != 1 {
		t.Fatalf("second run must dedup: sent=%d dup=%d", report.Sent, report.Duplicates)
	}
	if len(attempts.success) != 1 {
		t.Fatalf("want exactly one success attempt, got %d", len(attempts.success))
	}
}

func TestDispatch_FailureIsolation(t *testing.T) {
	attempts := newFakeAttempts()
	sender := &scriptedSender{outcomes: map[string]push.Status{"t2": push.StatusInvalidToken}}
	d := testDispatcher(attempts, sender)

	report, err := d.Dispatch(context.Background(), []Recipient{
		recipient("u1", "t1"),
		recipient("u2", "t2"),
		recipient("u3", "t3"),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Sent != 2 || report.Permanent != 1 {
		t.Fatalf("want sent=2 permanent=1, got sent=%d permanent=%d", report.Sent, report.Permanent)
	}
	if !attempts.success["u1|2026-09-01"] || !attempts.success["u3|2026-09-01"] {
		t.Fatalf("neighbors of the failed recipient lost their attempts")
	}
	if attempts.success["u2|2026-09-01"] {
		t.Fatalf("failed recipient must not get a success attempt")
	}
	if !attempts.pruned["t2"] || attempts.pruned["t1"] || attempts.pruned["t3"] {
		t.Fatalf("only t2 should be pruned, got %v", attempts.pruned)
	}
}

func TestDispatch_TransientDeferred(t *testing.T) {
	attempts := newFakeAttempts()
	sender := &scriptedSender{outcomes: map[string]push.Status{"t1": push.StatusTransient}}
	d := testDispatcher(attempts, sender)

	report, err := d.Dispatch(context.Background(), []Recipient{
		recipient("u1", "t1"),
		recipient("u2", "t2"),
	})
	if err != nil {
		t.Fatalf("partial transient failure escalated: %v", err)
	}
	if report.Transient != 1 || report.Sent != 1 {
		t.Fatalf("want transient=1 sent=1, got transient=%d sent=%d", report.Transient, report.Sent)
	}
	if attempts.success["u1|2026-09-01"] {
		t.Fatalf("transient recipient must not get a success attempt")
	}
	if attempts.transients["u1|2026-09-01"] != 1 {
		t.Fatalf("transient attempt not counted toward the retry cap")
	}
	if attempts.pruned["t1"] {
		t.Fatalf("transient failure must not prune the token")
	}
}

func TestDispatch_TotalOutage(t *testing.T) {
	attempts := newFakeAttempts()
	sender := &scriptedSender{err: errors.New("backend unavailable")}
	d := testDispatcher(attempts, sender)

	_, err := d.Dispatch(context.Background(), []Recipient{
		recipient("u1", "t1"),
		recipient("u2", "t2"),
	})
	if !errors.Is(err, ErrTransportOutage) {
		t.Fatalf("want ErrTransportOutage, got %v", err)
	}
}

func TestDispatch_AllTransientIsOutage(t *testing.T) {
	attempts := newFakeAttempts()
	sender := &scriptedSender{outcomes: map[string]push.Status{
		"t1": push.StatusTransient,
		"t2": push.StatusTransient,
	}}
	d := testDispatcher(attempts, sender)

	_, err := d.Dispatch(context.Background(), []Recipient{
		recipient("u1", "t1"),
		recipient("u2", "t2"),
	})
	if !errors.Is(err, ErrTransportOutage) {
		t.Fatalf("want ErrTransportOutage when nothing got through, got %v", err)
	}
}

func TestDispatch_RespectsBatchSize(t *testing.T) {
	attempts := newFakeAttempts()
	sender := &scriptedSender{}
	d := testDispatcher(attempts, sender)
	d.BatchSize = 10

	var recipients []Recipient
	for i := 0; i < 35; i++ {
		recipients = append(recipients, recipient(
			"u"+string(rune('a'+i%26))+string(rune('a'+i/26)), "t"+string(rune('a'+i%26))+string(rune('a'+i/26))))
	}

	report, err := d.Dispatch(context.Background(), recipients)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Batches != 4 {
		t.Fatalf("35 recipients at batch size 10: want 4 batches, got %d", report.Batches)
	}
	if sender.maxSeen > 10 {
		t.Fatalf("transport saw a batch of %d, above the bound", sender.maxSeen)
	}
	if sender.calls != 4 {
		t.Fatalf("want 4 transport calls, got %d", sender.calls)
	}
}

func TestDispatch_EmptyCohort(t *testing.T) {
	d := testDispatcher(newFakeAttempts(), &scriptedSender{})
	report, err := d.Dispatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("empty cohort: %v", err)
	}
	if report.Recipients != 0 || report.Batches != 0 {
		t.Fatalf("unexpected report for empty cohort: %s", report.Summary())
	}
}

func TestDispatch_MultiDeviceUserRecordedOnce(t *testing.T) {
	attempts := newFakeAttempts()
	d := testDispatcher(attempts, &scriptedSender{})
	d.Workers = 1 // deterministic ordering within a batch

	report, err := d.Dispatch(context.Background(), []Recipient{
		recipient("u1", "phone"),
		recipient("u1", "tablet"),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Sent != 1 || report.Duplicates != 1 {
		t.Fatalf("want one recorded attempt and one dedup, got sent=%d dup=%d", report.Sent, report.Duplicates)
	}
}
