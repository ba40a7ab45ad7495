// Package push defines the multicast delivery transport consumed by the
// fan-out dispatcher, plus the FCM-backed implementation.
package push

import "context"

// Status classifies a per-recipient delivery outcome.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusInvalidToken  Status = "invalid-token"  // permanent: token malformed
	StatusNotRegistered Status = "not-registered" // permanent: app uninstalled
	StatusTransient     Status = "transient"      // rate limit or backend hiccup
)

// Permanent reports whether the outcome means the token will never work
// again and should be pruned.
func (s Status) Permanent() bool {
	return s == StatusInvalidToken || s == StatusNotRegistered
}

// Message is one (token, payload) pair handed to the transport.
type Message struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// Outcome is the per-recipient result, aligned by input index.
type Outcome struct {
	Status Status
	Detail string
}

// Multicast is the batched push-delivery primitive. Implementations enforce
// an upper bound on len(msgs) per call; the dispatcher partitions to fit.
// The returned slice is always len(msgs) when err is nil.
type Multicast interface {
	SendEach(ctx context.Context, msgs []Message) ([]Outcome, error)
}
