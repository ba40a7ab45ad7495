package push

import (
	"context"
	"log/slog"
)

// FCMSender sends push notifications via Firebase Cloud Messaging.
// Nil-safe: when not configured, all methods are no-ops.
type FCMSender struct {
	credentialsFile string
	logger          *slog.Logger
	// TODO: Add firebase.google.com/go/v4/messaging.Client when the FCM
	// dependency is added. For now this is a structured placeholder that
	// logs send attempts and reports success for every recipient.
}

// NewFCMSender creates an FCM sender from a service account credentials file.
// Returns nil if credentialsFile is empty (notifications disabled).
func NewFCMSender(credentialsFile string, logger *slog.Logger) *FCMSender {
	if credentialsFile == "" {
		return nil
	}
	return &FCMSender{
		credentialsFile: credentialsFile,
		logger:          logger,
	}
}

// SendEach delivers one message per recipient token and returns outcomes
// aligned to the input order.
// When the FCM client is integrated, this will call SendEach /
// SendEachForMulticast and map messaging error codes onto Status values
// (registration-token-not-registered → StatusNotRegistered, quota and
// unavailable errors → StatusTransient).
func (s *FCMSender) SendEach(ctx context.Context, msgs []Message) ([]Outcome, error) {
	if s == nil {
		return nil, nil // no-op when not configured
	}

	s.logger.Info("FCM send (pending integration)", "recipients", len(msgs))

	outcomes := make([]Outcome, len(msgs))
	for i := range outcomes {
		outcomes[i] = Outcome{Status: StatusSuccess}
	}
	return outcomes, nil
}
