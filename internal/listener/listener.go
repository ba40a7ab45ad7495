// Package listener provides a Postgres LISTEN/NOTIFY consumer for completion
// events. It holds a dedicated pgx connection (not from the pool) listening
// on the `deed_completed` channel.
//
// When a user marks their daily deed complete, the Postgres trigger fires
// pg_notify and this consumer receives the event and issues the global
// counter increments. The scheduler core itself only ever reads the
// completed flag.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dailydeed/dailydeed-scheduler/internal/store"
)

const (
	channel          = "deed_completed"
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// CompletionEvent is the JSON payload from pg_notify('deed_completed', ...).
type CompletionEvent struct {
	UserID       string `json:"user_id"`
	AssignedDate string `json:"assigned_date"`
	TaskID       int    `json:"task_id"`
	Timestamp    int64  `json:"ts"`
}

// Start opens a dedicated connection and listens on the deed_completed
// channel. It reconnects automatically on connection loss. Blocks until ctx
// is cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, pool *pgxpool.Pool, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, pool, logger)
		if ctx.Err() != nil {
			logger.Info("completion listener stopped (context cancelled)")
			return
		}

		logger.Error("completion listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, pool *pgxpool.Pool, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+channel)
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", channel, err)
	}
	logger.Info("completion listener connected", "channel", channel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		var event CompletionEvent
		if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
			logger.Warn("failed to parse completion event",
				"payload", notification.Payload, "error", err)
			continue
		}

		logger.Info("deed completed",
			"user_id", event.UserID,
			"date", event.AssignedDate,
			"task_id", event.TaskID)

		// Increment-only intent; the store applies it atomically, so this
		// can run async without lost updates.
		go func() {
			if err := store.IncrementCompleted(ctx, pool); err != nil {
				logger.Warn("counter increment failed", "user_id", event.UserID, "error", err)
			}
		}()
	}
}
