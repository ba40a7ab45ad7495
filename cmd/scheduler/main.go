// Command scheduler is the DailyDeed scheduler CLI.
//
// It runs one-shot invocations of the jobs the api binary runs continuously,
// plus catalog management.
//
// Usage:
//
//	dailydeed-scheduler run
//	dailydeed-scheduler run --at 2026-09-01T09:00:00Z
//	dailydeed-scheduler assign --user u123
//	dailydeed-scheduler catalog list
//	dailydeed-scheduler catalog seed --file tasks.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dailydeed/dailydeed-scheduler/internal/config"
	"github.com/dailydeed/dailydeed-scheduler/internal/db"
	"github.com/dailydeed/dailydeed-scheduler/internal/fanout"
	"github.com/dailydeed/dailydeed-scheduler/internal/push"
	"github.com/dailydeed/dailydeed-scheduler/internal/scheduler"
	"github.com/dailydeed/dailydeed-scheduler/internal/store"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "dailydeed-scheduler",
		Short: "DailyDeed scheduler CLI",
	}

	root.AddCommand(runCmd())
	root.AddCommand(assignCmd())
	root.AddCommand(catalogCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// run command
// --------------------------------------------------------------------------

func runCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one scheduler tick (eligibility, assignment, fan-out)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				now, err := triggerTime(at)
				if err != nil {
					return err
				}

				var sender push.Multicast
				if fcm := push.NewFCMSender(cfg.FCMCredentialsFile, logger); fcm != nil {
					sender = fcm
				} else {
					logger.Info("Push delivery disabled (no FIREBASE_CREDENTIALS_FILE)")
				}

				sched := scheduler.New(pool.Pool, cfg, sender, logger)
				start := time.Now()
				report, err := sched.RunTick(ctx, now)
				if errors.Is(err, fanout.ErrTransportOutage) {
					logger.Error("tick finished with transport outage", "summary", report.Summary())
					return err
				}
				if err != nil {
					return err
				}
				logger.Info("tick finished",
					"duration", time.Since(start).Round(time.Millisecond),
					"summary", report.Summary())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Trigger time, RFC3339 (default: now)")
	return cmd
}

// --------------------------------------------------------------------------
// assign command
// --------------------------------------------------------------------------

func assignCmd() *cobra.Command {
	var userID, at string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Compute (or fetch) the daily assignment for one user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			return withDeps(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				now, err := triggerTime(at)
				if err != nil {
					return err
				}

				sched := scheduler.New(pool.Pool, cfg, nil, logger)
				assigned, err := sched.AssignUser(ctx, userID, now)
				if err != nil {
					return err
				}
				logger.Info("assignment",
					"user_id", assigned.UserID,
					"date", assigned.Date,
					"task_id", assigned.TaskID,
					"completed", assigned.Completed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	cmd.Flags().StringVar(&at, "at", "", "Trigger time, RFC3339 (default: now)")
	return cmd
}

// --------------------------------------------------------------------------
// catalog commands
// --------------------------------------------------------------------------

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the deed catalog",
	}
	cmd.AddCommand(catalogListCmd())
	cmd.AddCommand(catalogSeedCmd())
	return cmd
}

func catalogListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the active catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				tasks, err := store.ActiveTasks(ctx, pool.Pool)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					fmt.Printf("%4d  [%s/%d]  %s\n", t.ID, t.Category, t.Difficulty, t.TextFor("en"))
				}
				logger.Info("catalog listed", "active", len(tasks))
				return nil
			})
		},
	}
}

func catalogSeedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert catalog entries from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			return withDeps(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				raw, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
				var tasks []store.Task
				if err := json.Unmarshal(raw, &tasks); err != nil {
					return fmt.Errorf("parse %s: %w", file, err)
				}

				start := time.Now()
				var upserted int
				for i, t := range tasks {
					if t.Text["en"] == "" {
						logger.Error("entry missing en text, skipping", "index", i, "id", t.ID)
						continue
					}
					id, err := store.UpsertTask(ctx, pool.Pool, t)
					if err != nil {
						logger.Error("upsert failed", "index", i, "id", t.ID, "error", err)
						continue
					}
					upserted++
					logger.Info("upserted", "id", id, "category", t.Category)
				}
				logger.Info("catalog seed finished",
					"duration", time.Since(start).Round(time.Millisecond),
					"total", len(tasks),
					"upserted", upserted)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Path to catalog JSON file")
	return cmd
}

// --------------------------------------------------------------------------
// helpers
// --------------------------------------------------------------------------

// withDeps loads config, connects the pool, and runs fn with signal-aware
// context. Shared by every subcommand.
func withDeps(fn func(ctx context.Context, cfg *config.Config, pool *db.Pool) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := db.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, cfg, pool)
}

func triggerTime(at string) (time.Time, error) {
	if at == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --at: %w", err)
	}
	return t.UTC(), nil
}
