// Package db provides a pgxpool-based connection pool with prepared statement
// registration and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dailydeed/dailydeed-scheduler/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// registerPreparedStatements registers all statements the scheduler and API
// layers use. Prepared statements eliminate parse overhead on every request.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Catalog
		"active_tasks": `
			SELECT id, text, category, difficulty
			FROM tasks WHERE active = true ORDER BY id`,
		"task_by_id": `
			SELECT id, text, category, difficulty, active
			FROM tasks WHERE id = $1`,

		// Users (tokens joined fresh each run — profiles may change)
		"notifiable_users": `
			SELECT u.id, u.timezone, u.notify_minutes, u.locale,
			       COALESCE(array_agg(d.token) FILTER (WHERE d.is_active), '{}')
			FROM users u
			LEFT JOIN user_devices d ON d.user_id = u.id
			WHERE u.notifications_enabled = true
			GROUP BY u.id`,
		"user_by_id": `
			SELECT u.id, u.timezone, u.notify_minutes, u.locale,
			       COALESCE(array_agg(d.token) FILTER (WHERE d.is_active), '{}')
			FROM users u
			LEFT JOIN user_devices d ON d.user_id = u.id
			WHERE u.id = $1
			GROUP BY u.id`,
		"deactivate_token": `
			UPDATE user_devices SET is_active = false, updated_at = NOW()
			WHERE token = $1`,

		// Assignments
		"assignment_get": `
			SELECT user_id, to_char(assigned_date, 'YYYY-MM-DD'), task_id,
			       assigned_at, completed, completed_at
			FROM daily_assignments
			WHERE user_id = $1 AND assigned_date = $2::date`,
		"assignment_create": `
			INSERT INTO daily_assignments (user_id, assigned_date, task_id, assigned_at)
			VALUES ($1, $2::date, $3, NOW())
			ON CONFLICT (user_id, assigned_date) DO NOTHING`,
		"assignment_recent_tasks": `
			SELECT task_id FROM daily_assignments
			WHERE user_id = $1
			  AND assigned_date >= $2::date - $3::int
			  AND assigned_date < $2::date`,
		"assignment_complete": `
			UPDATE daily_assignments
			SET completed = true, completed_at = NOW()
			WHERE user_id = $1 AND assigned_date = $2::date AND completed = false`,

		// Notification attempts
		"attempt_success_create": `
			INSERT INTO notification_attempts (user_id, attempt_date, outcome, token_used)
			VALUES ($1, $2::date, 'success', $3)
			ON CONFLICT (user_id, attempt_date) WHERE outcome = 'success' DO NOTHING`,
		"attempt_transient_create": `
			INSERT INTO notification_attempts (user_id, attempt_date, outcome, token_used)
			VALUES ($1, $2::date, 'transient', $3)`,
		"attempt_success_exists": `
			SELECT EXISTS (
				SELECT 1 FROM notification_attempts
				WHERE user_id = $1 AND attempt_date = $2::date AND outcome = 'success')`,
		"attempt_transient_count": `
			SELECT COUNT(*) FROM notification_attempts
			WHERE user_id = $1 AND attempt_date = $2::date AND outcome = 'transient'`,

		// Global counters — increment-only intents, never read-modify-write
		"counters_increment_completed": `
			UPDATE global_counters
			SET total_completed = total_completed + 1,
			    today_completed = today_completed + 1
			WHERE id = 1`,
		"counters_get": `
			SELECT total_completed, today_completed, to_char(today_date, 'YYYY-MM-DD')
			FROM global_counters WHERE id = 1`,

		// Stats for the ops API
		"stats_today": `
			SELECT
				(SELECT COUNT(*) FROM daily_assignments WHERE assigned_date = $1::date),
				(SELECT COUNT(*) FROM daily_assignments WHERE assigned_date = $1::date AND completed),
				(SELECT COUNT(*) FROM notification_attempts WHERE attempt_date = $1::date AND outcome = 'success')`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
