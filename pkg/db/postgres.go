/*
 * Copyright 2025 Skygen AI.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/logger"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Service on top of a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// NewPostgresStore dials the configured database and returns a pooled store.
func NewPostgresStore(ctx context.Context, cfg *models.DatabaseConfig, log logger.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool, logger: log}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()

	return nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, task *models.Task) error {
	actions, err := json.Marshal(task.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal task actions: %w", err)
	}

	risk, err := marshalNullable(task.Risk)
	if err != nil {
		return fmt.Errorf("failed to marshal task risk: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (
			id, user_id, device_id, title, description, actions, status,
			idempotency_key, risk, failure_reason, scheduled_task_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, NULLIF($11, ''), $12, $13)`,
		task.ID, task.UserID, task.DeviceID, task.Title, task.Description,
		actions, task.Status, task.IdempotencyKey, risk, task.FailureReason,
		task.ScheduledTaskID, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateIdempotencyKey
		}

		return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
	}

	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, device_id, title, description, actions, status,
			COALESCE(idempotency_key, ''), risk, failure_reason, results,
			COALESCE(scheduled_task_id, ''), created_at, updated_at
		FROM tasks WHERE id = $1`, id)

	return scanTask(row)
}

func (s *PostgresStore) GetTaskByIdempotencyKey(ctx context.Context, userID, key string) (*models.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, device_id, title, description, actions, status,
			COALESCE(idempotency_key, ''), risk, failure_reason, results,
			COALESCE(scheduled_task_id, ''), created_at, updated_at
		FROM tasks WHERE user_id = $1 AND idempotency_key = $2`, userID, key)

	return scanTask(row)
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task *models.Task) error {
	risk, err := marshalNullable(task.Risk)
	if err != nil {
		return fmt.Errorf("failed to marshal task risk: %w", err)
	}

	var results []byte
	if task.Results != nil {
		results, err = json.Marshal(task.Results)
		if err != nil {
			return fmt.Errorf("failed to marshal task results: %w", err)
		}
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $2, risk = $3, failure_reason = $4,
			results = $5, updated_at = $6
		WHERE id = $1`,
		task.ID, task.Status, risk, task.FailureReason, results, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", task.ID, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStore) ListPendingTasks(ctx context.Context, deviceID string) ([]*models.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, device_id, title, description, actions, status,
			COALESCE(idempotency_key, ''), risk, failure_reason, results,
			COALESCE(scheduled_task_id, ''), created_at, updated_at
		FROM tasks
		WHERE device_id = $1 AND status IN ('queued', 'assigned')
		ORDER BY created_at`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending tasks for device %s: %w", deviceID, err)
	}
	defer rows.Close()

	var tasks []*models.Task

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}

		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task          models.Task
		actions, risk []byte
		results       []byte
	)

	err := row.Scan(
		&task.ID, &task.UserID, &task.DeviceID, &task.Title, &task.Description,
		&actions, &task.Status, &task.IdempotencyKey, &risk,
		&task.FailureReason, &results, &task.ScheduledTaskID,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	if err := json.Unmarshal(actions, &task.Actions); err != nil {
		return nil, fmt.Errorf("failed to decode task actions: %w", err)
	}

	if len(risk) > 0 {
		task.Risk = &models.RiskAssessment{}
		if err := json.Unmarshal(risk, task.Risk); err != nil {
			return nil, fmt.Errorf("failed to decode task risk: %w", err)
		}
	}

	if len(results) > 0 {
		if err := json.Unmarshal(results, &task.Results); err != nil {
			return nil, fmt.Errorf("failed to decode task results: %w", err)
		}
	}

	return &task, nil
}

func (s *PostgresStore) CreateDevice(ctx context.Context, device *models.Device) error {
	capabilities, err := json.Marshal(device.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal device capabilities: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO devices (id, user_id, name, platform, capabilities, enrolled_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		device.ID, device.UserID, device.Name, device.Platform,
		capabilities, device.EnrolledAt, device.Revoked,
	)
	if err != nil {
		return fmt.Errorf("failed to insert device %s: %w", device.ID, err)
	}

	return nil
}

func (s *PostgresStore) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	var (
		device       models.Device
		capabilities []byte
	)

	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, name, platform, capabilities, enrolled_at, last_seen, revoked
		FROM devices WHERE id = $1`, id).Scan(
		&device.ID, &device.UserID, &device.Name, &device.Platform,
		&capabilities, &device.EnrolledAt, &device.LastSeen, &device.Revoked,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get device %s: %w", id, err)
	}

	if len(capabilities) > 0 {
		if err := json.Unmarshal(capabilities, &device.Capabilities); err != nil {
			return nil, fmt.Errorf("failed to decode device capabilities: %w", err)
		}
	}

	return &device, nil
}

func (s *PostgresStore) UpdateDeviceLastSeen(ctx context.Context, id string, lastSeen time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE devices SET last_seen = $2 WHERE id = $1`, id, lastSeen)
	if err != nil {
		return fmt.Errorf("failed to update device %s last_seen: %w", id, err)
	}

	return nil
}

func (s *PostgresStore) CreateScheduledTask(ctx context.Context, st *models.ScheduledTask) error {
	actions, err := json.Marshal(st.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule actions: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO scheduled_tasks (
			id, user_id, device_id, name, description, cron_expression,
			actions, is_active, last_run, next_run, run_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		st.ID, st.UserID, st.DeviceID, st.Name, st.Description,
		st.CronExpression, actions, st.IsActive, st.LastRun, st.NextRun,
		st.RunCount, st.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert scheduled task %s: %w", st.ID, err)
	}

	return nil
}

func (s *PostgresStore) GetScheduledTask(ctx context.Context, id string) (*models.ScheduledTask, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, device_id, name, description, cron_expression,
			actions, is_active, last_run, next_run, run_count, created_at
		FROM scheduled_tasks WHERE id = $1`, id)

	return scanScheduledTask(row)
}

func (s *PostgresStore) ListDueScheduledTasks(ctx context.Context, now time.Time) ([]*models.ScheduledTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, device_id, name, description, cron_expression,
			actions, is_active, last_run, next_run, run_count, created_at
		FROM scheduled_tasks
		WHERE is_active AND (next_run IS NULL OR next_run <= $1)
		ORDER BY next_run NULLS FIRST`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due scheduled tasks: %w", err)
	}
	defer rows.Close()

	var due []*models.ScheduledTask

	for rows.Next() {
		st, err := scanScheduledTask(rows)
		if err != nil {
			return nil, err
		}

		due = append(due, st)
	}

	return due, rows.Err()
}

func (s *PostgresStore) UpdateScheduledTask(ctx context.Context, st *models.ScheduledTask) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_tasks SET is_active = $2, last_run = $3,
			next_run = $4, run_count = $5
		WHERE id = $1`,
		st.ID, st.IsActive, st.LastRun, st.NextRun, st.RunCount,
	)
	if err != nil {
		return fmt.Errorf("failed to update scheduled task %s: %w", st.ID, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func scanScheduledTask(row rowScanner) (*models.ScheduledTask, error) {
	var (
		st      models.ScheduledTask
		actions []byte
	)

	err := row.Scan(
		&st.ID, &st.UserID, &st.DeviceID, &st.Name, &st.Description,
		&st.CronExpression, &actions, &st.IsActive, &st.LastRun,
		&st.NextRun, &st.RunCount, &st.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to scan scheduled task: %w", err)
	}

	if err := json.Unmarshal(actions, &st.Actions); err != nil {
		return nil, fmt.Errorf("failed to decode schedule actions: %w", err)
	}

	return &st, nil
}

func (s *PostgresStore) CreateWebhook(ctx context.Context, webhook *models.Webhook) error {
	events, err := json.Marshal(webhook.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook events: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO webhooks (id, user_id, name, url, secret, events, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		webhook.ID, webhook.UserID, webhook.Name, webhook.URL,
		webhook.Secret, events, webhook.IsActive, webhook.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert webhook %s: %w", webhook.ID, err)
	}

	return nil
}

func (s *PostgresStore) DeleteWebhook(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook %s: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStore) ListActiveWebhooks(ctx context.Context, userID string) ([]*models.Webhook, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, name, url, secret, events, is_active, created_at
		FROM webhooks WHERE user_id = $1 AND is_active`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks for user %s: %w", userID, err)
	}
	defer rows.Close()

	var webhooks []*models.Webhook

	for rows.Next() {
		var (
			w      models.Webhook
			events []byte
		)

		if err := rows.Scan(&w.ID, &w.UserID, &w.Name, &w.URL, &w.Secret,
			&events, &w.IsActive, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}

		if err := json.Unmarshal(events, &w.Events); err != nil {
			return nil, fmt.Errorf("failed to decode webhook events: %w", err)
		}

		webhooks = append(webhooks, &w)
	}

	return webhooks, rows.Err()
}

func marshalNullable(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case *models.RiskAssessment:
		if t == nil {
			return nil, nil
		}
	}

	return json.Marshal(v)
}

var _ Service = (*PostgresStore)(nil)
