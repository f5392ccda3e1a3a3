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

// Package db defines the durable store contract for tasks, devices,
// schedules and webhooks. The store holds no orchestration logic; all
// transition rules live in the state machine.
package db

import (
	"context"
	"time"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
)

// Service represents all database operations used by the orchestration core.
type Service interface {
	Close() error

	// Task operations.

	// CreateTask inserts a new task. If the task carries an idempotency key
	// already claimed by the same user, ErrDuplicateIdempotencyKey is
	// returned and no row is written.
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	// GetTaskByIdempotencyKey resolves a (user, key) claim to the existing
	// task. Returns ErrNotFound when the pair is unclaimed.
	GetTaskByIdempotencyKey(ctx context.Context, userID, key string) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	// ListPendingTasks returns tasks in queued or assigned status for a
	// device, oldest first. Used to flush backlog when a device connects.
	ListPendingTasks(ctx context.Context, deviceID string) ([]*models.Task, error)

	// Device operations.

	CreateDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, id string) (*models.Device, error)
	UpdateDeviceLastSeen(ctx context.Context, id string, lastSeen time.Time) error

	// Scheduled task operations.

	CreateScheduledTask(ctx context.Context, st *models.ScheduledTask) error
	GetScheduledTask(ctx context.Context, id string) (*models.ScheduledTask, error)
	// ListDueScheduledTasks returns active schedules whose next_run is at or
	// before now (or unset).
	ListDueScheduledTasks(ctx context.Context, now time.Time) ([]*models.ScheduledTask, error)
	UpdateScheduledTask(ctx context.Context, st *models.ScheduledTask) error

	// Webhook operations.

	CreateWebhook(ctx context.Context, webhook *models.Webhook) error
	DeleteWebhook(ctx context.Context, id string) error
	// ListActiveWebhooks returns the user's active subscriptions.
	ListActiveWebhooks(ctx context.Context, userID string) ([]*models.Webhook, error)
}
