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

package models

import "time"

// ScheduledTask is a recurring task template evaluated by the scheduler.
// NextRun is always the minimal timestamp >= now satisfying the cron
// expression while IsActive; toggling inactive stops future evaluation
// without deleting history.
type ScheduledTask struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	DeviceID       string     `json:"device_id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	CronExpression string     `json:"cron_expression"`
	Actions        []Action   `json:"actions"`
	IsActive       bool       `json:"is_active"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	NextRun        *time.Time `json:"next_run,omitempty"`
	RunCount       int        `json:"run_count"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ApprovalRequest is the sub-state of a task while it sits in
// awaiting_confirmation. Exactly one decision outcome (approve, reject or
// timeout) may ever be applied.
type ApprovalRequest struct {
	TaskID     string    `json:"task_id"`
	Level      RiskLevel `json:"level"`
	Reasons    []string  `json:"reasons,omitempty"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	Deadline   time.Time `json:"deadline"`
}

// Webhook is an event subscription owned by a user. Delivery attempts never
// block the originating state transition.
type Webhook struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
