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

// Package models defines the domain types shared across the orchestration core.
package models

import "time"

// TaskStatus enumerates the task lifecycle states.
type TaskStatus string

const (
	TaskStatusCreated              TaskStatus = "created"
	TaskStatusQueued               TaskStatus = "queued"
	TaskStatusAssigned             TaskStatus = "assigned"
	TaskStatusInProgress           TaskStatus = "in_progress"
	TaskStatusAwaitingConfirmation TaskStatus = "awaiting_confirmation"
	TaskStatusCompleted            TaskStatus = "completed"
	TaskStatusFailed               TaskStatus = "failed"
	TaskStatusCancelled            TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are permitted from s.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Failure reason codes surfaced on a failed or cancelled task.
const (
	ReasonDeviceUnreachable = "device_unreachable"
	ReasonAutoCancelled     = "auto_cancelled"
	ReasonApprovalRejected  = "approval_rejected"
	ReasonActionFailed      = "action_failed"
	ReasonRiskSuppressed    = "risk_suppressed"
)

// Action is a single step of a task. Params is opaque to the core and is
// interpreted only by the device.
type Action struct {
	ActionID string                 `json:"action_id"`
	Type     string                 `json:"type"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

// ActionResult is the per-action outcome reported by a device in a
// task.result frame.
type ActionResult struct {
	ActionID    string                 `json:"action_id"`
	Status      string                 `json:"status"`
	ArtifactURL string                 `json:"artifact_url,omitempty"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
}

// Succeeded reports whether the device considered the action successful.
func (r *ActionResult) Succeeded() bool {
	switch r.Status {
	case "done", "ok", "success":
		return true
	default:
		return false
	}
}

// Task is the unit of work requested by a user for a specific device.
// The ID is immutable once assigned and tasks are never physically deleted;
// they only reach a terminal status.
type Task struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	DeviceID        string          `json:"device_id"`
	Title           string          `json:"title,omitempty"`
	Description     string          `json:"description,omitempty"`
	Actions         []Action        `json:"actions"`
	Status          TaskStatus      `json:"status"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	Risk            *RiskAssessment `json:"risk,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	Results         []ActionResult  `json:"results,omitempty"`
	ScheduledTaskID string          `json:"scheduled_task_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// RiskLevel classifies how dangerous a task's action list is.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// Rank orders risk levels so they can be compared.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLevelMedium:
		return 1
	case RiskLevelHigh:
		return 2
	case RiskLevelCritical:
		return 3
	default:
		return 0
	}
}

// RiskAssessment is the outcome of risk analysis over a task's actions.
type RiskAssessment struct {
	Level            RiskLevel `json:"level"`
	Reasons          []string  `json:"reasons,omitempty"`
	Confidence       float64   `json:"confidence"`
	RequiresApproval bool      `json:"requires_approval"`
}
