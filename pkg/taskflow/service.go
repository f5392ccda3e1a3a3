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

// Package taskflow owns the task lifecycle: creation with idempotency-key
// deduplication, transition validation and per-task serialization.
package taskflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/db"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/logger"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/natsutil"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/risk"
)

// Hook is invoked after a transition has been persisted. Hooks must not
// block; long work belongs on the callee's own queue.
type Hook func(task *models.Task)

// Service is the task state machine. All status moves for a given task id
// are serialized through a sharded per-id lock so exactly one terminal
// status can ever win.
type Service struct {
	store    db.Service
	analyzer risk.Analyzer
	events   natsutil.EventSink
	logger   logger.Logger
	locks    idLocks

	onQueued           Hook         // dispatcher pickup
	onAwaiting         Hook         // approval gate scheduling
	onApprovalResolved func(string) // cancels the gate's deadline timer
}

// NewService creates the state machine. events may be nil in tests.
func NewService(store db.Service, analyzer risk.Analyzer, events natsutil.EventSink, log logger.Logger) *Service {
	return &Service{
		store:    store,
		analyzer: analyzer,
		events:   events,
		logger:   log,
	}
}

// SetQueuedHook registers the callback fired whenever a task enters queued,
// both on creation and on approval.
func (s *Service) SetQueuedHook(hook Hook) { s.onQueued = hook }

// SetApprovalHooks registers the approval gate callbacks: onAwaiting fires
// when a task enters awaiting_confirmation, onResolved fires when it leaves
// that state by any path.
func (s *Service) SetApprovalHooks(onAwaiting Hook, onResolved func(taskID string)) {
	s.onAwaiting = onAwaiting
	s.onApprovalResolved = onResolved
}

// CreateRequest carries the inputs of a task creation.
type CreateRequest struct {
	UserID          string
	DeviceID        string
	Title           string
	Description     string
	Actions         []models.Action
	IdempotencyKey  string
	ScheduledTaskID string
}

// Create allocates a new task, or returns the existing one when the
// (user, idempotency_key) pair is already claimed. Risk is evaluated
// synchronously: critical action lists are rejected with ErrRiskBlocked,
// high-risk tasks enter awaiting_confirmation, everything else is queued.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*models.Task, error) {
	if req.IdempotencyKey != "" {
		existing, err := s.store.GetTaskByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}

		if !errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("failed to resolve idempotency key: %w", err)
		}
	}

	assessment := s.analyzer.Analyze(req.Actions)
	if risk.ShouldBlock(assessment.Level) {
		return nil, fmt.Errorf("%w: %s", ErrRiskBlocked, assessment.Level)
	}

	status := models.TaskStatusQueued
	if assessment.RequiresApproval {
		status = models.TaskStatusAwaitingConfirmation
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		DeviceID:        req.DeviceID,
		Title:           req.Title,
		Description:     req.Description,
		Actions:         req.Actions,
		Status:          status,
		IdempotencyKey:  req.IdempotencyKey,
		Risk:            assessment,
		ScheduledTaskID: req.ScheduledTaskID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		if errors.Is(err, db.ErrDuplicateIdempotencyKey) {
			// Lost a concurrent create race; the winner's task is the task.
			existing, lookupErr := s.store.GetTaskByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
			if lookupErr != nil {
				return nil, fmt.Errorf("failed to resolve idempotency conflict: %w", lookupErr)
			}

			return existing, nil
		}

		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	s.emitTaskEvent(ctx, models.EventTaskCreated, task)

	s.logger.Info().
		Str("task_id", task.ID).
		Str("device_id", task.DeviceID).
		Str("status", string(task.Status)).
		Str("risk_level", string(assessment.Level)).
		Msg("Task created")

	switch task.Status {
	case models.TaskStatusAwaitingConfirmation:
		s.runHook(s.onAwaiting, task)
	case models.TaskStatusQueued:
		s.runHook(s.onQueued, task)
	}

	return task, nil
}

// Approve moves a task from awaiting_confirmation to queued. Any other
// current status yields ErrInvalidTransition.
func (s *Service) Approve(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.transition(ctx, taskID, models.TaskStatusQueued, func(t *models.Task) error {
		if t.Status != models.TaskStatusAwaitingConfirmation {
			return fmt.Errorf("%w: approve from %s", ErrInvalidTransition, t.Status)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.resolveApproval(taskID)
	s.runHook(s.onQueued, task)

	return task, nil
}

// Reject moves a task from awaiting_confirmation to cancelled.
func (s *Service) Reject(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.transition(ctx, taskID, models.TaskStatusCancelled, func(t *models.Task) error {
		if t.Status != models.TaskStatusAwaitingConfirmation {
			return fmt.Errorf("%w: reject from %s", ErrInvalidTransition, t.Status)
		}

		t.FailureReason = models.ReasonApprovalRejected

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.resolveApproval(taskID)
	s.emitTaskEvent(ctx, models.EventTaskCancelled, task)

	return task, nil
}

// Cancel terminates a task from any non-terminal state with the given
// reason. Cancelling an already terminal task is an ErrInvalidTransition
// no-op that never discards existing terminal data.
func (s *Service) Cancel(ctx context.Context, taskID, reason string) (*models.Task, error) {
	task, err := s.transition(ctx, taskID, models.TaskStatusCancelled, func(t *models.Task) error {
		t.FailureReason = reason

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.resolveApproval(taskID)
	s.emitTaskEvent(ctx, models.EventTaskCancelled, task)

	return task, nil
}

// CancelAwaiting cancels a task only while it still sits in
// awaiting_confirmation. Used by the approval deadline so a late timer can
// never cancel a task a manual decision already moved on.
func (s *Service) CancelAwaiting(ctx context.Context, taskID, reason string) (*models.Task, error) {
	task, err := s.transition(ctx, taskID, models.TaskStatusCancelled, func(t *models.Task) error {
		if t.Status != models.TaskStatusAwaitingConfirmation {
			return fmt.Errorf("%w: expire from %s", ErrInvalidTransition, t.Status)
		}

		t.FailureReason = reason

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.resolveApproval(taskID)
	s.emitTaskEvent(ctx, models.EventTaskCancelled, task)

	return task, nil
}

// MarkAssigned records that the task envelope was handed to the device.
func (s *Service) MarkAssigned(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.transition(ctx, taskID, models.TaskStatusAssigned, nil)
	if err != nil {
		return nil, err
	}

	s.emitTaskEvent(ctx, models.EventTaskAssigned, task)

	return task, nil
}

// MarkInProgress records that the device started executing.
func (s *Service) MarkInProgress(ctx context.Context, taskID string) (*models.Task, error) {
	return s.transition(ctx, taskID, models.TaskStatusInProgress, nil)
}

// Finalize applies the terminal outcome reported for the task. outcome must
// be completed or failed. Concurrent finalize calls are serialized; exactly
// one wins and the rest get ErrInvalidTransition.
func (s *Service) Finalize(ctx context.Context, taskID string, outcome models.TaskStatus, results []models.ActionResult, reason string) (*models.Task, error) {
	if outcome != models.TaskStatusCompleted && outcome != models.TaskStatusFailed {
		return nil, fmt.Errorf("%w: finalize to %s", ErrInvalidTransition, outcome)
	}

	task, err := s.transition(ctx, taskID, outcome, func(t *models.Task) error {
		t.Results = results
		t.FailureReason = reason

		return nil
	})
	if err != nil {
		return nil, err
	}

	event := models.EventTaskCompleted
	if outcome == models.TaskStatusFailed {
		event = models.EventTaskFailed
	}

	s.emitTaskEvent(ctx, event, task)

	return task, nil
}

// GetTask loads a task by id.
func (s *Service) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	return s.store.GetTask(ctx, taskID)
}

// transition loads the task under its per-id lock, validates the move
// against the lifecycle graph, applies mutate, and persists. On
// ErrInvalidTransition the stored task is untouched.
func (s *Service) transition(ctx context.Context, taskID string, to models.TaskStatus, mutate func(*models.Task) error) (*models.Task, error) {
	mu := s.locks.lock(taskID)
	mu.Lock()
	defer mu.Unlock()

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !canTransition(task.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, to)
	}

	if mutate != nil {
		if err := mutate(task); err != nil {
			return nil, err
		}
	}

	from := task.Status
	task.Status = to
	task.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to persist transition %s -> %s: %w", from, to, err)
	}

	s.logger.Debug().
		Str("task_id", taskID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Task transition")

	return task, nil
}

func (s *Service) runHook(hook Hook, task *models.Task) {
	if hook != nil {
		hook(task)
	}
}

func (s *Service) resolveApproval(taskID string) {
	if s.onApprovalResolved != nil {
		s.onApprovalResolved(taskID)
	}
}

func (s *Service) emitTaskEvent(ctx context.Context, event string, task *models.Task) {
	if s.events == nil {
		return
	}

	data := models.TaskEventData{
		TaskID:   task.ID,
		UserID:   task.UserID,
		DeviceID: task.DeviceID,
		Status:   task.Status,
		Title:    task.Title,
		Reason:   task.FailureReason,
	}

	if err := s.events.TaskEvent(ctx, event, data); err != nil {
		s.logger.Warn().Err(err).
			Str("task_id", task.ID).
			Str("event", event).
			Msg("Failed to publish task event")
	}
}
