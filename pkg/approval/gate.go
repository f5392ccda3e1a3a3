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

// Package approval enforces the awaiting_confirmation timeout with
// explicit, cancellable per-task deadline timers. The timeout and a manual
// decision race through the state machine's per-task serialization, so
// exactly one of them ever applies.
package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/logger"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/taskflow"
)

// Gate schedules an auto-cancel deadline for every task entering
// awaiting_confirmation and tears the timer down when a decision lands
// first.
type Gate struct {
	tasks    *taskflow.Service
	deadline time.Duration
	logger   logger.Logger

	mu      sync.Mutex
	pending map[string]*pendingApproval
}

type pendingApproval struct {
	timer   *time.Timer
	request models.ApprovalRequest
}

// NewGate creates a Gate with the given deadline (1h default lives in
// config validation, not here).
func NewGate(tasks *taskflow.Service, deadline time.Duration, log logger.Logger) *Gate {
	return &Gate{
		tasks:    tasks,
		deadline: deadline,
		logger:   log,
		pending:  make(map[string]*pendingApproval),
	}
}

// Schedule arms the deadline timer for a task that just entered
// awaiting_confirmation. Re-scheduling an already pending task resets the
// deadline.
func (g *Gate) Schedule(task *models.Task) {
	now := time.Now().UTC()
	request := models.ApprovalRequest{
		TaskID:    task.ID,
		CreatedAt: now,
		Deadline:  now.Add(g.deadline),
	}

	if task.Risk != nil {
		request.Level = task.Risk.Level
		request.Reasons = task.Risk.Reasons
		request.Confidence = task.Risk.Confidence
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.pending[task.ID]; ok {
		existing.timer.Stop()
	}

	taskID := task.ID
	g.pending[taskID] = &pendingApproval{
		request: request,
		timer: time.AfterFunc(g.deadline, func() {
			g.expire(taskID)
		}),
	}

	g.logger.Info().
		Str("task_id", taskID).
		Time("deadline", request.Deadline).
		Msg("Approval deadline scheduled")
}

// Resolve cancels the pending deadline after a manual decision or any
// terminal transition. Calling it for an unknown task is a no-op, so stale
// timers can never fire against a resolved task.
func (g *Gate) Resolve(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if pending, ok := g.pending[taskID]; ok {
		pending.timer.Stop()
		delete(g.pending, taskID)
	}
}

// Pending returns the open approval request for a task, if any.
func (g *Gate) Pending(taskID string) (models.ApprovalRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pending, ok := g.pending[taskID]
	if !ok {
		return models.ApprovalRequest{}, false
	}

	return pending.request, true
}

// Stop disarms every outstanding timer. Used on shutdown.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, pending := range g.pending {
		pending.timer.Stop()
		delete(g.pending, id)
	}
}

// expire fires when the deadline elapses without a decision. The cancel
// contends with any concurrent manual decision under the task's lock;
// whichever loses becomes an InvalidTransition no-op.
func (g *Gate) expire(taskID string) {
	g.mu.Lock()
	delete(g.pending, taskID)
	g.mu.Unlock()

	_, err := g.tasks.CancelAwaiting(context.Background(), taskID, models.ReasonAutoCancelled)
	if err != nil {
		if errors.Is(err, taskflow.ErrInvalidTransition) {
			// A manual decision won the race.
			g.logger.Debug().
				Str("task_id", taskID).
				Msg("Approval deadline fired after task resolved")

			return
		}

		g.logger.Error().Err(err).
			Str("task_id", taskID).
			Msg("Failed to auto-cancel expired approval")

		return
	}

	g.logger.Info().
		Str("task_id", taskID).
		Msg("Approval deadline expired, task auto-cancelled")
}
