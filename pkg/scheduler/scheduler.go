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

// Package scheduler fires recurring tasks from cron expressions on a fixed
// tick.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/db"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/logger"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/natsutil"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/risk"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/taskflow"
)

// Scheduler evaluates active ScheduledTasks every tick and injects due ones
// into the task state machine through the same create path as manual
// requests.
type Scheduler struct {
	store    db.Service
	tasks    *taskflow.Service
	analyzer risk.Analyzer
	events   natsutil.EventSink
	interval time.Duration
	logger   logger.Logger
}

// New creates a Scheduler ticking at the given interval (one minute in the
// default config). events may be nil; skip notifications are then log-only.
func New(store db.Service, tasks *taskflow.Service, analyzer risk.Analyzer, events natsutil.EventSink, interval time.Duration, log logger.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		tasks:    tasks,
		analyzer: analyzer,
		events:   events,
		interval: interval,
		logger:   log,
	}
}

// CreateSchedule validates the cron expression, seeds next_run and persists
// the schedule. Invalid expressions are rejected here, never at tick time.
func (s *Scheduler) CreateSchedule(ctx context.Context, st *models.ScheduledTask) error {
	if err := ValidateExpression(st.CronExpression); err != nil {
		return err
	}

	if st.ID == "" {
		st.ID = uuid.New().String()
	}

	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}

	next, err := NextRun(st.CronExpression, time.Now().UTC())
	if err != nil {
		return err
	}

	st.NextRun = &next

	return s.store.CreateScheduledTask(ctx, st)
}

// Start runs the tick loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().
		Str("interval", s.interval.String()).
		Msg("Starting task scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Task scheduler stopping")
			return
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Scheduler tick failed")
			}
		}
	}
}

// tick fires every due schedule once and advances its next_run strictly
// past now, so a delayed tick can never re-fire an already evaluated slot.
func (s *Scheduler) tick(ctx context.Context) error {
	now := time.Now().UTC()

	due, err := s.store.ListDueScheduledTasks(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list due schedules: %w", err)
	}

	for _, st := range due {
		if err := s.fire(ctx, st, now); err != nil {
			s.logger.Error().Err(err).
				Str("scheduled_task_id", st.ID).
				Msg("Failed to fire scheduled task")
		}
	}

	return nil
}

func (s *Scheduler) fire(ctx context.Context, st *models.ScheduledTask, now time.Time) error {
	assessment := s.analyzer.Analyze(st.Actions)

	// Schedules never pass the approval gate unattended: anything that
	// would require approval is skipped, with next_run still advanced. The
	// owner hears about it through a task.skipped event.
	if risk.RequiresApproval(assessment.Level) || risk.ShouldBlock(assessment.Level) {
		s.logger.Warn().
			Str("scheduled_task_id", st.ID).
			Str("risk_level", string(assessment.Level)).
			Strs("reasons", assessment.Reasons).
			Msg("Scheduled task skipped due to risk level")

		if s.events != nil {
			if err := s.events.TaskEvent(ctx, models.EventTaskSkipped, models.TaskEventData{
				UserID:          st.UserID,
				DeviceID:        st.DeviceID,
				Title:           "Scheduled: " + st.Name,
				Reason:          models.ReasonRiskSuppressed,
				ScheduledTaskID: st.ID,
			}); err != nil {
				s.logger.Warn().Err(err).
					Str("scheduled_task_id", st.ID).
					Msg("Failed to emit skip event")
			}
		}

		return s.advance(ctx, st, now, false)
	}

	task, err := s.tasks.Create(ctx, &taskflow.CreateRequest{
		UserID:          st.UserID,
		DeviceID:        st.DeviceID,
		Title:           "Scheduled: " + st.Name,
		Description:     fmt.Sprintf("Auto-generated from scheduled task %q", st.Name),
		Actions:         st.Actions,
		ScheduledTaskID: st.ID,
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("scheduled_task_id", st.ID).
		Str("task_id", task.ID).
		Msg("Scheduled task fired")

	return s.advance(ctx, st, now, true)
}

// advance moves next_run strictly forward and updates run stats.
func (s *Scheduler) advance(ctx context.Context, st *models.ScheduledTask, now time.Time, ran bool) error {
	next, err := NextRun(st.CronExpression, now)
	if err != nil {
		return err
	}

	st.NextRun = &next

	if ran {
		st.LastRun = &now
		st.RunCount++
	}

	return s.store.UpdateScheduledTask(ctx, st)
}

// RunNow fires the schedule immediately, outside the tick. It follows the
// same create path but leaves next_run untouched.
func (s *Scheduler) RunNow(ctx context.Context, scheduledTaskID string) (*models.Task, error) {
	st, err := s.store.GetScheduledTask(ctx, scheduledTaskID)
	if err != nil {
		return nil, err
	}

	task, err := s.tasks.Create(ctx, &taskflow.CreateRequest{
		UserID:          st.UserID,
		DeviceID:        st.DeviceID,
		Title:           "Scheduled: " + st.Name,
		Description:     fmt.Sprintf("Manual run of scheduled task %q", st.Name),
		Actions:         st.Actions,
		ScheduledTaskID: st.ID,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	st.LastRun = &now
	st.RunCount++

	if err := s.store.UpdateScheduledTask(ctx, st); err != nil {
		return nil, err
	}

	return task, nil
}
