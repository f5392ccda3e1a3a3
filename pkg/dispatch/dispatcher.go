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

// Package dispatch pulls queued tasks and attempts delivery to the owning
// device, with a bounded retry budget and a dead-letter path on exhaustion.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/auth"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/logger"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/natsutil"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/presence"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/taskflow"
)

const queueDepth = 1024

type job struct {
	taskID   string
	deviceID string
	attempt  int
}

// Dispatcher delivers signed task envelopes through the cross-node
// delivery bus. The presence tracker is consulted before every attempt.
type Dispatcher struct {
	tasks         *taskflow.Service
	presence      *presence.Tracker
	sender        natsutil.EnvelopeSender
	signer        *auth.KeyRing
	events        natsutil.EventSink
	logger        logger.Logger
	workers       int
	maxAttempts   int
	retryInterval time.Duration

	queue chan job
	wg    sync.WaitGroup
}

// New creates a Dispatcher. maxAttempts bounds total delivery attempts per
// task before the dead-letter path.
func New(
	tasks *taskflow.Service,
	tracker *presence.Tracker,
	sender natsutil.EnvelopeSender,
	signer *auth.KeyRing,
	events natsutil.EventSink,
	cfg *models.DispatchConfig,
	log logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		tasks:         tasks,
		presence:      tracker,
		sender:        sender,
		signer:        signer,
		events:        events,
		logger:        log,
		workers:       cfg.Workers,
		maxAttempts:   cfg.MaxAttempts,
		retryInterval: time.Duration(cfg.RetryInterval),
		queue:         make(chan job, queueDepth),
	}
}

// Enqueue accepts a task that just entered queued. Safe to call from state
// machine hooks; it only hands the id to the worker pool.
func (d *Dispatcher) Enqueue(task *models.Task) {
	d.queue <- job{taskID: task.ID, deviceID: task.DeviceID, attempt: 1}
}

// Start launches the worker pool and blocks until the context is
// cancelled and all workers have drained.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info().
		Int("workers", d.workers).
		Int("max_attempts", d.maxAttempts).
		Msg("Starting dispatcher")

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)

		go d.worker(ctx)
	}

	d.wg.Wait()
	d.logger.Info().Msg("Dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.queue:
			d.process(ctx, j)
		}
	}
}

// process makes one delivery attempt. Offline devices and send failures
// consume the attempt; exhaustion dead-letters the task.
func (d *Dispatcher) process(ctx context.Context, j job) {
	task, err := d.tasks.GetTask(ctx, j.taskID)
	if err != nil {
		d.logger.Error().Err(err).Str("task_id", j.taskID).Msg("Failed to load task for dispatch")
		return
	}

	// The task may have been cancelled or finalized while waiting.
	if task.Status != models.TaskStatusQueued {
		return
	}

	online, err := d.presence.IsOnline(ctx, j.deviceID)
	if err != nil {
		d.logger.Error().Err(err).Str("device_id", j.deviceID).Msg("Presence check failed")
		d.retry(ctx, j)

		return
	}

	if !online {
		d.retry(ctx, j)

		return
	}

	envelope := &models.TaskExecFrame{
		Type:     models.FrameTypeTaskExec,
		TaskID:   task.ID,
		IssuedAt: time.Now().UTC().Format(time.RFC3339),
		Actions:  task.Actions,
	}

	signature, err := d.signer.SignEnvelope(envelope)
	if err != nil {
		d.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to sign task envelope")
		d.retry(ctx, j)

		return
	}

	envelope.Signature = signature

	if err := d.sender.SendEnvelope(ctx, j.deviceID, envelope); err != nil {
		d.logger.Warn().Err(err).
			Str("task_id", task.ID).
			Str("device_id", j.deviceID).
			Int("attempt", j.attempt).
			Msg("Envelope delivery failed")
		d.retry(ctx, j)

		return
	}

	if _, err := d.tasks.MarkAssigned(ctx, task.ID); err != nil &&
		!errors.Is(err, taskflow.ErrInvalidTransition) {
		d.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to mark task assigned")

		return
	}

	d.logger.Info().
		Str("task_id", task.ID).
		Str("device_id", j.deviceID).
		Int("attempt", j.attempt).
		Msg("Task envelope delivered")
}

// retry re-queues the job after the retry interval, or dead-letters the
// task once the attempt budget is spent.
func (d *Dispatcher) retry(ctx context.Context, j job) {
	if j.attempt >= d.maxAttempts {
		d.deadLetter(ctx, j)

		return
	}

	next := job{taskID: j.taskID, deviceID: j.deviceID, attempt: j.attempt + 1}

	time.AfterFunc(d.retryInterval, func() {
		select {
		case <-ctx.Done():
		case d.queue <- next:
		}
	})
}

// deadLetter emits task.dlq and finalizes the task as failed with reason
// device_unreachable. Exhaustion is an explicit terminal outcome, never a
// silent drop.
func (d *Dispatcher) deadLetter(ctx context.Context, j job) {
	task, err := d.tasks.Finalize(ctx, j.taskID, models.TaskStatusFailed, nil, models.ReasonDeviceUnreachable)
	if err != nil {
		if errors.Is(err, taskflow.ErrInvalidTransition) {
			// Finalized through another path first; nothing to dead-letter.
			return
		}

		d.logger.Error().Err(err).Str("task_id", j.taskID).Msg("Failed to fail unreachable task")

		return
	}

	if d.events != nil {
		data := models.TaskEventData{
			TaskID:   task.ID,
			UserID:   task.UserID,
			DeviceID: task.DeviceID,
			Status:   task.Status,
			Reason:   models.ReasonDeviceUnreachable,
		}

		if err := d.events.TaskEvent(ctx, models.EventTaskDLQ, data); err != nil {
			d.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to publish dlq event")
		}
	}

	d.logger.Warn().
		Str("task_id", j.taskID).
		Str("device_id", j.deviceID).
		Int("attempts", j.attempt).
		Msg("Task dead-lettered after exhausted delivery retries")
}
