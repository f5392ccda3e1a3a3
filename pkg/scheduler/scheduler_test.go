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

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/db"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/logger"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/risk"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/taskflow"
)

type createdTasks struct {
	mu    sync.Mutex
	tasks []*models.Task
}

func (c *createdTasks) add(task *models.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tasks = append(c.tasks, task)
}

func (c *createdTasks) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.tasks)
}

type taskEventRecorder struct {
	mu     sync.Mutex
	events []string
	data   []models.TaskEventData
}

func (r *taskEventRecorder) TaskEvent(_ context.Context, event string, data models.TaskEventData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
	r.data = append(r.data, data)

	return nil
}

func (r *taskEventRecorder) DeviceEvent(context.Context, string, models.DeviceEventData) error {
	return nil
}

func (r *taskEventRecorder) find(event string) (models.TaskEventData, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.events {
		if e == event {
			return r.data[i], true
		}
	}

	return models.TaskEventData{}, false
}

func newTestScheduler(t *testing.T) (*Scheduler, *db.MemoryStore, *createdTasks, *taskEventRecorder) {
	t.Helper()

	store := db.NewMemoryStore()
	tasks := taskflow.NewService(store, risk.NewPatternPolicy(), nil, logger.NewTestLogger())

	created := &createdTasks{}
	tasks.SetQueuedHook(created.add)

	events := &taskEventRecorder{}
	sched := New(store, tasks, risk.NewPatternPolicy(), events, time.Minute, logger.NewTestLogger())

	return sched, store, created, events
}

func pastTime(d time.Duration) *time.Time {
	ts := time.Now().UTC().Add(-d)

	return &ts
}

func TestCreateScheduleSeedsNextRun(t *testing.T) {
	sched, store, _, _ := newTestScheduler(t)

	st := &models.ScheduledTask{
		UserID:         "u1",
		DeviceID:       "d1",
		Name:           "nightly report",
		CronExpression: "0 2 * * *",
		Actions:        []models.Action{{ActionID: "a1", Type: "screenshot"}},
		IsActive:       true,
	}

	require.NoError(t, sched.CreateSchedule(context.Background(), st))
	assert.NotEmpty(t, st.ID)
	require.NotNil(t, st.NextRun)
	assert.True(t, st.NextRun.After(time.Now()))

	stored, err := store.GetScheduledTask(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.NextRun.Unix(), stored.NextRun.Unix())

	t.Run("invalid cron rejected", func(t *testing.T) {
		err := sched.CreateSchedule(context.Background(), &models.ScheduledTask{
			CronExpression: "bad",
		})
		assert.ErrorIs(t, err, ErrInvalidCron)
	})
}

func TestTickFiresDueSchedule(t *testing.T) {
	sched, store, created, _ := newTestScheduler(t)

	st := &models.ScheduledTask{
		ID:             "sched-1",
		UserID:         "u1",
		DeviceID:       "d1",
		Name:           "status check",
		CronExpression: "* * * * *",
		Actions:        []models.Action{{ActionID: "a1", Type: "screenshot"}},
		IsActive:       true,
		NextRun:        pastTime(time.Minute),
	}
	require.NoError(t, store.CreateScheduledTask(context.Background(), st))

	require.NoError(t, sched.tick(context.Background()))

	require.Equal(t, 1, created.count())
	task := created.tasks[0]
	assert.Equal(t, "sched-1", task.ScheduledTaskID)
	assert.Equal(t, "Scheduled: status check", task.Title)

	after, err := store.GetScheduledTask(context.Background(), "sched-1")
	require.NoError(t, err)
	assert.Equal(t, 1, after.RunCount)
	require.NotNil(t, after.LastRun)
	require.NotNil(t, after.NextRun)
	assert.True(t, after.NextRun.After(time.Now()))

	t.Run("not due again until next slot", func(t *testing.T) {
		require.NoError(t, sched.tick(context.Background()))
		assert.Equal(t, 1, created.count())
	})
}

func TestTickSkipsRiskySchedule(t *testing.T) {
	sched, store, created, events := newTestScheduler(t)

	st := &models.ScheduledTask{
		ID:             "sched-risky",
		UserID:         "u1",
		DeviceID:       "d1",
		Name:           "cleanup",
		CronExpression: "* * * * *",
		Actions: []models.Action{
			{ActionID: "a1", Type: "shell", Params: map[string]interface{}{"command": "sudo rm -r /tmp/x"}},
		},
		IsActive: true,
		NextRun:  pastTime(time.Minute),
	}
	require.NoError(t, store.CreateScheduledTask(context.Background(), st))

	require.NoError(t, sched.tick(context.Background()))

	assert.Equal(t, 0, created.count(), "approval-requiring schedule must not run unattended")

	after, err := store.GetScheduledTask(context.Background(), "sched-risky")
	require.NoError(t, err)
	assert.Equal(t, 0, after.RunCount)
	assert.Nil(t, after.LastRun)
	require.NotNil(t, after.NextRun)
	assert.True(t, after.NextRun.After(time.Now()), "next_run still advances on skip")

	t.Run("owner is notified of the skip", func(t *testing.T) {
		data, found := events.find(models.EventTaskSkipped)
		require.True(t, found, "skip must emit a task.skipped event")
		assert.Equal(t, "u1", data.UserID)
		assert.Equal(t, "d1", data.DeviceID)
		assert.Equal(t, "sched-risky", data.ScheduledTaskID)
		assert.Equal(t, models.ReasonRiskSuppressed, data.Reason)
		assert.Empty(t, data.TaskID, "no task exists for a skipped schedule")
	})
}

func TestRunNowLeavesNextRunUntouched(t *testing.T) {
	sched, store, created, _ := newTestScheduler(t)

	future := time.Now().UTC().Add(45 * time.Minute)
	st := &models.ScheduledTask{
		ID:             "sched-2",
		UserID:         "u1",
		DeviceID:       "d1",
		Name:           "on demand",
		CronExpression: "0 * * * *",
		Actions:        []models.Action{{ActionID: "a1", Type: "screenshot"}},
		IsActive:       true,
		NextRun:        &future,
	}
	require.NoError(t, store.CreateScheduledTask(context.Background(), st))

	task, err := sched.RunNow(context.Background(), "sched-2")
	require.NoError(t, err)
	assert.Equal(t, "sched-2", task.ScheduledTaskID)
	assert.Equal(t, 1, created.count())

	after, err := store.GetScheduledTask(context.Background(), "sched-2")
	require.NoError(t, err)
	assert.Equal(t, 1, after.RunCount)
	require.NotNil(t, after.NextRun)
	assert.Equal(t, future.Unix(), after.NextRun.Unix())
}
