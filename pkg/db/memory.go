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
	"sort"
	"sync"
	"time"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
)

// MemoryStore is an in-process Service implementation used by tests and
// single-node development setups.
type MemoryStore struct {
	mu         sync.RWMutex
	tasks      map[string]*models.Task
	idemClaims map[string]string // userID+"\x00"+key -> task id
	devices    map[string]*models.Device
	schedules  map[string]*models.ScheduledTask
	webhooks   map[string]*models.Webhook
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:      make(map[string]*models.Task),
		idemClaims: make(map[string]string),
		devices:    make(map[string]*models.Device),
		schedules:  make(map[string]*models.ScheduledTask),
		webhooks:   make(map[string]*models.Webhook),
	}
}

func (s *MemoryStore) Close() error { return nil }

func claimKey(userID, key string) string {
	return userID + "\x00" + key
}

func (s *MemoryStore) CreateTask(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.IdempotencyKey != "" {
		if _, claimed := s.idemClaims[claimKey(task.UserID, task.IdempotencyKey)]; claimed {
			return ErrDuplicateIdempotencyKey
		}

		s.idemClaims[claimKey(task.UserID, task.IdempotencyKey)] = task.ID
	}

	clone := *task
	s.tasks[task.ID] = &clone

	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}

	clone := *task

	return &clone, nil
}

func (s *MemoryStore) GetTaskByIdempotencyKey(_ context.Context, userID, key string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.idemClaims[claimKey(userID, key)]
	if !ok {
		return nil, ErrNotFound
	}

	clone := *s.tasks[id]

	return &clone, nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; !ok {
		return ErrNotFound
	}

	clone := *task
	s.tasks[task.ID] = &clone

	return nil
}

func (s *MemoryStore) ListPendingTasks(_ context.Context, deviceID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*models.Task

	for _, task := range s.tasks {
		if task.DeviceID != deviceID {
			continue
		}

		if task.Status == models.TaskStatusQueued || task.Status == models.TaskStatusAssigned {
			clone := *task
			pending = append(pending, &clone)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	return pending, nil
}

func (s *MemoryStore) CreateDevice(_ context.Context, device *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *device
	s.devices[device.ID] = &clone

	return nil
}

func (s *MemoryStore) GetDevice(_ context.Context, id string) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.devices[id]
	if !ok {
		return nil, ErrNotFound
	}

	clone := *device

	return &clone, nil
}

func (s *MemoryStore) UpdateDeviceLastSeen(_ context.Context, id string, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[id]
	if !ok {
		return ErrNotFound
	}

	device.LastSeen = &lastSeen

	return nil
}

func (s *MemoryStore) CreateScheduledTask(_ context.Context, st *models.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *st
	s.schedules[st.ID] = &clone

	return nil
}

func (s *MemoryStore) GetScheduledTask(_ context.Context, id string) (*models.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}

	clone := *st

	return &clone, nil
}

func (s *MemoryStore) ListDueScheduledTasks(_ context.Context, now time.Time) ([]*models.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*models.ScheduledTask

	for _, st := range s.schedules {
		if !st.IsActive {
			continue
		}

		if st.NextRun == nil || !st.NextRun.After(now) {
			clone := *st
			due = append(due, &clone)
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })

	return due, nil
}

func (s *MemoryStore) UpdateScheduledTask(_ context.Context, st *models.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[st.ID]; !ok {
		return ErrNotFound
	}

	clone := *st
	s.schedules[st.ID] = &clone

	return nil
}

func (s *MemoryStore) CreateWebhook(_ context.Context, webhook *models.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *webhook
	s.webhooks[webhook.ID] = &clone

	return nil
}

func (s *MemoryStore) DeleteWebhook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.webhooks[id]; !ok {
		return ErrNotFound
	}

	delete(s.webhooks, id)

	return nil
}

func (s *MemoryStore) ListActiveWebhooks(_ context.Context, userID string) ([]*models.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hooks []*models.Webhook

	for _, w := range s.webhooks {
		if w.UserID == userID && w.IsActive {
			clone := *w
			hooks = append(hooks, &clone)
		}
	}

	sort.Slice(hooks, func(i, j int) bool { return hooks[i].ID < hooks[j].ID })

	return hooks, nil
}

var _ Service = (*MemoryStore)(nil)
