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

package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/db"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/logger"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name    string
		filters []string
		event   string
		want    bool
	}{
		{"exact", []string{"task.completed"}, "task.completed", true},
		{"exact miss", []string{"task.completed"}, "task.failed", false},
		{"category wildcard", []string{"task.*"}, "task.failed", true},
		{"category wildcard miss", []string{"task.*"}, "device.online", false},
		{"star", []string{"*"}, "device.offline", true},
		{"empty filter list never matches", nil, "task.created", false},
		{"empty filter list never matches device events", []string{}, "device.online", false},
		{"second filter matches", []string{"device.*", "task.dlq"}, "task.dlq", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.filters, tt.event))
		})
	}
}

func TestFanoutSelectsMatchingSubscriptions(t *testing.T) {
	hits := make(chan string, 4)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := db.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateWebhook(ctx, &models.Webhook{
		ID: "wh-match", UserID: "u1", URL: server.URL + "/match",
		Events: []string{"task.*"}, IsActive: true,
	}))
	require.NoError(t, store.CreateWebhook(ctx, &models.Webhook{
		ID: "wh-other-event", UserID: "u1", URL: server.URL + "/other-event",
		Events: []string{"device.online"}, IsActive: true,
	}))
	require.NoError(t, store.CreateWebhook(ctx, &models.Webhook{
		ID: "wh-inactive", UserID: "u1", URL: server.URL + "/inactive",
		Events: []string{"*"}, IsActive: false,
	}))
	require.NoError(t, store.CreateWebhook(ctx, &models.Webhook{
		ID: "wh-no-subscriptions", UserID: "u1", URL: server.URL + "/no-subscriptions",
		IsActive: true,
	}))
	require.NoError(t, store.CreateWebhook(ctx, &models.Webhook{
		ID: "wh-other-user", UserID: "u2", URL: server.URL + "/other-user",
		Events: []string{"*"}, IsActive: true,
	}))

	fanout := NewFanout(store, testDeliverer(1), logger.NewTestLogger())

	require.NoError(t, fanout.TaskEvent(ctx, models.EventTaskCompleted, models.TaskEventData{
		TaskID: "task-1",
		UserID: "u1",
		Status: models.TaskStatusCompleted,
	}))

	select {
	case path := <-hits:
		assert.Equal(t, "/match", path)
	case <-time.After(2 * time.Second):
		t.Fatal("matching webhook never hit")
	}

	// Nothing else should arrive.
	select {
	case path := <-hits:
		t.Fatalf("unexpected delivery to %s", path)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFanoutResolvesDeviceOwner(t *testing.T) {
	hits := make(chan string, 2)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := db.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateDevice(ctx, &models.Device{ID: "d1", UserID: "u1"}))
	require.NoError(t, store.CreateWebhook(ctx, &models.Webhook{
		ID: "wh-presence", UserID: "u1", URL: server.URL + "/presence",
		Events: []string{"device.online"}, IsActive: true,
	}))

	fanout := NewFanout(store, testDeliverer(1), logger.NewTestLogger())

	// Presence events carry no owner; the fanout looks it up.
	require.NoError(t, fanout.DeviceEvent(ctx, models.EventDeviceOnline, models.DeviceEventData{
		DeviceID: "d1",
		NodeID:   "node-1",
	}))

	select {
	case path := <-hits:
		assert.Equal(t, "/presence", path)
	case <-time.After(2 * time.Second):
		t.Fatal("device event never delivered to subscribed webhook")
	}

	t.Run("unknown device drops the event", func(t *testing.T) {
		require.NoError(t, fanout.DeviceEvent(ctx, models.EventDeviceOffline, models.DeviceEventData{
			DeviceID: "ghost",
		}))

		select {
		case path := <-hits:
			t.Fatalf("unexpected delivery to %s", path)
		case <-time.After(100 * time.Millisecond):
		}
	})
}
