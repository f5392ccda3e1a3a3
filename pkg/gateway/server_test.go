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

package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/auth"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/db"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/kv"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/logger"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/presence"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/risk"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/taskflow"
)

const readTimeout = 3 * time.Second

type gatewayHarness struct {
	store   *db.MemoryStore
	tracker *presence.Tracker
	ring    *auth.KeyRing
	revoker *auth.Revoker
	tasks   *taskflow.Service
	url     string
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()

	store := db.NewMemoryStore()
	require.NoError(t, store.CreateDevice(context.Background(), &models.Device{
		ID:     "d1",
		UserID: "u1",
		Name:   "laptop",
	}))

	ring, err := auth.NewKeyRing(&models.AuthConfig{
		ActiveKID: "k1",
		Keys:      map[string]string{"k1": "gateway-secret"},
		TokenTTL:  models.Duration(time.Hour),
	})
	require.NoError(t, err)

	tracker := presence.NewTracker(kv.NewMemoryStore(time.Minute), nil, "node-1", logger.NewTestLogger())
	revoker := auth.NewRevoker(kv.NewMemoryStore(0))
	tasks := taskflow.NewService(store, risk.PermitAll, nil, logger.NewTestLogger())

	handler := NewHandler(store, tasks, tracker, ring, revoker, nil, logger.NewTestLogger())

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &gatewayHarness{
		store:   store,
		tracker: tracker,
		ring:    ring,
		revoker: revoker,
		tasks:   tasks,
		url:     "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

func (h *gatewayHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

// connect dials, registers device d1 and consumes the register.ok frame.
func (h *gatewayHarness) connect(t *testing.T) (*websocket.Conn, string) {
	t.Helper()

	token, jti, err := h.ring.MintDeviceToken("d1")
	require.NoError(t, err)

	conn := h.dial(t)

	require.NoError(t, conn.WriteJSON(models.RegisterFrame{
		Type:        models.FrameTypeRegister,
		DeviceID:    "d1",
		DeviceToken: token,
	}))

	var ok models.RegisterOKFrame

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	require.NoError(t, conn.ReadJSON(&ok))
	require.Equal(t, models.FrameTypeRegisterOK, ok.Type)
	require.Equal(t, "d1", ok.DeviceID)

	return conn, jti
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, code), "expected close %d, got %v", code, err)

			return
		}
	}
}

func TestRegisterHappyPath(t *testing.T) {
	h := newGatewayHarness(t)

	_, jti := h.connect(t)

	require.Eventually(t, func() bool {
		online, err := h.tracker.IsOnline(context.Background(), "d1")
		require.NoError(t, err)

		return online
	}, readTimeout, 10*time.Millisecond)

	record, found, err := h.tracker.Get(context.Background(), "d1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, jti, record.ConnectionID, "the token jti is the connection id")

	device, err := h.store.GetDevice(context.Background(), "d1")
	require.NoError(t, err)
	assert.NotNil(t, device.LastSeen)
}

func TestRegisterRejectsInvalidToken(t *testing.T) {
	h := newGatewayHarness(t)
	conn := h.dial(t)

	require.NoError(t, conn.WriteJSON(models.RegisterFrame{
		Type:        models.FrameTypeRegister,
		DeviceID:    "d1",
		DeviceToken: "garbage",
	}))

	var errFrame models.RegisterErrorFrame

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	require.NoError(t, conn.ReadJSON(&errFrame))
	assert.Equal(t, models.FrameTypeRegisterError, errFrame.Type)
	assert.NotEmpty(t, errFrame.Error)

	expectClose(t, conn, models.CloseAuthRejected)
}

func TestRegisterRejectsTokenDeviceMismatch(t *testing.T) {
	h := newGatewayHarness(t)
	conn := h.dial(t)

	token, _, err := h.ring.MintDeviceToken("other-device")
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(models.RegisterFrame{
		Type:        models.FrameTypeRegister,
		DeviceID:    "d1",
		DeviceToken: token,
	}))

	var errFrame models.RegisterErrorFrame

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	require.NoError(t, conn.ReadJSON(&errFrame))
	assert.Equal(t, "token does not match device", errFrame.Error)

	expectClose(t, conn, models.CloseAuthRejected)
}

func TestRegisterRejectsRevokedToken(t *testing.T) {
	h := newGatewayHarness(t)
	conn := h.dial(t)

	token, jti, err := h.ring.MintDeviceToken("d1")
	require.NoError(t, err)
	require.NoError(t, h.revoker.RevokeToken(context.Background(), "d1", jti))

	require.NoError(t, conn.WriteJSON(models.RegisterFrame{
		Type:        models.FrameTypeRegister,
		DeviceID:    "d1",
		DeviceToken: token,
	}))

	var errFrame models.RegisterErrorFrame

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	require.NoError(t, conn.ReadJSON(&errFrame))
	assert.Equal(t, "device token revoked", errFrame.Error)

	expectClose(t, conn, models.CloseAuthRejected)
}

func TestRegisterRejectsUnknownDevice(t *testing.T) {
	h := newGatewayHarness(t)
	conn := h.dial(t)

	token, _, err := h.ring.MintDeviceToken("ghost")
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(models.RegisterFrame{
		Type:        models.FrameTypeRegister,
		DeviceID:    "ghost",
		DeviceToken: token,
	}))

	var errFrame models.RegisterErrorFrame

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	require.NoError(t, conn.ReadJSON(&errFrame))
	assert.Equal(t, "unknown device", errFrame.Error)

	expectClose(t, conn, models.CloseAuthRejected)
}

func TestPendingTaskFlushedOnConnect(t *testing.T) {
	h := newGatewayHarness(t)

	task, err := h.tasks.Create(context.Background(), &taskflow.CreateRequest{
		UserID:   "u1",
		DeviceID: "d1",
		Actions:  []models.Action{{ActionID: "a1", Type: "screenshot"}},
	})
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusQueued, task.Status)

	conn, _ := h.connect(t)

	var envelope models.TaskExecFrame

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	require.NoError(t, conn.ReadJSON(&envelope))
	assert.Equal(t, models.FrameTypeTaskExec, envelope.Type)
	assert.Equal(t, task.ID, envelope.TaskID)
	assert.True(t, h.ring.VerifyEnvelope(&envelope, envelope.Signature))

	require.Eventually(t, func() bool {
		stored, err := h.tasks.GetTask(context.Background(), task.ID)
		require.NoError(t, err)

		return stored.Status == models.TaskStatusAssigned
	}, readTimeout, 10*time.Millisecond)
}

func TestTaskResultOutcomes(t *testing.T) {
	runResult := func(t *testing.T, results []models.ActionResult) *models.Task {
		h := newGatewayHarness(t)

		task, err := h.tasks.Create(context.Background(), &taskflow.CreateRequest{
			UserID:   "u1",
			DeviceID: "d1",
			Actions:  []models.Action{{ActionID: "a1", Type: "screenshot"}},
		})
		require.NoError(t, err)

		conn, _ := h.connect(t)

		// Consume the flushed envelope first.
		var envelope models.TaskExecFrame

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
		require.NoError(t, conn.ReadJSON(&envelope))

		require.NoError(t, conn.WriteJSON(models.TaskResultFrame{
			Type:      models.FrameTypeTaskResult,
			TaskID:    task.ID,
			Results:   results,
			Timestamp: time.Now().UTC(),
		}))

		var stored *models.Task

		require.Eventually(t, func() bool {
			stored, err = h.tasks.GetTask(context.Background(), task.ID)
			require.NoError(t, err)

			return stored.Status.IsTerminal()
		}, readTimeout, 10*time.Millisecond)

		return stored
	}

	t.Run("all actions succeeded", func(t *testing.T) {
		stored := runResult(t, []models.ActionResult{
			{ActionID: "a1", Status: "done", ArtifactURL: "https://files.example/shot.png"},
		})

		assert.Equal(t, models.TaskStatusCompleted, stored.Status)
		assert.Empty(t, stored.FailureReason)
		require.Len(t, stored.Results, 1)
		assert.Equal(t, "https://files.example/shot.png", stored.Results[0].ArtifactURL)
	})

	t.Run("one failed action fails the task", func(t *testing.T) {
		stored := runResult(t, []models.ActionResult{
			{ActionID: "a1", Status: "error", Meta: map[string]interface{}{"message": "screen locked"}},
		})

		assert.Equal(t, models.TaskStatusFailed, stored.Status)
		assert.Equal(t, models.ReasonActionFailed, stored.FailureReason)
	})
}

func TestHeartbeatKeepsDeviceOnline(t *testing.T) {
	h := newGatewayHarness(t)
	conn, _ := h.connect(t)

	require.NoError(t, conn.WriteJSON(models.HeartbeatFrame{
		Type:      models.FrameTypeHeartbeat,
		DeviceID:  "d1",
		Timestamp: time.Now().UTC(),
	}))

	require.Eventually(t, func() bool {
		device, err := h.store.GetDevice(context.Background(), "d1")
		require.NoError(t, err)

		return device.LastSeen != nil
	}, readTimeout, 10*time.Millisecond)

	online, err := h.tracker.IsOnline(context.Background(), "d1")
	require.NoError(t, err)
	assert.True(t, online)
}

func TestNewerRegisterSupersedesOldConnection(t *testing.T) {
	h := newGatewayHarness(t)

	first, _ := h.connect(t)
	_, secondJTI := h.connect(t)

	expectClose(t, first, models.CloseSuperseded)

	// Presence now belongs to the second connection, and the superseded
	// connection's teardown must not have cleared it.
	require.Eventually(t, func() bool {
		record, found, err := h.tracker.Get(context.Background(), "d1")
		require.NoError(t, err)

		return found && record.ConnectionID == secondJTI
	}, readTimeout, 10*time.Millisecond)

	online, err := h.tracker.IsOnline(context.Background(), "d1")
	require.NoError(t, err)
	assert.True(t, online)
}

func TestRevocationClosesLiveConnection(t *testing.T) {
	h := newGatewayHarness(t)
	conn, jti := h.connect(t)

	require.NoError(t, h.revoker.RevokeToken(context.Background(), "d1", jti))

	expectClose(t, conn, models.CloseAuthRejected)

	require.Eventually(t, func() bool {
		online, err := h.tracker.IsOnline(context.Background(), "d1")
		require.NoError(t, err)

		return !online
	}, readTimeout, 10*time.Millisecond)
}
