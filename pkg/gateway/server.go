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

// Package gateway terminates device WebSocket connections: register
// handshake, heartbeats, signed envelope push and result intake.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/auth"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/db"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/logger"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/metrics"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/natsutil"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/presence"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/taskflow"
)

// registerTimeout bounds how long a fresh connection may sit silent before
// sending its register frame.
const registerTimeout = 30 * time.Second

// Handler owns the /ws endpoint. One Handler serves all devices connected to
// this node.
type Handler struct {
	store    db.Service
	tasks    *taskflow.Service
	presence *presence.Tracker
	keys     *auth.KeyRing
	revoker  *auth.Revoker
	bus      *natsutil.DeliveryBus
	logger   logger.Logger

	registry *registry
	upgrader websocket.Upgrader
}

// NewHandler wires the gateway against the shared services. bus may be nil
// in tests; cross-node envelope push is then disabled.
func NewHandler(
	store db.Service,
	tasks *taskflow.Service,
	tracker *presence.Tracker,
	keys *auth.KeyRing,
	revoker *auth.Revoker,
	bus *natsutil.DeliveryBus,
	log logger.Logger,
) *Handler {
	return &Handler{
		store:    store,
		tasks:    tasks,
		presence: tracker,
		keys:     keys,
		revoker:  revoker,
		bus:      bus,
		logger:   log,
		registry: newRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs the device session to
// completion. The device token normally arrives in the register frame;
// a "token" query parameter or bearer Authorization header is accepted as a
// fallback for clients that authenticate at the handshake.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fallbackToken := r.URL.Query().Get("token")
	if fallbackToken == "" {
		fallbackToken = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")

		return
	}

	h.serve(conn, fallbackToken)
}

// serve runs the register handshake and, on success, the session loop. The
// socket is always closed before returning.
func (h *Handler) serve(conn *websocket.Conn, fallbackToken string) {
	claims, capabilities, err := h.register(conn, fallbackToken)
	if err != nil {
		metrics.WSAuthRejectsTotal.Inc()
		h.logger.Warn().Err(err).Msg("Device registration rejected")

		message := websocket.FormatCloseMessage(models.CloseAuthRejected, "registration rejected")
		_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeWriteTimeout))
		_ = conn.Close()

		return
	}

	s := newSession(conn, claims.DeviceID, claims.ID)

	// Last register wins: the previous connection for this device, if any,
	// is told it was superseded and torn down.
	if old := h.registry.replace(s); old != nil {
		old.close(models.CloseSuperseded, "superseded by newer registration")
	}

	metrics.WSConnectionsTotal.Inc()
	metrics.WSConnectionsCurrent.Set(float64(h.registry.count()))

	h.logger.Info().
		Str("device_id", s.deviceID).
		Str("connection_id", s.connectionID).
		Strs("capabilities", capabilities).
		Msg("Device connected")

	h.runSession(s)
}

// register reads and validates the mandatory first frame.
func (h *Handler) register(conn *websocket.Conn, fallbackToken string) (*auth.DeviceClaims, []string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(registerTimeout))

	_, payload, err := conn.ReadMessage()
	if err != nil {
		return nil, nil, errors.New("no register frame received")
	}

	_ = conn.SetReadDeadline(time.Time{})

	var frame models.RegisterFrame
	if err := json.Unmarshal(payload, &frame); err != nil || frame.Type != models.FrameTypeRegister {
		h.rejectRegister(conn, "expected register frame")

		return nil, nil, errors.New("first frame was not register")
	}

	ctx := context.Background()

	token := frame.DeviceToken
	if token == "" {
		token = fallbackToken
	}

	claims, err := h.keys.VerifyDeviceToken(token)
	if err != nil {
		h.rejectRegister(conn, "invalid device token")

		return nil, nil, err
	}

	if claims.DeviceID != frame.DeviceID {
		h.rejectRegister(conn, "token does not match device")

		return nil, nil, errors.New("token device_id mismatch")
	}

	revoked, err := h.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		h.rejectRegister(conn, "authorization check failed")

		return nil, nil, err
	}

	if revoked {
		h.rejectRegister(conn, "device token revoked")

		return nil, nil, auth.ErrTokenRevoked
	}

	device, err := h.store.GetDevice(ctx, claims.DeviceID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.rejectRegister(conn, "unknown device")

			return nil, nil, errors.New("device not enrolled")
		}

		h.rejectRegister(conn, "device lookup failed")

		return nil, nil, err
	}

	if device.Revoked {
		h.rejectRegister(conn, "device revoked")

		return nil, nil, errors.New("device revoked")
	}

	return claims, frame.Capabilities, nil
}

func (h *Handler) rejectRegister(conn *websocket.Conn, reason string) {
	_ = conn.WriteJSON(models.RegisterErrorFrame{
		Type:  models.FrameTypeRegisterError,
		Error: reason,
	})
}

// runSession owns the post-register lifetime of the connection: presence,
// backlog flush, envelope push, the read loop, and teardown.
func (h *Handler) runSession(s *session) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	defer h.teardown(ctx, s)

	if err := h.presence.SetOnline(ctx, s.deviceID, s.connectionID); err != nil {
		h.logger.Error().Err(err).Str("device_id", s.deviceID).Msg("Failed to mark device online")
		s.close(websocket.CloseInternalServerErr, "presence write failed")

		return
	}

	if err := s.sendJSON(models.RegisterOKFrame{
		Type:     models.FrameTypeRegisterOK,
		DeviceID: s.deviceID,
	}); err != nil {
		s.close(websocket.CloseInternalServerErr, "write failed")

		return
	}

	if err := h.store.UpdateDeviceLastSeen(ctx, s.deviceID, time.Now().UTC()); err != nil {
		h.logger.Warn().Err(err).Str("device_id", s.deviceID).Msg("Failed to update device last_seen")
	}

	// Envelopes dispatched from any node land on the device's delivery
	// subject; the node holding the socket forwards them.
	if h.bus != nil {
		sub, err := h.bus.Subscribe(s.deviceID, func(envelope *models.TaskExecFrame) {
			if err := s.sendJSON(envelope); err != nil {
				h.logger.Warn().Err(err).
					Str("device_id", s.deviceID).
					Str("task_id", envelope.TaskID).
					Msg("Failed to forward task envelope")
			}
		})
		if err != nil {
			h.logger.Error().Err(err).Str("device_id", s.deviceID).Msg("Failed to subscribe for envelope delivery")
		} else {
			defer func() { _ = sub.Unsubscribe() }()
		}
	}

	go h.watchRevocation(ctx, s)

	h.flushPending(ctx, s)

	h.readLoop(ctx, s)
}

// watchRevocation force-closes the connection the moment its token is
// revoked, without waiting for the next register.
func (h *Handler) watchRevocation(ctx context.Context, s *session) {
	updates, err := h.revoker.WatchRevocation(ctx, s.connectionID)
	if err != nil {
		h.logger.Warn().Err(err).
			Str("device_id", s.deviceID).
			Msg("Failed to watch token revocation")

		return
	}

	// A revocation landing between register and the watch being set up would
	// otherwise go unnoticed until the next register.
	if revoked, err := h.revoker.IsRevoked(ctx, s.connectionID); err == nil && revoked {
		s.close(models.CloseAuthRejected, "token revoked")

		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case value, ok := <-updates:
			if !ok {
				return
			}

			if len(value) == 0 {
				continue
			}

			h.logger.Info().
				Str("device_id", s.deviceID).
				Str("connection_id", s.connectionID).
				Msg("Token revoked, closing connection")
			s.close(models.CloseAuthRejected, "token revoked")

			return
		}
	}
}

// flushPending pushes the device's backlog right after connect. Queued tasks
// are signed and move to assigned; already assigned tasks are re-sent as-is
// in case the previous push raced the disconnect.
func (h *Handler) flushPending(ctx context.Context, s *session) {
	pending, err := h.store.ListPendingTasks(ctx, s.deviceID)
	if err != nil {
		h.logger.Error().Err(err).Str("device_id", s.deviceID).Msg("Failed to list pending tasks")

		return
	}

	for _, task := range pending {
		envelope := &models.TaskExecFrame{
			Type:     models.FrameTypeTaskExec,
			TaskID:   task.ID,
			IssuedAt: time.Now().UTC().Format(time.RFC3339),
			Actions:  task.Actions,
		}

		signature, err := h.keys.SignEnvelope(envelope)
		if err != nil {
			h.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to sign backlog envelope")

			continue
		}

		envelope.Signature = signature

		if err := s.sendJSON(envelope); err != nil {
			h.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Backlog envelope send failed")

			return
		}

		metrics.EnvelopesDeliveredTotal.Inc()

		if task.Status == models.TaskStatusQueued {
			if _, err := h.tasks.MarkAssigned(ctx, task.ID); err != nil &&
				!errors.Is(err, taskflow.ErrInvalidTransition) {
				h.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to mark flushed task assigned")
			}
		}
	}
}

// readLoop consumes frames until the socket dies or the session is closed.
func (h *Handler) readLoop(ctx context.Context, s *session) {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed() {
				h.logger.Debug().Err(err).Str("device_id", s.deviceID).Msg("Device connection closed")
			}

			return
		}

		var frame models.Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			h.logger.Warn().Str("device_id", s.deviceID).Msg("Dropping malformed frame")

			continue
		}

		switch frame.Type {
		case models.FrameTypeHeartbeat:
			h.handleHeartbeat(ctx, s)
		case models.FrameTypeTaskResult:
			h.handleResult(ctx, s, payload)
		default:
			h.logger.Warn().
				Str("device_id", s.deviceID).
				Str("frame_type", frame.Type).
				Msg("Dropping unexpected frame")
		}
	}
}

func (h *Handler) handleHeartbeat(ctx context.Context, s *session) {
	metrics.WSHeartbeatsTotal.Inc()

	if err := h.presence.Heartbeat(ctx, s.deviceID, s.connectionID); err != nil {
		h.logger.Warn().Err(err).Str("device_id", s.deviceID).Msg("Heartbeat presence refresh failed")
	}

	if err := h.store.UpdateDeviceLastSeen(ctx, s.deviceID, time.Now().UTC()); err != nil {
		h.logger.Warn().Err(err).Str("device_id", s.deviceID).Msg("Failed to update device last_seen")
	}
}

// handleResult finalizes the task from the device's per-action outcomes. The
// task completes only when every action succeeded; one failed action fails
// the whole task.
func (h *Handler) handleResult(ctx context.Context, s *session, payload []byte) {
	var frame models.TaskResultFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		h.logger.Warn().Str("device_id", s.deviceID).Msg("Dropping malformed task result")

		return
	}

	if frame.Signature != "" && !h.keys.VerifyEnvelope(&frame, frame.Signature) {
		h.logger.Warn().
			Str("device_id", s.deviceID).
			Str("task_id", frame.TaskID).
			Msg("Dropping task result with invalid signature")

		return
	}

	outcome := models.TaskStatusCompleted
	reason := ""

	for _, result := range frame.Results {
		if !result.Succeeded() {
			outcome = models.TaskStatusFailed
			reason = models.ReasonActionFailed

			break
		}
	}

	task, err := h.tasks.Finalize(ctx, frame.TaskID, outcome, frame.Results, reason)
	if err != nil {
		if errors.Is(err, taskflow.ErrInvalidTransition) {
			// Already terminal, e.g. cancelled while the device was working.
			h.logger.Debug().
				Str("task_id", frame.TaskID).
				Msg("Result arrived for already finalized task")

			return
		}

		h.logger.Error().Err(err).Str("task_id", frame.TaskID).Msg("Failed to finalize task from result")

		return
	}

	h.logger.Info().
		Str("task_id", task.ID).
		Str("device_id", s.deviceID).
		Str("status", string(task.Status)).
		Msg("Task result applied")
}

// teardown runs once the session ends for any reason. Presence release is
// ownership-checked, so a superseded connection cannot knock its replacement
// offline.
func (h *Handler) teardown(ctx context.Context, s *session) {
	s.close(websocket.CloseNormalClosure, "")

	h.registry.remove(s)
	metrics.WSConnectionsCurrent.Set(float64(h.registry.count()))

	if err := h.presence.SetOffline(ctx, s.deviceID, s.connectionID); err != nil {
		h.logger.Warn().Err(err).Str("device_id", s.deviceID).Msg("Failed to release presence")
	}

	h.logger.Info().
		Str("device_id", s.deviceID).
		Str("connection_id", s.connectionID).
		Msg("Device disconnected")
}
