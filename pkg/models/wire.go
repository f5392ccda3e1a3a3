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

package models

import "time"

// Device gateway wire protocol frame types. All frames are JSON objects with
// a "type" discriminator.
const (
	FrameTypeRegister      = "register"
	FrameTypeRegisterOK    = "register.ok"
	FrameTypeRegisterError = "register.error"
	FrameTypeHeartbeat     = "heartbeat"
	FrameTypeTaskExec      = "task.exec"
	FrameTypeTaskResult    = "task.result"
)

// WebSocket close codes used by the gateway.
const (
	// CloseSuperseded is sent to a connection replaced by a newer register
	// for the same device.
	CloseSuperseded = 4000
	// CloseAuthRejected denotes a forced disconnect on auth failure or
	// token revocation.
	CloseAuthRejected = 4401
)

// Frame is the minimal envelope used to peek at the type discriminator
// before decoding the full frame.
type Frame struct {
	Type string `json:"type"`
}

// RegisterFrame is the first frame a device sends after connecting.
type RegisterFrame struct {
	Type         string   `json:"type"`
	DeviceID     string   `json:"device_id"`
	DeviceToken  string   `json:"device_token"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// RegisterOKFrame acknowledges a successful register.
type RegisterOKFrame struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
}

// RegisterErrorFrame rejects a register; the connection is closed afterwards.
type RegisterErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// HeartbeatFrame refreshes the device's presence TTL. Devices send one
// roughly every 30 seconds.
type HeartbeatFrame struct {
	Type      string    `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// TaskExecFrame is the signed task envelope pushed server to device.
// Signature covers the canonical JSON of the frame without the signature
// field itself.
type TaskExecFrame struct {
	Type      string   `json:"type"`
	TaskID    string   `json:"task_id"`
	IssuedAt  string   `json:"issued_at"`
	Actions   []Action `json:"actions"`
	Signature string   `json:"signature,omitempty"`
}

// TaskResultFrame carries the per-action outcomes back from the device.
type TaskResultFrame struct {
	Type      string         `json:"type"`
	TaskID    string         `json:"task_id"`
	Results   []ActionResult `json:"results"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Signature string         `json:"signature,omitempty"`
}
