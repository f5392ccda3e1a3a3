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

// Device is a registered execution target. A device belongs to exactly one
// user; the capability set advertised at registration is authoritative for
// which action types may be dispatched to it.
type Device struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Name         string          `json:"name,omitempty"`
	Platform     string          `json:"platform,omitempty"`
	Capabilities map[string]bool `json:"capabilities,omitempty"`
	EnrolledAt   time.Time       `json:"enrolled_at"`
	LastSeen     *time.Time      `json:"last_seen,omitempty"`
	Revoked      bool            `json:"revoked,omitempty"`
}

// HasCapability reports whether the device advertised the named capability.
func (d *Device) HasCapability(name string) bool {
	return d.Capabilities[name]
}

// Presence status values stored in a PresenceRecord.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// PresenceRecord is the ephemeral, TTL-bound liveness record for a device.
// Existence of a non-expired record implies online; absence implies offline.
// Exactly one connection id is authoritative per device at a time.
type PresenceRecord struct {
	DeviceID     string    `json:"device_id"`
	ConnectionID string    `json:"connection_id"`
	NodeID       string    `json:"node_id"`
	Status       string    `json:"status"`
	LastSeen     time.Time `json:"last_seen"`
}
