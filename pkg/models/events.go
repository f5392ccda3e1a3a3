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

// Lifecycle event names emitted on the event bus and matched against
// webhook subscriptions.
const (
	EventTaskCreated   = "task.created"
	EventTaskAssigned  = "task.assigned"
	EventTaskSkipped   = "task.skipped"
	EventTaskDLQ       = "task.dlq"
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
	EventTaskCancelled = "task.cancelled"
	EventDeviceOnline  = "device.online"
	EventDeviceOffline = "device.offline"
)

// EventSubject maps an event name to its NATS subject under the events
// stream.
func EventSubject(event string) string {
	return "events." + event
}

// CloudEvent represents a CloudEvents v1.0 compliant event.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

// TaskEventData is the payload of task.* lifecycle events. TaskID is empty
// for task.skipped, where no task was created.
type TaskEventData struct {
	TaskID          string     `json:"task_id,omitempty"`
	UserID          string     `json:"user_id"`
	DeviceID        string     `json:"device_id"`
	Status          TaskStatus `json:"status,omitempty"`
	Title           string     `json:"title,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	ScheduledTaskID string     `json:"scheduled_task_id,omitempty"`
}

// DeviceEventData is the payload of device.* lifecycle events.
type DeviceEventData struct {
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id,omitempty"`
	NodeID   string `json:"node_id,omitempty"`
	Name     string `json:"name,omitempty"`
}
