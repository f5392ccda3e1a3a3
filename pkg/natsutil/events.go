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

// Package natsutil provides NATS JetStream helpers for event publishing and
// cross-node task delivery.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const eventSource = "skygen/core"

// EventSink receives task and device lifecycle events. Implementations must
// never block the originating state transition; errors are for logging only.
type EventSink interface {
	TaskEvent(ctx context.Context, event string, data models.TaskEventData) error
	DeviceEvent(ctx context.Context, event string, data models.DeviceEventData) error
}

// EventPublisher publishes CloudEvents to a NATS JetStream stream.
type EventPublisher struct {
	js     jetstream.JetStream
	stream string
}

// NewEventPublisher creates a new EventPublisher for the specified stream.
func NewEventPublisher(js jetstream.JetStream, streamName string) *EventPublisher {
	return &EventPublisher{
		js:     js,
		stream: streamName,
	}
}

// TaskEvent publishes a task lifecycle event (task.created, task.assigned,
// task.dlq, task.completed, task.failed, task.cancelled).
func (p *EventPublisher) TaskEvent(ctx context.Context, event string, data models.TaskEventData) error {
	return p.publish(ctx, event, data)
}

// DeviceEvent publishes a device lifecycle event (device.online,
// device.offline).
func (p *EventPublisher) DeviceEvent(ctx context.Context, event string, data models.DeviceEventData) error {
	return p.publish(ctx, event, data)
}

func (p *EventPublisher) publish(ctx context.Context, event string, data interface{}) error {
	now := time.Now()
	ce := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          eventSource,
		Type:            "ai.skygen." + event,
		DataContentType: "application/json",
		Subject:         models.EventSubject(event),
		Time:            &now,
		Data:            data,
	}

	eventBytes, err := json.Marshal(ce)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event, err)
	}

	if _, err := p.js.Publish(ctx, ce.Subject, eventBytes); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event, err)
	}

	return nil
}

// CreateEventPublisher creates an EventPublisher on an existing NATS
// connection, creating the stream if it does not exist yet.
func CreateEventPublisher(ctx context.Context, nc *nats.Conn, streamName string, subjects []string) (*EventPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// Ensure the stream exists
	_, err = js.Stream(ctx, streamName)
	if err != nil {
		if len(subjects) == 0 {
			subjects = []string{"events.task.*", "events.device.*"}
		}

		streamConfig := jetstream.StreamConfig{
			Name:     streamName,
			Subjects: subjects,
		}

		_, err = js.CreateOrUpdateStream(ctx, streamConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create or get stream %s: %w", streamName, err)
		}
	}

	return NewEventPublisher(js, streamName), nil
}

var _ EventSink = (*EventPublisher)(nil)
