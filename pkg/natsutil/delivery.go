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

package natsutil

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
	"github.com/nats-io/nats.go"
)

// deliverSubjectPrefix routes signed task envelopes to whichever node holds
// the device's live connection.
const deliverSubjectPrefix = "deliver.task."

// DeliverSubject returns the per-device delivery subject.
func DeliverSubject(deviceID string) string {
	return deliverSubjectPrefix + deviceID
}

// EnvelopeSender publishes task envelopes addressed to a device. The gateway
// on the node holding the socket subscribes to the device's subject.
type EnvelopeSender interface {
	SendEnvelope(ctx context.Context, deviceID string, envelope *models.TaskExecFrame) error
}

// DeliveryBus implements cross-node envelope routing over core NATS pub/sub.
type DeliveryBus struct {
	nc *nats.Conn
}

// NewDeliveryBus wraps an existing NATS connection.
func NewDeliveryBus(nc *nats.Conn) *DeliveryBus {
	return &DeliveryBus{nc: nc}
}

// SendEnvelope publishes the envelope to the device's delivery subject.
func (b *DeliveryBus) SendEnvelope(_ context.Context, deviceID string, envelope *models.TaskExecFrame) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal task envelope: %w", err)
	}

	if err := b.nc.Publish(DeliverSubject(deviceID), payload); err != nil {
		return fmt.Errorf("failed to publish task envelope for device %s: %w", deviceID, err)
	}

	return nil
}

// Subscribe registers a handler for envelopes addressed to the given device.
func (b *DeliveryBus) Subscribe(deviceID string, handler func(envelope *models.TaskExecFrame)) (*nats.Subscription, error) {
	sub, err := b.nc.Subscribe(DeliverSubject(deviceID), func(msg *nats.Msg) {
		var envelope models.TaskExecFrame
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			return
		}

		handler(&envelope)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe for device %s: %w", deviceID, err)
	}

	return sub, nil
}

var _ EnvelopeSender = (*DeliveryBus)(nil)
