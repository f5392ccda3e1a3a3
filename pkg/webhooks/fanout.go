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
	"strings"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/db"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/logger"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/natsutil"
)

// Fanout routes lifecycle events to the owning user's webhook subscriptions.
// It plugs into the event sink chain, so every published event is also a
// webhook candidate.
type Fanout struct {
	store     db.Service
	deliverer *Deliverer
	logger    logger.Logger
}

// NewFanout wires the fanout against the store and deliverer.
func NewFanout(store db.Service, deliverer *Deliverer, log logger.Logger) *Fanout {
	return &Fanout{
		store:     store,
		deliverer: deliverer,
		logger:    log,
	}
}

// TaskEvent fans a task event out to the task owner's subscriptions.
func (f *Fanout) TaskEvent(ctx context.Context, event string, data models.TaskEventData) error {
	f.dispatch(ctx, data.UserID, event, data)

	return nil
}

// DeviceEvent fans a device event out to the device owner's subscriptions.
// Presence emits these without an owner, so the device record resolves one.
func (f *Fanout) DeviceEvent(ctx context.Context, event string, data models.DeviceEventData) error {
	if data.UserID == "" {
		device, err := f.store.GetDevice(ctx, data.DeviceID)
		if err != nil {
			f.logger.Warn().Err(err).
				Str("device_id", data.DeviceID).
				Str("event", event).
				Msg("Failed to resolve device owner for webhook fanout")

			return nil
		}

		data.UserID = device.UserID
	}

	f.dispatch(ctx, data.UserID, event, data)

	return nil
}

// dispatch matches subscriptions and fires deliveries asynchronously. Errors
// stay inside the webhook pipeline.
func (f *Fanout) dispatch(ctx context.Context, userID, event string, data interface{}) {
	if userID == "" {
		return
	}

	subscriptions, err := f.store.ListActiveWebhooks(ctx, userID)
	if err != nil {
		f.logger.Warn().Err(err).
			Str("user_id", userID).
			Str("event", event).
			Msg("Failed to load webhook subscriptions")

		return
	}

	for _, webhook := range subscriptions {
		if !Matches(webhook.Events, event) {
			continue
		}

		// Detached context: delivery retries outlive the transition that
		// produced the event.
		go f.deliverer.Deliver(context.Background(), webhook, event, data)
	}
}

// Matches reports whether a subscription's event filters select the event.
// A filter is an exact name ("task.completed"), a category wildcard
// ("task.*"), or "*" for everything. An empty filter list matches nothing;
// subscribing to everything is spelled "*".
func Matches(filters []string, event string) bool {
	if len(filters) == 0 {
		return false
	}

	for _, filter := range filters {
		switch {
		case filter == "*":
			return true
		case filter == event:
			return true
		case strings.HasSuffix(filter, ".*") &&
			strings.HasPrefix(event, strings.TrimSuffix(filter, "*")):
			return true
		}
	}

	return false
}

var _ natsutil.EventSink = (*Fanout)(nil)
