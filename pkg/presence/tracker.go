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

// Package presence tracks per-device liveness in the shared KV store.
// Expiry is passive: the bucket TTL retires records on its own, and any
// reader treats a missing key as authoritative offline.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/kv"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/logger"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/natsutil"
)

const deviceKeyPrefix = "device/"

// Tracker reads and writes PresenceRecords. Writes happen only from the
// device gateway; the dispatcher and scheduler are read-only consumers.
type Tracker struct {
	store  kv.KVStore
	events natsutil.EventSink
	nodeID string
	logger logger.Logger

	mu     sync.Mutex
	online map[string]bool // last observed state, for offline-edge dedup
}

// NewTracker creates a Tracker. events may be nil in tests.
func NewTracker(store kv.KVStore, events natsutil.EventSink, nodeID string, log logger.Logger) *Tracker {
	return &Tracker{
		store:  store,
		events: events,
		nodeID: nodeID,
		logger: log,
		online: make(map[string]bool),
	}
}

func deviceKey(deviceID string) string { return deviceKeyPrefix + deviceID }

// SetOnline writes a fresh PresenceRecord for the device, making the given
// connection authoritative, and emits device.online on an offline-to-online
// edge.
func (t *Tracker) SetOnline(ctx context.Context, deviceID, connectionID string) error {
	record := models.PresenceRecord{
		DeviceID:     deviceID,
		ConnectionID: connectionID,
		NodeID:       t.nodeID,
		Status:       models.PresenceOnline,
		LastSeen:     time.Now().UTC(),
	}

	if err := t.put(ctx, &record); err != nil {
		return err
	}

	t.mu.Lock()
	wasOnline := t.online[deviceID]
	t.online[deviceID] = true
	t.mu.Unlock()

	if !wasOnline {
		t.emitDeviceEvent(ctx, models.EventDeviceOnline, deviceID)
	}

	return nil
}

// Heartbeat refreshes the record's TTL and last_seen. The refresh is skipped
// if another connection has become authoritative in the meantime.
func (t *Tracker) Heartbeat(ctx context.Context, deviceID, connectionID string) error {
	record, found, err := t.Get(ctx, deviceID)
	if err != nil {
		return err
	}

	if found && record.ConnectionID != connectionID {
		// A newer register won; this connection no longer owns presence.
		return nil
	}

	record = &models.PresenceRecord{
		DeviceID:     deviceID,
		ConnectionID: connectionID,
		NodeID:       t.nodeID,
		Status:       models.PresenceOnline,
		LastSeen:     time.Now().UTC(),
	}

	return t.put(ctx, record)
}

// SetOffline removes the record if it is still owned by connectionID and
// emits device.offline on the online-to-offline edge.
func (t *Tracker) SetOffline(ctx context.Context, deviceID, connectionID string) error {
	record, found, err := t.Get(ctx, deviceID)
	if err != nil {
		return err
	}

	if found && record.ConnectionID != connectionID {
		// Presence belongs to a newer connection; leave it alone.
		return nil
	}

	if found {
		if err := t.store.Delete(ctx, deviceKey(deviceID)); err != nil {
			return err
		}
	}

	t.markOffline(ctx, deviceID)

	return nil
}

// IsOnline reports device liveness. A missing or expired record is
// authoritative offline; the first read observing the expiry emits
// device.offline exactly once.
func (t *Tracker) IsOnline(ctx context.Context, deviceID string) (bool, error) {
	_, found, err := t.Get(ctx, deviceID)
	if err != nil {
		return false, err
	}

	if !found {
		t.markOffline(ctx, deviceID)

		return false, nil
	}

	return true, nil
}

// Get returns the raw PresenceRecord if present and unexpired.
func (t *Tracker) Get(ctx context.Context, deviceID string) (*models.PresenceRecord, bool, error) {
	value, found, err := t.store.Get(ctx, deviceKey(deviceID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read presence for device %s: %w", deviceID, err)
	}

	if !found {
		return nil, false, nil
	}

	var record models.PresenceRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, false, fmt.Errorf("failed to decode presence for device %s: %w", deviceID, err)
	}

	return &record, true, nil
}

func (t *Tracker) put(ctx context.Context, record *models.PresenceRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode presence record: %w", err)
	}

	if err := t.store.Put(ctx, deviceKey(record.DeviceID), value, 0); err != nil {
		return fmt.Errorf("failed to write presence for device %s: %w", record.DeviceID, err)
	}

	return nil
}

// markOffline emits device.offline once per offline edge.
func (t *Tracker) markOffline(ctx context.Context, deviceID string) {
	t.mu.Lock()
	wasOnline := t.online[deviceID]
	delete(t.online, deviceID)
	t.mu.Unlock()

	if wasOnline {
		t.emitDeviceEvent(ctx, models.EventDeviceOffline, deviceID)
	}
}

func (t *Tracker) emitDeviceEvent(ctx context.Context, event, deviceID string) {
	if t.events == nil {
		return
	}

	data := models.DeviceEventData{DeviceID: deviceID, NodeID: t.nodeID}
	if err := t.events.DeviceEvent(ctx, event, data); err != nil {
		t.logger.Warn().Err(err).
			Str("device_id", deviceID).
			Str("event", event).
			Msg("Failed to publish device event")
	}
}
