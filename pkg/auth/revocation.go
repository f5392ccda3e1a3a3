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

package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/kv"
)

const (
	revokedKeyPrefix     = "revoked/jti/"
	activeTokensPrefix   = "device/active/"
	revokedMarker        = "1"
	revocationBucketName = "auth"
)

// RevocationBucket is the KV bucket name for revocation state. It must be a
// bucket without a TTL so revocations never expire silently.
func RevocationBucket() string { return revocationBucketName }

// Revoker tracks revoked token ids and the set of active tokens per device
// in the shared KV store, so every node sees a revocation immediately.
type Revoker struct {
	store kv.KVStore
}

// NewRevoker wraps a KV store.
func NewRevoker(store kv.KVStore) *Revoker {
	return &Revoker{store: store}
}

func revokedKey(jti string) string { return revokedKeyPrefix + jti }

func activeKey(deviceID string) string { return activeTokensPrefix + deviceID }

// RegisterToken records jti as an active token for the device.
func (r *Revoker) RegisterToken(ctx context.Context, deviceID, jti string) error {
	jtis, err := r.activeTokens(ctx, deviceID)
	if err != nil {
		return err
	}

	for _, existing := range jtis {
		if existing == jti {
			return nil
		}
	}

	jtis = append(jtis, jti)

	return r.putActiveTokens(ctx, deviceID, jtis)
}

// RevokeToken marks a single jti revoked and removes it from the device's
// active set.
func (r *Revoker) RevokeToken(ctx context.Context, deviceID, jti string) error {
	if err := r.store.Put(ctx, revokedKey(jti), []byte(revokedMarker), 0); err != nil {
		return fmt.Errorf("failed to mark jti revoked: %w", err)
	}

	jtis, err := r.activeTokens(ctx, deviceID)
	if err != nil {
		return err
	}

	remaining := jtis[:0]

	for _, existing := range jtis {
		if existing != jti {
			remaining = append(remaining, existing)
		}
	}

	return r.putActiveTokens(ctx, deviceID, remaining)
}

// RevokeAllDeviceTokens revokes every active token for the device and
// returns how many were revoked.
func (r *Revoker) RevokeAllDeviceTokens(ctx context.Context, deviceID string) (int, error) {
	jtis, err := r.activeTokens(ctx, deviceID)
	if err != nil {
		return 0, err
	}

	for _, jti := range jtis {
		if err := r.store.Put(ctx, revokedKey(jti), []byte(revokedMarker), 0); err != nil {
			return 0, fmt.Errorf("failed to mark jti revoked: %w", err)
		}
	}

	if err := r.store.Delete(ctx, activeKey(deviceID)); err != nil {
		return 0, err
	}

	return len(jtis), nil
}

// IsRevoked reports whether the jti has been revoked.
func (r *Revoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, found, err := r.store.Get(ctx, revokedKey(jti))
	if err != nil {
		return false, err
	}

	return found, nil
}

// WatchRevocation returns a channel that fires when the jti is revoked. The
// gateway uses this to force-close a live connection mid-session.
func (r *Revoker) WatchRevocation(ctx context.Context, jti string) (<-chan []byte, error) {
	return r.store.Watch(ctx, revokedKey(jti))
}

func (r *Revoker) activeTokens(ctx context.Context, deviceID string) ([]string, error) {
	value, found, err := r.store.Get(ctx, activeKey(deviceID))
	if err != nil {
		return nil, fmt.Errorf("failed to read active tokens for device %s: %w", deviceID, err)
	}

	if !found {
		return nil, nil
	}

	var jtis []string
	if err := json.Unmarshal(value, &jtis); err != nil {
		return nil, fmt.Errorf("failed to decode active tokens for device %s: %w", deviceID, err)
	}

	return jtis, nil
}

func (r *Revoker) putActiveTokens(ctx context.Context, deviceID string, jtis []string) error {
	if len(jtis) == 0 {
		return r.store.Delete(ctx, activeKey(deviceID))
	}

	value, err := json.Marshal(jtis)
	if err != nil {
		return fmt.Errorf("failed to encode active tokens: %w", err)
	}

	return r.store.Put(ctx, activeKey(deviceID), value, 0)
}
