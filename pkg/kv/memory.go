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

package kv

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process KVStore with lazy per-key expiry. It is used
// in tests and single-node development setups; production deployments use
// NatsStore so presence is visible across nodes.
type MemoryStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	entries   map[string]memoryEntry
	watchers  map[string][]chan []byte
	clockSkew time.Duration // tests can push entries past expiry
	closed    bool
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory store. A non-zero ttl applies to all
// entries, mirroring a bucket-level TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		entries:  make(map[string]memoryEntry),
		watchers: make(map[string][]chan []byte),
	}
}

// AdvanceClock shifts the store's view of "now" forward. Test helper for
// exercising TTL expiry without sleeping.
func (m *MemoryStore) AdvanceClock(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clockSkew += d
}

func (m *MemoryStore) now() time.Time {
	return time.Now().Add(m.clockSkew)
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}

	if !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt) {
		delete(m.entries, key)

		return nil, false, nil
	}

	return entry.value, true, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl == 0 {
		ttl = m.ttl
	}

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}

	m.entries[key] = entry
	m.notify(key, value)

	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	m.notify(key, nil)

	return nil
}

func (m *MemoryStore) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan []byte, 8)
	m.watchers[key] = append(m.watchers[key], ch)

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()

		chans := m.watchers[key]
		for i, c := range chans {
			if c == ch {
				m.watchers[key] = append(chans[:i], chans[i+1:]...)
				close(ch)

				break
			}
		}
	}()

	return ch, nil
}

// notify must be called with the lock held.
func (m *MemoryStore) notify(key string, value []byte) {
	for _, ch := range m.watchers[key] {
		select {
		case ch <- value:
		default:
		}
	}
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}

var _ KVStore = (*MemoryStore)(nil)
