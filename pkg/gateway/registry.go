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

package gateway

import "sync"

// registry holds this node's live sessions keyed by device id. A device has
// at most one live session; a newer register supersedes the old one.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*session)}
}

// replace installs s as the device's session and returns the superseded one,
// if any.
func (r *registry) replace(s *session) *session {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.sessions[s.deviceID]
	r.sessions[s.deviceID] = s

	return old
}

// remove drops s only if it is still the device's current session, so a
// superseded connection's teardown cannot evict its replacement.
func (r *registry) remove(s *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[s.deviceID]; ok && current == s {
		delete(r.sessions, s.deviceID)

		return true
	}

	return false
}

// count returns the number of live sessions.
func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}
