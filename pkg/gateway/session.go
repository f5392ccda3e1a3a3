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

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeWriteTimeout = 5 * time.Second

// session is one authenticated device connection. The connection id is the
// token's jti, which also owns the device's presence record.
type session struct {
	conn         *websocket.Conn
	deviceID     string
	connectionID string

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(conn *websocket.Conn, deviceID, connectionID string) *session {
	return &session{
		conn:         conn,
		deviceID:     deviceID,
		connectionID: connectionID,
		done:         make(chan struct{}),
	}
}

// sendJSON writes one frame. Writes are serialized because delivery-bus
// callbacks and the read loop both send on the same socket.
func (s *session) sendJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.conn.WriteJSON(v)
}

// close sends a close frame with the given code and tears the socket down.
// Safe to call from multiple goroutines; only the first call wins.
func (s *session) close(code int, reason string) {
	s.closeOnce.Do(func() {
		message := websocket.FormatCloseMessage(code, reason)

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeWriteTimeout))
		s.writeMu.Unlock()

		_ = s.conn.Close()
		close(s.done)
	})
}

// closed reports whether close has completed.
func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
