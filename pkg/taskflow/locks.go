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

package taskflow

import (
	"hash/fnv"
	"sync"
)

const lockShards = 64

// idLocks serializes transitions per task id with a fixed set of sharded
// mutexes. Two different ids may share a shard, which only costs some
// contention; the invariant is that the same id always maps to the same
// mutex, so at most one transition is in flight per task.
type idLocks struct {
	shards [lockShards]sync.Mutex
}

func (l *idLocks) lock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))

	return &l.shards[h.Sum32()%lockShards]
}
