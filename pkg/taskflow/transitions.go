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

import "github.com/Skygen-AI/skygen-web-sub000/pkg/models"

// allowedTransitions is the task lifecycle graph. Transitions only move
// forward; cancel is permitted from any non-terminal state and is encoded
// explicitly per state so the table stays the single source of truth.
var allowedTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusCreated: {
		models.TaskStatusQueued,
		models.TaskStatusAwaitingConfirmation,
		models.TaskStatusCancelled,
	},
	models.TaskStatusAwaitingConfirmation: {
		models.TaskStatusQueued,
		models.TaskStatusCancelled,
	},
	models.TaskStatusQueued: {
		models.TaskStatusAssigned,
		models.TaskStatusFailed,
		models.TaskStatusCancelled,
	},
	models.TaskStatusAssigned: {
		models.TaskStatusInProgress,
		models.TaskStatusCompleted,
		models.TaskStatusFailed,
		models.TaskStatusCancelled,
	},
	models.TaskStatusInProgress: {
		models.TaskStatusCompleted,
		models.TaskStatusFailed,
		models.TaskStatusCancelled,
	},
}

// canTransition reports whether moving from one status to another is
// permitted by the lifecycle graph.
func canTransition(from, to models.TaskStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}
