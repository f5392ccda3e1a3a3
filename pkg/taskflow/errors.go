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

import "errors"

var (
	// ErrInvalidTransition is returned when a state move is not permitted
	// from the task's current status. It is a no-op: the task is left
	// unchanged and callers treat it as a typed outcome, not a failure.
	ErrInvalidTransition = errors.New("invalid task transition")

	// ErrRiskBlocked is returned by Create when risk analysis classifies
	// the action list as critical. Blocked tasks are never queued.
	ErrRiskBlocked = errors.New("task blocked by risk policy")
)
