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

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRunEveryFifteenMinutes(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	next, err := NextRun("*/15 * * * *", base)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 15, 0, 0, time.UTC), next)

	// Exactly on a slot: next run is strictly after, never the slot itself.
	next, err = NextRun("*/15 * * * *", next)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC), next)
}

func TestNextRunMonotonicUnderLateTicks(t *testing.T) {
	// The evaluation loop ran late and several slots were missed; next_run
	// still moves to a single future slot, not through the backlog.
	lateNow := time.Date(2025, 6, 1, 13, 47, 12, 0, time.UTC)

	next, err := NextRun("*/15 * * * *", lateNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC), next)
	assert.True(t, next.After(lateNow))
}

func TestWeekdaySevenIsSunday(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"plain seven", "0 9 * * 7"},
		{"range ending at seven", "0 9 * * 5-7"},
		{"full week range", "0 9 * * 0-7"},
		{"list with seven", "0 9 * * 1,7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, ValidateExpression(tt.expr))
		})
	}

	// A Saturday: the "7" schedule must land on the following Sunday.
	saturday := time.Date(2025, 6, 7, 0, 0, 0, 0, time.UTC)

	next, err := NextRun("0 9 * * 7", saturday)
	require.NoError(t, err)
	assert.Equal(t, time.Weekday(0), next.Weekday())
	assert.Equal(t, time.Date(2025, 6, 8, 9, 0, 0, 0, time.UTC), next)
}

func TestInvalidExpressionsRejected(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"garbage", "not a cron"},
		{"too few fields", "* * *"},
		{"six fields", "0 0 * * * *"},
		{"minute out of range", "61 * * * *"},
		{"weekday out of range", "0 9 * * 8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExpression(tt.expr)
			assert.ErrorIs(t, err, ErrInvalidCron)
		})
	}
}
