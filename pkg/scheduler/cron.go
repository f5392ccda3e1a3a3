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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidCron = errors.New("invalid cron expression")

	// Standard 5-field cron: minute hour day-of-month month day-of-week.
	cronParser = cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)
)

// ParseExpression parses a 5-field cron expression. Weekday 7 is accepted
// as an alias for Sunday.
func ParseExpression(expr string) (cron.Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("%w: want 5 fields, got %d", ErrInvalidCron, len(fields))
	}

	fields[4] = normalizeWeekday(fields[4])

	schedule, err := cronParser.Parse(strings.Join(fields, " "))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCron, err)
	}

	return schedule, nil
}

// ValidateExpression rejects malformed expressions. Called at ScheduledTask
// creation so evaluation never sees an unparsable expression.
func ValidateExpression(expr string) error {
	_, err := ParseExpression(expr)

	return err
}

// NextRun returns the first firing time strictly after the given instant.
func NextRun(expr string, after time.Time) (time.Time, error) {
	schedule, err := ParseExpression(expr)
	if err != nil {
		return time.Time{}, err
	}

	return schedule.Next(after), nil
}

// normalizeWeekday rewrites 7 to 0 in the day-of-week field, since the
// underlying parser only accepts 0-6. A range ending at 7 becomes the
// equivalent list ending at Sunday.
func normalizeWeekday(field string) string {
	parts := strings.Split(field, ",")

	for i, part := range parts {
		switch {
		case part == "7":
			parts[i] = "0"
		case strings.HasSuffix(part, "-7"):
			base := strings.TrimSuffix(part, "-7")
			if base == "7" || base == "0" {
				parts[i] = "0-6"
			} else {
				parts[i] = base + "-6,0"
			}
		}
	}

	return strings.Join(parts, ",")
}
