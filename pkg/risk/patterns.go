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

package risk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
)

var criticalPatterns = compilePatterns([]string{
	`rm\s+-rf\s+/`,
	`format\s+[c-z]:`,
	`del\s+/[qsf]`,
	`shutdown\s+/[srf]`,
	`mkfs\.`,
	`dd\s+if=/dev/zero`,
})

var highRiskPatterns = compilePatterns([]string{
	`sudo\s+rm`,
	`chmod\s+777`,
	`curl.*\|\s*sh`,
	`wget.*\|\s*bash`,
	`regedit\s+/s`,
	`net\s+user.*password`,
})

var sensitivePaths = []string{
	"/etc/passwd", "/etc/shadow", "/boot/",
	`C:\Windows\System32`, `C:\Program Files`,
	"/System/", "/Library/Keychains/",
}

var suspiciousDomains = []string{"pastebin.com", "bit.ly", "tinyurl.com"}

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(`(?i)`+p))
	}

	return compiled
}

// PatternPolicy is the default Analyzer: regex and path heuristics over
// shell, file and network actions. Any shell command is at least high risk
// and therefore gated behind approval.
type PatternPolicy struct{}

// NewPatternPolicy returns the default pattern-based analyzer.
func NewPatternPolicy() *PatternPolicy {
	return &PatternPolicy{}
}

// Analyze scores each action and keeps the worst level with the combined
// reasons.
func (p *PatternPolicy) Analyze(actions []models.Action) *models.RiskAssessment {
	maxLevel := models.RiskLevelLow

	var reasons []string

	for i := range actions {
		level, actionReasons := p.analyzeAction(&actions[i])
		if level.Rank() > maxLevel.Rank() {
			maxLevel = level
		}

		reasons = append(reasons, actionReasons...)
	}

	return &models.RiskAssessment{
		Level:            maxLevel,
		Reasons:          reasons,
		Confidence:       1,
		RequiresApproval: RequiresApproval(maxLevel),
	}
}

func (p *PatternPolicy) analyzeAction(action *models.Action) (models.RiskLevel, []string) {
	switch action.Type {
	case "file_delete":
		path, _ := action.Params["path"].(string)

		for _, sensitive := range sensitivePaths {
			if strings.Contains(path, sensitive) {
				return models.RiskLevelCritical, []string{fmt.Sprintf("deleting sensitive path: %s", path)}
			}
		}

		if strings.HasPrefix(path, "/") || strings.HasSuffix(path, "*") {
			return models.RiskLevelHigh, []string{fmt.Sprintf("dangerous delete pattern: %s", path)}
		}

	case "shell":
		command, _ := action.Params["command"].(string)

		for _, pattern := range criticalPatterns {
			if pattern.MatchString(command) {
				return models.RiskLevelCritical, []string{fmt.Sprintf("critical command detected: %s", command)}
			}
		}

		for _, pattern := range highRiskPatterns {
			if pattern.MatchString(command) {
				return models.RiskLevelHigh, []string{fmt.Sprintf("high-risk command: %s", command)}
			}
		}

		if strings.Contains(command, "|") &&
			(strings.Contains(command, "curl") || strings.Contains(command, "wget")) {
			return models.RiskLevelHigh, []string{"remote code execution via pipe"}
		}

		// Any shell command is gated behind approval as a precaution.
		return models.RiskLevelHigh, []string{"shell command requires approval"}

	case "network_request":
		url, _ := action.Params["url"].(string)

		for _, domain := range suspiciousDomains {
			if strings.Contains(url, domain) {
				return models.RiskLevelMedium, []string{"suspicious URL shortener/paste site"}
			}
		}
	}

	return models.RiskLevelLow, nil
}

// RequiresApproval reports whether the level must pass the approval gate.
func RequiresApproval(level models.RiskLevel) bool {
	return level == models.RiskLevelHigh || level == models.RiskLevelCritical
}

// ShouldBlock reports whether the level is rejected outright, never queued.
func ShouldBlock(level models.RiskLevel) bool {
	return level == models.RiskLevelCritical
}

var _ Analyzer = (*PatternPolicy)(nil)
