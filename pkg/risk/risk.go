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

// Package risk classifies task action lists before they are queued. The
// scoring policy is pluggable; the state machine only consumes the
// resulting assessment.
package risk

import (
	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
)

// Analyzer evaluates an action list and returns a risk assessment.
// Implementations must be safe for concurrent use.
type Analyzer interface {
	Analyze(actions []models.Action) *models.RiskAssessment
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(actions []models.Action) *models.RiskAssessment

func (f AnalyzerFunc) Analyze(actions []models.Action) *models.RiskAssessment {
	return f(actions)
}

// PermitAll is an Analyzer that flags nothing. Useful in tests.
var PermitAll = AnalyzerFunc(func([]models.Action) *models.RiskAssessment {
	return &models.RiskAssessment{Level: models.RiskLevelLow, Confidence: 1}
})
