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

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
)

func sampleEnvelope() *models.TaskExecFrame {
	return &models.TaskExecFrame{
		Type:     models.FrameTypeTaskExec,
		TaskID:   "task-1",
		IssuedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
		Actions: []models.Action{
			{ActionID: "a1", Type: "screenshot"},
		},
	}
}

func TestSignAndVerifyEnvelope(t *testing.T) {
	ring := testKeyRing(t)

	envelope := sampleEnvelope()

	signature, err := ring.SignEnvelope(envelope)
	require.NoError(t, err)
	require.NotEmpty(t, signature)

	assert.True(t, ring.VerifyEnvelope(envelope, signature))
}

func TestSignatureFieldExcludedFromSignedBytes(t *testing.T) {
	ring := testKeyRing(t)

	unsigned := sampleEnvelope()

	signature, err := ring.SignEnvelope(unsigned)
	require.NoError(t, err)

	// Devices verify the frame in place, signature field populated.
	signed := sampleEnvelope()
	signed.Signature = signature

	resigned, err := ring.SignEnvelope(signed)
	require.NoError(t, err)
	assert.Equal(t, signature, resigned)
	assert.True(t, ring.VerifyEnvelope(signed, signature))
}

func TestVerifyRejectsTamperedEnvelope(t *testing.T) {
	ring := testKeyRing(t)

	envelope := sampleEnvelope()

	signature, err := ring.SignEnvelope(envelope)
	require.NoError(t, err)

	envelope.TaskID = "task-2"
	assert.False(t, ring.VerifyEnvelope(envelope, signature))

	assert.False(t, ring.VerifyEnvelope(sampleEnvelope(), "not-hex"))
}

func TestVerifyEnvelopeAcceptsAnyRingKey(t *testing.T) {
	oldRing := testKeyRing(t)

	envelope := sampleEnvelope()

	signature, err := oldRing.SignEnvelope(envelope)
	require.NoError(t, err)

	rotated, err := NewKeyRing(&models.AuthConfig{
		ActiveKID: "k2",
		Keys: map[string]string{
			"k1": "secret-one",
			"k2": "secret-two",
		},
	})
	require.NoError(t, err)

	assert.True(t, rotated.VerifyEnvelope(envelope, signature))
}
