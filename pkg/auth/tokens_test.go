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

func testKeyRing(t *testing.T) *KeyRing {
	t.Helper()

	ring, err := NewKeyRing(&models.AuthConfig{
		ActiveKID: "k1",
		Keys:      map[string]string{"k1": "secret-one"},
		TokenTTL:  models.Duration(time.Hour),
	})
	require.NoError(t, err)

	return ring
}

func TestNewKeyRingRejectsUnknownActiveKID(t *testing.T) {
	_, err := NewKeyRing(&models.AuthConfig{
		ActiveKID: "missing",
		Keys:      map[string]string{"k1": "secret-one"},
	})
	assert.ErrorIs(t, err, ErrUnknownKeyID)
}

func TestMintAndVerifyDeviceToken(t *testing.T) {
	ring := testKeyRing(t)

	token, jti, err := ring.MintDeviceToken("device-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.NotEmpty(t, jti)

	claims, err := ring.VerifyDeviceToken(token)
	require.NoError(t, err)
	assert.Equal(t, "device-1", claims.DeviceID)
	assert.Equal(t, jti, claims.ID)
}

func TestVerifyRejectsForeignToken(t *testing.T) {
	ring := testKeyRing(t)

	other, err := NewKeyRing(&models.AuthConfig{
		ActiveKID: "k1",
		Keys:      map[string]string{"k1": "different-secret"},
	})
	require.NoError(t, err)

	token, _, err := other.MintDeviceToken("device-1")
	require.NoError(t, err)

	_, err = ring.VerifyDeviceToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	ring, err := NewKeyRing(&models.AuthConfig{
		ActiveKID: "k1",
		Keys:      map[string]string{"k1": "secret-one"},
		TokenTTL:  models.Duration(-time.Minute),
	})
	require.NoError(t, err)

	token, _, err := ring.MintDeviceToken("device-1")
	require.NoError(t, err)

	_, err = ring.VerifyDeviceToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	ring := testKeyRing(t)

	_, err := ring.VerifyDeviceToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestKeyRotationKeepsOldTokensValid(t *testing.T) {
	oldRing := testKeyRing(t)

	token, _, err := oldRing.MintDeviceToken("device-1")
	require.NoError(t, err)

	rotated, err := NewKeyRing(&models.AuthConfig{
		ActiveKID: "k2",
		Keys: map[string]string{
			"k1": "secret-one",
			"k2": "secret-two",
		},
	})
	require.NoError(t, err)

	claims, err := rotated.VerifyDeviceToken(token)
	require.NoError(t, err)
	assert.Equal(t, "device-1", claims.DeviceID)
}
