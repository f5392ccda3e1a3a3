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

// Package auth implements device credential verification, token revocation
// and task envelope signing.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
)

var (
	ErrMissingKeyID     = errors.New("token has no kid header")
	ErrUnknownKeyID     = errors.New("token signed with unknown kid")
	ErrInvalidToken     = errors.New("invalid device token")
	ErrTokenRevoked     = errors.New("device token revoked")
	ErrUnexpectedMethod = errors.New("unexpected token signing method")
)

// DeviceClaims are the JWT claims carried by a device token. The token id
// (jti) doubles as the connection id while the device is online.
type DeviceClaims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// KeyRing holds the shared HMAC secrets used for device tokens and envelope
// signatures, keyed by kid. ActiveKID selects the key used for new tokens
// and signatures; older keys stay in the ring so rotation does not
// invalidate outstanding tokens.
type KeyRing struct {
	activeKID string
	keys      map[string][]byte
	tokenTTL  time.Duration
}

// NewKeyRing builds a KeyRing from the auth configuration.
func NewKeyRing(cfg *models.AuthConfig) (*KeyRing, error) {
	keys := make(map[string][]byte, len(cfg.Keys))
	for kid, secret := range cfg.Keys {
		keys[kid] = []byte(secret)
	}

	if _, ok := keys[cfg.ActiveKID]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyID, cfg.ActiveKID)
	}

	ttl := time.Duration(cfg.TokenTTL)
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	return &KeyRing{
		activeKID: cfg.ActiveKID,
		keys:      keys,
		tokenTTL:  ttl,
	}, nil
}

// MintDeviceToken issues a device token signed with the active key.
// Returns the token string and its jti.
func (k *KeyRing) MintDeviceToken(deviceID string) (token, jti string, err error) {
	now := time.Now()
	jti = uuid.New().String()

	claims := DeviceClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(k.tokenTTL)),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = k.activeKID

	token, err = t.SignedString(k.keys[k.activeKID])
	if err != nil {
		return "", "", fmt.Errorf("failed to sign device token: %w", err)
	}

	return token, jti, nil
}

// VerifyDeviceToken validates the token signature, expiry and kid, and
// returns the claims. Revocation is checked separately by the Revoker.
func (k *KeyRing) VerifyDeviceToken(tokenString string) (*DeviceClaims, error) {
	claims := &DeviceClaims{}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnexpectedMethod
		}

		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, ErrMissingKeyID
		}

		secret, ok := k.keys[kid]
		if !ok {
			return nil, ErrUnknownKeyID
		}

		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.DeviceID == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
