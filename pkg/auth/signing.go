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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SignEnvelope computes the hex HMAC-SHA256 signature over the canonical
// JSON of the payload, using the active key. The "signature" field, if
// present, is excluded from the signed bytes so devices can verify frames
// in place.
func (k *KeyRing) SignEnvelope(payload interface{}) (string, error) {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, k.keys[k.activeKID])
	mac.Write(canonical)

	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyEnvelope checks a signature produced by SignEnvelope with any key in
// the ring, so envelopes signed before a rotation still verify.
func (k *KeyRing) VerifyEnvelope(payload interface{}, signature string) bool {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return false
	}

	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	for _, secret := range k.keys {
		mac := hmac.New(sha256.New, secret)
		mac.Write(canonical)

		if hmac.Equal(mac.Sum(nil), sig) {
			return true
		}
	}

	return false
}

// canonicalJSON produces deterministic JSON: object keys sorted, no
// insignificant whitespace, signature field stripped. Round-tripping
// through a map gives encoding/json's sorted key order at every level.
func canonicalJSON(payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	delete(generic, "signature")

	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal canonical payload: %w", err)
	}

	return canonical, nil
}
