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

// Package webhooks fans lifecycle events out to user-registered HTTP
// endpoints. Delivery is best effort with a bounded retry budget and never
// blocks a state transition.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/logger"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/metrics"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
)

const (
	signatureHeader = "X-Webhook-Signature"
	baseBackoff     = time.Second
)

// Payload is the JSON body POSTed to webhook endpoints.
type Payload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Deliverer POSTs event payloads to a single endpoint with retries.
type Deliverer struct {
	client      *http.Client
	maxAttempts int
	backoff     time.Duration
	logger      logger.Logger
}

// NewDeliverer builds a Deliverer from the webhook configuration.
func NewDeliverer(cfg *models.WebhooksConfig, log logger.Logger) *Deliverer {
	return &Deliverer{
		client:      &http.Client{Timeout: time.Duration(cfg.Timeout)},
		maxAttempts: cfg.MaxAttempts,
		backoff:     baseBackoff,
		logger:      log,
	}
}

// Deliver POSTs the event to the webhook, retrying transient failures with
// exponential backoff (1s, 2s, 4s). After the attempt budget the delivery is
// abandoned and only logged; webhook health never feeds back into the task
// lifecycle.
func (d *Deliverer) Deliver(ctx context.Context, webhook *models.Webhook, event string, data interface{}) {
	body, err := json.Marshal(Payload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		d.logger.Error().Err(err).Str("event", event).Msg("Failed to encode webhook payload")

		return
	}

	var lastErr error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if lastErr = d.post(ctx, webhook, body); lastErr == nil {
			metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()

			d.logger.Debug().
				Str("webhook_id", webhook.ID).
				Str("event", event).
				Int("attempt", attempt).
				Msg("Webhook delivered")

			return
		}

		if attempt == d.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.retryDelay(attempt)):
		}
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues("abandoned").Inc()

	d.logger.Warn().Err(lastErr).
		Str("webhook_id", webhook.ID).
		Str("url", webhook.URL).
		Str("event", event).
		Int("attempts", d.maxAttempts).
		Msg("Webhook delivery abandoned")
}

// retryDelay doubles from the base per failed attempt: 1s after the first,
// 2s after the second, 4s after the third.
func (d *Deliverer) retryDelay(attempt int) time.Duration {
	return d.backoff << (attempt - 1)
}

func (d *Deliverer) post(ctx context.Context, webhook *models.Webhook, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if webhook.Secret != "" {
		req.Header.Set(signatureHeader, Sign(webhook.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// Sign computes the signature header value for a payload body:
// "sha256=" followed by the hex HMAC-SHA256 of the raw bytes.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
