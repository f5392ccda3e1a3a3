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

package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/logger"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
)

func testDeliverer(maxAttempts int) *Deliverer {
	d := NewDeliverer(&models.WebhooksConfig{
		Timeout:     models.Duration(2 * time.Second),
		MaxAttempts: maxAttempts,
	}, logger.NewTestLogger())
	d.backoff = time.Millisecond

	return d
}

func TestRetryDelaySequence(t *testing.T) {
	// Production backoff, untouched by the test shrinking above.
	d := NewDeliverer(&models.WebhooksConfig{
		Timeout:     models.Duration(10 * time.Second),
		MaxAttempts: 3,
	}, logger.NewTestLogger())

	assert.Equal(t, time.Second, d.retryDelay(1))
	assert.Equal(t, 2*time.Second, d.retryDelay(2))
	assert.Equal(t, 4*time.Second, d.retryDelay(3))
}

func TestDeliverPostsSignedPayload(t *testing.T) {
	type received struct {
		body      []byte
		signature string
	}

	got := make(chan received, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{body: body, signature: r.Header.Get("X-Webhook-Signature")}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhook := &models.Webhook{
		ID:     "wh-1",
		URL:    server.URL,
		Secret: "hook-secret",
	}

	data := models.TaskEventData{TaskID: "task-1", UserID: "u1", Status: models.TaskStatusCompleted}
	testDeliverer(3).Deliver(context.Background(), webhook, models.EventTaskCompleted, data)

	select {
	case r := <-got:
		var payload Payload
		require.NoError(t, json.Unmarshal(r.body, &payload))
		assert.Equal(t, models.EventTaskCompleted, payload.Event)
		assert.False(t, payload.Timestamp.IsZero())

		// The signature covers the raw body bytes.
		assert.Equal(t, Sign("hook-secret", r.body), r.signature)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook endpoint never hit")
	}
}

func TestDeliverOmitsSignatureWithoutSecret(t *testing.T) {
	got := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	webhook := &models.Webhook{ID: "wh-1", URL: server.URL}
	testDeliverer(3).Deliver(context.Background(), webhook, models.EventTaskCreated, nil)

	select {
	case signature := <-got:
		assert.Empty(t, signature)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook endpoint never hit")
	}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhook := &models.Webhook{ID: "wh-1", URL: server.URL}
	testDeliverer(3).Deliver(context.Background(), webhook, models.EventTaskCreated, nil)

	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDeliverAbandonsAfterAttemptBudget(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	webhook := &models.Webhook{ID: "wh-1", URL: server.URL}

	done := make(chan struct{})

	go func() {
		testDeliverer(3).Deliver(context.Background(), webhook, models.EventTaskFailed, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("delivery never gave up")
	}

	assert.EqualValues(t, 3, atomic.LoadInt32(&calls), "exactly the attempt budget, then abandoned")
}
