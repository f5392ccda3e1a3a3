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

// Package metrics exposes Prometheus collectors for the orchestration core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WSConnectionsTotal counts accepted device WebSocket registrations.
	WSConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skygen_ws_connections_total",
		Help: "Total accepted device WebSocket registrations.",
	})

	// WSConnectionsCurrent tracks live device connections on this node.
	WSConnectionsCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skygen_ws_connections_current",
		Help: "Device WebSocket connections currently open on this node.",
	})

	// WSHeartbeatsTotal counts heartbeat frames received.
	WSHeartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skygen_ws_heartbeats_total",
		Help: "Total heartbeat frames received from devices.",
	})

	// WSAuthRejectsTotal counts registrations refused for auth reasons.
	WSAuthRejectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skygen_ws_auth_rejects_total",
		Help: "Total device registrations rejected for invalid or revoked credentials.",
	})

	// TasksCreatedTotal counts tasks entering the lifecycle.
	TasksCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skygen_tasks_created_total",
		Help: "Total tasks created.",
	})

	// TasksFinalizedTotal counts terminal task outcomes by status.
	TasksFinalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skygen_tasks_finalized_total",
		Help: "Total tasks reaching a terminal status.",
	}, []string{"status"})

	// TasksDeadLetteredTotal counts tasks dead-lettered after exhausted
	// delivery retries.
	TasksDeadLetteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skygen_tasks_dead_lettered_total",
		Help: "Total tasks dead-lettered after exhausted delivery retries.",
	})

	// EnvelopesDeliveredTotal counts signed task envelopes handed to devices.
	EnvelopesDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skygen_envelopes_delivered_total",
		Help: "Total signed task envelopes delivered to devices.",
	})

	// WebhookDeliveriesTotal counts webhook delivery outcomes.
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skygen_webhook_deliveries_total",
		Help: "Total webhook delivery attempts by final outcome.",
	}, []string{"outcome"})
)
