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

package core

import (
	"context"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/metrics"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/natsutil"
)

// multiSink fans each lifecycle event out to every configured sink: the
// JetStream publisher, the webhook dispatcher and the metrics sink. Sinks
// are independent; one failing never stops the others.
type multiSink struct {
	sinks []natsutil.EventSink
}

func newMultiSink(sinks ...natsutil.EventSink) *multiSink {
	active := make([]natsutil.EventSink, 0, len(sinks))

	for _, sink := range sinks {
		if sink != nil {
			active = append(active, sink)
		}
	}

	return &multiSink{sinks: active}
}

func (m *multiSink) TaskEvent(ctx context.Context, event string, data models.TaskEventData) error {
	var firstErr error

	for _, sink := range m.sinks {
		if err := sink.TaskEvent(ctx, event, data); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (m *multiSink) DeviceEvent(ctx context.Context, event string, data models.DeviceEventData) error {
	var firstErr error

	for _, sink := range m.sinks {
		if err := sink.DeviceEvent(ctx, event, data); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// metricsSink translates lifecycle events into Prometheus counters.
type metricsSink struct{}

func (metricsSink) TaskEvent(_ context.Context, event string, data models.TaskEventData) error {
	switch event {
	case models.EventTaskCreated:
		metrics.TasksCreatedTotal.Inc()
	case models.EventTaskDLQ:
		metrics.TasksDeadLetteredTotal.Inc()
	case models.EventTaskCompleted, models.EventTaskFailed, models.EventTaskCancelled:
		metrics.TasksFinalizedTotal.WithLabelValues(string(data.Status)).Inc()
	}

	return nil
}

func (metricsSink) DeviceEvent(context.Context, string, models.DeviceEventData) error {
	return nil
}

var (
	_ natsutil.EventSink = (*multiSink)(nil)
	_ natsutil.EventSink = metricsSink{}
)
