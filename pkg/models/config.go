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

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

var (
	errInvalidDuration       = fmt.Errorf("invalid duration")
	errListenAddrRequired    = fmt.Errorf("listen address is required")
	errNodeIDRequired        = fmt.Errorf("node_id is required")
	errNATSURLRequired       = fmt.Errorf("nats url is required")
	errActiveKeyRequired     = fmt.Errorf("auth.active_kid must name a configured key")
	errTTLBelowHeartbeat     = fmt.Errorf("presence ttl must be greater than the heartbeat interval")
	errDispatchAttemptsRange = fmt.Errorf("dispatch.max_attempts must be at least 1")
)

// Duration wraps time.Duration so configs can use "30s" style strings.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// parse numeric as nanoseconds
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// NATSConfig configures NATS connectivity.
type NATSConfig struct {
	URL string `json:"url"`
}

func (c *NATSConfig) Validate() error {
	if c.URL == "" {
		return errNATSURLRequired
	}

	return nil
}

// EventsConfig configures the event publishing system.
type EventsConfig struct {
	Enabled    bool     `json:"enabled"`
	StreamName string   `json:"stream_name"`
	Subjects   []string `json:"subjects"`
}

func (c *EventsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.StreamName == "" {
		c.StreamName = "events"
	}

	if len(c.Subjects) == 0 {
		c.Subjects = []string{"events.task.*", "events.device.*"}
	}

	return nil
}

// DatabaseConfig configures the persistence collaborator.
type DatabaseConfig struct {
	DSN string `json:"dsn"`
}

// PresenceConfig configures the presence tracker bucket.
type PresenceConfig struct {
	Bucket            string   `json:"bucket"`
	TTL               Duration `json:"ttl"`
	HeartbeatInterval Duration `json:"heartbeat_interval"`
}

func (c *PresenceConfig) Validate() error {
	if c.Bucket == "" {
		c.Bucket = "presence"
	}

	if c.TTL == 0 {
		c.TTL = Duration(120 * time.Second)
	}

	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = Duration(30 * time.Second)
	}

	// TTL must tolerate at least one missed heartbeat without flapping.
	if time.Duration(c.TTL) <= time.Duration(c.HeartbeatInterval) {
		return errTTLBelowHeartbeat
	}

	return nil
}

// AuthConfig configures device token verification and envelope signing.
// Keys maps key id to shared secret; ActiveKID selects the signing key.
type AuthConfig struct {
	ActiveKID string            `json:"active_kid"`
	Keys      map[string]string `json:"keys"`
	TokenTTL  Duration          `json:"token_ttl"`
}

func (c *AuthConfig) Validate() error {
	if c.TokenTTL == 0 {
		c.TokenTTL = Duration(24 * time.Hour)
	}

	if _, ok := c.Keys[c.ActiveKID]; !ok {
		return errActiveKeyRequired
	}

	return nil
}

// DispatchConfig bounds the delivery retry budget and worker pool.
type DispatchConfig struct {
	Workers       int      `json:"workers"`
	MaxAttempts   int      `json:"max_attempts"`
	RetryInterval Duration `json:"retry_interval"`
}

func (c *DispatchConfig) Validate() error {
	if c.Workers == 0 {
		c.Workers = 4
	}

	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}

	if c.MaxAttempts < 1 {
		return errDispatchAttemptsRange
	}

	if c.RetryInterval == 0 {
		c.RetryInterval = Duration(10 * time.Second)
	}

	return nil
}

// ApprovalConfig configures the approval gate deadline.
type ApprovalConfig struct {
	Deadline Duration `json:"deadline"`
}

func (c *ApprovalConfig) Validate() error {
	if c.Deadline == 0 {
		c.Deadline = Duration(time.Hour)
	}

	return nil
}

// SchedulerConfig configures the cron scheduler loop.
type SchedulerConfig struct {
	Enabled      bool     `json:"enabled"`
	TickInterval Duration `json:"tick_interval"`
}

func (c *SchedulerConfig) Validate() error {
	if c.TickInterval == 0 {
		c.TickInterval = Duration(time.Minute)
	}

	return nil
}

// WebhooksConfig configures outbound webhook delivery.
type WebhooksConfig struct {
	Timeout     Duration `json:"timeout"`
	MaxAttempts int      `json:"max_attempts"`
}

func (c *WebhooksConfig) Validate() error {
	if c.Timeout == 0 {
		c.Timeout = Duration(10 * time.Second)
	}

	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}

	return nil
}

// CoreServiceConfig is the top-level configuration for the core service.
type CoreServiceConfig struct {
	ListenAddr string          `json:"listen_addr"`
	NodeID     string          `json:"node_id"`
	Database   DatabaseConfig  `json:"database"`
	NATS       NATSConfig      `json:"nats"`
	Events     EventsConfig    `json:"events"`
	Presence   PresenceConfig  `json:"presence"`
	Auth       AuthConfig      `json:"auth"`
	Dispatch   DispatchConfig  `json:"dispatch"`
	Approval   ApprovalConfig  `json:"approval"`
	Scheduler  SchedulerConfig `json:"scheduler"`
	Webhooks   WebhooksConfig  `json:"webhooks"`
	Logging    *LogConfig      `json:"logging,omitempty"`
}

// LogConfig mirrors logger.Config so configs stay decodable without
// importing the logger package here.
type LogConfig struct {
	Level      string `json:"level"`
	Debug      bool   `json:"debug"`
	Output     string `json:"output"`
	TimeFormat string `json:"time_format"`
}

// Validate normalizes defaults and rejects unusable configurations.
func (c *CoreServiceConfig) Validate() error {
	if c.ListenAddr == "" {
		return errListenAddrRequired
	}

	if c.NodeID == "" {
		return errNodeIDRequired
	}

	if err := c.NATS.Validate(); err != nil {
		return err
	}

	for _, v := range []interface{ Validate() error }{
		&c.Events, &c.Presence, &c.Auth, &c.Dispatch,
		&c.Approval, &c.Scheduler, &c.Webhooks,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}

	return nil
}
