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

// Package core composes the orchestration service: persistence, NATS
// plumbing, the task state machine and the components around it.
package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/approval"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/auth"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/db"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/dispatch"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/gateway"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/kv"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/logger"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/models"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/natsutil"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/presence"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/risk"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/scheduler"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/taskflow"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/webhooks"
)

const natsReconnectWait = 2 * time.Second

// Server is the composed orchestration service.
type Server struct {
	config *models.CoreServiceConfig
	logger logger.Logger

	nc            *nats.Conn
	presenceStore kv.KVStore
	authStore     kv.KVStore
	store         db.Service

	keys       *auth.KeyRing
	revoker    *auth.Revoker
	tracker    *presence.Tracker
	tasks      *taskflow.Service
	gate       *approval.Gate
	scheduler  *scheduler.Scheduler
	dispatcher *dispatch.Dispatcher
	wsHandler  *gateway.Handler

	httpServer *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer builds and wires every component from the validated
// configuration.
func NewServer(ctx context.Context, cfg *models.CoreServiceConfig, log logger.Logger) (*Server, error) {
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(natsReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	presenceStore, err := kv.NewNatsStoreWithConn(ctx, nc, cfg.Presence.Bucket, time.Duration(cfg.Presence.TTL))
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("failed to open presence bucket: %w", err)
	}

	// Revocation state lives in its own bucket without a TTL, so a
	// revocation can never expire back into validity.
	authStore, err := kv.NewNatsStoreWithConn(ctx, nc, auth.RevocationBucket(), 0)
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("failed to open auth bucket: %w", err)
	}

	component := func(name string) logger.Logger {
		return logger.FromZerolog(log.WithComponent(name))
	}

	pg, err := db.NewPostgresStore(ctx, &cfg.Database, component("db"))
	if err != nil {
		nc.Close()

		return nil, err
	}

	if err := pg.EnsureSchema(ctx); err != nil {
		nc.Close()

		return nil, err
	}

	var publisher natsutil.EventSink

	if cfg.Events.Enabled {
		p, err := natsutil.CreateEventPublisher(ctx, nc, cfg.Events.StreamName, cfg.Events.Subjects)
		if err != nil {
			nc.Close()

			return nil, err
		}

		publisher = p
	}

	keys, err := auth.NewKeyRing(&cfg.Auth)
	if err != nil {
		nc.Close()

		return nil, err
	}

	deliverer := webhooks.NewDeliverer(&cfg.Webhooks, component("webhooks"))
	fanout := webhooks.NewFanout(pg, deliverer, component("webhooks"))
	events := newMultiSink(publisher, fanout, metricsSink{})

	revoker := auth.NewRevoker(authStore)
	tracker := presence.NewTracker(presenceStore, events, cfg.NodeID, component("presence"))
	analyzer := risk.NewPatternPolicy()

	tasks := taskflow.NewService(pg, analyzer, events, component("taskflow"))

	gate := approval.NewGate(tasks, time.Duration(cfg.Approval.Deadline), component("approval"))
	tasks.SetApprovalHooks(gate.Schedule, gate.Resolve)

	bus := natsutil.NewDeliveryBus(nc)

	dispatcher := dispatch.New(tasks, tracker, bus, keys, events, &cfg.Dispatch, component("dispatch"))
	tasks.SetQueuedHook(dispatcher.Enqueue)

	sched := scheduler.New(pg, tasks, analyzer, events, time.Duration(cfg.Scheduler.TickInterval), component("scheduler"))

	wsHandler := gateway.NewHandler(pg, tasks, tracker, keys, revoker, bus, component("gateway"))

	mux := http.NewServeMux()
	mux.Handle("/ws/agent", wsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return &Server{
		config:        cfg,
		logger:        log,
		nc:            nc,
		presenceStore: presenceStore,
		authStore:     authStore,
		store:         pg,
		keys:          keys,
		revoker:       revoker,
		tracker:       tracker,
		tasks:         tasks,
		gate:          gate,
		scheduler:     sched,
		dispatcher:    dispatcher,
		wsHandler:     wsHandler,
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Tasks exposes the state machine for callers embedding the server.
func (s *Server) Tasks() *taskflow.Service { return s.tasks }

// Scheduler exposes the schedule manager.
func (s *Server) Scheduler() *scheduler.Scheduler { return s.scheduler }

// KeyRing exposes token minting for enrollment flows.
func (s *Server) KeyRing() *auth.KeyRing { return s.keys }

// Revoker exposes token revocation.
func (s *Server) Revoker() *auth.Revoker { return s.revoker }

// Start launches the background loops and serves HTTP until Stop or a
// listener failure.
func (s *Server) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.logger.Info().
		Str("listen_addr", s.config.ListenAddr).
		Str("node_id", s.config.NodeID).
		Msg("Starting core service")

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.dispatcher.Start(runCtx)
	}()

	if s.config.Scheduler.Enabled {
		s.wg.Add(1)

		go func() {
			defer s.wg.Done()
			s.scheduler.Start(runCtx)
		}()
	}

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}

	return nil
}

// Stop shuts everything down in dependency order: listener first, then the
// loops, then the stores and the NATS connection.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping core service")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("HTTP shutdown did not complete cleanly")
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.wg.Wait()
	s.gate.Stop()

	if err := s.presenceStore.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to close presence store")
	}

	if err := s.authStore.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to close auth store")
	}

	if err := s.store.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to close database")
	}

	s.nc.Close()

	return nil
}
