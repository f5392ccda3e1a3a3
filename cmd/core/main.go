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

package main

import (
	"context"
	"flag"
	"log"

	"github.com/Skygen-AI/skygen-web-sub000/pkg/core"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/lifecycle"
	"github.com/Skygen-AI/skygen-web-sub000/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/skygen/core.json", "Path to core config file")
	flag.Parse()

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logCfg := logger.DefaultConfig()
	if cfg.Logging != nil {
		logCfg = &logger.Config{
			Level:      cfg.Logging.Level,
			Debug:      cfg.Logging.Debug,
			Output:     cfg.Logging.Output,
			TimeFormat: cfg.Logging.TimeFormat,
		}
	}

	lg, err := lifecycle.CreateLogger(logCfg)
	if err != nil {
		return err
	}

	ctx := context.Background()

	server, err := core.NewServer(ctx, cfg, lg)
	if err != nil {
		return err
	}

	return lifecycle.RunService(ctx, server)
}
