// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// mmidsd is the mmids daemon: it runs the configured media workflows,
// reactors, and the HTTP admin API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/mmids/internal/config"
	"github.com/tombee/mmids/internal/daemon"
	"github.com/tombee/mmids/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to the daemon config file")
		workflowFile = flag.String("workflows", "", "Path to the workflow config file")
		httpAddr     = flag.String("http", "", "Address for the HTTP admin API")
		noWatch      = flag.Bool("no-watch", false, "Disable workflow file hot reload")
		showVersion  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("mmidsd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	// Apply CLI flag overrides
	if *workflowFile != "" {
		cfg.WorkflowFile = *workflowFile
	}
	if *httpAddr != "" {
		cfg.HTTP.Address = *httpAddr
	}
	if *noWatch {
		cfg.WatchWorkflowFile = false
	}

	// The log section of the config file applies unless env vars already
	// configured logging.
	envLogging := false
	for _, key := range []string{"MMIDS_DEBUG", "MMIDS_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE"} {
		if os.Getenv(key) != "" {
			envLogging = true
		}
	}
	if !envLogging && cfg.Log.Level != "" {
		logger = log.New(&log.Config{
			Level:  cfg.Log.Level,
			Format: log.Format(cfg.Log.Format),
			Output: os.Stderr,
		})
		slog.SetDefault(logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting mmidsd",
		"version", version,
		"workflow_file", cfg.WorkflowFile)

	if err := daemon.New(cfg, logger).Run(ctx); err != nil {
		logger.Error("daemon exited with error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("mmidsd stopped")
}
