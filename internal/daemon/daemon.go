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

// Package daemon assembles the mmids process: the step factory, the workflow
// manager, reactors, the admin API, and the workflow config watcher.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	daemonconfig "github.com/tombee/mmids/internal/config"
	"github.com/tombee/mmids/internal/daemon/api"
	"github.com/tombee/mmids/internal/daemon/metrics"
	"github.com/tombee/mmids/internal/endpoints/rtmp"
	"github.com/tombee/mmids/internal/eventhub"
	"github.com/tombee/mmids/pkg/config"
	"github.com/tombee/mmids/pkg/reactor"
	"github.com/tombee/mmids/pkg/reactor/executors/httpexec"
	"github.com/tombee/mmids/pkg/workflow"
	"github.com/tombee/mmids/pkg/workflow/manager"
	"github.com/tombee/mmids/pkg/workflow/runner"
	"github.com/tombee/mmids/pkg/workflow/step"
	"github.com/tombee/mmids/pkg/workflow/steps/rtmpreceive"
	"github.com/tombee/mmids/pkg/workflow/steps/rtmpwatch"
)

// rtmpRequestBuffer sizes the endpoint request channel so step construction
// never blocks on a slow endpoint.
const rtmpRequestBuffer = 1024

// Daemon is a fully assembled mmids process.
type Daemon struct {
	cfg       *daemonconfig.Config
	logger    *slog.Logger
	collector *metrics.Collector

	hub           *eventhub.Hub
	managerHandle *manager.Handle
	reactors      []*reactor.Handle
	rtmpRequests  chan rtmp.Request

	// ready is closed once the manager is running and the initial
	// workflow config has been applied.
	ready chan struct{}

	// knownWorkflows tracks config-file workflows so reloads can stop the
	// ones that disappeared and skip the ones that didn't change.
	knownWorkflows map[string]*workflow.Definition
}

// New creates a daemon from its configuration.
func New(cfg *daemonconfig.Config, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}

	return &Daemon{
		cfg:            cfg,
		logger:         logger,
		collector:      metrics.New(),
		hub:            eventhub.New(logger),
		rtmpRequests:   make(chan rtmp.Request, rtmpRequestBuffer),
		ready:          make(chan struct{}),
		knownWorkflows: make(map[string]*workflow.Definition),
	}
}

// Ready is closed once the manager is running and the initial workflow
// config has been applied.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Manager returns the workflow manager handle. Valid once Ready is closed.
func (d *Daemon) Manager() *manager.Handle {
	return d.managerHandle
}

// RTMPEndpointRequests is the channel an RTMP server endpoint services to
// receive step registrations.
func (d *Daemon) RTMPEndpointRequests() <-chan rtmp.Request {
	return d.rtmpRequests
}

// Run starts every subsystem and blocks until the context is cancelled or a
// subsystem fails.
func (d *Daemon) Run(ctx context.Context) error {
	factory := step.NewFactory()
	if err := factory.Register(rtmpreceive.StepType, rtmpreceive.NewGenerator(d.rtmpRequests, d.logger)); err != nil {
		return err
	}
	if err := factory.Register(rtmpwatch.StepType, rtmpwatch.NewGenerator(d.rtmpRequests, d.logger)); err != nil {
		return err
	}

	d.managerHandle = manager.Start(ctx, factory,
		manager.WithLogger(d.logger),
		manager.WithMetrics(d.collector),
		manager.WithRunnerOptions(
			runner.WithLogger(d.logger),
			runner.WithMetrics(d.collector),
		))
	defer d.managerHandle.Close()

	d.hub.PublishManagerRegistered(d.managerHandle)
	defer d.hub.Close()

	if err := d.loadWorkflowFile(); err != nil {
		return err
	}
	close(d.ready)

	for _, reactorConfig := range d.cfg.Reactors {
		handle, err := d.startReactor(ctx, reactorConfig)
		if err != nil {
			return err
		}
		d.reactors = append(d.reactors, handle)
	}
	defer func() {
		for _, handle := range d.reactors {
			handle.Close()
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)

	if d.cfg.WatchWorkflowFile {
		group.Go(func() error {
			return d.watchWorkflowFile(groupCtx)
		})
	}

	if d.cfg.HTTPEnabled() {
		server := &http.Server{
			Addr: d.cfg.HTTP.Address,
			Handler: api.NewRouter(api.Config{
				Manager:        d.managerHandle,
				MetricsHandler: d.collector.Handler(),
				Logger:         d.logger,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		group.Go(func() error {
			d.logger.Info("starting http api", "address", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http api failed: %w", err)
			}
			return nil
		})

		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		return groupCtx.Err()
	})

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loadWorkflowFile parses the workflow config file and reconciles the
// manager with it: every defined workflow is upserted, and workflows that a
// previous load defined but this one doesn't are stopped.
func (d *Daemon) loadWorkflowFile() error {
	content, err := os.ReadFile(d.cfg.WorkflowFile)
	if err != nil {
		return fmt.Errorf("failed to read workflow file: %w", err)
	}

	parsed, err := config.Parse(string(content))
	if err != nil {
		return fmt.Errorf("failed to parse workflow file: %w", err)
	}

	d.applyWorkflowConfig(parsed)
	return nil
}

func (d *Daemon) applyWorkflowConfig(parsed *config.Config) {
	current := make(map[string]*workflow.Definition, len(parsed.Workflows))
	for name, definition := range parsed.Workflows {
		current[name] = definition
		if previous, ok := d.knownWorkflows[name]; ok && definitionsEqual(previous, definition) {
			continue
		}

		d.managerHandle.Send(manager.Request{
			RequestID: "config_file_load",
			Operation: manager.UpsertWorkflow{Definition: definition.Clone()},
		})
	}

	for name := range d.knownWorkflows {
		if current[name] == nil {
			d.logger.Info("workflow removed from config file", "workflow", name)
			d.managerHandle.Send(manager.Request{
				RequestID: "config_file_load",
				Operation: manager.StopWorkflow{Name: name},
			})
		}
	}

	d.knownWorkflows = current
	d.logger.Info("workflow config applied", "workflow_count", len(current))
}

func (d *Daemon) startReactor(ctx context.Context, reactorConfig daemonconfig.ReactorConfig) (*reactor.Handle, error) {
	var executor reactor.Executor
	switch reactorConfig.Executor {
	case "http":
		executor = httpexec.New(reactorConfig.URL, httpexec.WithLogger(d.logger))
	default:
		return nil, fmt.Errorf("reactor '%s' has unknown executor '%s'", reactorConfig.Name, reactorConfig.Executor)
	}

	d.logger.Info("starting reactor",
		"reactor", reactorConfig.Name,
		"executor", reactorConfig.Executor)

	return reactor.Start(ctx, reactor.Config{
		Name:           reactorConfig.Name,
		Executor:       executor,
		Hub:            d.hub,
		UpdateInterval: reactorConfig.UpdateInterval.Std(),
		Logger:         d.logger,
		Metrics:        d.collector,
	}), nil
}

// definitionsEqual reports whether two definitions would build identical
// pipelines.
func definitionsEqual(a, b *workflow.Definition) bool {
	if a.Name != b.Name || len(a.Steps) != len(b.Steps) {
		return false
	}
	for i := range a.Steps {
		if a.Steps[i].ID() != b.Steps[i].ID() {
			return false
		}
	}
	return true
}
