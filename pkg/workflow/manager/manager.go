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

// Package manager owns the set of running workflows. It starts a runner per
// workflow definition, forwards definition updates to existing runners, and
// answers state queries for the admin API.
package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/mmids/internal/log"
	"github.com/tombee/mmids/pkg/workflow"
	"github.com/tombee/mmids/pkg/workflow/runner"
	"github.com/tombee/mmids/pkg/workflow/step"
)

// Request is a message sent to the workflow manager. RequestID is opaque to
// the manager and used by callers for correlation.
type Request struct {
	RequestID string
	Operation Operation
}

// Operation is the action a manager request performs.
type Operation interface {
	isManagerOperation()
}

// UpsertWorkflow starts a workflow for the definition, or updates the
// existing workflow with the same name.
type UpsertWorkflow struct {
	Definition workflow.Definition
}

// StopWorkflow stops the named workflow. Stopping an unknown workflow is a
// no-op.
type StopWorkflow struct {
	Name string
}

// ListWorkflows requests the names of all running workflows.
type ListWorkflows struct {
	Response chan<- []string
}

// GetWorkflowDetails requests a state snapshot of the named workflow. A nil
// response means no such workflow is running.
type GetWorkflowDetails struct {
	Name     string
	Response chan<- *runner.State
}

func (UpsertWorkflow) isManagerOperation()     {}
func (StopWorkflow) isManagerOperation()       {}
func (ListWorkflows) isManagerOperation()      {}
func (GetWorkflowDetails) isManagerOperation() {}

// MetricsCollector receives workflow lifecycle metrics.
type MetricsCollector interface {
	SetActiveWorkflows(count int)
}

type nopMetrics struct{}

func (nopMetrics) SetActiveWorkflows(int) {}

// Handle is the request side of a running manager. Its Done channel is the
// manager's liveness token: consumers holding the handle watch Done to learn
// the manager is gone.
type Handle struct {
	requests  chan<- Request
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Send delivers a request to the manager. It returns false if the manager
// has exited.
func (h *Handle) Send(request Request) bool {
	select {
	case h.requests <- request:
		return true
	case <-h.done:
		return false
	}
}

// Close signals the manager to shut down, stopping every workflow it owns.
func (h *Handle) Close() {
	h.closeOnce.Do(func() { close(h.stop) })
}

// Done is closed when the manager's goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Option configures a manager.
type Option func(*actor)

// WithLogger sets the logger used by the manager. Runners take their logger
// from WithRunnerOptions.
func WithLogger(logger *slog.Logger) Option {
	return func(a *actor) { a.logger = logger }
}

// WithMetrics sets the manager's metrics collector.
func WithMetrics(collector MetricsCollector) Option {
	return func(a *actor) { a.metrics = collector }
}

// WithRunnerOptions sets options applied to every runner the manager starts.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(a *actor) { a.runnerOpts = opts }
}

// Start launches the workflow manager.
func Start(ctx context.Context, factory *step.Factory, opts ...Option) *Handle {
	requests := make(chan Request)
	handle := &Handle{
		requests: requests,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	actorCtx, cancel := context.WithCancel(ctx)
	a := &actor{
		ctx:       actorCtx,
		cancel:    cancel,
		logger:    slog.Default(),
		metrics:   nopMetrics{},
		factory:   factory,
		workflows: make(map[string]*runner.Handle),
		requests:  requests,
		stop:      handle.stop,
		done:      handle.done,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = log.WithComponent(a.logger, "workflow-manager")

	go a.run()

	return handle
}

type actor struct {
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *slog.Logger
	metrics    MetricsCollector
	factory    *step.Factory
	runnerOpts []runner.Option
	workflows  map[string]*runner.Handle

	requests <-chan Request
	stop     <-chan struct{}
	done     chan struct{}
}

func (a *actor) run() {
	defer close(a.done)
	defer a.cancel()
	defer a.stopAll()
	defer a.logger.Info("workflow manager closing")

	a.logger.Info("workflow manager started")

	for {
		select {
		case request := <-a.requests:
			a.handleRequest(request)

		case <-a.stop:
			return

		case <-a.ctx.Done():
			return
		}
	}
}

func (a *actor) handleRequest(request Request) {
	logger := log.WithRequestID(a.logger, request.RequestID)

	switch operation := request.Operation.(type) {
	case UpsertWorkflow:
		a.upsertWorkflow(logger, operation.Definition)

	case StopWorkflow:
		a.stopWorkflow(logger, operation.Name)

	case ListWorkflows:
		names := make([]string, 0, len(a.workflows))
		for name := range a.workflows {
			names = append(names, name)
		}
		select {
		case operation.Response <- names:
		default:
		}

	case GetWorkflowDetails:
		a.getWorkflowDetails(operation)
	}
}

func (a *actor) upsertWorkflow(logger *slog.Logger, definition workflow.Definition) {
	if existing, ok := a.workflows[definition.Name]; ok {
		logger.Info("updating existing workflow", log.WorkflowKey, definition.Name)
		if existing.Send(runner.UpdateDefinition{NewDefinition: definition}) {
			return
		}

		// The runner died underneath us; fall through and restart it.
		logger.Warn("workflow runner was gone, restarting", log.WorkflowKey, definition.Name)
	}

	logger.Info("starting workflow", log.WorkflowKey, definition.Name)
	a.workflows[definition.Name] = runner.Start(a.ctx, definition, a.factory, a.runnerOpts...)
	a.metrics.SetActiveWorkflows(len(a.workflows))
}

func (a *actor) stopWorkflow(logger *slog.Logger, name string) {
	handle, ok := a.workflows[name]
	if !ok {
		logger.Info("stop requested for unknown workflow", log.WorkflowKey, name)
		return
	}

	logger.Info("stopping workflow", log.WorkflowKey, name)
	handle.Close()
	delete(a.workflows, name)
	a.metrics.SetActiveWorkflows(len(a.workflows))
}

func (a *actor) getWorkflowDetails(operation GetWorkflowDetails) {
	handle, ok := a.workflows[operation.Name]
	if !ok {
		select {
		case operation.Response <- nil:
		default:
		}
		return
	}

	// Query the runner off the manager goroutine so a busy runner can't
	// stall other manager requests.
	go func() {
		stateResponse := make(chan runner.State, 1)
		if !handle.Send(runner.GetState{Response: stateResponse}) {
			operation.Response <- nil
			return
		}

		select {
		case state := <-stateResponse:
			operation.Response <- &state
		case <-handle.Done():
			operation.Response <- nil
		case <-time.After(5 * time.Second):
			operation.Response <- nil
		}
	}()
}

func (a *actor) stopAll() {
	for name, handle := range a.workflows {
		a.logger.Info("stopping workflow", log.WorkflowKey, name)
		handle.Close()
	}
	a.workflows = make(map[string]*runner.Handle)
	a.metrics.SetActiveWorkflows(0)
}
