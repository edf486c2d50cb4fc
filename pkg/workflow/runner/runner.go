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

// Package runner executes a single workflow: it owns the workflow's step
// instances, drives media through the pipeline, and applies live definition
// updates without losing active streams.
//
// The runner is an actor. All of its state is confined to one goroutine;
// requests arrive on a channel and asynchronous step work is awaited on
// helper goroutines that post tagged results back into the actor.
package runner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tombee/mmids/internal/log"
	"github.com/tombee/mmids/pkg/media"
	"github.com/tombee/mmids/pkg/workflow"
	"github.com/tombee/mmids/pkg/workflow/step"
)

// Status represents the overall state of a running workflow.
type Status string

const (
	// StatusRunning indicates the workflow is executing normally.
	StatusRunning Status = "running"
	// StatusError indicates the workflow hit an unrecoverable condition
	// (such as a step construction failure) and will not accept further
	// definition updates.
	StatusError Status = "error"
)

// Request is a message sent to a running workflow.
type Request interface {
	isRunnerRequest()
}

// UpdateDefinition requests that the workflow take the shape of the given
// definition: steps not in the definition are removed, new steps are created,
// and surviving steps adopt the definition's order.
type UpdateDefinition struct {
	NewDefinition workflow.Definition
}

// GetState requests a snapshot of the workflow's current state. The snapshot
// is delivered on Response, which should be buffered.
type GetState struct {
	Response chan<- State
}

func (UpdateDefinition) isRunnerRequest() {}
func (GetState) isRunnerRequest()         {}

// StepState describes one step in a state snapshot.
type StepState struct {
	ID     uint64
	Type   workflow.StepType
	Status step.Status
}

// State is a point-in-time snapshot of a running workflow.
type State struct {
	Name              string
	Status            Status
	ActiveSteps       []StepState
	PendingSteps      []StepState
	ActiveStreamCount int
}

// MetricsCollector receives workflow execution metrics. Implementations must
// be safe for concurrent use; the runner invokes it from its own goroutine.
type MetricsCollector interface {
	RecordStepExecution(workflowName string, stepType workflow.StepType)
	SetActiveStreams(workflowName string, count int)
}

type nopMetrics struct{}

func (nopMetrics) RecordStepExecution(string, workflow.StepType) {}
func (nopMetrics) SetActiveStreams(string, int)                  {}

// Handle is the request side of a running workflow. Dropping the handle
// (calling Close) is the canonical shutdown signal.
type Handle struct {
	requests  chan<- Request
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Send delivers a request to the workflow. It returns false if the workflow
// has already exited.
func (h *Handle) Send(request Request) bool {
	select {
	case h.requests <- request:
		return true
	case <-h.done:
		return false
	}
}

// Close signals the workflow to shut down. It is safe to call more than once.
func (h *Handle) Close() {
	h.closeOnce.Do(func() { close(h.stop) })
}

// Done is closed when the workflow's goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Option configures a runner.
type Option func(*actor)

// WithLogger sets the logger used by the runner.
func WithLogger(logger *slog.Logger) Option {
	return func(a *actor) { a.logger = logger }
}

// WithMetrics sets the metrics collector used by the runner.
func WithMetrics(collector MetricsCollector) Option {
	return func(a *actor) { a.metrics = collector }
}

// Start begins executing a workflow with the given definition. The returned
// handle is the only way to communicate with the workflow; the workflow exits
// when the handle is closed or the context is cancelled.
func Start(ctx context.Context, definition workflow.Definition, factory *step.Factory, opts ...Option) *Handle {
	requests := make(chan Request)
	handle := &Handle{
		requests: requests,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	actorCtx, cancel := context.WithCancel(ctx)
	a := &actor{
		name:          definition.Name,
		ctx:           actorCtx,
		cancel:        cancel,
		logger:        slog.Default(),
		metrics:       nopMetrics{},
		factory:       factory,
		status:        StatusRunning,
		steps:         make(map[uint64]step.Step),
		cachedMedia:   make(map[uint64]map[media.StreamID][]media.Notification),
		activeStreams: make(map[media.StreamID]streamDetails),
		requests:      requests,
		stepResults:   make(chan stepFutureResolved),
		stop:          handle.stop,
		done:          handle.done,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(log.WorkflowKey, definition.Name)

	go a.run(definition)

	return handle
}

// streamDetails tracks where a live stream entered the pipeline. If the
// originating step is removed, the stream no longer has a source and is
// considered disconnected.
type streamDetails struct {
	originatingStepID uint64
}

// stepFutureResolved is a resolved step future tagged with its owner.
type stepFutureResolved struct {
	stepID uint64
	result step.FutureResult
}

type actor struct {
	name    string
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	metrics MetricsCollector
	factory *step.Factory
	status  Status

	steps         map[uint64]step.Step
	activeSteps   []uint64
	pendingSteps  []uint64
	inputs        step.Inputs
	outputs       step.Outputs
	cachedMedia   map[uint64]map[media.StreamID][]media.Notification
	activeStreams map[media.StreamID]streamDetails

	requests    <-chan Request
	stepResults chan stepFutureResolved
	stop        <-chan struct{}
	done        chan struct{}
}

func (a *actor) run(initial workflow.Definition) {
	defer close(a.done)
	defer a.cancel()
	defer a.shutdownSteps()
	defer a.logger.Info("workflow closing")

	a.logger.Info("starting workflow")
	a.applyNewDefinition(initial)

	for {
		select {
		case request := <-a.requests:
			a.handleRequest(request)

		case resolved := <-a.stepResults:
			a.executeSteps(resolved.stepID, resolved.result, false, true)

		case <-a.stop:
			a.logger.Info("all request senders gone")
			return

		case <-a.ctx.Done():
			return
		}
	}
}

func (a *actor) handleRequest(request Request) {
	switch request := request.(type) {
	case UpdateDefinition:
		a.logger.Info("workflow requested to have its definition updated")
		a.applyNewDefinition(request.NewDefinition)

	case GetState:
		state := a.snapshotState()
		select {
		case request.Response <- state:
		default:
		}
	}
}

func (a *actor) snapshotState() State {
	state := State{
		Name:              a.name,
		Status:            a.status,
		ActiveStreamCount: len(a.activeStreams),
	}
	for _, id := range a.activeSteps {
		state.ActiveSteps = append(state.ActiveSteps, a.stepState(id))
	}
	for _, id := range a.pendingSteps {
		state.PendingSteps = append(state.PendingSteps, a.stepState(id))
	}

	return state
}

func (a *actor) stepState(id uint64) StepState {
	state := StepState{ID: id}
	if s, ok := a.steps[id]; ok {
		state.Type = s.Definition().Type
		state.Status = s.Status()
	}

	return state
}

func (a *actor) shutdownSteps() {
	for _, s := range a.steps {
		s.Shutdown()
	}
}

// applyNewDefinition rebuilds the pending list from the definition, creating
// any steps that don't yet exist. The active pipeline is not touched here;
// the swap happens once every pending step reports active.
func (a *actor) applyNewDefinition(definition workflow.Definition) {
	if a.status == StatusError {
		a.logger.Warn("ignoring definition update, workflow is in an error state")
		return
	}

	a.logger.Info("applying new workflow definition", "step_count", len(definition.Steps))

	a.pendingSteps = a.pendingSteps[:0]
	for _, stepDefinition := range definition.Steps {
		id := stepDefinition.ID()
		a.pendingSteps = append(a.pendingSteps, id)

		if _, exists := a.steps[id]; exists {
			continue
		}

		built, futures, err := a.factory.Create(stepDefinition)
		if err != nil {
			a.logger.Error("step could not be generated",
				log.StepIDKey, id,
				"step_type", stepDefinition.Type,
				"error", err)

			a.status = StatusError
			a.pendingSteps = a.pendingSteps[:0]
			return
		}

		for _, future := range futures {
			a.spawnStepFuture(id, future)
		}

		a.steps[id] = built
		a.logger.Info("step created", log.StepIDKey, id, "step_type", stepDefinition.Type)
	}

	a.checkPendingSteps()
}

func (a *actor) spawnStepFuture(stepID uint64, future step.Future) {
	go func() {
		result := future(a.ctx)
		if result == nil {
			return
		}

		select {
		case a.stepResults <- stepFutureResolved{stepID: stepID, result: result}:
		case <-a.ctx.Done():
		}
	}()
}

// executeSteps drives the pipeline starting at initialID. If the step is in
// the active list, every step from its position to the end of the pipeline is
// executed in order, each receiving the previous step's media outputs. If the
// step is not active (e.g. an orphan future from a step removed mid-flight),
// it is executed alone.
func (a *actor) executeSteps(initialID uint64, futureResult step.FutureResult, preserveInputs bool, pendingCheck bool) {
	if !preserveInputs {
		a.inputs.Clear()
	}
	a.outputs.Clear()

	if futureResult != nil {
		a.inputs.Notifications = append(a.inputs.Notifications, futureResult)
	}

	startIndex := -1
	for i, id := range a.activeSteps {
		if id == initialID {
			startIndex = i
			break
		}
	}

	if startIndex >= 0 {
		for i := startIndex; i < len(a.activeSteps); i++ {
			a.executeStep(a.activeSteps[i])
		}
	} else {
		a.executeStep(initialID)
	}

	if pendingCheck {
		a.checkPendingSteps()
	}
}

func (a *actor) executeStep(stepID uint64) {
	s, ok := a.steps[stepID]
	if !ok {
		a.logger.Error("attempted to execute a step with no definition",
			log.StepIDKey, stepID,
			"is_active", containsID(a.activeSteps, stepID))
		return
	}

	s.Execute(&a.inputs, &a.outputs)
	a.metrics.RecordStepExecution(a.name, s.Definition().Type)

	for _, future := range a.outputs.Futures {
		a.spawnStepFuture(stepID, future)
	}

	a.updateStreamDetails(stepID)
	a.updateMediaCacheFromOutputs(stepID)

	a.inputs.Clear()
	a.inputs.Media = append(a.inputs.Media, a.outputs.Media...)
	a.outputs.Clear()
}

// checkPendingSteps performs the swap protocol once every pending step is
// active: removed steps are torn down with synthesized disconnect
// notifications for their streams, newly inserted steps get the predecessor's
// cached media replayed into them, and then the pending list becomes active.
func (a *actor) checkPendingSteps() {
	anyPending := false
	for _, id := range a.pendingSteps {
		s, ok := a.steps[id]
		if !ok {
			a.logger.Error("workflow had a pending step id that was not defined", log.StepIDKey, id)
			a.status = StatusError
			return
		}

		switch s.Status() {
		case step.StatusCreated:
			anyPending = true
		case step.StatusActive:
		default:
			a.status = StatusError
			return
		}
	}

	if len(a.pendingSteps) == 0 || anyPending {
		return
	}

	// Removal pass. Walk active steps from the end so downstream indices
	// stay valid while we synthesize disconnects.
	for index := len(a.activeSteps) - 1; index >= 0; index-- {
		stepID := a.activeSteps[index]
		if containsID(a.pendingSteps, stepID) {
			continue
		}

		a.logger.Info("removing now unused step", log.StepIDKey, stepID)
		if removed, ok := a.steps[stepID]; ok {
			removed.Shutdown()
		}
		delete(a.steps, stepID)

		cache := a.cachedMedia[stepID]
		delete(a.cachedMedia, stepID)

		for streamID := range cache {
			details, ok := a.activeStreams[streamID]
			if !ok || details.originatingStepID != stepID {
				continue
			}

			// Every surviving step downstream of the removed step
			// must see the stream end.
			for x := index + 1; x < len(a.activeSteps); x++ {
				a.outputs.Clear()
				a.inputs.Clear()
				a.inputs.Media = append(a.inputs.Media, media.Notification{
					StreamID: streamID,
					Content:  media.StreamDisconnected{},
				})

				a.executeStep(a.activeSteps[x])
			}

			delete(a.activeStreams, streamID)
		}
	}
	a.metrics.SetActiveStreams(a.name, len(a.activeStreams))

	// Insertion replay pass. A step that wasn't previously active has
	// missed the stream-started notifications and sequence headers its
	// predecessor has cached, so replay them into it and carry what it
	// produces on through the steps after it in the new pipeline. This can
	// produce duplicate NewIncomingStream notifications downstream; steps
	// must tolerate those. Reordering existing steps performs no replay.
	for index := 1; index < len(a.pendingSteps); index++ {
		currentID := a.pendingSteps[index]
		previousID := a.pendingSteps[index-1]
		if containsID(a.activeSteps, currentID) {
			continue
		}

		cache, ok := a.cachedMedia[previousID]
		if !ok {
			continue
		}

		a.inputs.Clear()
		for _, notifications := range cache {
			a.inputs.Media = append(a.inputs.Media, notifications...)
		}

		a.outputs.Clear()
		for x := index; x < len(a.pendingSteps); x++ {
			a.executeStep(a.pendingSteps[x])
		}
	}

	a.activeSteps, a.pendingSteps = a.pendingSteps, a.activeSteps
	a.pendingSteps = a.pendingSteps[:0]

	a.logger.Info("all pending steps moved to active")
}

// updateStreamDetails records stream origins from the just-executed step's
// outputs. The first step to announce a stream owns it; a disconnect from the
// owning step retires the stream, disconnects from other steps are
// informational.
func (a *actor) updateStreamDetails(currentStepID uint64) {
	changed := false
	for _, notification := range a.outputs.Media {
		switch notification.Content.(type) {
		case media.NewIncomingStream:
			if _, exists := a.activeStreams[notification.StreamID]; !exists {
				a.activeStreams[notification.StreamID] = streamDetails{originatingStepID: currentStepID}
				changed = true
			}

		case media.StreamDisconnected:
			if details, exists := a.activeStreams[notification.StreamID]; exists {
				if details.originatingStepID == currentStepID {
					delete(a.activeStreams, notification.StreamID)
					changed = true
				}
			}
		}
	}

	if changed {
		a.metrics.SetActiveStreams(a.name, len(a.activeStreams))
	}
}

// updateMediaCacheFromOutputs retains the notifications a newly inserted
// downstream step would need to join a stream mid-flight: the stream-started
// notification and every sequence header. Ordinary media packets and
// metadata are not cached; codec parameters live in sequence headers.
func (a *actor) updateMediaCacheFromOutputs(stepID uint64) {
	stepCache, ok := a.cachedMedia[stepID]
	if !ok {
		stepCache = make(map[media.StreamID][]media.Notification)
		a.cachedMedia[stepID] = stepCache
	}

	for _, notification := range a.outputs.Media {
		switch content := notification.Content.(type) {
		case media.StreamDisconnected:
			// Stream has ended so no reason to keep the cache around.
			delete(stepCache, notification.StreamID)

		case media.NewIncomingStream:
			stepCache[notification.StreamID] = append(stepCache[notification.StreamID], notification)

		case media.Video:
			if content.IsSequenceHeader {
				stepCache[notification.StreamID] = append(stepCache[notification.StreamID], notification)
			}

		case media.Audio:
			if content.IsSequenceHeader {
				stepCache[notification.StreamID] = append(stepCache[notification.StreamID], notification)
			}
		}
	}
}

func containsID(ids []uint64, id uint64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}

	return false
}
