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

// Package reactor binds logical stream names to workflow definitions through
// an external lookup. When a consumer asks for a stream name's workflow, the
// reactor consults its executor, upserts the resulting workflow into the
// workflow manager, and keeps every subscribed consumer informed of changes
// for as long as at least one consumer remains.
package reactor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/mmids/internal/eventhub"
	"github.com/tombee/mmids/internal/log"
	"github.com/tombee/mmids/pkg/workflow"
	"github.com/tombee/mmids/pkg/workflow/manager"
)

// Executor is the pluggable lookup strategy behind a reactor: given a stream
// name it returns the workflow definition that should serve the stream, or
// nil when no workflow is associated with the name. Implementations may hit
// a database, an HTTP service, or a static table; they are invoked off the
// reactor's goroutine and may block.
type Executor interface {
	GetWorkflow(ctx context.Context, streamName string) *workflow.Definition
}

// WorkflowUpdate tells a consumer which workflow currently serves its stream.
// A nil WorkflowName means no workflow is associated with the stream.
type WorkflowUpdate struct {
	WorkflowName *string
}

// Subscription is a consumer's receive side for workflow updates. Consumers
// cancel the subscription to tell the reactor they no longer care; when the
// last subscription for a stream name is cancelled the reactor stops the
// stream's workflow.
type Subscription struct {
	updates chan WorkflowUpdate
	done    chan struct{}

	mu         sync.Mutex
	closed     bool
	cancelOnce sync.Once
}

// NewSubscription creates a subscription to pass in a
// CreateWorkflowNameForStream request.
func NewSubscription() *Subscription {
	return &Subscription{
		updates: make(chan WorkflowUpdate, 8),
		done:    make(chan struct{}),
	}
}

// Updates returns the channel on which workflow updates are delivered. The
// channel is closed when the reactor drops the subscription.
func (s *Subscription) Updates() <-chan WorkflowUpdate {
	return s.updates
}

// Cancel tells the reactor the consumer no longer needs updates.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() { close(s.done) })
}

// Done is closed once the consumer has cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// push delivers an update without blocking the reactor. Updates are dropped
// if the consumer is not keeping up; only the latest state matters.
func (s *Subscription) push(update WorkflowUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.updates <- update:
	default:
	}
}

// close closes the updates channel. Called only by the reactor.
func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.updates)
	}
}

// Request is a message sent to a reactor.
type Request interface {
	isReactorRequest()
}

// CreateWorkflowNameForStream asks the reactor to find (and keep current)
// the workflow for the given stream name. The response subscription receives
// an update for the current state and again on every change.
type CreateWorkflowNameForStream struct {
	StreamName      string
	ResponseChannel *Subscription
}

func (CreateWorkflowNameForStream) isReactorRequest() {}

// MetricsCollector receives reactor lookup metrics.
type MetricsCollector interface {
	RecordExecutorLookup(reactorName string, foundWorkflow bool)
}

type nopMetrics struct{}

func (nopMetrics) RecordExecutorLookup(string, bool) {}

// Config describes a reactor.
type Config struct {
	// Name identifies the reactor in logs and manager request ids.
	Name string

	// Executor resolves stream names to workflow definitions.
	Executor Executor

	// Hub announces workflow manager availability.
	Hub *eventhub.Hub

	// UpdateInterval is how often cached lookups are refreshed. Zero
	// disables re-polling.
	UpdateInterval time.Duration

	// Logger is optional; slog.Default is used when nil.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics MetricsCollector
}

// Handle is the request side of a running reactor.
type Handle struct {
	requests  chan<- Request
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Send delivers a request to the reactor, returning false if the reactor has
// exited.
func (h *Handle) Send(request Request) bool {
	select {
	case h.requests <- request:
		return true
	case <-h.done:
		return false
	}
}

// CreateWorkflowNameForStream is a convenience wrapper that builds a
// subscription and sends the request. It returns nil if the reactor has
// exited.
func (h *Handle) CreateWorkflowNameForStream(streamName string) *Subscription {
	subscription := NewSubscription()
	if !h.Send(CreateWorkflowNameForStream{StreamName: streamName, ResponseChannel: subscription}) {
		return nil
	}

	return subscription
}

// Close signals the reactor to shut down.
func (h *Handle) Close() {
	h.closeOnce.Do(func() { close(h.stop) })
}

// Done is closed when the reactor's goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Start launches a reactor.
func Start(ctx context.Context, cfg Config) *Handle {
	requests := make(chan Request)
	handle := &Handle{
		requests: requests,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	actorCtx, cancel := context.WithCancel(ctx)
	hubEvents, hubCancel := cfg.Hub.SubscribeWorkflowManagerEvents(actorCtx)

	a := &actor{
		name:           cfg.Name,
		ctx:            actorCtx,
		cancel:         cancel,
		logger:         logger.With(log.ReactorKey, cfg.Name),
		metrics:        metrics,
		executor:       cfg.Executor,
		updateInterval: cfg.UpdateInterval,
		cached:         make(map[string]workflow.Definition),
		subscriptions:  make(map[string][]*Subscription),
		requests:       requests,
		results:        make(chan futureResult),
		hubEvents:      hubEvents,
		hubCancel:      hubCancel,
		stop:           handle.stop,
		done:           handle.done,
	}

	go a.run()

	return handle
}

// futureResult is an internal tagged result posted back into the actor by
// its helper goroutines.
type futureResult interface {
	isReactorFutureResult()
}

type executorResponse struct {
	streamName string
	definition *workflow.Definition
}

type responseChannelClosed struct {
	streamName   string
	subscription *Subscription
}

type managerGone struct {
	handle eventhub.ManagerChannel
}

type updateStreamNameRequested struct {
	streamName string
}

func (executorResponse) isReactorFutureResult()          {}
func (responseChannelClosed) isReactorFutureResult()     {}
func (managerGone) isReactorFutureResult()               {}
func (updateStreamNameRequested) isReactorFutureResult() {}

type actor struct {
	name           string
	ctx            context.Context
	cancel         context.CancelFunc
	logger         *slog.Logger
	metrics        MetricsCollector
	executor       Executor
	updateInterval time.Duration

	workflowManager eventhub.ManagerChannel
	cached          map[string]workflow.Definition
	subscriptions   map[string][]*Subscription

	requests  <-chan Request
	results   chan futureResult
	hubEvents <-chan eventhub.WorkflowManagerEvent
	hubCancel func()
	stop      <-chan struct{}
	done      chan struct{}
}

func (a *actor) run() {
	defer close(a.done)
	defer a.cancel()
	defer a.hubCancel()
	defer a.closeAllSubscriptions()
	defer a.logger.Info("reactor closing")

	a.logger.Info("starting reactor")

	for {
		select {
		case request := <-a.requests:
			a.handleRequest(request)

		case result := <-a.results:
			switch result := result.(type) {
			case executorResponse:
				a.handleExecutorResponse(result.streamName, result.definition)

			case responseChannelClosed:
				a.handleResponseChannelClosed(result.streamName, result.subscription)

			case managerGone:
				if result.handle == a.workflowManager {
					a.logger.Info("workflow manager gone")
					return
				}

			case updateStreamNameRequested:
				if _, ok := a.cached[result.streamName]; ok {
					a.startExecutorLookup(result.streamName)
				}
			}

		case event, ok := <-a.hubEvents:
			if !ok {
				a.logger.Info("event hub gone")
				return
			}
			a.handleWorkflowManagerEvent(event)

		case <-a.stop:
			a.logger.Info("all request senders gone")
			return

		case <-a.ctx.Done():
			return
		}
	}
}

func (a *actor) post(result futureResult) {
	select {
	case a.results <- result:
	case <-a.ctx.Done():
	}
}

func (a *actor) handleRequest(request Request) {
	switch request := request.(type) {
	case CreateWorkflowNameForStream:
		streamName := request.StreamName
		subscription := request.ResponseChannel

		a.logger.Info("received request to get workflow for stream",
			log.StreamNameKey, streamName)

		a.subscriptions[streamName] = append(a.subscriptions[streamName], subscription)

		if cache, ok := a.cached[streamName]; ok {
			name := cache.Name
			subscription.push(WorkflowUpdate{WorkflowName: &name})
		} else {
			a.startExecutorLookup(streamName)
		}

		go func() {
			select {
			case <-subscription.Done():
				a.post(responseChannelClosed{streamName: streamName, subscription: subscription})
			case <-a.ctx.Done():
			}
		}()
	}
}

func (a *actor) startExecutorLookup(streamName string) {
	go func() {
		definition := a.executor.GetWorkflow(a.ctx, streamName)
		a.post(executorResponse{streamName: streamName, definition: definition})
	}()
}

func (a *actor) managerRequestID(streamName string) string {
	return fmt.Sprintf("reactor_%s_stream_%s", a.name, streamName)
}

func (a *actor) handleExecutorResponse(streamName string, definition *workflow.Definition) {
	a.metrics.RecordExecutorLookup(a.name, definition != nil)

	if definition == nil {
		a.logger.Info("executor returned no workflow for stream",
			log.StreamNameKey, streamName)

		for _, subscription := range a.subscriptions[streamName] {
			subscription.push(WorkflowUpdate{WorkflowName: nil})
			subscription.close()
		}
		delete(a.subscriptions, streamName)

		if cache, ok := a.cached[streamName]; ok {
			// We had created a workflow for this stream and the
			// external service no longer wants one; shut it down.
			delete(a.cached, streamName)
			if a.workflowManager != nil {
				a.workflowManager.Send(manager.Request{
					RequestID: a.managerRequestID(streamName),
					Operation: manager.StopWorkflow{Name: cache.Name},
				})
			}
		}

		return
	}

	a.logger.Info("executor returned a workflow for stream",
		log.StreamNameKey, streamName,
		log.WorkflowKey, definition.Name)

	if cache, ok := a.cached[streamName]; ok && cache.Name != definition.Name {
		// The executor switched workflows on us; the old one must be
		// shut down before the new one takes over the stream.
		if a.workflowManager != nil {
			a.workflowManager.Send(manager.Request{
				RequestID: a.managerRequestID(streamName),
				Operation: manager.StopWorkflow{Name: cache.Name},
			})
		}
	}

	a.cached[streamName] = definition.Clone()

	if a.workflowManager != nil {
		a.workflowManager.Send(manager.Request{
			RequestID: a.managerRequestID(streamName),
			Operation: manager.UpsertWorkflow{Definition: definition.Clone()},
		})
	}

	name := definition.Name
	for _, subscription := range a.subscriptions[streamName] {
		subscription.push(WorkflowUpdate{WorkflowName: &name})
	}

	if a.updateInterval > 0 {
		go func() {
			timer := time.NewTimer(a.updateInterval)
			defer timer.Stop()

			select {
			case <-timer.C:
				a.post(updateStreamNameRequested{streamName: streamName})
			case <-a.ctx.Done():
			}
		}()
	}
}

func (a *actor) handleWorkflowManagerEvent(event eventhub.WorkflowManagerEvent) {
	a.logger.Info("reactor received a workflow manager handle")

	handle := event.Manager
	go func() {
		select {
		case <-handle.Done():
			a.post(managerGone{handle: handle})
		case <-a.ctx.Done():
		}
	}()

	// Catch the new manager up with everything we've already resolved.
	for _, cache := range a.cached {
		handle.Send(manager.Request{
			RequestID: fmt.Sprintf("reactor_%s_cache_catchup", a.name),
			Operation: manager.UpsertWorkflow{Definition: cache.Clone()},
		})
	}

	a.workflowManager = handle
}

func (a *actor) handleResponseChannelClosed(streamName string, closed *Subscription) {
	subscriptions, ok := a.subscriptions[streamName]
	if !ok {
		return
	}

	for i, subscription := range subscriptions {
		if subscription == closed {
			subscription.close()
			subscriptions = append(subscriptions[:i], subscriptions[i+1:]...)
			break
		}
	}

	if len(subscriptions) > 0 {
		a.subscriptions[streamName] = subscriptions
		a.logger.Info("response channel closed but others remain",
			log.StreamNameKey, streamName,
			"remaining", len(subscriptions))
		return
	}

	a.logger.Info("all response channels for stream closed",
		log.StreamNameKey, streamName)
	delete(a.subscriptions, streamName)

	if cache, ok := a.cached[streamName]; ok {
		delete(a.cached, streamName)
		if a.workflowManager != nil {
			a.workflowManager.Send(manager.Request{
				RequestID: a.managerRequestID(streamName),
				Operation: manager.StopWorkflow{Name: cache.Name},
			})
		}
	}
}

func (a *actor) closeAllSubscriptions() {
	for _, subscriptions := range a.subscriptions {
		for _, subscription := range subscriptions {
			subscription.close()
		}
	}
	a.subscriptions = make(map[string][]*Subscription)
}
