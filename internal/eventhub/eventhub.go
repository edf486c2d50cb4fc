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

// Package eventhub is a process-wide publish/subscribe hub for workflow
// manager lifecycle events. Reactors subscribe to learn when a manager
// (re)appears so they can bind to it; the registration is cached so late
// subscribers catch up immediately.
package eventhub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tombee/mmids/internal/log"
	"github.com/tombee/mmids/pkg/workflow/manager"
)

// ManagerChannel is the request side of a workflow manager as seen by
// subscribers. Its Done channel is the manager's liveness token.
type ManagerChannel interface {
	Send(request manager.Request) bool
	Done() <-chan struct{}
}

// WorkflowManagerEvent is pushed to subscribers whenever a workflow manager
// becomes available.
type WorkflowManagerEvent struct {
	// Manager is the handle of the newly registered manager.
	Manager ManagerChannel
}

// Hub broadcasts manager registrations to subscribers.
type Hub struct {
	logger *slog.Logger

	mu          sync.Mutex
	current     ManagerChannel
	subscribers []chan WorkflowManagerEvent
	closed      bool
}

// New creates an event hub.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{logger: log.WithComponent(logger, "event-hub")}
}

// SubscribeWorkflowManagerEvents registers a subscriber. If a manager is
// already registered, the event is delivered to the channel before this
// returns. The returned cancel function removes the subscription and closes
// the channel.
func (h *Hub) SubscribeWorkflowManagerEvents(ctx context.Context) (<-chan WorkflowManagerEvent, func()) {
	events := make(chan WorkflowManagerEvent, 4)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(events)
		return events, func() {}
	}

	h.subscribers = append(h.subscribers, events)
	if h.current != nil {
		events <- WorkflowManagerEvent{Manager: h.current}
	}
	h.mu.Unlock()

	cancel := func() { h.removeSubscriber(events) }
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return events, cancel
}

// PublishManagerRegistered records the current manager and broadcasts it to
// every subscriber.
func (h *Hub) PublishManagerRegistered(handle ManagerChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.logger.Info("workflow manager registered")
	h.current = handle

	for _, subscriber := range h.subscribers {
		select {
		case subscriber <- WorkflowManagerEvent{Manager: handle}:
		default:
			// Subscriber is not keeping up; it misses this registration
			// and receives later ones once its buffer has room.
			h.logger.Warn("dropping manager event for slow subscriber")
		}
	}
}

// Close shuts down the hub, closing every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true
	for _, subscriber := range h.subscribers {
		close(subscriber)
	}
	h.subscribers = nil
	h.current = nil
}

func (h *Hub) removeSubscriber(events chan WorkflowManagerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	for i, subscriber := range h.subscribers {
		if subscriber == events {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			close(events)
			return
		}
	}
}
