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

// Package step defines the contract every workflow step honors.
//
// Steps are strictly synchronous: Execute must never block. Any work that
// must suspend is packaged into a Future and handed back through the step's
// outputs; the owning runner awaits the future and delivers its result into
// a later Execute call. This keeps step code single-threaded and testable
// while the runner owns all task multiplexing.
package step

import (
	"context"

	"github.com/tombee/mmids/pkg/media"
	"github.com/tombee/mmids/pkg/workflow"
)

// Status represents the lifecycle state of a workflow step.
type Status string

const (
	// StatusCreated indicates the step exists but is not yet ready to
	// handle media (e.g. it is still registering with an endpoint).
	StatusCreated Status = "created"
	// StatusActive indicates the step is fully operational.
	StatusActive Status = "active"
	// StatusError indicates the step has failed and will no longer
	// process media.
	StatusError Status = "error"
	// StatusShutdown indicates the step has been shut down.
	StatusShutdown Status = "shutdown"
)

// FutureResult is the resolved value of a step future. Each step type defines
// its own concrete result types and type-switches on them inside Execute.
type FutureResult any

// Future is a unit of asynchronous work a step wants done. The runner awaits
// it on a separate goroutine and feeds the result back into the owning step's
// Execute. A nil result is discarded by the runner; futures should return nil
// when the context is cancelled.
type Future func(ctx context.Context) FutureResult

// Inputs is the data passed into a step's Execute call.
type Inputs struct {
	// Notifications are resolved future results addressed to this step.
	Notifications []FutureResult

	// Media are the media notifications produced by the previous step in
	// the pipeline (or arriving from an endpoint, for source steps).
	Media []media.Notification
}

// Clear empties both input collections, retaining capacity.
func (i *Inputs) Clear() {
	i.Notifications = i.Notifications[:0]
	i.Media = i.Media[:0]
}

// Outputs is the data produced by a step's Execute call.
type Outputs struct {
	// Media are notifications to pass to the next step in the pipeline.
	Media []media.Notification

	// Futures are new units of asynchronous work for the runner to await.
	Futures []Future
}

// Clear empties both output collections, retaining capacity.
func (o *Outputs) Clear() {
	o.Media = o.Media[:0]
	o.Futures = o.Futures[:0]
}

// Step is a single stage in a workflow pipeline.
type Step interface {
	// Status reports the step's lifecycle state.
	Status() Status

	// Definition returns the definition the step was built from.
	Definition() workflow.StepDefinition

	// Execute processes inputs and produces outputs. It must not block.
	Execute(inputs *Inputs, outputs *Outputs)

	// Shutdown releases the step's external registrations. It is called
	// at most once, when the step is removed or its workflow exits.
	Shutdown()
}
