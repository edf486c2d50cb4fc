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

package step

import (
	"fmt"
	"sync"

	"github.com/tombee/mmids/pkg/workflow"
)

// Generator builds a step from its definition. It returns the step and the
// initial set of futures the runner should await on the step's behalf.
type Generator interface {
	Generate(definition workflow.StepDefinition) (Step, []Future, error)
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func(definition workflow.StepDefinition) (Step, []Future, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(definition workflow.StepDefinition) (Step, []Future, error) {
	return f(definition)
}

// Factory builds steps from definitions. Step types register a generator at
// startup; after setup the factory is read-only and may be shared by any
// number of runners.
type Factory struct {
	mu         sync.RWMutex
	generators map[workflow.StepType]Generator
}

// NewFactory creates an empty step factory.
func NewFactory() *Factory {
	return &Factory{generators: make(map[workflow.StepType]Generator)}
}

// Register adds a generator for a step type. Registering the same type twice
// is an error.
func (f *Factory) Register(stepType workflow.StepType, generator Generator) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.generators[stepType]; exists {
		return fmt.Errorf("a generator for step type '%s' is already registered", stepType)
	}

	f.generators[stepType] = generator
	return nil
}

// Create builds a step from the given definition.
func (f *Factory) Create(definition workflow.StepDefinition) (Step, []Future, error) {
	f.mu.RLock()
	generator, ok := f.generators[definition.Type]
	f.mu.RUnlock()

	if !ok {
		return nil, nil, fmt.Errorf("no generator registered for step type '%s'", definition.Type)
	}

	return generator.Generate(definition)
}
