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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombee/mmids/pkg/workflow"
)

type nopStep struct {
	definition workflow.StepDefinition
}

func (s *nopStep) Status() Status                        { return StatusActive }
func (s *nopStep) Definition() workflow.StepDefinition   { return s.definition }
func (s *nopStep) Execute(inputs *Inputs, outs *Outputs) {}
func (s *nopStep) Shutdown()                             {}

func TestFactoryCreateRegisteredType(t *testing.T) {
	factory := NewFactory()
	err := factory.Register("nop", GeneratorFunc(func(definition workflow.StepDefinition) (Step, []Future, error) {
		return &nopStep{definition: definition}, nil, nil
	}))
	require.NoError(t, err)

	definition := workflow.StepDefinition{Type: "nop"}
	built, futures, err := factory.Create(definition)
	require.NoError(t, err)
	require.NotNil(t, built)
	assert.Empty(t, futures)
	builtDefinition := built.Definition()
	assert.Equal(t, definition.ID(), builtDefinition.ID())
}

func TestFactoryUnknownType(t *testing.T) {
	factory := NewFactory()

	_, _, err := factory.Create(workflow.StepDefinition{Type: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestFactoryDuplicateRegistration(t *testing.T) {
	factory := NewFactory()
	generator := GeneratorFunc(func(definition workflow.StepDefinition) (Step, []Future, error) {
		return &nopStep{definition: definition}, nil, nil
	})

	require.NoError(t, factory.Register("nop", generator))
	assert.Error(t, factory.Register("nop", generator))
}

func TestFactoryGeneratorError(t *testing.T) {
	factory := NewFactory()
	boom := errors.New("boom")
	require.NoError(t, factory.Register("bad", GeneratorFunc(func(definition workflow.StepDefinition) (Step, []Future, error) {
		return nil, nil, boom
	})))

	_, _, err := factory.Create(workflow.StepDefinition{Type: "bad"})
	assert.ErrorIs(t, err, boom)
}
