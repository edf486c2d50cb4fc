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

package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombee/mmids/pkg/workflow"
	"github.com/tombee/mmids/pkg/workflow/runner"
	"github.com/tombee/mmids/pkg/workflow/step"
)

type fakeStep struct {
	definition workflow.StepDefinition
}

func (s *fakeStep) Status() step.Status                          { return step.StatusActive }
func (s *fakeStep) Definition() workflow.StepDefinition          { return s.definition }
func (s *fakeStep) Execute(inputs *step.Inputs, o *step.Outputs) {}
func (s *fakeStep) Shutdown()                                    {}

func newTestFactory(t *testing.T) *step.Factory {
	factory := step.NewFactory()
	require.NoError(t, factory.Register("fake", step.GeneratorFunc(
		func(definition workflow.StepDefinition) (step.Step, []step.Future, error) {
			return &fakeStep{definition: definition}, nil, nil
		})))
	return factory
}

func fakeDefinition(name, param string) workflow.Definition {
	return workflow.Definition{
		Name: name,
		Steps: []workflow.StepDefinition{
			{Type: "fake", Parameters: map[string]*string{"p": &param}},
		},
	}
}

func listWorkflows(t *testing.T, handle *Handle) []string {
	response := make(chan []string, 1)
	require.True(t, handle.Send(Request{
		RequestID: "test_list",
		Operation: ListWorkflows{Response: response},
	}))

	select {
	case names := <-response:
		return names
	case <-time.After(time.Second):
		t.Fatal("timed out listing workflows")
		return nil
	}
}

func getDetails(t *testing.T, handle *Handle, name string) *runner.State {
	response := make(chan *runner.State, 1)
	require.True(t, handle.Send(Request{
		RequestID: "test_details",
		Operation: GetWorkflowDetails{Name: name, Response: response},
	}))

	select {
	case details := <-response:
		return details
	case <-time.After(time.Second):
		t.Fatal("timed out getting workflow details")
		return nil
	}
}

func TestUpsertStartsWorkflow(t *testing.T) {
	handle := Start(t.Context(), newTestFactory(t))
	defer handle.Close()

	require.True(t, handle.Send(Request{
		RequestID: "test_upsert",
		Operation: UpsertWorkflow{Definition: fakeDefinition("ingest", "a")},
	}))

	assert.Eventually(t, func() bool {
		names := listWorkflows(t, handle)
		return len(names) == 1 && names[0] == "ingest"
	}, time.Second, 5*time.Millisecond)

	details := getDetails(t, handle, "ingest")
	require.NotNil(t, details)
	assert.Equal(t, "ingest", details.Name)
	assert.Len(t, details.ActiveSteps, 1)
}

func TestUpsertExistingForwardsUpdate(t *testing.T) {
	handle := Start(t.Context(), newTestFactory(t))
	defer handle.Close()

	first := fakeDefinition("ingest", "a")
	second := fakeDefinition("ingest", "b")

	require.True(t, handle.Send(Request{RequestID: "r1", Operation: UpsertWorkflow{Definition: first}}))
	require.True(t, handle.Send(Request{RequestID: "r2", Operation: UpsertWorkflow{Definition: second}}))

	assert.Eventually(t, func() bool {
		details := getDetails(t, handle, "ingest")
		return details != nil &&
			len(details.ActiveSteps) == 1 &&
			details.ActiveSteps[0].ID == second.Steps[0].ID()
	}, time.Second, 5*time.Millisecond)

	// Still one workflow, not two.
	assert.Len(t, listWorkflows(t, handle), 1)
}

func TestStopWorkflow(t *testing.T) {
	handle := Start(t.Context(), newTestFactory(t))
	defer handle.Close()

	require.True(t, handle.Send(Request{RequestID: "r1", Operation: UpsertWorkflow{Definition: fakeDefinition("ingest", "a")}}))
	require.True(t, handle.Send(Request{RequestID: "r2", Operation: StopWorkflow{Name: "ingest"}}))

	assert.Eventually(t, func() bool {
		return len(listWorkflows(t, handle)) == 0
	}, time.Second, 5*time.Millisecond)

	assert.Nil(t, getDetails(t, handle, "ingest"))
}

func TestStopUnknownWorkflowIsNoOp(t *testing.T) {
	handle := Start(t.Context(), newTestFactory(t))
	defer handle.Close()

	require.True(t, handle.Send(Request{RequestID: "r1", Operation: StopWorkflow{Name: "missing"}}))
	assert.Empty(t, listWorkflows(t, handle))
}

func TestCloseStopsManagerAndWorkflows(t *testing.T) {
	handle := Start(t.Context(), newTestFactory(t))

	require.True(t, handle.Send(Request{RequestID: "r1", Operation: UpsertWorkflow{Definition: fakeDefinition("ingest", "a")}}))

	handle.Close()

	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("manager did not exit after close")
	}

	assert.False(t, handle.Send(Request{RequestID: "r2", Operation: StopWorkflow{Name: "ingest"}}))
}
