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

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombee/mmids/pkg/workflow/manager"
	"github.com/tombee/mmids/pkg/workflow/runner"
	"github.com/tombee/mmids/pkg/workflow/step"
)

// fakeManager answers list and details requests from a static table.
type fakeManager struct {
	workflows map[string]*runner.State
	down      bool
}

func (m *fakeManager) Send(request manager.Request) bool {
	if m.down {
		return false
	}

	switch operation := request.Operation.(type) {
	case manager.ListWorkflows:
		names := make([]string, 0, len(m.workflows))
		for name := range m.workflows {
			names = append(names, name)
		}
		operation.Response <- names

	case manager.GetWorkflowDetails:
		operation.Response <- m.workflows[operation.Name]
	}

	return true
}

func newTestRouter(m *fakeManager) http.Handler {
	return NewRouter(Config{Manager: m})
}

func TestListWorkflows(t *testing.T) {
	router := newTestRouter(&fakeManager{
		workflows: map[string]*runner.State{
			"ingest": {Name: "ingest"},
		},
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/workflows", nil))

	require.Equal(t, http.StatusOK, recorder.Code)

	var summaries []workflowSummary
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "ingest", summaries[0].Name)
}

func TestGetWorkflowDetails(t *testing.T) {
	router := newTestRouter(&fakeManager{
		workflows: map[string]*runner.State{
			"ingest": {
				Name:   "ingest",
				Status: runner.StatusRunning,
				ActiveSteps: []runner.StepState{
					{ID: 42, Type: "rtmp_receive", Status: step.StatusActive},
				},
				ActiveStreamCount: 2,
			},
		},
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/workflows/ingest", nil))

	require.Equal(t, http.StatusOK, recorder.Code)

	var details workflowDetails
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &details))
	assert.Equal(t, "ingest", details.Name)
	assert.Equal(t, "running", details.Status)
	require.Len(t, details.ActiveSteps, 1)
	assert.EqualValues(t, 42, details.ActiveSteps[0].ID)
	assert.Equal(t, "rtmp_receive", details.ActiveSteps[0].Type)
	assert.Equal(t, 2, details.ActiveStreamCount)
}

func TestGetUnknownWorkflowReturns404(t *testing.T) {
	router := newTestRouter(&fakeManager{workflows: map[string]*runner.State{}})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/workflows/missing", nil))

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestUnknownPathReturnsInvalidURL(t *testing.T) {
	router := newTestRouter(&fakeManager{})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/not/a/real/path", nil))

	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, "Invalid URL", recorder.Body.String())
}

func TestWrongMethodReturnsInvalidURL(t *testing.T) {
	router := newTestRouter(&fakeManager{})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/workflows", nil))

	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, "Invalid URL", recorder.Body.String())
}

func TestManagerUnavailable(t *testing.T) {
	router := newTestRouter(&fakeManager{down: true})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/workflows", nil))

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&fakeManager{})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "ok")
}
