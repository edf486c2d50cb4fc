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

// Package httpexec implements a reactor executor that resolves stream names
// through an external HTTP service. The service receives the stream name and
// answers with a workflow definition in the mmids configuration grammar; an
// empty or not-found response means no workflow is associated with the name.
package httpexec

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/mmids/pkg/config"
	"github.com/tombee/mmids/pkg/workflow"
)

// DefaultTimeout bounds a single lookup request.
const DefaultTimeout = 10 * time.Second

// lookupRequest is the JSON body sent to the service.
type lookupRequest struct {
	StreamName string `json:"stream_name"`
}

// Executor resolves stream names by POSTing them to a configured URL.
type Executor struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithClient sets the HTTP client used for lookups.
func WithClient(client *http.Client) Option {
	return func(e *Executor) { e.client = client }
}

// WithLogger sets the executor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// New creates an executor that queries the given URL.
func New(url string, opts ...Option) *Executor {
	e := &Executor{
		url:    url,
		client: &http.Client{Timeout: DefaultTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// GetWorkflow implements reactor.Executor. Any transport or parse failure is
// logged and treated as "no workflow": the reactor re-polls on its update
// interval, so transient failures heal on their own.
func (e *Executor) GetWorkflow(ctx context.Context, streamName string) *workflow.Definition {
	body, err := json.Marshal(lookupRequest{StreamName: streamName})
	if err != nil {
		e.logger.Error("failed to encode lookup request", "error", err)
		return nil
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		e.logger.Error("failed to build lookup request", "error", err)
		return nil
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := e.client.Do(request)
	if err != nil {
		e.logger.Warn("workflow lookup request failed",
			"stream_name", streamName,
			"error", err)
		return nil
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return nil
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		e.logger.Warn("workflow lookup returned an unexpected status",
			"stream_name", streamName,
			"status", response.StatusCode)
		return nil
	}

	content, err := io.ReadAll(response.Body)
	if err != nil {
		e.logger.Warn("failed to read lookup response",
			"stream_name", streamName,
			"error", err)
		return nil
	}

	if len(bytes.TrimSpace(content)) == 0 {
		return nil
	}

	parsed, err := config.Parse(string(content))
	if err != nil {
		e.logger.Error("lookup response was not a valid workflow config",
			"stream_name", streamName,
			"error", err)
		return nil
	}

	if len(parsed.Workflows) != 1 {
		e.logger.Error("lookup response must contain exactly one workflow",
			"stream_name", streamName,
			"workflow_count", len(parsed.Workflows))
		return nil
	}

	for _, definition := range parsed.Workflows {
		return definition
	}

	return nil
}
