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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "mmidsd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddress, cfg.HTTP.Address)
	assert.Equal(t, DefaultWorkflowFile, cfg.WorkflowFile)
	assert.True(t, cfg.HTTPEnabled())
	assert.True(t, cfg.WatchWorkflowFile)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
http:
  address: "0.0.0.0:8080"
log:
  level: debug
  format: text
workflow_file: /etc/mmids/workflows.config
watch_workflow_file: false
reactors:
  - name: db_lookup
    executor: http
    url: http://localhost:9500/lookup
    update_interval: 30s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Address)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/etc/mmids/workflows.config", cfg.WorkflowFile)
	assert.False(t, cfg.WatchWorkflowFile)

	require.Len(t, cfg.Reactors, 1)
	assert.Equal(t, "db_lookup", cfg.Reactors[0].Name)
	assert.Equal(t, 30*time.Second, cfg.Reactors[0].UpdateInterval.Std())
}

func TestLoadDisabledHTTP(t *testing.T) {
	path := writeConfig(t, `
http:
  enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.HTTPEnabled())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "reactor without name",
			content: "reactors:\n  - executor: http\n    url: http://x\n",
			want:    "has no name",
		},
		{
			name:    "duplicate reactor names",
			content: "reactors:\n  - name: a\n    executor: http\n    url: http://x\n  - name: a\n    executor: http\n    url: http://x\n",
			want:    "duplicate reactor name",
		},
		{
			name:    "http executor without url",
			content: "reactors:\n  - name: a\n    executor: http\n",
			want:    "has no url",
		},
		{
			name:    "unknown executor",
			content: "reactors:\n  - name: a\n    executor: carrier-pigeon\n",
			want:    "unknown executor",
		},
		{
			name:    "empty workflow file",
			content: "workflow_file: \"\"\n",
			want:    "workflow_file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
