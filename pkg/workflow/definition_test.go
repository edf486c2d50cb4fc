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

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestStepIDIgnoresParameterOrder(t *testing.T) {
	first := StepDefinition{
		Type: "rtmp_receive",
		Parameters: map[string]*string{
			"port":       strPtr("1935"),
			"rtmp_app":   strPtr("receive"),
			"stream_key": strPtr("*"),
		},
	}
	second := StepDefinition{
		Type: "rtmp_receive",
		Parameters: map[string]*string{
			"stream_key": strPtr("*"),
			"port":       strPtr("1935"),
			"rtmp_app":   strPtr("receive"),
		},
	}

	assert.Equal(t, first.ID(), second.ID())
}

func TestStepIDDiffersByType(t *testing.T) {
	receive := StepDefinition{Type: "rtmp_receive", Parameters: map[string]*string{"port": strPtr("1935")}}
	watch := StepDefinition{Type: "rtmp_watch", Parameters: map[string]*string{"port": strPtr("1935")}}

	assert.NotEqual(t, receive.ID(), watch.ID())
}

func TestStepIDDiffersByParameters(t *testing.T) {
	first := StepDefinition{Type: "rtmp_receive", Parameters: map[string]*string{"port": strPtr("1935")}}
	second := StepDefinition{Type: "rtmp_receive", Parameters: map[string]*string{"port": strPtr("1936")}}

	assert.NotEqual(t, first.ID(), second.ID())
}

func TestStepIDFlagDistinctFromValue(t *testing.T) {
	// A bare flag and a key with an empty value are different parameters.
	flag := StepDefinition{Type: "hls", Parameters: map[string]*string{"fast_start": nil}}
	emptyValue := StepDefinition{Type: "hls", Parameters: map[string]*string{"fast_start": strPtr("")}}

	assert.NotEqual(t, flag.ID(), emptyValue.ID())
}

func TestStepIDStableAcrossCalls(t *testing.T) {
	def := StepDefinition{
		Type:       "hls",
		Parameters: map[string]*string{"path": strPtr("/tmp/out.m3u8"), "fast_start": nil},
	}

	assert.Equal(t, def.ID(), def.ID())
}

func TestDefinitionClone(t *testing.T) {
	original := Definition{
		Name: "ingest",
		Steps: []StepDefinition{
			{Type: "rtmp_receive", Parameters: map[string]*string{"port": strPtr("1935")}},
		},
	}

	cloned := original.Clone()
	require.Len(t, cloned.Steps, 1)
	assert.Equal(t, original.Steps[0].ID(), cloned.Steps[0].ID())

	// Mutating the clone must not leak into the original.
	*cloned.Steps[0].Parameters["port"] = "9999"
	assert.Equal(t, "1935", *original.Steps[0].Parameters["port"])
}
