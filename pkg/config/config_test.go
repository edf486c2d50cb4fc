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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSettings(t *testing.T) {
	content := `
settings {
    first a
    second "C:\program files\ffmpeg\bin\ffmpeg.exe"
    flag

}
`

	cfg, err := Parse(content)
	require.NoError(t, err)
	require.Len(t, cfg.Settings, 3, "unexpected number of settings")

	first, ok := cfg.Settings["first"]
	require.True(t, ok)
	require.NotNil(t, first)
	assert.Equal(t, "a", *first)

	second, ok := cfg.Settings["second"]
	require.True(t, ok)
	require.NotNil(t, second)
	assert.Equal(t, `C:\program files\ffmpeg\bin\ffmpeg.exe`, *second)

	flag, ok := cfg.Settings["flag"]
	require.True(t, ok)
	assert.Nil(t, flag)
}

func TestParseSingleWorkflow(t *testing.T) {
	content := `
workflow name {
    rtmp_receive port=1935 app=receive stream_key=*
    hls path=/tmp/test.m3u8 segment_size="3" size=640x480 flag
}
`

	cfg, err := Parse(content)
	require.NoError(t, err)
	require.Len(t, cfg.Workflows, 1, "unexpected number of workflows")

	definition, ok := cfg.Workflows["name"]
	require.True(t, ok, "workflow 'name' did not exist")
	assert.Equal(t, "name", definition.Name)
	require.Len(t, definition.Steps, 2, "unexpected number of workflow steps")

	step1 := definition.Steps[0]
	assert.EqualValues(t, "rtmp_receive", step1.Type)
	require.Len(t, step1.Parameters, 3)
	require.NotNil(t, step1.Parameters["port"])
	assert.Equal(t, "1935", *step1.Parameters["port"])
	require.NotNil(t, step1.Parameters["app"])
	assert.Equal(t, "receive", *step1.Parameters["app"])
	require.NotNil(t, step1.Parameters["stream_key"])
	assert.Equal(t, "*", *step1.Parameters["stream_key"])

	step2 := definition.Steps[1]
	assert.EqualValues(t, "hls", step2.Type)
	require.Len(t, step2.Parameters, 4)
	require.NotNil(t, step2.Parameters["path"])
	assert.Equal(t, "/tmp/test.m3u8", *step2.Parameters["path"])
	require.NotNil(t, step2.Parameters["segment_size"])
	assert.Equal(t, "3", *step2.Parameters["segment_size"])
	require.NotNil(t, step2.Parameters["size"])
	assert.Equal(t, "640x480", *step2.Parameters["size"])

	flag, ok := step2.Parameters["flag"]
	require.True(t, ok)
	assert.Nil(t, flag)
}

func TestParseMultipleWorkflows(t *testing.T) {
	content := `
workflow name {
    rtmp_receive port=1935 app=receive stream_key=*
}

workflow name2 {
    another a
}
`

	cfg, err := Parse(content)
	require.NoError(t, err)
	require.Len(t, cfg.Workflows, 2)
	assert.Contains(t, cfg.Workflows, "name")
	assert.Contains(t, cfg.Workflows, "name2")
}

func TestParseStepOrderMatchesTextualOrder(t *testing.T) {
	content := `
workflow ordered {
    first
    second
    third
}
`

	cfg, err := Parse(content)
	require.NoError(t, err)

	definition := cfg.Workflows["ordered"]
	require.NotNil(t, definition)
	require.Len(t, definition.Steps, 3)
	assert.EqualValues(t, "first", definition.Steps[0].Type)
	assert.EqualValues(t, "second", definition.Steps[1].Type)
	assert.EqualValues(t, "third", definition.Steps[2].Type)
}

func TestParseDuplicateWorkflowName(t *testing.T) {
	content := `
workflow name {
    rtmp_receive port=1935 app=receive stream_key=*
}

workflow name {
    another a
}
`

	_, err := Parse(content)
	var duplicate *DuplicateWorkflowNameError
	require.ErrorAs(t, err, &duplicate)
	assert.Equal(t, "name", duplicate.Name)
}

func TestParseFullConfigWithComments(t *testing.T) {
	content := `
# comment
settings {
    first a # another comment
    second "C:\program files\ffmpeg\bin\ffmpeg.exe"
    flag

}

workflow name { #workflow comment
    rtmp_receive port=1935 app=receive stream_key=* #step comment
    hls path=/tmp/test.m3u8 segment_size="3" size=640x480 flag
}

workflow name2 {
    another a
}
`

	cfg, err := Parse(content)
	require.NoError(t, err)

	// Comments never appear in parsed strings.
	first := cfg.Settings["first"]
	require.NotNil(t, first)
	assert.Equal(t, "a", *first)

	definition := cfg.Workflows["name"]
	require.NotNil(t, definition)
	require.Len(t, definition.Steps, 2)
	streamKey := definition.Steps[0].Parameters["stream_key"]
	require.NotNil(t, streamKey)
	assert.Equal(t, "*", *streamKey)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		check   func(t *testing.T, err error)
	}{
		{
			name:    "invalid node name",
			content: "something {\n}\n",
			check: func(t *testing.T, err error) {
				var e *InvalidNodeNameError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, "something", e.Name)
				assert.Equal(t, 1, e.Line)
			},
		},
		{
			name:    "arguments on settings node",
			content: "settings extra {\n}\n",
			check: func(t *testing.T, err error) {
				var e *ArgumentsOnSettingsNodeError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, 1, e.Line)
			},
		},
		{
			name:    "too many setting arguments",
			content: "settings {\n    key one two\n}\n",
			check: func(t *testing.T, err error) {
				var e *TooManySettingArgumentsError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, 2, e.Line)
			},
		},
		{
			name:    "key=value inside settings",
			content: "settings {\n    key a=b\n}\n",
			check: func(t *testing.T, err error) {
				var e *InvalidSettingArgumentFormatError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, 2, e.Line)
			},
		},
		{
			name:    "too many workflow arguments",
			content: "workflow one two {\n}\n",
			check: func(t *testing.T, err error) {
				var e *TooManyWorkflowArgumentsError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, 1, e.Line)
			},
		},
		{
			name:    "no name on workflow",
			content: "workflow {\n}\n",
			check: func(t *testing.T, err error) {
				var e *NoNameOnWorkflowError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, 1, e.Line)
			},
		},
		{
			name:    "key=value workflow name",
			content: "workflow name=wrong {\n}\n",
			check: func(t *testing.T, err error) {
				var e *InvalidWorkflowNameError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, 1, e.Line)
				assert.Equal(t, "name=wrong", e.Name)
			},
		},
		{
			name:    "unclosed block",
			content: "workflow name {\n    step\n",
			check: func(t *testing.T, err error) {
				var e *InvalidConfigError
				require.ErrorAs(t, err, &e)
			},
		},
		{
			name:    "content outside a block",
			content: "workflow name\n",
			check: func(t *testing.T, err error) {
				var e *InvalidConfigError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, 1, e.Line)
			},
		},
		{
			name:    "unterminated quote",
			content: "workflow name {\n    step key=\"unterminated\n}\n",
			check: func(t *testing.T, err error) {
				var e *InvalidConfigError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, 2, e.Line)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.content)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestParseDuplicateBeforeOtherErrors(t *testing.T) {
	// The first occurrence parses cleanly; the duplicate is reported even
	// though a later block also contains an invalid node.
	content := `
workflow name {
    step
}

workflow name {
    step
}

bogus {
}
`

	_, err := Parse(content)
	var duplicate *DuplicateWorkflowNameError
	require.True(t, errors.As(err, &duplicate))
}

func TestParseQuotedArgumentBecomesFlag(t *testing.T) {
	content := `
workflow name {
    ffmpeg "scale=1280:720"
}
`

	cfg, err := Parse(content)
	require.NoError(t, err)

	definition := cfg.Workflows["name"]
	require.Len(t, definition.Steps, 1)
	value, ok := definition.Steps[0].Parameters["scale=1280:720"]
	require.True(t, ok, "quoted argument should become a flag keyed by its content")
	assert.Nil(t, value)
}
