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

import "fmt"

// InvalidConfigError reports content that does not match the configuration
// grammar at all (unbalanced braces, malformed lines, and so on).
type InvalidConfigError struct {
	Line    int
	Message string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("the config provided could not be parsed: %s (line %d)", e.Message, e.Line)
}

// DuplicateWorkflowNameError reports two workflow blocks sharing a name.
type DuplicateWorkflowNameError struct {
	Name string
}

func (e *DuplicateWorkflowNameError) Error() string {
	return fmt.Sprintf("duplicate workflow name: '%s'", e.Name)
}

// InvalidNodeNameError reports a top-level node that is neither `settings`
// nor `workflow`.
type InvalidNodeNameError struct {
	Name string
	Line int
}

func (e *InvalidNodeNameError) Error() string {
	return fmt.Sprintf("invalid node name '%s' on line %d", e.Name, e.Line)
}

// ArgumentsOnSettingsNodeError reports arguments on a `settings` block header.
type ArgumentsOnSettingsNodeError struct {
	Line int
}

func (e *ArgumentsOnSettingsNodeError) Error() string {
	return fmt.Sprintf("arguments are not allowed on a settings node, but some were found on line %d", e.Line)
}

// TooManySettingArgumentsError reports a setting entry with more than one
// argument.
type TooManySettingArgumentsError struct {
	Line int
}

func (e *TooManySettingArgumentsError) Error() string {
	return fmt.Sprintf("more than 1 argument was provided for the setting on line %d", e.Line)
}

// InvalidSettingArgumentFormatError reports a setting entry whose argument
// uses the key=value form, which settings do not allow.
type InvalidSettingArgumentFormatError struct {
	Line int
}

func (e *InvalidSettingArgumentFormatError) Error() string {
	return fmt.Sprintf("the argument provided for the setting on line %d is invalid, equal signs are not allowed", e.Line)
}

// TooManyWorkflowArgumentsError reports a workflow header with more than one
// argument.
type TooManyWorkflowArgumentsError struct {
	Line int
}

func (e *TooManyWorkflowArgumentsError) Error() string {
	return fmt.Sprintf("workflows should only have a single argument (its name) but the workflow on line %d had multiple", e.Line)
}

// NoNameOnWorkflowError reports a workflow header with no name argument.
type NoNameOnWorkflowError struct {
	Line int
}

func (e *NoNameOnWorkflowError) Error() string {
	return fmt.Sprintf("the workflow on line %d did not have a name specified", e.Line)
}

// InvalidWorkflowNameError reports a workflow header whose name argument is
// not a plain bareword (e.g. a key=value pair).
type InvalidWorkflowNameError struct {
	Line int
	Name string
}

func (e *InvalidWorkflowNameError) Error() string {
	return fmt.Sprintf("invalid workflow name of %s on line %d", e.Name, e.Line)
}
