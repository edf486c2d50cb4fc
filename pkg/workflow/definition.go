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

// Package workflow defines workflow and step definitions. A workflow is a
// named, ordered pipeline of steps; each step is described by a step type and
// a parameter map. Definitions are produced by the config parser or by a
// reactor and handed to the workflow manager for execution.
package workflow

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// StepType identifies the kind of a workflow step (e.g. "rtmp_receive").
type StepType string

// StepDefinition describes a single step in a workflow pipeline.
//
// Parameters map parameter names to optional values: a nil value means the
// parameter was specified as a bare flag.
type StepDefinition struct {
	Type       StepType
	Parameters map[string]*string
}

// ID returns the stable identity of the step definition: a 64-bit hash over
// the step type and parameters. Two definitions with the same type and the
// same parameter set hash to the same id regardless of parameter insertion
// order. The workflow runner uses this id to decide whether a step in a new
// definition is the same step it is already running.
func (d *StepDefinition) ID() uint64 {
	digest := xxhash.New()
	_, _ = digest.WriteString(string(d.Type))

	keys := make([]string, 0, len(d.Parameters))
	for key := range d.Parameters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var lenBuf [4]byte
	writeField := func(s string) {
		// Length-prefix each field so adjacent fields can't collide
		// by shifting bytes between them.
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
		_, _ = digest.Write(lenBuf[:])
		_, _ = digest.WriteString(s)
	}

	for _, key := range keys {
		writeField(key)
		if value := d.Parameters[key]; value != nil {
			writeField(*value)
		} else {
			_, _ = digest.Write([]byte{0})
		}
	}

	return digest.Sum64()
}

// Clone returns a deep copy of the step definition.
func (d *StepDefinition) Clone() StepDefinition {
	parameters := make(map[string]*string, len(d.Parameters))
	for key, value := range d.Parameters {
		if value == nil {
			parameters[key] = nil
			continue
		}
		copied := *value
		parameters[key] = &copied
	}

	return StepDefinition{Type: d.Type, Parameters: parameters}
}

// Definition is a named, ordered pipeline of step definitions.
type Definition struct {
	Name  string
	Steps []StepDefinition
}

// Clone returns a deep copy of the workflow definition.
func (d *Definition) Clone() Definition {
	steps := make([]StepDefinition, len(d.Steps))
	for i := range d.Steps {
		steps[i] = d.Steps[i].Clone()
	}

	return Definition{Name: d.Name, Steps: steps}
}
