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

// Package metrics exposes Prometheus collectors for the mmids core: active
// workflows and streams, step executions, and reactor lookups. It satisfies
// the collector interfaces the runner, manager, and reactor packages accept.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tombee/mmids/pkg/workflow"
)

// Collector aggregates every mmids Prometheus metric.
type Collector struct {
	registry *prometheus.Registry

	activeWorkflows prometheus.Gauge
	activeStreams   *prometheus.GaugeVec
	stepExecutions  *prometheus.CounterVec
	reactorLookups  *prometheus.CounterVec
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		activeWorkflows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mmids_active_workflows",
			Help: "Number of workflows currently running.",
		}),
		activeStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mmids_active_streams",
			Help: "Number of live media streams per workflow.",
		}, []string{"workflow"}),
		stepExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mmids_step_executions_total",
			Help: "Workflow step executions by step type.",
		}, []string{"workflow", "step_type"}),
		reactorLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mmids_reactor_lookups_total",
			Help: "Reactor executor lookups by outcome.",
		}, []string{"reactor", "outcome"}),
	}

	c.registry.MustRegister(
		c.activeWorkflows,
		c.activeStreams,
		c.stepExecutions,
		c.reactorLookups,
	)

	return c
}

// SetActiveWorkflows implements manager.MetricsCollector.
func (c *Collector) SetActiveWorkflows(count int) {
	c.activeWorkflows.Set(float64(count))
}

// SetActiveStreams implements runner.MetricsCollector.
func (c *Collector) SetActiveStreams(workflowName string, count int) {
	c.activeStreams.WithLabelValues(workflowName).Set(float64(count))
}

// RecordStepExecution implements runner.MetricsCollector.
func (c *Collector) RecordStepExecution(workflowName string, stepType workflow.StepType) {
	c.stepExecutions.WithLabelValues(workflowName, string(stepType)).Inc()
}

// RecordExecutorLookup implements reactor.MetricsCollector.
func (c *Collector) RecordExecutorLookup(reactorName string, foundWorkflow bool) {
	outcome := "miss"
	if foundWorkflow {
		outcome = "hit"
	}
	c.reactorLookups.WithLabelValues(reactorName, outcome).Inc()
}

// Handler returns an http.Handler serving the metrics in Prometheus text
// format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
