// Copyright 2025 Strand Authors
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

// Package metrics is the pipeline feature that counts agent activity in
// Prometheus collectors: runs, node executions, LLM calls and token usage,
// tool calls and latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strandkit/strand/pkg/agent"
	"github.com/strandkit/strand/pkg/pipeline"
)

// FeatureKey identifies the metrics feature.
const FeatureKey pipeline.FeatureKey = "metrics"

func init() {
	agent.RegisterSystemFeature(FeatureKey, func() pipeline.Feature {
		return New(Config{})
	})
}

// Config configures the metrics feature.
type Config struct {
	// Registry receives the collectors and backs Handler. Defaults to a
	// fresh registry.
	Registry *prometheus.Registry

	// Namespace prefixes every metric name. Defaults to "strand".
	Namespace string
}

// Metrics is the feature. One instance owns its collectors; installing the
// same instance into several pipelines aggregates across them.
type Metrics struct {
	registry *prometheus.Registry

	agentRuns      *prometheus.CounterVec
	nodeExecutions *prometheus.CounterVec
	llmCalls       *prometheus.CounterVec
	llmTokens      *prometheus.CounterVec
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
}

// New creates the feature and registers its collectors.
func New(cfg Config) *Metrics {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "strand"
	}

	m := &Metrics{
		registry: cfg.Registry,
		agentRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "agent_runs_total",
			Help:      "Agent runs by outcome.",
		}, []string{"agent_id", "status"}),
		nodeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "node_executions_total",
			Help:      "Strategy node executions by outcome.",
		}, []string{"agent_id", "node", "status"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "llm_calls_total",
			Help:      "Completed LLM calls.",
		}, []string{"agent_id", "model"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "llm_tokens_total",
			Help:      "Token usage reported by the provider.",
		}, []string{"agent_id", "model", "direction"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by outcome.",
		}, []string{"agent_id", "tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent_id", "tool"}),
	}

	cfg.Registry.MustRegister(
		m.agentRuns, m.nodeExecutions, m.llmCalls, m.llmTokens,
		m.toolCalls, m.toolDuration,
	)
	return m
}

// Key implements pipeline.Feature.
func (m *Metrics) Key() pipeline.FeatureKey { return FeatureKey }

// Install implements pipeline.Feature.
func (m *Metrics) Install(p *pipeline.Pipeline) error {
	p.OnAgentCompleted(func(ev *pipeline.AgentCompletedEvent) {
		m.agentRuns.WithLabelValues(ev.AgentID, "completed").Inc()
	})
	p.OnAgentExecutionFailed(func(ev *pipeline.AgentExecutionFailedEvent) {
		m.agentRuns.WithLabelValues(ev.AgentID, "failed").Inc()
	})

	p.OnNodeExecutionCompleted(func(ev *pipeline.NodeExecutionCompletedEvent) {
		m.nodeExecutions.WithLabelValues(ev.AgentID, ev.NodeName, "completed").Inc()
	})
	p.OnNodeExecutionFailed(func(ev *pipeline.NodeExecutionFailedEvent) {
		m.nodeExecutions.WithLabelValues(ev.AgentID, ev.NodeName, "failed").Inc()
	})

	p.OnLLMCallCompleted(func(ev *pipeline.LLMCallCompletedEvent) {
		m.llmCalls.WithLabelValues(ev.AgentID, ev.Model).Inc()
		for _, msg := range ev.Responses {
			if msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
				continue
			}
			usage := msg.ResponseMeta.Usage
			m.llmTokens.WithLabelValues(ev.AgentID, ev.Model, "input").
				Add(float64(usage.InputTokens))
			m.llmTokens.WithLabelValues(ev.AgentID, ev.Model, "output").
				Add(float64(usage.OutputTokens))
		}
	})

	p.OnToolCallCompleted(func(ev *pipeline.ToolCallCompletedEvent) {
		m.toolCalls.WithLabelValues(ev.AgentID, ev.ToolName, "completed").Inc()
		m.toolDuration.WithLabelValues(ev.AgentID, ev.ToolName).
			Observe(ev.Duration.Seconds())
	})
	p.OnToolCallFailed(func(ev *pipeline.ToolCallFailedEvent) {
		m.toolCalls.WithLabelValues(ev.AgentID, ev.ToolName, "failed").Inc()
	})
	p.OnToolValidationFailed(func(ev *pipeline.ToolValidationFailedEvent) {
		m.toolCalls.WithLabelValues(ev.AgentID, ev.ToolName, "invalid").Inc()
	})

	return nil
}

// Handler serves the feature's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the backing registry for callers that aggregate
// collectors from several sources.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

var _ pipeline.Feature = (*Metrics)(nil)
