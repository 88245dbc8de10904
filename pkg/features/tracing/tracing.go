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

// Package tracing is the pipeline feature that turns lifecycle event pairs
// into OpenTelemetry spans: one span per run, nested node spans, and leaf
// spans for LLM calls and tool calls.
package tracing

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/strandkit/strand/pkg/agent"
	"github.com/strandkit/strand/pkg/pipeline"
)

// FeatureKey identifies the tracing feature.
const FeatureKey pipeline.FeatureKey = "tracing"

const tracerName = "github.com/strandkit/strand"

func init() {
	agent.RegisterSystemFeature(FeatureKey, func() pipeline.Feature {
		return New(Config{})
	})
}

// NewStdoutProvider builds a tracer provider that pretty-prints finished
// spans to w. Intended for local development; call Shutdown to flush.
func NewStdoutProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter)), nil
}

// Config configures the tracing feature.
type Config struct {
	// TracerProvider defaults to the global otel provider.
	TracerProvider trace.TracerProvider
}

// Tracing is the feature. Span parentage follows the event nesting: run
// spans own node spans, node spans own LLM and tool spans.
type Tracing struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]spanSlot
}

type spanSlot struct {
	ctx  context.Context
	span trace.Span
}

// New creates the feature.
func New(cfg Config) *Tracing {
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracing{
		tracer: tp.Tracer(tracerName),
		spans:  make(map[string]spanSlot),
	}
}

// Key implements pipeline.Feature.
func (t *Tracing) Key() pipeline.FeatureKey { return FeatureKey }

// Install implements pipeline.Feature.
func (t *Tracing) Install(p *pipeline.Pipeline) error {
	p.OnAgentStarting(func(ev *pipeline.AgentStartingEvent) {
		ctx, span := t.tracer.Start(context.Background(), "agent.run",
			trace.WithAttributes(
				attribute.String("agent.id", ev.AgentID),
				attribute.String("run.id", ev.RunID),
			))
		t.put(runKey(ev.RunID), ctx, span)
	})
	p.OnAgentCompleted(func(ev *pipeline.AgentCompletedEvent) {
		t.end(runKey(ev.RunID), nil)
	})
	p.OnAgentExecutionFailed(func(ev *pipeline.AgentExecutionFailedEvent) {
		t.end(runKey(ev.RunID), ev.Err)
	})

	p.OnNodeExecutionStarting(func(ev *pipeline.NodeExecutionStartingEvent) {
		parent := t.parent(runKey(ev.RunID))
		ctx, span := t.tracer.Start(parent, "node."+ev.NodeName,
			trace.WithAttributes(
				attribute.String("agent.id", ev.AgentID),
				attribute.String("node.name", ev.NodeName),
			))
		t.put(nodeKey(ev.RunID, ev.NodeName), ctx, span)
	})
	p.OnNodeExecutionCompleted(func(ev *pipeline.NodeExecutionCompletedEvent) {
		t.end(nodeKey(ev.RunID, ev.NodeName), nil)
	})
	p.OnNodeExecutionFailed(func(ev *pipeline.NodeExecutionFailedEvent) {
		t.end(nodeKey(ev.RunID, ev.NodeName), ev.Err)
	})

	p.OnLLMCallStarting(func(ev *pipeline.LLMCallStartingEvent) {
		parent := t.parent(runKey(ev.RunID))
		ctx, span := t.tracer.Start(parent, "llm.call",
			trace.WithAttributes(
				attribute.String("llm.model", ev.Model),
				attribute.Int("llm.prompt_messages", len(ev.Prompt.Messages)),
				attribute.Int("llm.tools", len(ev.Tools)),
			))
		t.put(llmKey(ev.RunID), ctx, span)
	})
	p.OnLLMCallCompleted(func(ev *pipeline.LLMCallCompletedEvent) {
		key := llmKey(ev.RunID)
		t.mu.Lock()
		slot, ok := t.spans[key]
		delete(t.spans, key)
		t.mu.Unlock()
		if !ok {
			return
		}
		for _, msg := range ev.Responses {
			if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
				slot.span.SetAttributes(
					attribute.Int("llm.input_tokens", msg.ResponseMeta.Usage.InputTokens),
					attribute.Int("llm.output_tokens", msg.ResponseMeta.Usage.OutputTokens),
				)
			}
		}
		slot.span.End()
	})

	p.OnToolCallStarting(func(ev *pipeline.ToolCallStartingEvent) {
		parent := t.parent(runKey(ev.RunID))
		ctx, span := t.tracer.Start(parent, "tool."+ev.ToolName,
			trace.WithAttributes(
				attribute.String("tool.name", ev.ToolName),
				attribute.String("tool.call_id", ev.CallID),
			))
		t.put(toolKey(ev.RunID, ev.CallID), ctx, span)
	})
	p.OnToolCallCompleted(func(ev *pipeline.ToolCallCompletedEvent) {
		t.end(toolKey(ev.RunID, ev.CallID), nil)
	})
	p.OnToolCallFailed(func(ev *pipeline.ToolCallFailedEvent) {
		t.end(toolKey(ev.RunID, ev.CallID), ev.Err)
	})

	return nil
}

func runKey(runID string) string          { return "run:" + runID }
func nodeKey(runID, node string) string   { return "node:" + runID + ":" + node }
func llmKey(runID string) string          { return "llm:" + runID }
func toolKey(runID, callID string) string { return "tool:" + runID + ":" + callID }

func (t *Tracing) put(key string, ctx context.Context, span trace.Span) {
	t.mu.Lock()
	t.spans[key] = spanSlot{ctx: ctx, span: span}
	t.mu.Unlock()
}

func (t *Tracing) parent(key string) context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot, ok := t.spans[key]; ok {
		return slot.ctx
	}
	return context.Background()
}

func (t *Tracing) end(key string, err error) {
	t.mu.Lock()
	slot, ok := t.spans[key]
	delete(t.spans, key)
	t.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		slot.span.RecordError(err)
		slot.span.SetStatus(codes.Error, err.Error())
	}
	slot.span.End()
}

var _ pipeline.Feature = (*Tracing)(nil)
