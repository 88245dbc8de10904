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

// Package pipeline is the interceptor bus for agent lifecycle events.
//
// Features register typed handlers for the lifecycle points they care about;
// the runtime fires events synchronously, in registration order, from the
// caller's goroutine. Handlers must not block indefinitely — features that
// need slow I/O hand off to their own worker.
//
// Installation is idempotent per feature key: a second install of the same
// key is skipped with a warning. This is what lets environment-driven system
// features coexist with user installs — whoever installs first wins, and the
// runtime installs system features after user code has had its chance.
package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
)

// FeatureKey names an installable feature.
type FeatureKey string

// Feature is an installable component that subscribes to lifecycle events.
type Feature interface {
	// Key identifies the feature; at most one feature per key is installed.
	Key() FeatureKey

	// Install registers the feature's handlers on the pipeline.
	Install(p *Pipeline) error
}

// Pipeline holds registered handlers and per-feature storage slots.
type Pipeline struct {
	mu        sync.Mutex
	installed map[FeatureKey]Feature
	storage   map[FeatureKey]any

	agentStarting        []func(*AgentStartingEvent)
	agentCompleted       []func(*AgentCompletedEvent)
	agentFailed          []func(*AgentExecutionFailedEvent)
	agentClosing         []func(*AgentClosingEvent)
	agentEnvTransforming []func(*AgentEnvironmentTransformingEvent)

	strategyStarting  []func(*StrategyStartingEvent)
	strategyCompleted []func(*StrategyCompletedEvent)

	subgraphStarting  []func(*SubgraphExecutionStartingEvent)
	subgraphCompleted []func(*SubgraphExecutionCompletedEvent)
	subgraphFailed    []func(*SubgraphExecutionFailedEvent)

	nodeStarting  []func(*NodeExecutionStartingEvent)
	nodeCompleted []func(*NodeExecutionCompletedEvent)
	nodeFailed    []func(*NodeExecutionFailedEvent)

	llmCallStarting  []func(*LLMCallStartingEvent)
	llmCallCompleted []func(*LLMCallCompletedEvent)

	llmStreamStarting  []func(*LLMStreamingStartingEvent)
	llmStreamFrame     []func(*LLMStreamingFrameReceivedEvent)
	llmStreamFailed    []func(*LLMStreamingFailedEvent)
	llmStreamCompleted []func(*LLMStreamingCompletedEvent)

	toolStarting         []func(*ToolCallStartingEvent)
	toolValidationFailed []func(*ToolValidationFailedEvent)
	toolFailed           []func(*ToolCallFailedEvent)
	toolCompleted        []func(*ToolCallCompletedEvent)
}

// New creates an empty pipeline.
func New() *Pipeline {
	return &Pipeline{
		installed: make(map[FeatureKey]Feature),
		storage:   make(map[FeatureKey]any),
	}
}

// Install installs a feature once. A second install of the same key is
// skipped with a warning and reports false.
func (p *Pipeline) Install(f Feature) (bool, error) {
	p.mu.Lock()
	if _, exists := p.installed[f.Key()]; exists {
		p.mu.Unlock()
		slog.Warn("Feature already installed, skipping", "feature", f.Key())
		return false, nil
	}
	p.installed[f.Key()] = f
	p.mu.Unlock()

	if err := f.Install(p); err != nil {
		p.mu.Lock()
		delete(p.installed, f.Key())
		p.mu.Unlock()
		return false, fmt.Errorf("failed to install feature %q: %w", f.Key(), err)
	}
	return true, nil
}

// Installed returns the feature for key, if present.
func (p *Pipeline) Installed(key FeatureKey) (Feature, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.installed[key]
	return f, ok
}

// SetFeatureData stores a value in the feature's typed slot.
func (p *Pipeline) SetFeatureData(key FeatureKey, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.storage[key] = data
}

// FeatureData reads the feature's slot with the expected type. A present
// value of the wrong type reports false, like a missing one.
func FeatureData[T any](p *Pipeline, key FeatureKey) (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero T
	raw, ok := p.storage[key]
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Registration. Handlers run synchronously in registration order.

func (p *Pipeline) OnAgentStarting(fn func(*AgentStartingEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agentStarting = append(p.agentStarting, fn)
}

func (p *Pipeline) OnAgentCompleted(fn func(*AgentCompletedEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agentCompleted = append(p.agentCompleted, fn)
}

func (p *Pipeline) OnAgentExecutionFailed(fn func(*AgentExecutionFailedEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agentFailed = append(p.agentFailed, fn)
}

func (p *Pipeline) OnAgentClosing(fn func(*AgentClosingEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agentClosing = append(p.agentClosing, fn)
}

func (p *Pipeline) OnAgentEnvironmentTransforming(fn func(*AgentEnvironmentTransformingEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agentEnvTransforming = append(p.agentEnvTransforming, fn)
}

func (p *Pipeline) OnStrategyStarting(fn func(*StrategyStartingEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strategyStarting = append(p.strategyStarting, fn)
}

func (p *Pipeline) OnStrategyCompleted(fn func(*StrategyCompletedEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strategyCompleted = append(p.strategyCompleted, fn)
}

func (p *Pipeline) OnSubgraphExecutionStarting(fn func(*SubgraphExecutionStartingEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subgraphStarting = append(p.subgraphStarting, fn)
}

func (p *Pipeline) OnSubgraphExecutionCompleted(fn func(*SubgraphExecutionCompletedEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subgraphCompleted = append(p.subgraphCompleted, fn)
}

func (p *Pipeline) OnSubgraphExecutionFailed(fn func(*SubgraphExecutionFailedEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subgraphFailed = append(p.subgraphFailed, fn)
}

func (p *Pipeline) OnNodeExecutionStarting(fn func(*NodeExecutionStartingEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodeStarting = append(p.nodeStarting, fn)
}

func (p *Pipeline) OnNodeExecutionCompleted(fn func(*NodeExecutionCompletedEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodeCompleted = append(p.nodeCompleted, fn)
}

func (p *Pipeline) OnNodeExecutionFailed(fn func(*NodeExecutionFailedEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodeFailed = append(p.nodeFailed, fn)
}

func (p *Pipeline) OnLLMCallStarting(fn func(*LLMCallStartingEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.llmCallStarting = append(p.llmCallStarting, fn)
}

func (p *Pipeline) OnLLMCallCompleted(fn func(*LLMCallCompletedEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.llmCallCompleted = append(p.llmCallCompleted, fn)
}

func (p *Pipeline) OnLLMStreamingStarting(fn func(*LLMStreamingStartingEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.llmStreamStarting = append(p.llmStreamStarting, fn)
}

func (p *Pipeline) OnLLMStreamingFrameReceived(fn func(*LLMStreamingFrameReceivedEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.llmStreamFrame = append(p.llmStreamFrame, fn)
}

func (p *Pipeline) OnLLMStreamingFailed(fn func(*LLMStreamingFailedEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.llmStreamFailed = append(p.llmStreamFailed, fn)
}

func (p *Pipeline) OnLLMStreamingCompleted(fn func(*LLMStreamingCompletedEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.llmStreamCompleted = append(p.llmStreamCompleted, fn)
}

func (p *Pipeline) OnToolCallStarting(fn func(*ToolCallStartingEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toolStarting = append(p.toolStarting, fn)
}

func (p *Pipeline) OnToolValidationFailed(fn func(*ToolValidationFailedEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toolValidationFailed = append(p.toolValidationFailed, fn)
}

func (p *Pipeline) OnToolCallFailed(fn func(*ToolCallFailedEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toolFailed = append(p.toolFailed, fn)
}

func (p *Pipeline) OnToolCallCompleted(fn func(*ToolCallCompletedEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toolCompleted = append(p.toolCompleted, fn)
}

// Firing. Each method snapshots the handler slice under the mutex and fires
// outside it, so handlers may install data or inspect the pipeline without
// deadlocking.

func snapshot[T any](p *Pipeline, handlers []T) []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]T, len(handlers))
	copy(out, handlers)
	return out
}

func (p *Pipeline) FireAgentStarting(ev *AgentStartingEvent) {
	for _, fn := range snapshot(p, p.agentStarting) {
		fn(ev)
	}
}

func (p *Pipeline) FireAgentCompleted(ev *AgentCompletedEvent) {
	for _, fn := range snapshot(p, p.agentCompleted) {
		fn(ev)
	}
}

func (p *Pipeline) FireAgentExecutionFailed(ev *AgentExecutionFailedEvent) {
	for _, fn := range snapshot(p, p.agentFailed) {
		fn(ev)
	}
}

func (p *Pipeline) FireAgentClosing(ev *AgentClosingEvent) {
	for _, fn := range snapshot(p, p.agentClosing) {
		fn(ev)
	}
}

func (p *Pipeline) FireAgentEnvironmentTransforming(ev *AgentEnvironmentTransformingEvent) {
	for _, fn := range snapshot(p, p.agentEnvTransforming) {
		fn(ev)
	}
}

func (p *Pipeline) FireStrategyStarting(ev *StrategyStartingEvent) {
	for _, fn := range snapshot(p, p.strategyStarting) {
		fn(ev)
	}
}

func (p *Pipeline) FireStrategyCompleted(ev *StrategyCompletedEvent) {
	for _, fn := range snapshot(p, p.strategyCompleted) {
		fn(ev)
	}
}

func (p *Pipeline) FireSubgraphExecutionStarting(ev *SubgraphExecutionStartingEvent) {
	for _, fn := range snapshot(p, p.subgraphStarting) {
		fn(ev)
	}
}

func (p *Pipeline) FireSubgraphExecutionCompleted(ev *SubgraphExecutionCompletedEvent) {
	for _, fn := range snapshot(p, p.subgraphCompleted) {
		fn(ev)
	}
}

func (p *Pipeline) FireSubgraphExecutionFailed(ev *SubgraphExecutionFailedEvent) {
	for _, fn := range snapshot(p, p.subgraphFailed) {
		fn(ev)
	}
}

func (p *Pipeline) FireNodeExecutionStarting(ev *NodeExecutionStartingEvent) {
	for _, fn := range snapshot(p, p.nodeStarting) {
		fn(ev)
	}
}

func (p *Pipeline) FireNodeExecutionCompleted(ev *NodeExecutionCompletedEvent) {
	for _, fn := range snapshot(p, p.nodeCompleted) {
		fn(ev)
	}
}

func (p *Pipeline) FireNodeExecutionFailed(ev *NodeExecutionFailedEvent) {
	for _, fn := range snapshot(p, p.nodeFailed) {
		fn(ev)
	}
}

func (p *Pipeline) FireLLMCallStarting(ev *LLMCallStartingEvent) {
	for _, fn := range snapshot(p, p.llmCallStarting) {
		fn(ev)
	}
}

func (p *Pipeline) FireLLMCallCompleted(ev *LLMCallCompletedEvent) {
	for _, fn := range snapshot(p, p.llmCallCompleted) {
		fn(ev)
	}
}

func (p *Pipeline) FireLLMStreamingStarting(ev *LLMStreamingStartingEvent) {
	for _, fn := range snapshot(p, p.llmStreamStarting) {
		fn(ev)
	}
}

func (p *Pipeline) FireLLMStreamingFrameReceived(ev *LLMStreamingFrameReceivedEvent) {
	for _, fn := range snapshot(p, p.llmStreamFrame) {
		fn(ev)
	}
}

func (p *Pipeline) FireLLMStreamingFailed(ev *LLMStreamingFailedEvent) {
	for _, fn := range snapshot(p, p.llmStreamFailed) {
		fn(ev)
	}
}

func (p *Pipeline) FireLLMStreamingCompleted(ev *LLMStreamingCompletedEvent) {
	for _, fn := range snapshot(p, p.llmStreamCompleted) {
		fn(ev)
	}
}

func (p *Pipeline) FireToolCallStarting(ev *ToolCallStartingEvent) {
	for _, fn := range snapshot(p, p.toolStarting) {
		fn(ev)
	}
}

func (p *Pipeline) FireToolValidationFailed(ev *ToolValidationFailedEvent) {
	for _, fn := range snapshot(p, p.toolValidationFailed) {
		fn(ev)
	}
}

func (p *Pipeline) FireToolCallFailed(ev *ToolCallFailedEvent) {
	for _, fn := range snapshot(p, p.toolFailed) {
		fn(ev)
	}
}

func (p *Pipeline) FireToolCallCompleted(ev *ToolCallCompletedEvent) {
	for _, fn := range snapshot(p, p.toolCompleted) {
		fn(ev)
	}
}
