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

// Package eventhandler is the pipeline feature for callers who want plain
// callbacks instead of writing a feature of their own. Only the handlers
// that are set get registered.
package eventhandler

import (
	"github.com/strandkit/strand/pkg/pipeline"
)

// FeatureKey identifies the event handler feature.
const FeatureKey pipeline.FeatureKey = "eventhandler"

// Handlers holds the optional callbacks. Nil fields are skipped.
type Handlers struct {
	OnAgentStarting        func(*pipeline.AgentStartingEvent)
	OnAgentCompleted       func(*pipeline.AgentCompletedEvent)
	OnAgentExecutionFailed func(*pipeline.AgentExecutionFailedEvent)

	OnStrategyStarting  func(*pipeline.StrategyStartingEvent)
	OnStrategyCompleted func(*pipeline.StrategyCompletedEvent)

	OnNodeExecutionStarting  func(*pipeline.NodeExecutionStartingEvent)
	OnNodeExecutionCompleted func(*pipeline.NodeExecutionCompletedEvent)
	OnNodeExecutionFailed    func(*pipeline.NodeExecutionFailedEvent)

	OnLLMCallStarting           func(*pipeline.LLMCallStartingEvent)
	OnLLMCallCompleted          func(*pipeline.LLMCallCompletedEvent)
	OnLLMStreamingFrameReceived func(*pipeline.LLMStreamingFrameReceivedEvent)

	OnToolCallStarting  func(*pipeline.ToolCallStartingEvent)
	OnToolCallCompleted func(*pipeline.ToolCallCompletedEvent)
	OnToolCallFailed    func(*pipeline.ToolCallFailedEvent)
}

// Feature adapts a Handlers set to the pipeline.
type Feature struct {
	handlers Handlers
}

// New creates the feature.
func New(handlers Handlers) *Feature {
	return &Feature{handlers: handlers}
}

// Key implements pipeline.Feature.
func (f *Feature) Key() pipeline.FeatureKey { return FeatureKey }

// Install implements pipeline.Feature.
func (f *Feature) Install(p *pipeline.Pipeline) error {
	h := f.handlers

	if h.OnAgentStarting != nil {
		p.OnAgentStarting(h.OnAgentStarting)
	}
	if h.OnAgentCompleted != nil {
		p.OnAgentCompleted(h.OnAgentCompleted)
	}
	if h.OnAgentExecutionFailed != nil {
		p.OnAgentExecutionFailed(h.OnAgentExecutionFailed)
	}
	if h.OnStrategyStarting != nil {
		p.OnStrategyStarting(h.OnStrategyStarting)
	}
	if h.OnStrategyCompleted != nil {
		p.OnStrategyCompleted(h.OnStrategyCompleted)
	}
	if h.OnNodeExecutionStarting != nil {
		p.OnNodeExecutionStarting(h.OnNodeExecutionStarting)
	}
	if h.OnNodeExecutionCompleted != nil {
		p.OnNodeExecutionCompleted(h.OnNodeExecutionCompleted)
	}
	if h.OnNodeExecutionFailed != nil {
		p.OnNodeExecutionFailed(h.OnNodeExecutionFailed)
	}
	if h.OnLLMCallStarting != nil {
		p.OnLLMCallStarting(h.OnLLMCallStarting)
	}
	if h.OnLLMCallCompleted != nil {
		p.OnLLMCallCompleted(h.OnLLMCallCompleted)
	}
	if h.OnLLMStreamingFrameReceived != nil {
		p.OnLLMStreamingFrameReceived(h.OnLLMStreamingFrameReceived)
	}
	if h.OnToolCallStarting != nil {
		p.OnToolCallStarting(h.OnToolCallStarting)
	}
	if h.OnToolCallCompleted != nil {
		p.OnToolCallCompleted(h.OnToolCallCompleted)
	}
	if h.OnToolCallFailed != nil {
		p.OnToolCallFailed(h.OnToolCallFailed)
	}

	return nil
}

var _ pipeline.Feature = (*Feature)(nil)
