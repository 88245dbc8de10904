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

package pipeline

import (
	"encoding/json"
	"time"

	"github.com/strandkit/strand/pkg/message"
	"github.com/strandkit/strand/pkg/tool"
)

// RunInfo identifies the agent run an event belongs to. It is embedded in
// every event context.
type RunInfo struct {
	AgentID string
	RunID   string
}

// Agent lifecycle events.

type AgentStartingEvent struct {
	RunInfo
	Input any
}

type AgentCompletedEvent struct {
	RunInfo
	Output any
}

type AgentExecutionFailedEvent struct {
	RunInfo
	Err error
}

type AgentClosingEvent struct {
	RunInfo
}

// AgentEnvironmentTransformingEvent lets features replace the environment
// before the run starts. Handlers may assign Environment.
type AgentEnvironmentTransformingEvent struct {
	RunInfo
	Environment any
}

// Strategy lifecycle events.

type StrategyStartingEvent struct {
	RunInfo
	StrategyName string
}

type StrategyCompletedEvent struct {
	RunInfo
	StrategyName string
	Output       any
	Err          error
}

// Subgraph lifecycle events.

type SubgraphExecutionStartingEvent struct {
	RunInfo
	SubgraphName string
	Input        any
}

type SubgraphExecutionCompletedEvent struct {
	RunInfo
	SubgraphName string
	Output       any
}

type SubgraphExecutionFailedEvent struct {
	RunInfo
	SubgraphName string
	Err          error
}

// Node lifecycle events.

type NodeExecutionStartingEvent struct {
	RunInfo
	NodeName string
	Input    any
}

type NodeExecutionCompletedEvent struct {
	RunInfo
	NodeName string
	Input    any
	Output   any
}

type NodeExecutionFailedEvent struct {
	RunInfo
	NodeName string
	Err      error
}

// LLM call events.

type LLMCallStartingEvent struct {
	RunInfo
	Prompt message.Prompt
	Model  string
	Tools  []tool.Descriptor
}

type LLMCallCompletedEvent struct {
	RunInfo
	Prompt    message.Prompt
	Model     string
	Tools     []tool.Descriptor
	Responses []message.Message
}

// LLM streaming events.

type LLMStreamingStartingEvent struct {
	RunInfo
	Prompt message.Prompt
	Model  string
	Tools  []tool.Descriptor
}

// StreamFrameKind discriminates streaming frames.
type StreamFrameKind string

const (
	FrameText     StreamFrameKind = "text"
	FrameToolCall StreamFrameKind = "tool_call"
	FrameEnd      StreamFrameKind = "end"
)

// StreamFrame is one unit of an incrementally delivered LLM response. The
// end frame carries the finish reason and token usage; text and tool-call
// frames carry deltas.
type StreamFrame struct {
	Kind StreamFrameKind

	// TextDelta for FrameText.
	TextDelta string

	// Tool call delta for FrameToolCall.
	ToolCallID    string
	ToolName      string
	ArgumentsPart json.RawMessage

	// End-of-stream info for FrameEnd.
	FinishReason message.FinishReason
	Usage        *message.Usage
}

type LLMStreamingFrameReceivedEvent struct {
	RunInfo
	Frame StreamFrame
}

type LLMStreamingFailedEvent struct {
	RunInfo
	Err error
}

type LLMStreamingCompletedEvent struct {
	RunInfo
	Prompt message.Prompt
	Model  string
}

// Tool call events.

type ToolCallStartingEvent struct {
	RunInfo
	ToolName string
	CallID   string
	Args     json.RawMessage
}

type ToolValidationFailedEvent struct {
	RunInfo
	ToolName string
	CallID   string
	Args     json.RawMessage
	Err      error
}

type ToolCallFailedEvent struct {
	RunInfo
	ToolName string
	CallID   string
	Args     json.RawMessage
	Err      error
}

type ToolCallCompletedEvent struct {
	RunInfo
	ToolName string
	CallID   string
	Args     json.RawMessage
	Result   json.RawMessage
	Duration time.Duration
}
