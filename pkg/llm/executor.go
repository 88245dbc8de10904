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

// Package llm owns the LLM context: the single point through which prompts
// are mutated and requests are issued, streamed, or requested for multiple
// choices.
//
// The provider itself sits behind the PromptExecutor boundary. The runtime
// imposes no wire format; provider clients adapt their protocol to this
// interface and pick a tool schema generator that suits them.
package llm

import (
	"context"
	"iter"

	"github.com/strandkit/strand/pkg/message"
	"github.com/strandkit/strand/pkg/pipeline"
	"github.com/strandkit/strand/pkg/tool"
)

// StreamFrame is one unit of an incrementally delivered response. The alias
// keeps the wire type and the pipeline event payload identical.
type StreamFrame = pipeline.StreamFrame

// Frame kinds, re-exported for executor implementations.
const (
	FrameTextKind     = pipeline.FrameText
	FrameToolCallKind = pipeline.FrameToolCall
	FrameEndKind      = pipeline.FrameEnd
)

// PromptExecutor is the provider boundary. Execute returns the complete
// response message sequence; ExecuteStreaming yields frames terminated by a
// single end frame carrying finish reason and usage.
//
// Implementations must tolerate being wrapped by a proxy that injects
// pipeline events and attaches run identity.
type PromptExecutor interface {
	Execute(ctx context.Context, prompt message.Prompt, model string, tools []tool.Descriptor) ([]message.Message, error)

	ExecuteStreaming(ctx context.Context, prompt message.Prompt, model string, tools []tool.Descriptor) iter.Seq2[StreamFrame, error]
}

// MultipleChoiceExecutor is implemented by executors that natively produce
// alternative completions. Executors without it are called n times.
type MultipleChoiceExecutor interface {
	ExecuteMultipleChoices(ctx context.Context, prompt message.Prompt, model string, tools []tool.Descriptor, n int) ([][]message.Message, error)
}

// ExecuteMultipleChoices requests n alternative response sequences from
// executor, using its native support when available.
func ExecuteMultipleChoices(ctx context.Context, executor PromptExecutor, prompt message.Prompt, model string, tools []tool.Descriptor, n int) ([][]message.Message, error) {
	if mc, ok := executor.(MultipleChoiceExecutor); ok {
		return mc.ExecuteMultipleChoices(ctx, prompt, model, tools, n)
	}

	choices := make([][]message.Message, 0, n)
	for i := 0; i < n; i++ {
		responses, err := executor.Execute(ctx, prompt, model, tools)
		if err != nil {
			return nil, err
		}
		choices = append(choices, responses)
	}
	return choices, nil
}

// ScriptedExecutor replays canned response sequences in order. Each call to
// Execute consumes the next script entry; streaming calls split the entry's
// text content into frames. Used in tests and offline runs.
type ScriptedExecutor struct {
	Script [][]message.Message

	calls int
}

// Execute returns the next scripted response sequence.
func (s *ScriptedExecutor) Execute(_ context.Context, _ message.Prompt, _ string, _ []tool.Descriptor) ([]message.Message, error) {
	if s.calls >= len(s.Script) {
		return nil, nil
	}
	responses := s.Script[s.calls]
	s.calls++
	return responses, nil
}

// ExecuteStreaming yields the next scripted sequence as frames: one text or
// tool-call frame per message, then an end frame.
func (s *ScriptedExecutor) ExecuteStreaming(ctx context.Context, prompt message.Prompt, model string, tools []tool.Descriptor) iter.Seq2[StreamFrame, error] {
	return func(yield func(StreamFrame, error) bool) {
		responses, err := s.Execute(ctx, prompt, model, tools)
		if err != nil {
			yield(StreamFrame{}, err)
			return
		}

		finish := message.FinishReasonStop
		var usage *message.Usage
		for _, m := range responses {
			var frame StreamFrame
			switch m.Role {
			case message.RoleToolCall:
				frame = StreamFrame{
					Kind:          pipeline.FrameToolCall,
					ToolCallID:    m.ID,
					ToolName:      m.ToolName,
					ArgumentsPart: m.Arguments,
				}
				finish = message.FinishReasonToolCalls
			default:
				frame = StreamFrame{Kind: pipeline.FrameText, TextDelta: m.Content}
			}
			if m.ResponseMeta != nil && m.ResponseMeta.Usage != nil {
				usage = m.ResponseMeta.Usage
			}
			if !yield(frame, nil) {
				return
			}
		}

		yield(StreamFrame{Kind: pipeline.FrameEnd, FinishReason: finish, Usage: usage}, nil)
	}
}

// Calls returns how many requests the executor has served.
func (s *ScriptedExecutor) Calls() int {
	return s.calls
}

var _ PromptExecutor = (*ScriptedExecutor)(nil)
