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

package llm

import (
	"context"
	"iter"

	"github.com/strandkit/strand/pkg/message"
	"github.com/strandkit/strand/pkg/pipeline"
	"github.com/strandkit/strand/pkg/tool"
)

// PipelineExecutor wraps an executor and injects lifecycle events into the
// pipeline, tagging each with the run identity.
//
// Ordering: for plain calls, LLMCallStarting fires before the inner call and
// LLMCallCompleted after it returns successfully. For streaming,
// LLMStreamingCompleted fires after the final frame; on error
// LLMStreamingFailed fires exactly once and Completed does not.
//
// Multiple-choice requests are served by repeated plain calls, each with its
// own event pair.
type PipelineExecutor struct {
	next PromptExecutor
	pipe *pipeline.Pipeline
	run  pipeline.RunInfo
}

// NewPipelineExecutor wraps next with pipeline event injection.
func NewPipelineExecutor(next PromptExecutor, pipe *pipeline.Pipeline, run pipeline.RunInfo) *PipelineExecutor {
	return &PipelineExecutor{next: next, pipe: pipe, run: run}
}

func (p *PipelineExecutor) Execute(ctx context.Context, prompt message.Prompt, model string, tools []tool.Descriptor) ([]message.Message, error) {
	p.pipe.FireLLMCallStarting(&pipeline.LLMCallStartingEvent{
		RunInfo: p.run,
		Prompt:  prompt,
		Model:   model,
		Tools:   tools,
	})

	responses, err := p.next.Execute(ctx, prompt, model, tools)
	if err != nil {
		return nil, err
	}

	p.pipe.FireLLMCallCompleted(&pipeline.LLMCallCompletedEvent{
		RunInfo:   p.run,
		Prompt:    prompt,
		Model:     model,
		Tools:     tools,
		Responses: responses,
	})
	return responses, nil
}

func (p *PipelineExecutor) ExecuteStreaming(ctx context.Context, prompt message.Prompt, model string, tools []tool.Descriptor) iter.Seq2[StreamFrame, error] {
	return func(yield func(StreamFrame, error) bool) {
		p.pipe.FireLLMStreamingStarting(&pipeline.LLMStreamingStartingEvent{
			RunInfo: p.run,
			Prompt:  prompt,
			Model:   model,
			Tools:   tools,
		})

		for frame, err := range p.next.ExecuteStreaming(ctx, prompt, model, tools) {
			if err != nil {
				p.pipe.FireLLMStreamingFailed(&pipeline.LLMStreamingFailedEvent{
					RunInfo: p.run,
					Err:     err,
				})
				yield(StreamFrame{}, err)
				return
			}

			p.pipe.FireLLMStreamingFrameReceived(&pipeline.LLMStreamingFrameReceivedEvent{
				RunInfo: p.run,
				Frame:   frame,
			})
			if !yield(frame, nil) {
				return
			}
		}

		p.pipe.FireLLMStreamingCompleted(&pipeline.LLMStreamingCompletedEvent{
			RunInfo: p.run,
			Prompt:  prompt,
			Model:   model,
		})
	}
}

var _ PromptExecutor = (*PipelineExecutor)(nil)
