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

package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/strandkit/strand/pkg/llm"
	"github.com/strandkit/strand/pkg/message"
	"github.com/strandkit/strand/pkg/pipeline"
	"github.com/strandkit/strand/pkg/tool"
	"github.com/strandkit/strand/pkg/utils"
)

// Library nodes: the common steps agent graphs are assembled from. Each is a
// plain Node; none is hard-wired into the executor.

// LLMRequestNode issues one LLM call inside a write session. Incoming
// messages (for example tool results from a preceding node) are appended to
// the prompt before the request; the produced response messages are the
// node's output.
type LLMRequestNode struct {
	name string
}

// NewLLMRequestNode creates an LLM request node.
func NewLLMRequestNode(name string) *LLMRequestNode {
	return &LLMRequestNode{name: name}
}

func (n *LLMRequestNode) Name() string { return n.name }

func (n *LLMRequestNode) Execute(ctx context.Context, rc *RunContext, input any) (any, error) {
	var responses []message.Message
	err := rc.LLM.Write(ctx, func(ws *llm.WriteSession) error {
		if msgs := asMessages(input); len(msgs) > 0 {
			ws.AppendMessages(msgs...)
		}
		var err error
		responses, err = ws.RequestLLM(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return responses, nil
}

// ExecuteToolNode invokes the tools named by incoming tool-call messages and
// returns the tool-result messages. Calls are surrounded by tool pipeline
// events; a validation failure fires ToolValidationFailed and surfaces as
// the node's error.
type ExecuteToolNode struct {
	name string
}

// NewExecuteToolNode creates a tool execution node.
func NewExecuteToolNode(name string) *ExecuteToolNode {
	return &ExecuteToolNode{name: name}
}

func (n *ExecuteToolNode) Name() string { return n.name }

func (n *ExecuteToolNode) Execute(ctx context.Context, rc *RunContext, input any) (any, error) {
	calls := toolCalls(input)
	if len(calls) == 0 {
		return nil, fmt.Errorf("node %q: input carries no tool call", n.name)
	}

	info := rc.runInfo()
	now := func() time.Time {
		return rc.LLM.Clock().Now()
	}

	results := make([]message.Message, 0, len(calls))
	for _, call := range calls {
		rc.Pipeline.FireToolCallStarting(&pipeline.ToolCallStartingEvent{
			RunInfo:  info,
			ToolName: call.ToolName,
			CallID:   call.ID,
			Args:     call.Arguments,
		})

		t, err := rc.Tools.Get(call.ToolName)
		if err != nil {
			rc.Pipeline.FireToolCallFailed(&pipeline.ToolCallFailedEvent{
				RunInfo:  info,
				ToolName: call.ToolName,
				CallID:   call.ID,
				Args:     call.Arguments,
				Err:      err,
			})
			return nil, err
		}

		started := now()
		result, err := t.Execute(ctx, call.Arguments)
		if err != nil {
			var validation *tool.ValidationError
			if errors.As(err, &validation) {
				rc.Pipeline.FireToolValidationFailed(&pipeline.ToolValidationFailedEvent{
					RunInfo:  info,
					ToolName: call.ToolName,
					CallID:   call.ID,
					Args:     call.Arguments,
					Err:      err,
				})
			} else {
				rc.Pipeline.FireToolCallFailed(&pipeline.ToolCallFailedEvent{
					RunInfo:  info,
					ToolName: call.ToolName,
					CallID:   call.ID,
					Args:     call.Arguments,
					Err:      err,
				})
			}
			return nil, err
		}

		rc.Pipeline.FireToolCallCompleted(&pipeline.ToolCallCompletedEvent{
			RunInfo:  info,
			ToolName: call.ToolName,
			CallID:   call.ID,
			Args:     call.Arguments,
			Result:   result,
			Duration: now().Sub(started),
		})

		results = append(results, message.NewToolResult(call.ID, call.ToolName, string(result), now()))
	}

	return results, nil
}

// LLMSendResultsMultipleChoicesNode appends incoming tool results to the
// prompt and issues an n-way request. Its output is the choice list, meant
// to feed a SelectLLMChoiceNode.
type LLMSendResultsMultipleChoicesNode struct {
	name string
	n    int
}

// NewLLMSendResultsMultipleChoicesNode creates the node with an n-way fan.
func NewLLMSendResultsMultipleChoicesNode(name string, n int) *LLMSendResultsMultipleChoicesNode {
	return &LLMSendResultsMultipleChoicesNode{name: name, n: n}
}

func (n *LLMSendResultsMultipleChoicesNode) Name() string { return n.name }

func (n *LLMSendResultsMultipleChoicesNode) Execute(ctx context.Context, rc *RunContext, input any) (any, error) {
	var choices [][]message.Message
	err := rc.LLM.Write(ctx, func(ws *llm.WriteSession) error {
		if msgs := asMessages(input); len(msgs) > 0 {
			ws.AppendMessages(msgs...)
		}
		var err error
		choices, err = ws.RequestLLMMultipleChoices(ctx, n.n)
		return err
	})
	if err != nil {
		return nil, err
	}
	return choices, nil
}

// SelectLLMChoiceNode applies a choice strategy to the incoming choice list
// and makes the selected sequence canonical.
type SelectLLMChoiceNode struct {
	name     string
	strategy llm.ChoiceStrategy
}

// NewSelectLLMChoiceNode creates a choice selection node.
func NewSelectLLMChoiceNode(name string, strategy llm.ChoiceStrategy) *SelectLLMChoiceNode {
	return &SelectLLMChoiceNode{name: name, strategy: strategy}
}

func (n *SelectLLMChoiceNode) Name() string { return n.name }

func (n *SelectLLMChoiceNode) Execute(ctx context.Context, rc *RunContext, input any) (any, error) {
	choices, ok := input.([][]message.Message)
	if !ok {
		return nil, fmt.Errorf("node %q: input is not a choice list", n.name)
	}

	var selected []message.Message
	err := rc.LLM.Write(ctx, func(ws *llm.WriteSession) error {
		var err error
		selected, err = ws.SelectChoice(ctx, n.strategy, choices)
		return err
	})
	if err != nil {
		return nil, err
	}
	return selected, nil
}

// TrimPolicy decides which messages survive a history trim.
type TrimPolicy interface {
	Trim(msgs []message.Message) []message.Message
}

// MessageCountPolicy keeps the newest Max messages. System messages are
// always preserved and do not count toward the limit.
type MessageCountPolicy struct {
	Max int
}

func (p MessageCountPolicy) Trim(msgs []message.Message) []message.Message {
	var system, rest []message.Message
	for _, m := range msgs {
		if m.Role == message.RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}
	if len(rest) > p.Max {
		rest = rest[len(rest)-p.Max:]
	}
	return append(system, rest...)
}

// TokenBudgetPolicy drops the oldest non-system messages until the history
// fits the token budget. Counting uses the provided counter, or the rough
// length estimate when nil.
type TokenBudgetPolicy struct {
	Budget  int
	Counter *utils.TokenCounter
}

func (p TokenBudgetPolicy) Trim(msgs []message.Message) []message.Message {
	count := func(m message.Message) int {
		if p.Counter != nil {
			return p.Counter.CountWithRole(string(m.Role), m.Content)
		}
		return utils.EstimateTokens(m.Content)
	}

	var system, rest []message.Message
	total := 0
	for _, m := range msgs {
		if m.Role == message.RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
		total += count(m)
	}

	for len(rest) > 0 && total > p.Budget {
		total -= count(rest[0])
		rest = rest[1:]
	}
	return append(system, rest...)
}

// TrimHistoryNode rewrites the prompt in place through a write session,
// applying the policy to the message history. The node's input passes
// through unchanged.
type TrimHistoryNode struct {
	name   string
	policy TrimPolicy
}

// NewTrimHistoryNode creates a history trimming node.
func NewTrimHistoryNode(name string, policy TrimPolicy) *TrimHistoryNode {
	return &TrimHistoryNode{name: name, policy: policy}
}

func (n *TrimHistoryNode) Name() string { return n.name }

func (n *TrimHistoryNode) Execute(ctx context.Context, rc *RunContext, input any) (any, error) {
	err := rc.LLM.Write(ctx, func(ws *llm.WriteSession) error {
		prompt := ws.Prompt()
		ws.SetPrompt(prompt.WithMessages(n.policy.Trim(prompt.Messages)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return input, nil
}

// asMessages extracts a message slice from a node value.
func asMessages(v any) []message.Message {
	switch m := v.(type) {
	case []message.Message:
		return m
	case message.Message:
		return []message.Message{m}
	default:
		return nil
	}
}

// toolCalls extracts the tool-call messages from a node value.
func toolCalls(v any) []message.Message {
	var calls []message.Message
	for _, m := range asMessages(v) {
		if m.Role == message.RoleToolCall {
			calls = append(calls, m)
		}
	}
	return calls
}

var (
	_ Node = (*LLMRequestNode)(nil)
	_ Node = (*ExecuteToolNode)(nil)
	_ Node = (*LLMSendResultsMultipleChoicesNode)(nil)
	_ Node = (*SelectLLMChoiceNode)(nil)
	_ Node = (*TrimHistoryNode)(nil)

	_ TrimPolicy = MessageCountPolicy{}
	_ TrimPolicy = TokenBudgetPolicy{}
)
