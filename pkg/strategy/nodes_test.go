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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandkit/strand/pkg/llm"
	"github.com/strandkit/strand/pkg/message"
	"github.com/strandkit/strand/pkg/pipeline"
	"github.com/strandkit/strand/pkg/tool"
	"github.com/strandkit/strand/pkg/utils"
)

// echoTool returns its arguments unchanged.
type echoTool struct {
	failWith error
}

func (e *echoTool) Descriptor() tool.Descriptor {
	return tool.Descriptor{Name: "echo", Description: "echoes arguments"}
}

func (e *echoTool) Execute(_ context.Context, argsJSON json.RawMessage) (json.RawMessage, error) {
	if e.failWith != nil {
		return nil, e.failWith
	}
	return argsJSON, nil
}

func newNodeRunContext(t *testing.T, script [][]message.Message) *RunContext {
	t.Helper()
	clock := utils.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	prompt := message.NewBuilder("p1", clock.Now).User("go").Build()

	llmCtx, err := llm.NewContext(llm.Options{
		Prompt:   prompt,
		Model:    "test-model",
		Executor: &llm.ScriptedExecutor{Script: script},
		Clock:    clock,
	})
	require.NoError(t, err)

	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(&echoTool{}))

	return NewRunContext(RunContext{
		AgentID: "a1",
		RunID:   "r1",
		LLM:     llmCtx,
		Tools:   registry,
	})
}

func TestLLMRequestNode_AppendsInputAndResponses(t *testing.T) {
	rc := newNodeRunContext(t, [][]message.Message{
		{message.NewAssistant("answer", message.ResponseMeta{})},
	})

	results := []message.Message{
		message.NewToolResult("c1", "echo", `{"ok":true}`, time.Unix(0, 0)),
	}

	node := NewLLMRequestNode("llm")
	out, err := node.Execute(context.Background(), rc, results)
	require.NoError(t, err)

	responses, ok := out.([]message.Message)
	require.True(t, ok)
	require.Len(t, responses, 1)
	assert.Equal(t, "answer", responses[0].Content)

	// Prompt now holds: user, tool result, assistant.
	prompt := rc.LLM.Read().Prompt()
	require.Len(t, prompt.Messages, 3)
	assert.Equal(t, message.RoleToolResult, prompt.Messages[1].Role)
	assert.Equal(t, message.RoleAssistant, prompt.Messages[2].Role)
}

func TestExecuteToolNode_InvokesAndReturnsResults(t *testing.T) {
	rc := newNodeRunContext(t, nil)

	var events []string
	rc.Pipeline.OnToolCallStarting(func(*pipeline.ToolCallStartingEvent) {
		events = append(events, "starting")
	})
	rc.Pipeline.OnToolCallCompleted(func(*pipeline.ToolCallCompletedEvent) {
		events = append(events, "completed")
	})

	call := message.NewToolCall("c1", "echo", []byte(`{"q":"go"}`), message.ResponseMeta{})

	node := NewExecuteToolNode("tools")
	out, err := node.Execute(context.Background(), rc, call)
	require.NoError(t, err)

	results, ok := out.([]message.Message)
	require.True(t, ok)
	require.Len(t, results, 1)
	assert.Equal(t, message.RoleToolResult, results[0].Role)
	assert.Equal(t, "c1", results[0].ID)
	assert.JSONEq(t, `{"q":"go"}`, results[0].Content)
	assert.Equal(t, []string{"starting", "completed"}, events)
}

func TestExecuteToolNode_UnknownTool(t *testing.T) {
	rc := newNodeRunContext(t, nil)

	var failed int
	rc.Pipeline.OnToolCallFailed(func(*pipeline.ToolCallFailedEvent) { failed++ })

	call := message.NewToolCall("c1", "missing", []byte(`{}`), message.ResponseMeta{})

	_, err := NewExecuteToolNode("tools").Execute(context.Background(), rc, call)
	var notRegistered *tool.NotRegisteredError
	require.ErrorAs(t, err, &notRegistered)
	assert.Equal(t, 1, failed)
}

func TestExecuteToolNode_ValidationFailureFiresEvent(t *testing.T) {
	rc := newNodeRunContext(t, nil)
	require.NoError(t, rc.Tools.Register(&failingTool{
		err: &tool.ValidationError{Name: "strict", Reason: "bad args"},
	}))

	var validationFailed, callFailed int
	rc.Pipeline.OnToolValidationFailed(func(*pipeline.ToolValidationFailedEvent) { validationFailed++ })
	rc.Pipeline.OnToolCallFailed(func(*pipeline.ToolCallFailedEvent) { callFailed++ })

	call := message.NewToolCall("c1", "strict", []byte(`{}`), message.ResponseMeta{})

	_, err := NewExecuteToolNode("tools").Execute(context.Background(), rc, call)
	var validation *tool.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, 1, validationFailed)
	assert.Equal(t, 0, callFailed)
}

func TestExecuteToolNode_NoToolCallInput(t *testing.T) {
	rc := newNodeRunContext(t, nil)

	_, err := NewExecuteToolNode("tools").Execute(context.Background(), rc, "not a message")
	assert.ErrorContains(t, err, "no tool call")
}

func TestMultipleChoicesAndSelect(t *testing.T) {
	rc := newNodeRunContext(t, [][]message.Message{
		{message.NewAssistant("first", message.ResponseMeta{})},
		{message.NewAssistant("second", message.ResponseMeta{})},
	})

	fan := NewLLMSendResultsMultipleChoicesNode("fan", 2)
	out, err := fan.Execute(context.Background(), rc, nil)
	require.NoError(t, err)

	choices, ok := out.([][]message.Message)
	require.True(t, ok)
	require.Len(t, choices, 2)

	sel := NewSelectLLMChoiceNode("select", llm.FuncChoice(
		func(context.Context, [][]message.Message) (int, error) { return 1, nil }))
	out, err = sel.Execute(context.Background(), rc, choices)
	require.NoError(t, err)

	selected, ok := out.([]message.Message)
	require.True(t, ok)
	assert.Equal(t, "second", selected[0].Content)

	prompt := rc.LLM.Read().Prompt()
	last, ok := prompt.LastMessage()
	require.True(t, ok)
	assert.Equal(t, "second", last.Content)
}

func TestSelectLLMChoiceNode_WrongInput(t *testing.T) {
	rc := newNodeRunContext(t, nil)
	_, err := NewSelectLLMChoiceNode("select", llm.FirstChoice{}).
		Execute(context.Background(), rc, "nope")
	assert.ErrorContains(t, err, "not a choice list")
}

func TestMessageCountPolicy_KeepsSystemAndNewest(t *testing.T) {
	at := time.Unix(0, 0)
	msgs := []message.Message{
		message.NewSystem("rules", at),
		message.NewUser("one", at),
		message.NewUser("two", at),
		message.NewUser("three", at),
	}

	got := MessageCountPolicy{Max: 2}.Trim(msgs)
	require.Len(t, got, 3)
	assert.Equal(t, message.RoleSystem, got[0].Role)
	assert.Equal(t, "two", got[1].Content)
	assert.Equal(t, "three", got[2].Content)
}

func TestTokenBudgetPolicy_DropsOldestFirst(t *testing.T) {
	at := time.Unix(0, 0)
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	msgs := []message.Message{
		message.NewSystem("rules", at),
		message.NewUser(string(long), at),
		message.NewUser("short", at),
	}

	// Budget fits the system message and the short one only.
	got := TokenBudgetPolicy{Budget: 10}.Trim(msgs)
	require.Len(t, got, 2)
	assert.Equal(t, message.RoleSystem, got[0].Role)
	assert.Equal(t, "short", got[1].Content)
}

func TestTrimHistoryNode_RewritesPromptInPlace(t *testing.T) {
	rc := newNodeRunContext(t, nil)

	err := rc.LLM.Write(context.Background(), func(ws *llm.WriteSession) error {
		ws.AppendMessages(
			message.NewUser("a", time.Unix(0, 0)),
			message.NewUser("b", time.Unix(0, 0)),
			message.NewUser("c", time.Unix(0, 0)),
		)
		return nil
	})
	require.NoError(t, err)

	node := NewTrimHistoryNode("trim", MessageCountPolicy{Max: 2})
	out, err := node.Execute(context.Background(), rc, "pass-through")
	require.NoError(t, err)
	assert.Equal(t, "pass-through", out)

	prompt := rc.LLM.Read().Prompt()
	require.Len(t, prompt.Messages, 2)
	assert.Equal(t, "b", prompt.Messages[0].Content)
	assert.Equal(t, "c", prompt.Messages[1].Content)
}

// failingTool always fails with a fixed error.
type failingTool struct {
	err error
}

func (f *failingTool) Descriptor() tool.Descriptor {
	return tool.Descriptor{Name: "strict", Description: "always fails"}
}

func (f *failingTool) Execute(context.Context, json.RawMessage) (json.RawMessage, error) {
	return nil, f.err
}
