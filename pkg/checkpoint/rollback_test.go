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

package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandkit/strand/pkg/llm"
	"github.com/strandkit/strand/pkg/message"
	"github.com/strandkit/strand/pkg/strategy"
	"github.com/strandkit/strand/pkg/tool"
)

// undoTool records the rollback invocations it receives.
type undoTool struct {
	calls []json.RawMessage
	err   error
}

func (u *undoTool) Descriptor() tool.Descriptor {
	return tool.Descriptor{Name: "undo-eval", Description: "compensates eval"}
}

func (u *undoTool) Execute(_ context.Context, argsJSON json.RawMessage) (json.RawMessage, error) {
	u.calls = append(u.calls, argsJSON)
	return nil, u.err
}

// linearStrategy is n1 -> n2 -> n3 -> n4 -> finish; each node records its
// execution into visited.
func linearStrategy(t *testing.T, visited *[]string, version int) *strategy.Strategy {
	t.Helper()

	b := strategy.NewBuilder("linear").Start("n1").Finish("finish").Version(version)
	names := []string{"n1", "n2", "n3", "n4"}
	for _, name := range names {
		name := name
		b.AddNode(strategy.NewFuncNode(name, func(_ context.Context, _ *strategy.RunContext, input any) (any, error) {
			*visited = append(*visited, name)
			return input, nil
		}))
	}
	b.AddAlwaysEdge("n1", "n2").
		AddAlwaysEdge("n2", "n3").
		AddAlwaysEdge("n3", "n4").
		AddAlwaysEdge("n4", "finish")

	s, err := b.Build()
	require.NoError(t, err)
	return s
}

func newRollbackContext(t *testing.T, history []message.Message) *strategy.RunContext {
	t.Helper()
	clock := testClock()

	llmCtx, err := llm.NewContext(llm.Options{
		Prompt:   message.NewBuilder("conversation", clock.Now).Build().WithMessages(history),
		Executor: &llm.ScriptedExecutor{},
		Clock:    clock,
	})
	require.NoError(t, err)

	return strategy.NewRunContext(strategy.RunContext{
		AgentID:      "calc",
		RunID:        "run-1",
		StrategyName: "linear",
		LLM:          llmCtx,
	})
}

func savedHistory(t *testing.T) []message.Message {
	t.Helper()
	clock := testClock()
	at := clock.Now()
	return []message.Message{
		message.NewSystem("you can use tools", at),
		message.NewUser("Compute 2+2", at),
		message.NewAssistant("let me check", message.ResponseMeta{Timestamp: at}),
		message.NewToolCall("c1", "eval", json.RawMessage(`{"expr":"2+2"}`), message.ResponseMeta{Timestamp: at}),
		message.NewToolResult("c1", "eval", "4", at),
		message.NewAssistant("the answer is 4", message.ResponseMeta{Timestamp: at}),
	}
}

func TestRollback_DefaultRestoresNodeHistoryAndCompensates(t *testing.T) {
	clock := testClock()
	saved := savedHistory(t)
	rc := newRollbackContext(t, saved)
	var visited []string
	s := linearStrategy(t, &visited, 1)

	provider := NewMemoryProvider()
	data := Capture("n2", json.RawMessage(`"carried input"`), saved, 1, clock)
	require.NoError(t, provider.SaveCheckpoint("calc", data))

	// Execution continues past the checkpoint: another tool round trip.
	laterArgs := json.RawMessage(`{"expr":"3+3"}`)
	require.NoError(t, rc.LLM.Write(context.Background(), func(w *llm.WriteSession) error {
		w.AppendMessages(
			message.NewToolCall("c2", "eval", laterArgs, message.ResponseMeta{Timestamp: clock.Now()}),
			message.NewToolResult("c2", "eval", "6", clock.Now()),
		)
		return nil
	}))

	undo := &undoTool{}
	registry := NewRollbackToolRegistry()
	registry.Register("eval", undo)

	mgr := NewManager(provider, registry)
	require.NoError(t, mgr.RollbackToCheckpoint(context.Background(), rc, s, data.CheckpointID, RollbackDefault))

	// History is exactly as saved, the removed call was compensated once
	// with its original arguments.
	assert.Equal(t, saved, rc.LLM.Read().Prompt().Messages)
	require.Len(t, undo.calls, 1)
	assert.Equal(t, laterArgs, undo.calls[0])

	// The next run resumes at the restored node.
	out, err := strategy.Run(context.Background(), rc, s)
	require.NoError(t, err)
	assert.Equal(t, "carried input", out)
	assert.Equal(t, []string{"n2", "n3", "n4"}, visited)
}

func TestRollback_MessageHistoryOnlyKeepsPosition(t *testing.T) {
	saved := savedHistory(t)
	rc := newRollbackContext(t, saved)
	var visited []string
	s := linearStrategy(t, &visited, 1)

	provider := NewMemoryProvider()
	data := Capture("n2", nil, saved, 1, testClock())
	require.NoError(t, provider.SaveCheckpoint("calc", data))

	mgr := NewManager(provider, nil)
	require.NoError(t, mgr.RollbackToLatestCheckpoint(context.Background(), rc, s, RollbackMessageHistoryOnly))

	assert.Equal(t, saved, rc.LLM.Read().Prompt().Messages)

	// Without a resume point the run starts from the top.
	_, err := strategy.Run(context.Background(), rc, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2", "n3", "n4"}, visited)
}

func TestRollback_ToolFailureAbortsWithoutRestoring(t *testing.T) {
	clock := testClock()
	saved := savedHistory(t)
	rc := newRollbackContext(t, saved)
	var visited []string
	s := linearStrategy(t, &visited, 1)

	provider := NewMemoryProvider()
	data := Capture("n2", nil, saved, 1, clock)
	require.NoError(t, provider.SaveCheckpoint("calc", data))

	require.NoError(t, rc.LLM.Write(context.Background(), func(w *llm.WriteSession) error {
		w.AppendMessages(message.NewToolCall("c2", "eval", json.RawMessage(`{}`), message.ResponseMeta{Timestamp: clock.Now()}))
		return nil
	}))

	undo := &undoTool{err: errors.New("compensation failed")}
	registry := NewRollbackToolRegistry()
	registry.Register("eval", undo)

	mgr := NewManager(provider, registry)
	err := mgr.RollbackToCheckpoint(context.Background(), rc, s, data.CheckpointID, RollbackDefault)

	var rbErr *RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, data.CheckpointID, rbErr.CheckpointID)
	require.Len(t, rbErr.Errors, 1)

	// The run state is untouched.
	assert.Len(t, rc.LLM.Read().Prompt().Messages, len(saved)+1)
}

func TestRollback_VersionMismatchRejected(t *testing.T) {
	saved := savedHistory(t)
	rc := newRollbackContext(t, saved)
	var visited []string
	s := linearStrategy(t, &visited, 2)

	provider := NewMemoryProvider()
	data := Capture("n2", nil, saved, 1, testClock())
	require.NoError(t, provider.SaveCheckpoint("calc", data))

	mgr := NewManager(provider, nil)
	err := mgr.RollbackToCheckpoint(context.Background(), rc, s, data.CheckpointID, RollbackDefault)

	var mismatch *VersionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 1, mismatch.CheckpointVersion)
	assert.Equal(t, 2, mismatch.StrategyVersion)
}

func TestRollback_TombstoneNotResumable(t *testing.T) {
	rc := newRollbackContext(t, nil)
	var visited []string
	s := linearStrategy(t, &visited, 1)

	provider := NewMemoryProvider()
	tomb := NewTombstone(1, testClock().Now())
	require.NoError(t, provider.SaveCheckpoint("calc", tomb))

	mgr := NewManager(provider, nil)
	err := mgr.RollbackToCheckpoint(context.Background(), rc, s, tomb.CheckpointID, RollbackDefault)
	assert.ErrorContains(t, err, "not resumable")

	err = mgr.RollbackToLatestCheckpoint(context.Background(), rc, s, RollbackDefault)
	assert.ErrorContains(t, err, "no checkpoint found")
}

func TestRollback_UnknownCheckpoint(t *testing.T) {
	rc := newRollbackContext(t, nil)
	var visited []string
	s := linearStrategy(t, &visited, 1)

	mgr := NewManager(NewMemoryProvider(), nil)
	err := mgr.RollbackToCheckpoint(context.Background(), rc, s, "missing", RollbackDefault)
	assert.ErrorContains(t, err, `checkpoint "missing" not found`)
}
