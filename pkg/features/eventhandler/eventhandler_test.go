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

package eventhandler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandkit/strand/pkg/pipeline"
)

func TestFeature_RegistersOnlySetHandlers(t *testing.T) {
	var order []string

	f := New(Handlers{
		OnAgentStarting: func(*pipeline.AgentStartingEvent) {
			order = append(order, "agent-starting")
		},
		OnNodeExecutionCompleted: func(ev *pipeline.NodeExecutionCompletedEvent) {
			order = append(order, "node:"+ev.NodeName)
		},
		OnAgentExecutionFailed: func(ev *pipeline.AgentExecutionFailedEvent) {
			order = append(order, "failed:"+ev.Err.Error())
		},
	})

	p := pipeline.New()
	installed, err := p.Install(f)
	require.NoError(t, err)
	require.True(t, installed)

	info := pipeline.RunInfo{AgentID: "calc", RunID: "run-1"}
	p.FireAgentStarting(&pipeline.AgentStartingEvent{RunInfo: info})
	p.FireNodeExecutionCompleted(&pipeline.NodeExecutionCompletedEvent{RunInfo: info, NodeName: "llm"})
	// No handler registered for this one; must be a no-op.
	p.FireToolCallStarting(&pipeline.ToolCallStartingEvent{RunInfo: info, ToolName: "eval"})
	p.FireAgentExecutionFailed(&pipeline.AgentExecutionFailedEvent{RunInfo: info, Err: errors.New("boom")})

	assert.Equal(t, []string{"agent-starting", "node:llm", "failed:boom"}, order)
}

func TestFeature_InstallIsIdempotentPerKey(t *testing.T) {
	p := pipeline.New()

	installed, err := p.Install(New(Handlers{}))
	require.NoError(t, err)
	assert.True(t, installed)

	installed, err = p.Install(New(Handlers{}))
	require.NoError(t, err)
	assert.False(t, installed)
}
