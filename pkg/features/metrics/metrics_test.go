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

package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandkit/strand/pkg/message"
	"github.com/strandkit/strand/pkg/pipeline"
)

func newInstalled(t *testing.T) (*Metrics, *pipeline.Pipeline) {
	t.Helper()
	m := New(Config{})
	p := pipeline.New()
	installed, err := p.Install(m)
	require.NoError(t, err)
	require.True(t, installed)
	return m, p
}

func runInfo() pipeline.RunInfo {
	return pipeline.RunInfo{AgentID: "calc", RunID: "run-1"}
}

func TestMetrics_CountsNodeExecutions(t *testing.T) {
	m, p := newInstalled(t)

	p.FireNodeExecutionCompleted(&pipeline.NodeExecutionCompletedEvent{RunInfo: runInfo(), NodeName: "llm"})
	p.FireNodeExecutionCompleted(&pipeline.NodeExecutionCompletedEvent{RunInfo: runInfo(), NodeName: "llm"})
	p.FireNodeExecutionFailed(&pipeline.NodeExecutionFailedEvent{RunInfo: runInfo(), NodeName: "tool", Err: errors.New("boom")})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.nodeExecutions.WithLabelValues("calc", "llm", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.nodeExecutions.WithLabelValues("calc", "tool", "failed")))
}

func TestMetrics_CountsTokenUsage(t *testing.T) {
	m, p := newInstalled(t)

	p.FireLLMCallCompleted(&pipeline.LLMCallCompletedEvent{
		RunInfo: runInfo(),
		Model:   "gpt-test",
		Responses: []message.Message{
			message.NewAssistant("4", message.ResponseMeta{
				Usage: &message.Usage{InputTokens: 12, OutputTokens: 3},
			}),
		},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmCalls.WithLabelValues("calc", "gpt-test")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.llmTokens.WithLabelValues("calc", "gpt-test", "input")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.llmTokens.WithLabelValues("calc", "gpt-test", "output")))
}

func TestMetrics_ObservesToolCalls(t *testing.T) {
	m, p := newInstalled(t)

	p.FireToolCallCompleted(&pipeline.ToolCallCompletedEvent{
		RunInfo: runInfo(), ToolName: "eval", CallID: "c1",
		Duration: 250 * time.Millisecond,
	})
	p.FireToolCallFailed(&pipeline.ToolCallFailedEvent{
		RunInfo: runInfo(), ToolName: "eval", CallID: "c2", Err: errors.New("boom"),
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("calc", "eval", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("calc", "eval", "failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.toolDuration))
}

func TestMetrics_HandlerServesRegistry(t *testing.T) {
	m, p := newInstalled(t)
	p.FireAgentCompleted(&pipeline.AgentCompletedEvent{RunInfo: runInfo()})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "strand_agent_runs_total"))
}
