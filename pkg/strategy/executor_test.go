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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandkit/strand/pkg/pipeline"
)

// eventRecorder subscribes to every lifecycle point and records a label per
// event in firing order.
func eventRecorder(p *pipeline.Pipeline) *[]string {
	events := &[]string{}
	p.OnAgentStarting(func(*pipeline.AgentStartingEvent) { *events = append(*events, "AgentStarting") })
	p.OnAgentCompleted(func(*pipeline.AgentCompletedEvent) { *events = append(*events, "AgentCompleted") })
	p.OnAgentExecutionFailed(func(*pipeline.AgentExecutionFailedEvent) { *events = append(*events, "AgentExecutionFailed") })
	p.OnAgentClosing(func(*pipeline.AgentClosingEvent) { *events = append(*events, "AgentClosing") })
	p.OnStrategyStarting(func(*pipeline.StrategyStartingEvent) { *events = append(*events, "StrategyStarting") })
	p.OnStrategyCompleted(func(ev *pipeline.StrategyCompletedEvent) {
		if ev.Err != nil {
			*events = append(*events, "StrategyCompleted(failure)")
		} else {
			*events = append(*events, "StrategyCompleted")
		}
	})
	p.OnSubgraphExecutionStarting(func(ev *pipeline.SubgraphExecutionStartingEvent) {
		*events = append(*events, "SubgraphStarting:"+ev.SubgraphName)
	})
	p.OnSubgraphExecutionCompleted(func(ev *pipeline.SubgraphExecutionCompletedEvent) {
		*events = append(*events, "SubgraphCompleted:"+ev.SubgraphName)
	})
	p.OnSubgraphExecutionFailed(func(ev *pipeline.SubgraphExecutionFailedEvent) {
		*events = append(*events, "SubgraphFailed:"+ev.SubgraphName)
	})
	p.OnNodeExecutionStarting(func(ev *pipeline.NodeExecutionStartingEvent) {
		*events = append(*events, "NodeStarting:"+ev.NodeName)
	})
	p.OnNodeExecutionCompleted(func(ev *pipeline.NodeExecutionCompletedEvent) {
		*events = append(*events, "NodeCompleted:"+ev.NodeName)
	})
	p.OnNodeExecutionFailed(func(ev *pipeline.NodeExecutionFailedEvent) {
		*events = append(*events, "NodeFailed:"+ev.NodeName)
	})
	return events
}

func passthrough(name string) Node {
	return NewFuncNode(name, func(_ context.Context, _ *RunContext, input any) (any, error) {
		return input, nil
	})
}

func linearStrategy(t *testing.T, names ...string) *Strategy {
	t.Helper()
	b := NewBuilder("linear").Start(names[0]).Finish("finish")
	for i, name := range names {
		b.AddNode(passthrough(name))
		if i+1 < len(names) {
			b.AddAlwaysEdge(name, names[i+1])
		} else {
			b.AddAlwaysEdge(name, "finish")
		}
	}
	s, err := b.Build()
	require.NoError(t, err)
	return s
}

func TestRun_LinearEventOrder(t *testing.T) {
	rc := NewRunContext(RunContext{AgentID: "a1", RunID: "r1", Input: "in"})
	events := eventRecorder(rc.Pipeline)

	s := linearStrategy(t, "n1", "n2")

	out, err := Run(context.Background(), rc, s)
	require.NoError(t, err)
	assert.Equal(t, "in", out)

	assert.Equal(t, []string{
		"AgentStarting",
		"StrategyStarting",
		"NodeStarting:n1",
		"NodeCompleted:n1",
		"NodeStarting:n2",
		"NodeCompleted:n2",
		"StrategyCompleted",
		"AgentCompleted",
	}, *events)
	assert.False(t, rc.IsActive())
	assert.Equal(t, 2, rc.Iterations())
}

func TestRun_EdgeDeclarationOrderWins(t *testing.T) {
	rc := NewRunContext(RunContext{})

	var took string
	s, err := NewBuilder("branch").
		Start("fork").
		Finish("finish").
		AddNode(passthrough("fork")).
		AddNode(NewFuncNode("a", func(_ context.Context, _ *RunContext, input any) (any, error) {
			took = "a"
			return input, nil
		})).
		AddNode(NewFuncNode("b", func(_ context.Context, _ *RunContext, input any) (any, error) {
			took = "b"
			return input, nil
		})).
		// Both edges match; the first declared must win.
		AddEdge("fork", "a", Forward).
		AddEdge("fork", "b", Forward).
		AddAlwaysEdge("a", "finish").
		AddAlwaysEdge("b", "finish").
		Build()
	require.NoError(t, err)

	_, err = Run(context.Background(), rc, s)
	require.NoError(t, err)
	assert.Equal(t, "a", took)
}

func TestRun_EdgeForwardsTransformedValue(t *testing.T) {
	rc := NewRunContext(RunContext{Input: 1})

	s, err := NewBuilder("transform").
		Start("n").
		Finish("finish").
		AddNode(passthrough("n")).
		AddEdge("n", "finish", func(_ context.Context, _ *RunContext, output any) (any, bool) {
			return output.(int) * 10, true
		}).
		Build()
	require.NoError(t, err)

	out, err := Run(context.Background(), rc, s)
	require.NoError(t, err)
	assert.Equal(t, 10, out)
}

func TestRun_NoMatchingEdge(t *testing.T) {
	rc := NewRunContext(RunContext{})
	events := eventRecorder(rc.Pipeline)

	s, err := NewBuilder("stuck").
		Start("n").
		Finish("finish").
		AddNode(passthrough("n")).
		AddEdge("n", "finish", func(context.Context, *RunContext, any) (any, bool) {
			return nil, false
		}).
		Build()
	require.NoError(t, err)

	_, err = Run(context.Background(), rc, s)
	var noEdge *NoMatchingEdgeError
	require.ErrorAs(t, err, &noEdge)
	assert.Equal(t, "n", noEdge.NodeName)

	assert.Equal(t, []string{
		"AgentStarting",
		"StrategyStarting",
		"NodeStarting:n",
		"NodeCompleted:n",
		"NodeFailed:n",
		"StrategyCompleted(failure)",
		"AgentExecutionFailed",
	}, *events)
}

func TestRun_NodeFailurePropagation(t *testing.T) {
	rc := NewRunContext(RunContext{})
	events := eventRecorder(rc.Pipeline)
	boom := errors.New("boom")

	s, err := NewBuilder("failing").
		Start("n").
		Finish("finish").
		AddNode(NewFuncNode("n", func(context.Context, *RunContext, any) (any, error) {
			return nil, boom
		})).
		AddAlwaysEdge("n", "finish").
		Build()
	require.NoError(t, err)

	_, err = Run(context.Background(), rc, s)
	require.ErrorIs(t, err, boom)

	assert.Equal(t, []string{
		"AgentStarting",
		"StrategyStarting",
		"NodeStarting:n",
		"NodeFailed:n",
		"StrategyCompleted(failure)",
		"AgentExecutionFailed",
	}, *events)
}

func TestRun_IterationLimit(t *testing.T) {
	rc := NewRunContext(RunContext{Config: Config{MaxAgentIterations: 5}})

	// A two-node cycle that never reaches finish.
	s, err := NewBuilder("cycle").
		Start("a").
		Finish("finish").
		AddNode(passthrough("a")).
		AddNode(passthrough("b")).
		AddAlwaysEdge("a", "b").
		AddAlwaysEdge("b", "a").
		Build()
	require.NoError(t, err)

	_, err = Run(context.Background(), rc, s)
	require.ErrorIs(t, err, ErrIterationLimit)
	assert.Equal(t, 5, rc.Iterations())
}

func TestRun_ExactlyAtLimitReachingFinishSucceeds(t *testing.T) {
	rc := NewRunContext(RunContext{Config: Config{MaxAgentIterations: 2}, Input: "x"})

	s := linearStrategy(t, "n1", "n2")

	out, err := Run(context.Background(), rc, s)
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestRun_CancellationFiresAgentClosing(t *testing.T) {
	rc := NewRunContext(RunContext{})
	events := eventRecorder(rc.Pipeline)

	ctx, cancel := context.WithCancel(context.Background())

	s, err := NewBuilder("cancelled").
		Start("a").
		Finish("finish").
		AddNode(NewFuncNode("a", func(context.Context, *RunContext, any) (any, error) {
			cancel()
			return nil, nil
		})).
		AddNode(passthrough("b")).
		AddAlwaysEdge("a", "b").
		AddAlwaysEdge("b", "finish").
		Build()
	require.NoError(t, err)

	_, err = Run(ctx, rc, s)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{
		"AgentStarting",
		"StrategyStarting",
		"NodeStarting:a",
		"NodeCompleted:a",
		"AgentClosing",
		"StrategyCompleted(failure)",
		"AgentExecutionFailed",
	}, *events)
}

func TestRun_SubgraphEvents(t *testing.T) {
	rc := NewRunContext(RunContext{Input: "in"})
	events := eventRecorder(rc.Pipeline)

	inner := linearStrategy(t, "inner1")

	s, err := NewBuilder("outer").
		Start("sub").
		Finish("finish").
		AddNode(NewSubgraphNode("sub", inner)).
		AddAlwaysEdge("sub", "finish").
		Build()
	require.NoError(t, err)

	out, err := Run(context.Background(), rc, s)
	require.NoError(t, err)
	assert.Equal(t, "in", out)

	assert.Equal(t, []string{
		"AgentStarting",
		"StrategyStarting",
		"NodeStarting:sub",
		"SubgraphStarting:sub",
		"NodeStarting:inner1",
		"NodeCompleted:inner1",
		"SubgraphCompleted:sub",
		"NodeCompleted:sub",
		"StrategyCompleted",
		"AgentCompleted",
	}, *events)
}

func TestRun_SubgraphFailurePropagatesAsNodeFailure(t *testing.T) {
	rc := NewRunContext(RunContext{})
	events := eventRecorder(rc.Pipeline)
	boom := errors.New("inner boom")

	inner, err := NewBuilder("inner").
		Start("bad").
		Finish("finish").
		AddNode(NewFuncNode("bad", func(context.Context, *RunContext, any) (any, error) {
			return nil, boom
		})).
		AddAlwaysEdge("bad", "finish").
		Build()
	require.NoError(t, err)

	s, err := NewBuilder("outer").
		Start("sub").
		Finish("finish").
		AddNode(NewSubgraphNode("sub", inner)).
		AddAlwaysEdge("sub", "finish").
		Build()
	require.NoError(t, err)

	_, err = Run(context.Background(), rc, s)
	require.ErrorIs(t, err, boom)

	assert.Equal(t, []string{
		"AgentStarting",
		"StrategyStarting",
		"NodeStarting:sub",
		"NodeStarting:bad",
		"NodeFailed:bad",
		"SubgraphFailed:sub",
		"NodeFailed:sub",
		"StrategyCompleted(failure)",
		"AgentExecutionFailed",
	}, *events)
}

func TestBuilder_Validation(t *testing.T) {
	tests := []struct {
		name    string
		build   func() (*Strategy, error)
		wantErr string
	}{
		{
			name: "missing start",
			build: func() (*Strategy, error) {
				return NewBuilder("s").Finish("f").AddNode(passthrough("n")).Build()
			},
			wantErr: "no start node",
		},
		{
			name: "missing finish",
			build: func() (*Strategy, error) {
				return NewBuilder("s").Start("n").AddNode(passthrough("n")).Build()
			},
			wantErr: "no finish node",
		},
		{
			name: "unknown start",
			build: func() (*Strategy, error) {
				return NewBuilder("s").Start("ghost").Finish("f").AddNode(passthrough("n")).Build()
			},
			wantErr: "not registered",
		},
		{
			name: "edge to unknown node",
			build: func() (*Strategy, error) {
				return NewBuilder("s").Start("n").Finish("f").
					AddNode(passthrough("n")).
					AddAlwaysEdge("n", "ghost").
					Build()
			},
			wantErr: "unknown node",
		},
		{
			name: "duplicate node",
			build: func() (*Strategy, error) {
				return NewBuilder("s").Start("n").Finish("f").
					AddNode(passthrough("n")).
					AddNode(passthrough("n")).
					Build()
			},
			wantErr: "duplicate node",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build()
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDOT_ContainsNodesAndEdges(t *testing.T) {
	s := linearStrategy(t, "n1", "n2")
	dot := DOT(s)

	assert.Contains(t, dot, `digraph "linear"`)
	assert.Contains(t, dot, `"n1" -> "n2";`)
	assert.Contains(t, dot, `"n2" -> "finish";`)
	assert.Contains(t, dot, `"finish" [shape=doublecircle];`)
}
