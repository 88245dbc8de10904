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
	"sync"

	"github.com/strandkit/strand/pkg/llm"
	"github.com/strandkit/strand/pkg/pipeline"
	"github.com/strandkit/strand/pkg/storage"
	"github.com/strandkit/strand/pkg/tool"
)

// ErrIterationLimit reports that a run hit the configured iteration bound.
var ErrIterationLimit = errors.New("maximum agent iterations reached")

// NoMatchingEdgeError reports that a node produced output no outgoing edge
// accepted.
type NoMatchingEdgeError struct {
	NodeName string
}

func (e *NoMatchingEdgeError) Error() string {
	return fmt.Sprintf("no matching edge from node %q", e.NodeName)
}

// Config bounds a run.
type Config struct {
	// MaxAgentIterations caps node executions per run. Zero selects the
	// default of 50.
	MaxAgentIterations int
}

const defaultMaxAgentIterations = 50

func (c Config) maxIterations() int {
	if c.MaxAgentIterations > 0 {
		return c.MaxAgentIterations
	}
	return defaultMaxAgentIterations
}

// RunContext carries the state of one agent run. It is created per run,
// handed to every node, and closed when the run completes; after close the
// iteration counter is frozen.
type RunContext struct {
	AgentID      string
	RunID        string
	Input        any
	Config       Config
	LLM          *llm.Context
	Tools        *tool.Registry
	Storage      *storage.KeyMap
	StrategyName string

	// StrategyVersion is recorded by Run from the executing strategy;
	// checkpoints carry it so rollback can reject stale snapshots.
	StrategyVersion int

	Pipeline *pipeline.Pipeline

	mu         sync.Mutex
	iterations int
	active     bool

	resumeNode  string
	resumeInput any
}

// SetResumePoint makes the next graph execution start at the named node with
// the given input instead of the strategy's start node. Rollback uses this
// to resume from a restored checkpoint.
func (rc *RunContext) SetResumePoint(node string, input any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.resumeNode = node
	rc.resumeInput = input
}

// takeResumePoint consumes a pending resume point, if any.
func (rc *RunContext) takeResumePoint() (string, any, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.resumeNode == "" {
		return "", nil, false
	}
	node, input := rc.resumeNode, rc.resumeInput
	rc.resumeNode, rc.resumeInput = "", nil
	return node, input, true
}

// NewRunContext prepares a run context. Storage and Pipeline default to
// fresh instances when nil.
func NewRunContext(rc RunContext) *RunContext {
	if rc.Storage == nil {
		rc.Storage = storage.NewKeyMap()
	}
	if rc.Pipeline == nil {
		rc.Pipeline = pipeline.New()
	}
	rc.active = true
	return &rc
}

// Iterations returns the number of completed node executions.
func (rc *RunContext) Iterations() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.iterations
}

// IsActive reports whether the run is still open.
func (rc *RunContext) IsActive() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.active
}

// advance increments the iteration counter, failing when the run is closed
// or the bound is reached.
func (rc *RunContext) advance() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.active {
		return fmt.Errorf("run context is closed")
	}
	rc.iterations++
	if rc.iterations >= rc.Config.maxIterations() {
		return ErrIterationLimit
	}
	return nil
}

func (rc *RunContext) close() {
	rc.mu.Lock()
	rc.active = false
	rc.mu.Unlock()
}

func (rc *RunContext) runInfo() pipeline.RunInfo {
	return pipeline.RunInfo{AgentID: rc.AgentID, RunID: rc.RunID}
}

// Run executes the strategy to completion, firing the full agent and
// strategy event envelope around the node loop.
//
// On node failure the run fires NodeExecutionFailed, StrategyCompleted with
// the failure, and AgentExecutionFailed, in that order. Cancellation fires
// AgentClosing before AgentExecutionFailed and is returned unchanged.
func Run(ctx context.Context, rc *RunContext, s *Strategy) (any, error) {
	defer rc.close()
	info := rc.runInfo()
	rc.StrategyVersion = s.Version()

	rc.Pipeline.FireAgentStarting(&pipeline.AgentStartingEvent{RunInfo: info, Input: rc.Input})
	rc.Pipeline.FireStrategyStarting(&pipeline.StrategyStartingEvent{RunInfo: info, StrategyName: s.Name()})

	output, err := executeGraph(ctx, rc, s, rc.Input)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			rc.Pipeline.FireAgentClosing(&pipeline.AgentClosingEvent{RunInfo: info})
		}
		rc.Pipeline.FireStrategyCompleted(&pipeline.StrategyCompletedEvent{
			RunInfo:      info,
			StrategyName: s.Name(),
			Err:          err,
		})
		rc.Pipeline.FireAgentExecutionFailed(&pipeline.AgentExecutionFailedEvent{RunInfo: info, Err: err})
		return nil, err
	}

	rc.Pipeline.FireStrategyCompleted(&pipeline.StrategyCompletedEvent{
		RunInfo:      info,
		StrategyName: s.Name(),
		Output:       output,
	})
	rc.Pipeline.FireAgentCompleted(&pipeline.AgentCompletedEvent{RunInfo: info, Output: output})
	return output, nil
}

// executeGraph runs the node loop without the agent/strategy envelope. It is
// shared by Run and by subgraph nodes, which wrap it in subgraph events.
func executeGraph(ctx context.Context, rc *RunContext, s *Strategy, input any) (any, error) {
	info := rc.runInfo()
	current := s.Start()
	value := input
	if node, restored, ok := rc.takeResumePoint(); ok {
		current = node
		value = restored
	}

	for current != s.Finish() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node, ok := s.Node(current)
		if !ok {
			return nil, fmt.Errorf("strategy %q: node %q not found", s.Name(), current)
		}

		rc.Pipeline.FireNodeExecutionStarting(&pipeline.NodeExecutionStartingEvent{
			RunInfo:  info,
			NodeName: current,
			Input:    value,
		})

		out, err := node.Execute(ctx, rc, value)
		if err != nil {
			rc.Pipeline.FireNodeExecutionFailed(&pipeline.NodeExecutionFailedEvent{
				RunInfo:  info,
				NodeName: current,
				Err:      err,
			})
			return nil, err
		}

		rc.Pipeline.FireNodeExecutionCompleted(&pipeline.NodeExecutionCompletedEvent{
			RunInfo:  info,
			NodeName: current,
			Input:    value,
			Output:   out,
		})

		// First matching edge in declaration order wins.
		matched := false
		for _, edge := range s.Edges(current) {
			next, ok := edge.Forward(ctx, rc, out)
			if ok {
				value = next
				current = edge.To
				matched = true
				break
			}
		}
		if !matched {
			err := &NoMatchingEdgeError{NodeName: current}
			rc.Pipeline.FireNodeExecutionFailed(&pipeline.NodeExecutionFailedEvent{
				RunInfo:  info,
				NodeName: current,
				Err:      err,
			})
			return nil, err
		}

		if err := rc.advance(); err != nil {
			if current == s.Finish() && errors.Is(err, ErrIterationLimit) {
				// The final hop may land exactly on the bound.
				break
			}
			return nil, err
		}
	}

	return value, nil
}

// SubgraphNode runs an inner strategy as a single node of the enclosing
// graph. The inner run shares the enclosing RunContext (iteration budget
// included) but fires its own subgraph event envelope.
type SubgraphNode struct {
	name  string
	inner *Strategy
}

// NewSubgraphNode wraps a strategy as a node.
func NewSubgraphNode(name string, inner *Strategy) *SubgraphNode {
	return &SubgraphNode{name: name, inner: inner}
}

func (n *SubgraphNode) Name() string { return n.name }

// Inner returns the wrapped strategy.
func (n *SubgraphNode) Inner() *Strategy { return n.inner }

func (n *SubgraphNode) Execute(ctx context.Context, rc *RunContext, input any) (any, error) {
	info := rc.runInfo()

	rc.Pipeline.FireSubgraphExecutionStarting(&pipeline.SubgraphExecutionStartingEvent{
		RunInfo:      info,
		SubgraphName: n.name,
		Input:        input,
	})

	out, err := executeGraph(ctx, rc, n.inner, input)
	if err != nil {
		rc.Pipeline.FireSubgraphExecutionFailed(&pipeline.SubgraphExecutionFailedEvent{
			RunInfo:      info,
			SubgraphName: n.name,
			Err:          err,
		})
		return nil, err
	}

	rc.Pipeline.FireSubgraphExecutionCompleted(&pipeline.SubgraphExecutionCompletedEvent{
		RunInfo:      info,
		SubgraphName: n.name,
		Output:       out,
	})
	return out, nil
}

var (
	_ Node = (*FuncNode)(nil)
	_ Node = (*SubgraphNode)(nil)
)
