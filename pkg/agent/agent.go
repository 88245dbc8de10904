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

// Package agent assembles the runtime pieces into a runnable agent: a
// strategy graph, an LLM executor, a tool registry, and a feature set.
// Each Run gets a fresh pipeline, a fresh LLM context, and a fresh run
// context, so concurrent runs never share mutable state.
package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/strandkit/strand/pkg/llm"
	"github.com/strandkit/strand/pkg/message"
	"github.com/strandkit/strand/pkg/pipeline"
	"github.com/strandkit/strand/pkg/strategy"
	"github.com/strandkit/strand/pkg/tool"
	"github.com/strandkit/strand/pkg/utils"
)

// RunContextDataKey is the pipeline data slot where each run publishes its
// *strategy.RunContext for features that need runtime state (persistence,
// memory).
const RunContextDataKey pipeline.FeatureKey = "runtime.runcontext"

// Options configures an agent.
type Options struct {
	// ID identifies the agent in events and checkpoint paths.
	ID string

	// Strategy is the graph executed per run.
	Strategy *strategy.Strategy

	// Executor serves LLM requests. Each run wraps it with the pipeline
	// event proxy.
	Executor llm.PromptExecutor

	// Prompt seeds every run's conversation.
	Prompt message.Prompt

	// Model bound to the LLM context.
	Model string

	// Tools available to tool execution nodes. Defaults to an empty
	// registry.
	Tools *tool.Registry

	// Environment is an opaque value handed to features; the
	// AgentEnvironmentTransforming hook may replace it per run.
	Environment any

	// Config bounds each run.
	Config strategy.Config

	// LLMConfig applies to the per-run LLM context.
	LLMConfig llm.Config

	// Clock defaults to the system clock.
	Clock utils.Clock

	// Features are installed into every run's pipeline before system
	// features, so a user installation always wins over the environment.
	Features []pipeline.Feature

	// SystemFeatureKeys are installed in addition to the keys named by the
	// STRAND_FEATURES environment variable.
	SystemFeatureKeys []string
}

// Agent is an immutable run factory.
type Agent struct {
	opts Options
}

// New validates the options and creates an agent.
func New(opts Options) (*Agent, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	if opts.Strategy == nil {
		return nil, fmt.Errorf("agent %q: strategy is required", opts.ID)
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("agent %q: executor is required", opts.ID)
	}
	if opts.Tools == nil {
		opts.Tools = tool.NewRegistry()
	}
	if opts.Clock == nil {
		opts.Clock = utils.SystemClock{}
	}
	return &Agent{opts: opts}, nil
}

// ID returns the agent id.
func (a *Agent) ID() string {
	return a.opts.ID
}

// RunResult is the outcome of one run.
type RunResult struct {
	RunID      string
	Output     any
	Iterations int
}

// Run executes the strategy once over the input and returns the finish
// node's value. The run context is single-use; call Run again for a new
// conversation turn.
func (a *Agent) Run(ctx context.Context, input any) (*RunResult, error) {
	pipe := pipeline.New()
	for _, f := range a.opts.Features {
		if _, err := pipe.Install(f); err != nil {
			return nil, fmt.Errorf("installing feature %q: %w", f.Key(), err)
		}
	}
	InstallSystemFeatures(pipe, a.opts.SystemFeatureKeys...)

	runID := uuid.NewString()
	info := pipeline.RunInfo{AgentID: a.opts.ID, RunID: runID}

	// Features may swap the environment before anything else runs.
	envEvent := &pipeline.AgentEnvironmentTransformingEvent{
		RunInfo:     info,
		Environment: a.opts.Environment,
	}
	pipe.FireAgentEnvironmentTransforming(envEvent)

	llmCtx, err := llm.NewContext(llm.Options{
		Prompt:      a.opts.Prompt,
		Tools:       a.opts.Tools.Descriptors(),
		Model:       a.opts.Model,
		Environment: envEvent.Environment,
		Executor:    llm.NewPipelineExecutor(a.opts.Executor, pipe, info),
		Config:      a.opts.LLMConfig,
		Clock:       a.opts.Clock,
	})
	if err != nil {
		return nil, err
	}

	rc := strategy.NewRunContext(strategy.RunContext{
		AgentID:      a.opts.ID,
		RunID:        runID,
		Input:        input,
		Config:       a.opts.Config,
		LLM:          llmCtx,
		Tools:        a.opts.Tools,
		StrategyName: a.opts.Strategy.Name(),
		Pipeline:     pipe,
	})
	pipe.SetFeatureData(RunContextDataKey, rc)

	output, err := strategy.Run(ctx, rc, a.opts.Strategy)
	if err != nil {
		return nil, err
	}

	return &RunResult{
		RunID:      runID,
		Output:     output,
		Iterations: rc.Iterations(),
	}, nil
}
