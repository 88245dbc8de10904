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

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingFeature registers a node handler and records install calls.
type recordingFeature struct {
	key      FeatureKey
	installs int
	events   *[]string
}

func (f *recordingFeature) Key() FeatureKey { return f.key }

func (f *recordingFeature) Install(p *Pipeline) error {
	f.installs++
	p.OnNodeExecutionStarting(func(ev *NodeExecutionStartingEvent) {
		*f.events = append(*f.events, string(f.key)+":"+ev.NodeName)
	})
	return nil
}

func TestPipeline_InstallIdempotent(t *testing.T) {
	p := New()
	var events []string
	f := &recordingFeature{key: "tracer", events: &events}

	installed, err := p.Install(f)
	require.NoError(t, err)
	assert.True(t, installed)

	installed, err = p.Install(f)
	require.NoError(t, err)
	assert.False(t, installed)
	assert.Equal(t, 1, f.installs)
}

func TestPipeline_HandlersFireInRegistrationOrder(t *testing.T) {
	p := New()
	var order []string

	p.OnNodeExecutionStarting(func(*NodeExecutionStartingEvent) {
		order = append(order, "first")
	})
	p.OnNodeExecutionStarting(func(*NodeExecutionStartingEvent) {
		order = append(order, "second")
	})
	p.OnNodeExecutionStarting(func(*NodeExecutionStartingEvent) {
		order = append(order, "third")
	})

	p.FireNodeExecutionStarting(&NodeExecutionStartingEvent{NodeName: "n1"})

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestPipeline_EventsCarryRunInfo(t *testing.T) {
	p := New()
	var got RunInfo

	p.OnAgentStarting(func(ev *AgentStartingEvent) {
		got = ev.RunInfo
	})

	p.FireAgentStarting(&AgentStartingEvent{
		RunInfo: RunInfo{AgentID: "a1", RunID: "r1"},
		Input:   "hi",
	})

	assert.Equal(t, "a1", got.AgentID)
	assert.Equal(t, "r1", got.RunID)
}

func TestPipeline_FeatureData(t *testing.T) {
	p := New()

	_, ok := FeatureData[int](p, "slot")
	assert.False(t, ok)

	p.SetFeatureData("slot", 7)

	v, ok := FeatureData[int](p, "slot")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	// Wrong type reads as absent.
	_, ok = FeatureData[string](p, "slot")
	assert.False(t, ok)
}

func TestPipeline_MultipleSubscribersSeeSameEvent(t *testing.T) {
	p := New()
	var events []string
	fa := &recordingFeature{key: "a", events: &events}
	fb := &recordingFeature{key: "b", events: &events}

	_, err := p.Install(fa)
	require.NoError(t, err)
	_, err = p.Install(fb)
	require.NoError(t, err)

	p.FireNodeExecutionStarting(&NodeExecutionStartingEvent{NodeName: "llm"})

	assert.Equal(t, []string{"a:llm", "b:llm"}, events)
}
