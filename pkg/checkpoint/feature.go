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
	"encoding/json"
	"log/slog"

	"github.com/strandkit/strand/pkg/agent"
	"github.com/strandkit/strand/pkg/pipeline"
	"github.com/strandkit/strand/pkg/strategy"
	"github.com/strandkit/strand/pkg/utils"
)

// FeatureKey identifies the persistence feature.
const FeatureKey pipeline.FeatureKey = "persistence"

func init() {
	agent.RegisterSystemFeature(FeatureKey, func() pipeline.Feature {
		return NewPersistence(PersistenceConfig{
			Provider:                   NewMemoryProvider(),
			EnableAutomaticPersistence: true,
		})
	})
}

// PersistenceConfig configures automatic checkpointing.
type PersistenceConfig struct {
	// Provider receives the checkpoints.
	Provider Provider

	// EnableAutomaticPersistence writes a checkpoint after every completed
	// node. When false the feature only writes tombstones.
	EnableAutomaticPersistence bool

	// Clock defaults to the system clock.
	Clock utils.Clock
}

// Persistence is the pipeline feature that checkpoints a run as it
// progresses: one checkpoint per completed node, and a tombstone when the
// run fails terminally.
type Persistence struct {
	config PersistenceConfig
}

// NewPersistence creates the feature. A nil provider defaults to an
// in-memory one.
func NewPersistence(config PersistenceConfig) *Persistence {
	if config.Provider == nil {
		config.Provider = NewMemoryProvider()
	}
	if config.Clock == nil {
		config.Clock = utils.SystemClock{}
	}
	return &Persistence{config: config}
}

// Key implements pipeline.Feature.
func (f *Persistence) Key() pipeline.FeatureKey { return FeatureKey }

// Install implements pipeline.Feature.
func (f *Persistence) Install(p *pipeline.Pipeline) error {
	p.OnNodeExecutionCompleted(func(ev *pipeline.NodeExecutionCompletedEvent) {
		if !f.config.EnableAutomaticPersistence {
			return
		}
		rc, ok := pipeline.FeatureData[*strategy.RunContext](p, agent.RunContextDataKey)
		if !ok {
			return
		}

		input, err := json.Marshal(ev.Input)
		if err != nil {
			slog.Error("Failed to serialize node input for checkpoint",
				"agentId", rc.AgentID, "nodeId", ev.NodeName, "error", err)
			return
		}

		data := Capture(ev.NodeName, input, rc.LLM.Read().Prompt().Messages, rc.StrategyVersion, f.config.Clock)
		if err := f.config.Provider.SaveCheckpoint(rc.AgentID, data); err != nil {
			slog.Error("Failed to save checkpoint",
				"agentId", rc.AgentID, "nodeId", ev.NodeName, "error", err)
		}
	})

	p.OnAgentExecutionFailed(func(ev *pipeline.AgentExecutionFailedEvent) {
		rc, ok := pipeline.FeatureData[*strategy.RunContext](p, agent.RunContextDataKey)
		if !ok {
			return
		}
		tombstone := NewTombstone(rc.StrategyVersion, f.config.Clock.Now())
		if err := f.config.Provider.SaveCheckpoint(rc.AgentID, tombstone); err != nil {
			slog.Error("Failed to save tombstone checkpoint",
				"agentId", rc.AgentID, "error", err)
		}
	})

	return nil
}

var _ pipeline.Feature = (*Persistence)(nil)
