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

// Package checkpoint captures and restores agent execution points: the
// current node, its last input, and the prompt history. Providers persist
// checkpoints in memory or on disk; the Manager rolls a run context back to
// a saved point, invoking registered rollback tools to compensate external
// side effects.
package checkpoint

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strandkit/strand/pkg/message"
	"github.com/strandkit/strand/pkg/utils"
)

// TombstoneProperty marks a checkpoint that records a terminated session.
const TombstoneProperty = "tombstone"

// Data is one saved execution point.
type Data struct {
	CheckpointID   string            `json:"checkpoint_id"`
	CreatedAt      time.Time         `json:"created_at"`
	NodeID         string            `json:"node_id"`
	LastInput      json.RawMessage   `json:"last_input,omitempty"`
	MessageHistory []message.Message `json:"message_history,omitempty"`
	Version        int               `json:"version"`
	Properties     map[string]any    `json:"properties,omitempty"`
}

// IsTombstone reports whether the checkpoint marks a terminated session.
func (d *Data) IsTombstone() bool {
	if d.Properties == nil {
		return false
	}
	v, ok := d.Properties[TombstoneProperty].(bool)
	return ok && v
}

// NewTombstone builds a terminated-session marker: empty history, the
// tombstone property set.
func NewTombstone(version int, at time.Time) *Data {
	return &Data{
		CheckpointID: uuid.NewString(),
		CreatedAt:    at,
		Version:      version,
		Properties:   map[string]any{TombstoneProperty: true},
	}
}

func (d *Data) copy() *Data {
	out := *d
	out.LastInput = append(json.RawMessage(nil), d.LastInput...)
	out.MessageHistory = append([]message.Message(nil), d.MessageHistory...)
	if d.Properties != nil {
		out.Properties = make(map[string]any, len(d.Properties))
		for k, v := range d.Properties {
			out.Properties[k] = v
		}
	}
	return &out
}

// Filter selects checkpoints during reads. A nil filter matches everything.
type Filter func(*Data) bool

// NotTombstone filters out terminated-session markers.
func NotTombstone(d *Data) bool { return !d.IsTombstone() }

// Provider persists checkpoints per agent.
type Provider interface {
	GetCheckpoints(agentID string, filter Filter) ([]*Data, error)
	SaveCheckpoint(agentID string, data *Data) error
	GetLatestCheckpoint(agentID string, filter Filter) (*Data, error)
}

// MemoryProvider keeps checkpoints in a mutex-guarded map, newest last.
type MemoryProvider struct {
	mu          sync.RWMutex
	checkpoints map[string][]*Data
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{checkpoints: make(map[string][]*Data)}
}

// SaveCheckpoint stores a copy of data under the agent.
func (p *MemoryProvider) SaveCheckpoint(agentID string, data *Data) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkpoints[agentID] = append(p.checkpoints[agentID], data.copy())
	return nil
}

// GetCheckpoints returns the agent's matching checkpoints in save order.
func (p *MemoryProvider) GetCheckpoints(agentID string, filter Filter) ([]*Data, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*Data
	for _, d := range p.checkpoints[agentID] {
		if filter == nil || filter(d) {
			out = append(out, d.copy())
		}
	}
	return out, nil
}

// GetLatestCheckpoint returns the most recently saved matching checkpoint,
// or nil when none match.
func (p *MemoryProvider) GetLatestCheckpoint(agentID string, filter Filter) (*Data, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	list := p.checkpoints[agentID]
	for i := len(list) - 1; i >= 0; i-- {
		if filter == nil || filter(list[i]) {
			return list[i].copy(), nil
		}
	}
	return nil, nil
}

// Capture builds a checkpoint from an execution point. The history slice is
// copied; lastInput must already be serialized.
func Capture(nodeID string, lastInput json.RawMessage, history []message.Message, version int, clock utils.Clock) *Data {
	return &Data{
		CheckpointID:   uuid.NewString(),
		CreatedAt:      clock.Now(),
		NodeID:         nodeID,
		LastInput:      append(json.RawMessage(nil), lastInput...),
		MessageHistory: append([]message.Message(nil), history...),
		Version:        version,
	}
}

// sortByCreatedAt orders checkpoints oldest first, used by providers whose
// backing store has no natural order.
func sortByCreatedAt(list []*Data) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

var _ Provider = (*MemoryProvider)(nil)
