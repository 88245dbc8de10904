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
	"fmt"
	"log/slog"
	"sync"

	"github.com/strandkit/strand/pkg/llm"
	"github.com/strandkit/strand/pkg/message"
	"github.com/strandkit/strand/pkg/strategy"
	"github.com/strandkit/strand/pkg/tool"
)

// RollbackStrategy selects how much state a rollback restores.
type RollbackStrategy string

const (
	// RollbackDefault restores the node position, last input, and prompt
	// history, and runs rollback tools for removed tool calls.
	RollbackDefault RollbackStrategy = "default"

	// RollbackMessageHistoryOnly restores only the prompt history.
	RollbackMessageHistoryOnly RollbackStrategy = "message_history_only"
)

// RollbackToolRegistry maps a tool name to the compensating tool that undoes
// its external side effects. The rollback tool receives the original call's
// arguments.
type RollbackToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]tool.Tool
}

// NewRollbackToolRegistry creates an empty registry.
func NewRollbackToolRegistry() *RollbackToolRegistry {
	return &RollbackToolRegistry{tools: make(map[string]tool.Tool)}
}

// Register binds a rollback tool to the forward tool's name.
func (r *RollbackToolRegistry) Register(forwardToolName string, rollback tool.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[forwardToolName] = rollback
}

// Get returns the rollback tool for a forward tool name.
func (r *RollbackToolRegistry) Get(forwardToolName string) (tool.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[forwardToolName]
	return t, ok
}

// RollbackError aggregates the failures that aborted a rollback.
type RollbackError struct {
	CheckpointID string
	Errors       []error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback to checkpoint %s aborted: %d tool failure(s), first: %v",
		e.CheckpointID, len(e.Errors), e.Errors[0])
}

func (e *RollbackError) Unwrap() []error { return e.Errors }

// VersionMismatchError rejects a checkpoint saved under a different strategy
// version.
type VersionMismatchError struct {
	CheckpointVersion int
	StrategyVersion   int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("checkpoint version %d does not match strategy version %d",
		e.CheckpointVersion, e.StrategyVersion)
}

// Manager loads checkpoints from a provider and rolls a run context back to
// them.
type Manager struct {
	provider Provider
	tools    *RollbackToolRegistry
}

// NewManager creates a rollback manager. The registry may be nil, in which
// case removed tool calls are not compensated.
func NewManager(provider Provider, tools *RollbackToolRegistry) *Manager {
	return &Manager{provider: provider, tools: tools}
}

// Provider returns the backing checkpoint provider.
func (m *Manager) Provider() Provider { return m.provider }

// RollbackToCheckpoint restores the run to the identified checkpoint.
//
// Steps: load and version-check the checkpoint; run rollback tools for the
// tool calls that the restore removes from history, newest first, aborting
// on any failure; then replace the prompt history and, for the default
// strategy, the resume position and last input.
func (m *Manager) RollbackToCheckpoint(ctx context.Context, rc *strategy.RunContext, s *strategy.Strategy, checkpointID string, mode RollbackStrategy) error {
	data, err := m.findCheckpoint(rc.AgentID, checkpointID)
	if err != nil {
		return err
	}
	return m.rollback(ctx, rc, s, data, mode)
}

// RollbackToLatestCheckpoint restores the run to the newest non-tombstone
// checkpoint.
func (m *Manager) RollbackToLatestCheckpoint(ctx context.Context, rc *strategy.RunContext, s *strategy.Strategy, mode RollbackStrategy) error {
	data, err := m.provider.GetLatestCheckpoint(rc.AgentID, NotTombstone)
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("no checkpoint found for agent %q", rc.AgentID)
	}
	return m.rollback(ctx, rc, s, data, mode)
}

func (m *Manager) findCheckpoint(agentID, checkpointID string) (*Data, error) {
	list, err := m.provider.GetCheckpoints(agentID, nil)
	if err != nil {
		return nil, err
	}
	for _, d := range list {
		if d.CheckpointID == checkpointID {
			return d, nil
		}
	}
	return nil, fmt.Errorf("checkpoint %q not found for agent %q", checkpointID, agentID)
}

func (m *Manager) rollback(ctx context.Context, rc *strategy.RunContext, s *strategy.Strategy, data *Data, mode RollbackStrategy) error {
	if data.IsTombstone() {
		return fmt.Errorf("checkpoint %s is a tombstone, session is not resumable", data.CheckpointID)
	}
	if data.Version != s.Version() {
		return &VersionMismatchError{CheckpointVersion: data.Version, StrategyVersion: s.Version()}
	}

	current := rc.LLM.Read().Prompt().Messages
	removed := removedMessages(current, data.MessageHistory)

	// Compensate external side effects before touching any runtime state so
	// a failed rollback leaves the run untouched.
	if err := m.compensate(ctx, data.CheckpointID, removed); err != nil {
		return err
	}

	if err := rc.LLM.Write(ctx, func(w *llm.WriteSession) error {
		w.SetPrompt(w.Prompt().WithMessages(data.MessageHistory))
		return nil
	}); err != nil {
		return fmt.Errorf("failed to restore prompt history: %w", err)
	}

	if mode == RollbackDefault {
		var input any
		if len(data.LastInput) > 0 {
			if err := json.Unmarshal(data.LastInput, &input); err != nil {
				return fmt.Errorf("failed to decode checkpoint input: %w", err)
			}
		}
		rc.SetResumePoint(data.NodeID, input)
	}

	slog.Info("Rolled back to checkpoint",
		"agentId", rc.AgentID,
		"checkpointId", data.CheckpointID,
		"nodeId", data.NodeID,
		"mode", string(mode),
		"removedMessages", len(removed))
	return nil
}

// compensate runs rollback tools for the removed tool-call messages in
// reverse order, with the original arguments. All failures abort the
// rollback as one composite error.
func (m *Manager) compensate(ctx context.Context, checkpointID string, removed []message.Message) error {
	if m.tools == nil {
		return nil
	}

	var errs []error
	for i := len(removed) - 1; i >= 0; i-- {
		msg := removed[i]
		if msg.Role != message.RoleToolCall {
			continue
		}
		rb, ok := m.tools.Get(msg.ToolName)
		if !ok {
			continue
		}
		if _, err := rb.Execute(ctx, msg.Arguments); err != nil {
			errs = append(errs, fmt.Errorf("rollback of tool %q call %q: %w", msg.ToolName, msg.ID, err))
		}
	}
	if len(errs) > 0 {
		return &RollbackError{CheckpointID: checkpointID, Errors: errs}
	}
	return nil
}

// removedMessages returns the suffix of current that the restore to saved
// will drop.
func removedMessages(current, saved []message.Message) []message.Message {
	if len(current) <= len(saved) {
		return nil
	}
	return current[len(saved):]
}
