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
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// FileProvider stores one JSON file per checkpoint under
// <root>/checkpoints/<agentID>/<checkpointID>. An unparseable file yields no
// checkpoint at that slot: it is skipped with a warning and never aborts
// enumeration.
type FileProvider struct {
	root string
}

// NewFileProvider creates a provider rooted at dir.
func NewFileProvider(root string) *FileProvider {
	return &FileProvider{root: root}
}

func (p *FileProvider) agentDir(agentID string) string {
	return filepath.Join(p.root, "checkpoints", agentID)
}

// SaveCheckpoint writes the checkpoint file, creating directories as needed.
func (p *FileProvider) SaveCheckpoint(agentID string, data *Data) error {
	dir := p.agentDir(agentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	path := filepath.Join(dir, data.CheckpointID)
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	slog.Debug("Saved checkpoint",
		"agentId", agentID,
		"checkpointId", data.CheckpointID,
		"nodeId", data.NodeID)
	return nil
}

// GetCheckpoints enumerates the agent's checkpoint files, oldest first.
// Corrupt files are skipped.
func (p *FileProvider) GetCheckpoints(agentID string, filter Filter) ([]*Data, error) {
	entries, err := os.ReadDir(p.agentDir(agentID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var out []*Data
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, ok := p.readFile(agentID, entry.Name())
		if !ok {
			continue
		}
		if filter == nil || filter(data) {
			out = append(out, data)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

// GetLatestCheckpoint returns the newest matching checkpoint, or nil.
func (p *FileProvider) GetLatestCheckpoint(agentID string, filter Filter) (*Data, error) {
	list, err := p.GetCheckpoints(agentID, filter)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1], nil
}

func (p *FileProvider) readFile(agentID, name string) (*Data, bool) {
	path := filepath.Join(p.agentDir(agentID), name)
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Skipping unreadable checkpoint file", "path", path, "error", err)
		return nil, false
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		slog.Warn("Skipping corrupt checkpoint file", "path", path, "error", err)
		return nil, false
	}
	return &data, true
}

// Watch emits the id of every checkpoint created or rewritten under the
// agent's directory until ctx is canceled. The directory is created if
// missing so the watch can start before the first save.
func (p *FileProvider) Watch(ctx context.Context, agentID string) (<-chan string, error) {
	dir := p.agentDir(agentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch checkpoint directory: %w", err)
	}

	ids := make(chan string)
	go func() {
		defer close(ids)
		defer func() { _ = watcher.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				select {
				case ids <- filepath.Base(event.Name):
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Checkpoint watcher error", "agentId", agentID, "error", err)
			}
		}
	}()
	return ids, nil
}

var _ Provider = (*FileProvider)(nil)
