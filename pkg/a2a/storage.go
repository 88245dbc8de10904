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

package a2a

import (
	"fmt"
	"sync"
	"time"

	"github.com/strandkit/strand/pkg/utils"
)

// GetOptions controls task reads.
type GetOptions struct {
	// HistoryLength limits history to the last N messages. Nil returns the
	// full history; zero returns none. Negative values are rejected.
	HistoryLength *int

	// IncludeArtifacts keeps artifacts on the returned task; otherwise
	// they are stripped.
	IncludeArtifacts bool
}

// Storage is the task store contract shared by the in-memory and SQL
// implementations.
type Storage interface {
	Get(taskID string, opts GetOptions) (*Task, error)
	GetAll(taskIDs []string, opts GetOptions) ([]*Task, error)
	GetByContext(contextID string, opts GetOptions) ([]*Task, error)
	Update(event TaskEvent) (*Task, error)
	Delete(taskID string) error
	DeleteAll(taskIDs []string) error
}

// TaskStore is the in-memory task storage: a readers-writer-locked map with
// a context index, applying task, status, and artifact deltas.
type TaskStore struct {
	clock utils.Clock

	mu        sync.RWMutex
	tasks     map[string]*Task
	byContext map[string]map[string]struct{}
}

// NewTaskStore creates an empty store. A nil clock defaults to the system
// clock.
func NewTaskStore(clock utils.Clock) *TaskStore {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &TaskStore{
		clock:     clock,
		tasks:     make(map[string]*Task),
		byContext: make(map[string]map[string]struct{}),
	}
}

// Get returns a copy of the task, windowed per opts.
func (s *TaskStore) Get(taskID string, opts GetOptions) (*Task, error) {
	if err := validateGetOptions(opts); err != nil {
		return nil, err
	}

	s.mu.RLock()
	task, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok {
		return nil, &TaskNotFoundError{TaskID: taskID}
	}
	return projectTask(task, opts), nil
}

// GetAll returns the tasks that exist among taskIDs, best effort: unknown
// ids are skipped.
func (s *TaskStore) GetAll(taskIDs []string, opts GetOptions) ([]*Task, error) {
	if err := validateGetOptions(opts); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Task, 0, len(taskIDs))
	for _, id := range taskIDs {
		if task, ok := s.tasks[id]; ok {
			out = append(out, projectTask(task, opts))
		}
	}
	return out, nil
}

// GetByContext returns all tasks of a context via the context index.
func (s *TaskStore) GetByContext(contextID string, opts GetOptions) ([]*Task, error) {
	if err := validateGetOptions(opts); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byContext[contextID]
	out := make([]*Task, 0, len(ids))
	for id := range ids {
		if task, ok := s.tasks[id]; ok {
			out = append(out, projectTask(task, opts))
		}
	}
	return out, nil
}

// Update applies a task event and returns a copy of the resulting task.
func (s *TaskStore) Update(event TaskEvent) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev := event.(type) {
	case *Task:
		return s.applyTask(ev)
	case *TaskStatusUpdateEvent:
		return s.applyStatusUpdate(ev)
	case *TaskArtifactUpdateEvent:
		return s.applyArtifactUpdate(ev)
	default:
		return nil, &InvalidEventError{Field: "type", Reason: fmt.Sprintf("unsupported event %T", event)}
	}
}

// Delete removes a task and its context index entry.
func (s *TaskStore) Delete(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(taskID)
}

// DeleteAll removes every listed task; missing ids fail.
func (s *TaskStore) DeleteAll(taskIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range taskIDs {
		if err := s.deleteLocked(id); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored tasks.
func (s *TaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

func (s *TaskStore) deleteLocked(taskID string) error {
	task, ok := s.tasks[taskID]
	if !ok {
		return &TaskNotFoundError{TaskID: taskID}
	}
	delete(s.tasks, taskID)

	if ids, ok := s.byContext[task.ContextID]; ok {
		delete(ids, taskID)
		if len(ids) == 0 {
			delete(s.byContext, task.ContextID)
		}
	}
	return nil
}

func (s *TaskStore) applyTask(ev *Task) (*Task, error) {
	if err := checkTaskUpsert(s.tasks[ev.ID], ev); err != nil {
		return nil, err
	}

	stored := copyTask(ev)
	if stored.Status.Timestamp.IsZero() {
		stored.Status.Timestamp = s.clock.Now()
	}
	s.tasks[ev.ID] = stored

	ids, ok := s.byContext[ev.ContextID]
	if !ok {
		ids = make(map[string]struct{})
		s.byContext[ev.ContextID] = ids
	}
	ids[ev.ID] = struct{}{}

	return copyTask(stored), nil
}

func (s *TaskStore) applyStatusUpdate(ev *TaskStatusUpdateEvent) (*Task, error) {
	updated, err := applyStatusDelta(s.tasks[ev.TaskID], ev, s.clock.Now())
	if err != nil {
		return nil, err
	}
	s.tasks[ev.TaskID] = updated
	return copyTask(updated), nil
}

func (s *TaskStore) applyArtifactUpdate(ev *TaskArtifactUpdateEvent) (*Task, error) {
	updated, err := applyArtifactDelta(s.tasks[ev.TaskID], ev)
	if err != nil {
		return nil, err
	}
	s.tasks[ev.TaskID] = updated
	return copyTask(updated), nil
}

// checkTaskUpsert enforces context immutability and terminal-state rejection
// for a whole-task write. existing may be nil.
func checkTaskUpsert(existing, ev *Task) error {
	if existing == nil {
		return nil
	}
	if existing.ContextID != ev.ContextID {
		return &TaskOperationFailedError{Reason: "Cannot change context"}
	}
	if existing.Status.State.Terminal() {
		return &TaskOperationFailedError{
			Reason: fmt.Sprintf("task %q is in terminal state %s", ev.ID, existing.Status.State),
		}
	}
	return nil
}

func checkTaskDelta(existing *Task, taskID, eventContextID string) error {
	if existing == nil {
		return &TaskNotFoundError{TaskID: taskID}
	}
	if existing.Status.State.Terminal() {
		return &TaskOperationFailedError{
			Reason: fmt.Sprintf("task %q is in terminal state %s", taskID, existing.Status.State),
		}
	}
	if eventContextID != "" && eventContextID != existing.ContextID {
		return &TaskOperationFailedError{Reason: "Cannot change context"}
	}
	return nil
}

// applyStatusDelta returns a new task with the status replaced. The outgoing
// status message joins the history before the new status takes its place.
func applyStatusDelta(existing *Task, ev *TaskStatusUpdateEvent, now time.Time) (*Task, error) {
	if err := checkTaskDelta(existing, ev.TaskID, ev.ContextID); err != nil {
		return nil, err
	}

	updated := copyTask(existing)
	if prev := updated.Status.Message; prev != nil {
		updated.History = append(updated.History, *prev)
	}
	updated.Status = ev.Status
	if updated.Status.Timestamp.IsZero() {
		updated.Status.Timestamp = now
	}
	updated.Metadata = mergeMetadata(updated.Metadata, ev.Metadata)
	return updated, nil
}

// applyArtifactDelta returns a new task with the artifact appended to or
// replaced, matched by artifactId.
func applyArtifactDelta(existing *Task, ev *TaskArtifactUpdateEvent) (*Task, error) {
	if err := checkTaskDelta(existing, ev.TaskID, ev.ContextID); err != nil {
		return nil, err
	}

	updated := copyTask(existing)

	found := false
	for i := range updated.Artifacts {
		if updated.Artifacts[i].ArtifactID != ev.Artifact.ArtifactID {
			continue
		}
		found = true
		if ev.Append {
			updated.Artifacts[i].Parts = append(updated.Artifacts[i].Parts, ev.Artifact.Parts...)
		} else {
			updated.Artifacts[i] = ev.Artifact
		}
		break
	}
	if !found {
		updated.Artifacts = append(updated.Artifacts, ev.Artifact)
	}

	updated.Metadata = mergeMetadata(updated.Metadata, ev.Metadata)
	return updated, nil
}

func validateGetOptions(opts GetOptions) error {
	if opts.HistoryLength != nil && *opts.HistoryLength < 0 {
		return fmt.Errorf("historyLength must be non-negative, got %d", *opts.HistoryLength)
	}
	return nil
}

// projectTask copies a task and applies the read windowing.
func projectTask(task *Task, opts GetOptions) *Task {
	out := copyTask(task)

	if opts.HistoryLength != nil {
		n := *opts.HistoryLength
		if n == 0 {
			out.History = nil
		} else if len(out.History) > n {
			out.History = out.History[len(out.History)-n:]
		}
	}
	if !opts.IncludeArtifacts {
		out.Artifacts = nil
	}
	return out
}

func copyTask(task *Task) *Task {
	out := *task
	out.History = append([]Message(nil), task.History...)
	out.Artifacts = append([]Artifact(nil), task.Artifacts...)
	if task.Metadata != nil {
		out.Metadata = make(map[string]any, len(task.Metadata))
		for k, v := range task.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// mergeMetadata is a shallow union; the event's values win on conflict.
func mergeMetadata(base, event map[string]any) map[string]any {
	if len(event) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]any, len(event))
	}
	for k, v := range event {
		base[k] = v
	}
	return base
}

// ContextTaskStorage scopes a storage to one context: reads are indexed by
// the context and deletes targeting tasks of other contexts are rejected.
type ContextTaskStorage struct {
	contextID string
	inner     Storage
}

// NewContextTaskStorage wraps storage for a single context.
func NewContextTaskStorage(contextID string, inner Storage) *ContextTaskStorage {
	return &ContextTaskStorage{contextID: contextID, inner: inner}
}

// ContextID returns the scoping context.
func (c *ContextTaskStorage) ContextID() string {
	return c.contextID
}

func (c *ContextTaskStorage) Get(taskID string, opts GetOptions) (*Task, error) {
	return c.inner.Get(taskID, opts)
}

func (c *ContextTaskStorage) GetAll(taskIDs []string, opts GetOptions) ([]*Task, error) {
	return c.inner.GetAll(taskIDs, opts)
}

// Tasks returns all tasks of the scoped context.
func (c *ContextTaskStorage) Tasks(opts GetOptions) ([]*Task, error) {
	return c.inner.GetByContext(c.contextID, opts)
}

func (c *ContextTaskStorage) Update(event TaskEvent) (*Task, error) {
	return c.inner.Update(event)
}

// Delete removes a task after verifying it belongs to the scoped context.
func (c *ContextTaskStorage) Delete(taskID string) error {
	task, err := c.inner.Get(taskID, GetOptions{})
	if err != nil {
		return err
	}
	if task.ContextID != c.contextID {
		return &TaskOperationFailedError{
			Reason: fmt.Sprintf("task %q belongs to context %q, not %q", taskID, task.ContextID, c.contextID),
		}
	}
	return c.inner.Delete(taskID)
}

// DeleteAll removes the listed tasks, rejecting the whole batch when any
// task belongs to another context.
func (c *ContextTaskStorage) DeleteAll(taskIDs []string) error {
	for _, id := range taskIDs {
		task, err := c.inner.Get(id, GetOptions{})
		if err != nil {
			return err
		}
		if task.ContextID != c.contextID {
			return &TaskOperationFailedError{
				Reason: fmt.Sprintf("task %q belongs to context %q, not %q", id, task.ContextID, c.contextID),
			}
		}
	}
	return c.inner.DeleteAll(taskIDs)
}

var _ Storage = (*TaskStore)(nil)
