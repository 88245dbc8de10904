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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandkit/strand/pkg/utils"
)

func newTestStore(t *testing.T) (*TaskStore, *utils.ManualClock) {
	t.Helper()
	clock := utils.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewTaskStore(clock), clock
}

func submitTask(t *testing.T, store Storage, taskID, contextID string) *Task {
	t.Helper()
	task, err := store.Update(&Task{
		ID:        taskID,
		ContextID: contextID,
		Status:    TaskStatus{State: TaskStateWorking},
	})
	require.NoError(t, err)
	return task
}

func intPtr(n int) *int { return &n }

func TestTaskStore_UpsertAndGet(t *testing.T) {
	store, clock := newTestStore(t)

	stored := submitTask(t, store, "t1", "c1")
	assert.Equal(t, clock.Now(), stored.Status.Timestamp)

	got, err := store.Get("t1", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ContextID)
	assert.Equal(t, TaskStateWorking, got.Status.State)
}

func TestTaskStore_GetUnknownTask(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get("nope", GetOptions{})
	var notFound *TaskNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nope", notFound.TaskID)
}

func TestTaskStore_ContextIsImmutable(t *testing.T) {
	store, _ := newTestStore(t)
	submitTask(t, store, "t1", "c1")

	_, err := store.Update(&Task{
		ID:        "t1",
		ContextID: "c2",
		Status:    TaskStatus{State: TaskStateWorking},
	})
	var failed *TaskOperationFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "Cannot change context", failed.Reason)
}

func TestTaskStore_TerminalStateRejectsUpdates(t *testing.T) {
	store, _ := newTestStore(t)
	submitTask(t, store, "t1", "c1")

	_, err := store.Update(&TaskStatusUpdateEvent{
		TaskID:    "t1",
		ContextID: "c1",
		Status:    TaskStatus{State: TaskStateCompleted},
	})
	require.NoError(t, err)

	for _, event := range []TaskEvent{
		&Task{ID: "t1", ContextID: "c1", Status: TaskStatus{State: TaskStateWorking}},
		&TaskStatusUpdateEvent{TaskID: "t1", ContextID: "c1", Status: TaskStatus{State: TaskStateWorking}},
		&TaskArtifactUpdateEvent{TaskID: "t1", ContextID: "c1", Artifact: Artifact{ArtifactID: "a1"}},
	} {
		_, err := store.Update(event)
		var failed *TaskOperationFailedError
		require.ErrorAs(t, err, &failed)
		assert.Contains(t, failed.Reason, "terminal state completed")
	}
}

func TestTaskStore_StatusUpdateMovesMessageToHistory(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Update(&Task{
		ID:        "t1",
		ContextID: "c1",
		Status: TaskStatus{
			State:   TaskStateWorking,
			Message: &Message{Role: MessageRoleAgent, Parts: []Part{TextPart("working on it")}},
		},
	})
	require.NoError(t, err)

	updated, err := store.Update(&TaskStatusUpdateEvent{
		TaskID:    "t1",
		ContextID: "c1",
		Status: TaskStatus{
			State:   TaskStateInputRequired,
			Message: &Message{Role: MessageRoleAgent, Parts: []Part{TextPart("need input")}},
		},
	})
	require.NoError(t, err)

	require.Len(t, updated.History, 1)
	assert.Equal(t, "working on it", updated.History[0].Parts[0].Text)
	assert.Equal(t, "need input", updated.Status.Message.Parts[0].Text)
}

func TestTaskStore_HistoryWindowing(t *testing.T) {
	store, _ := newTestStore(t)
	submitTask(t, store, "t1", "c1")

	for _, text := range []string{"one", "two", "three"} {
		_, err := store.Update(&TaskStatusUpdateEvent{
			TaskID:    "t1",
			ContextID: "c1",
			Status: TaskStatus{
				State:   TaskStateWorking,
				Message: &Message{Role: MessageRoleAgent, Parts: []Part{TextPart(text)}},
			},
		})
		require.NoError(t, err)
	}

	// The first two messages moved into history; "three" is the live status.
	tests := []struct {
		name    string
		opts    GetOptions
		want    int
		wantErr bool
	}{
		{name: "nil returns all", opts: GetOptions{}, want: 2},
		{name: "zero returns none", opts: GetOptions{HistoryLength: intPtr(0)}, want: 0},
		{name: "window of one", opts: GetOptions{HistoryLength: intPtr(1)}, want: 1},
		{name: "window larger than history", opts: GetOptions{HistoryLength: intPtr(10)}, want: 2},
		{name: "negative rejected", opts: GetOptions{HistoryLength: intPtr(-1)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Get("t1", tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got.History, tt.want)
			if tt.want == 1 {
				assert.Equal(t, "two", got.History[0].Parts[0].Text)
			}
		})
	}
}

func TestTaskStore_ArtifactAppendAndReplace(t *testing.T) {
	store, _ := newTestStore(t)
	submitTask(t, store, "t1", "c1")

	_, err := store.Update(&TaskArtifactUpdateEvent{
		TaskID:    "t1",
		ContextID: "c1",
		Artifact:  Artifact{ArtifactID: "a1", Parts: []Part{TextPart("chunk 1")}},
	})
	require.NoError(t, err)

	appended, err := store.Update(&TaskArtifactUpdateEvent{
		TaskID:    "t1",
		ContextID: "c1",
		Artifact:  Artifact{ArtifactID: "a1", Parts: []Part{TextPart("chunk 2")}},
		Append:    true,
	})
	require.NoError(t, err)
	require.Len(t, appended.Artifacts, 1)
	require.Len(t, appended.Artifacts[0].Parts, 2)

	replaced, err := store.Update(&TaskArtifactUpdateEvent{
		TaskID:    "t1",
		ContextID: "c1",
		Artifact:  Artifact{ArtifactID: "a1", Parts: []Part{TextPart("fresh")}},
	})
	require.NoError(t, err)
	require.Len(t, replaced.Artifacts, 1)
	require.Len(t, replaced.Artifacts[0].Parts, 1)
	assert.Equal(t, "fresh", replaced.Artifacts[0].Parts[0].Text)

	// Artifacts are stripped unless asked for.
	got, err := store.Get("t1", GetOptions{})
	require.NoError(t, err)
	assert.Empty(t, got.Artifacts)

	got, err = store.Get("t1", GetOptions{IncludeArtifacts: true})
	require.NoError(t, err)
	assert.Len(t, got.Artifacts, 1)
}

func TestTaskStore_MetadataMergeEventWins(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Update(&Task{
		ID:        "t1",
		ContextID: "c1",
		Status:    TaskStatus{State: TaskStateWorking},
		Metadata:  map[string]any{"origin": "user", "priority": "low"},
	})
	require.NoError(t, err)

	updated, err := store.Update(&TaskStatusUpdateEvent{
		TaskID:    "t1",
		ContextID: "c1",
		Status:    TaskStatus{State: TaskStateWorking},
		Metadata:  map[string]any{"priority": "high", "retries": 1},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"origin":   "user",
		"priority": "high",
		"retries":  1,
	}, updated.Metadata)
}

func TestTaskStore_GetByContext(t *testing.T) {
	store, _ := newTestStore(t)
	submitTask(t, store, "t1", "c1")
	submitTask(t, store, "t2", "c1")
	submitTask(t, store, "t3", "c2")

	tasks, err := store.GetByContext("c1", GetOptions{})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tasks, err = store.GetByContext("unknown", GetOptions{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestTaskStore_GetAllSkipsUnknown(t *testing.T) {
	store, _ := newTestStore(t)
	submitTask(t, store, "t1", "c1")

	tasks, err := store.GetAll([]string{"t1", "missing"}, GetOptions{})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestTaskStore_DeleteCleansContextIndex(t *testing.T) {
	store, _ := newTestStore(t)
	submitTask(t, store, "t1", "c1")

	require.NoError(t, store.Delete("t1"))
	assert.Equal(t, 0, store.Len())

	tasks, err := store.GetByContext("c1", GetOptions{})
	require.NoError(t, err)
	assert.Empty(t, tasks)

	var notFound *TaskNotFoundError
	assert.ErrorAs(t, store.Delete("t1"), &notFound)
}

func TestTaskStore_ReturnedTasksAreCopies(t *testing.T) {
	store, _ := newTestStore(t)
	submitTask(t, store, "t1", "c1")

	got, err := store.Get("t1", GetOptions{})
	require.NoError(t, err)
	got.Status.State = TaskStateFailed
	got.History = append(got.History, Message{Role: MessageRoleUser})

	again, err := store.Get("t1", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, TaskStateWorking, again.Status.State)
	assert.Empty(t, again.History)
}

func TestContextTaskStorage_RejectsForeignDeletes(t *testing.T) {
	store, _ := newTestStore(t)
	submitTask(t, store, "t1", "c1")
	submitTask(t, store, "t2", "c2")

	scoped := NewContextTaskStorage("c1", store)

	var failed *TaskOperationFailedError
	require.ErrorAs(t, scoped.Delete("t2"), &failed)

	// The whole batch is rejected when any task belongs elsewhere.
	require.ErrorAs(t, scoped.DeleteAll([]string{"t1", "t2"}), &failed)
	assert.Equal(t, 2, store.Len())

	require.NoError(t, scoped.Delete("t1"))
	assert.Equal(t, 1, store.Len())
}

func TestContextTaskStorage_TasksReadsOwnContext(t *testing.T) {
	store, _ := newTestStore(t)
	submitTask(t, store, "t1", "c1")
	submitTask(t, store, "t2", "c2")

	scoped := NewContextTaskStorage("c1", store)
	tasks, err := scoped.Tasks(GetOptions{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].ID)
}
