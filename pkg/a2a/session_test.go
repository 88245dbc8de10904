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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestSession_Lifecycle(t *testing.T) {
	store, _ := newTestStore(t)
	session := NewSession("c1", "t1", store)
	events := session.Subscribe()

	require.NoError(t, session.Send(&Task{
		ID:        "t1",
		ContextID: "c1",
		Status:    TaskStatus{State: TaskStateWorking},
	}))
	require.NoError(t, session.Send(&TaskStatusUpdateEvent{
		TaskID:    "t1",
		ContextID: "c1",
		Status:    TaskStatus{State: TaskStateCompleted},
		Final:     true,
	}))
	assert.False(t, session.IsOpen())

	var notActive *SessionNotActiveError
	err := session.Send(&TaskStatusUpdateEvent{
		TaskID:    "t1",
		ContextID: "c1",
		Status:    TaskStatus{State: TaskStateWorking},
	})
	require.ErrorAs(t, err, &notActive)
	assert.Equal(t, "c1", notActive.ContextID)

	got := drain(events)
	require.Len(t, got, 2)
	assert.IsType(t, &Task{}, got[0])
	assert.IsType(t, &TaskStatusUpdateEvent{}, got[1])

	// A subscriber attaching after close observes the close marker
	// immediately.
	late := session.Subscribe()
	_, open := <-late
	assert.False(t, open)

	// Both events reached storage.
	task, err := store.Get("t1", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, TaskStateCompleted, task.Status.State)
}

func TestSession_TerminalStateClosesWithoutFinal(t *testing.T) {
	store, _ := newTestStore(t)
	session := NewSession("c1", "t1", store)

	require.NoError(t, session.Send(&Task{
		ID:        "t1",
		ContextID: "c1",
		Status:    TaskStatus{State: TaskStateWorking},
	}))
	require.NoError(t, session.Send(&TaskStatusUpdateEvent{
		TaskID:    "t1",
		ContextID: "c1",
		Status:    TaskStatus{State: TaskStateFailed},
	}))
	assert.False(t, session.IsOpen())
}

func TestSession_ContextMismatchRejected(t *testing.T) {
	store, _ := newTestStore(t)
	session := NewSession("c1", "t1", store)

	err := session.Send(&Task{
		ID:        "t1",
		ContextID: "c2",
		Status:    TaskStatus{State: TaskStateWorking},
	})
	var invalid *InvalidEventError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "contextId", invalid.Field)
	assert.True(t, session.IsOpen())
}

func TestSession_StorageContextMismatchSurfaces(t *testing.T) {
	store, _ := newTestStore(t)
	submitTask(t, store, "t1", "c1")

	// The session itself is scoped to c2, so the event passes session
	// validation but storage rejects the context change.
	session := NewSession("c2", "t1", store)
	err := session.Send(&Task{
		ID:        "t1",
		ContextID: "c2",
		Status:    TaskStatus{State: TaskStateWorking},
	})
	var failed *TaskOperationFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "Cannot change context", failed.Reason)
	assert.True(t, session.IsOpen())
}

func TestSession_TaskIDMismatchRejected(t *testing.T) {
	store, _ := newTestStore(t)
	session := NewSession("c1", "t1", store)

	err := session.Send(&Task{
		ID:        "other",
		ContextID: "c1",
		Status:    TaskStatus{State: TaskStateWorking},
	})
	var invalid *InvalidEventError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "taskId", invalid.Field)
}

func TestSession_SingleMessageClosesSession(t *testing.T) {
	store, _ := newTestStore(t)
	session := NewSession("c1", "t1", store)
	events := session.Subscribe()

	require.NoError(t, session.Send(&Message{
		ContextID: "c1",
		Role:      MessageRoleAgent,
		Parts:     []Part{TextPart("direct answer")},
	}))
	assert.False(t, session.IsOpen())

	got := drain(events)
	require.Len(t, got, 1)
	assert.IsType(t, &Message{}, got[0])
}

func TestSession_MessageAfterTaskEventRejected(t *testing.T) {
	store, _ := newTestStore(t)
	session := NewSession("c1", "t1", store)

	require.NoError(t, session.Send(&Task{
		ID:        "t1",
		ContextID: "c1",
		Status:    TaskStatus{State: TaskStateWorking},
	}))

	err := session.Send(&Message{ContextID: "c1", Role: MessageRoleAgent})
	var invalid *InvalidEventError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "TaskEventSent", invalid.Field)
}

func TestSessionRegistry_ReopensClosedSession(t *testing.T) {
	store, _ := newTestStore(t)
	registry := NewSessionRegistry(store)

	first := registry.Open("c1", "t1")
	assert.Same(t, first, registry.Open("c1", "t1"))

	first.Close()
	second := registry.Open("c1", "t1")
	assert.NotSame(t, first, second)
	assert.True(t, second.IsOpen())

	_, ok := registry.Lookup("c1", "t1")
	assert.True(t, ok)
	_, ok = registry.Lookup("c1", "other")
	assert.False(t, ok)
}
