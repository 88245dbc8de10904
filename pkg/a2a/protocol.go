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

// Package a2a implements the agent-to-agent surface: protocol types, the
// validated per-session event processor, and task storage that applies
// status and artifact deltas.
//
// Transport is HTTP+JSON; see Server for the SSE endpoints.
package a2a

import (
	"fmt"
	"time"
)

// TaskState is the state of a task in its lifecycle.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input_required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateCanceled      TaskState = "canceled"
	TaskStateFailed        TaskState = "failed"
	TaskStateRejected      TaskState = "rejected"
)

// Terminal reports whether the state permits no further transitions.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed, TaskStateRejected:
		return true
	}
	return false
}

// TaskStatus is the current state of a task with an optional status message.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is the unit of work exchanged between agents.
//
// A task's contextId is immutable once stored; updates carrying a different
// context are rejected.
type Task struct {
	ID        string         `json:"id"`
	ContextID string         `json:"contextId"`
	Status    TaskStatus     `json:"status"`
	History   []Message      `json:"history,omitempty"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MessageRole is the sender side of a message.
type MessageRole string

const (
	MessageRoleUser  MessageRole = "user"
	MessageRoleAgent MessageRole = "agent"
)

// Message is a protocol conversation message.
type Message struct {
	MessageID string         `json:"messageId,omitempty"`
	ContextID string         `json:"contextId,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	Role      MessageRole    `json:"role"`
	Parts     []Part         `json:"parts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// PartType discriminates message and artifact parts.
type PartType string

const (
	PartTypeText PartType = "text"
	PartTypeFile PartType = "file"
	PartTypeData PartType = "data"
)

// Part is one unit of message or artifact content (union type).
type Part struct {
	Type PartType `json:"type"`

	// Text content for PartTypeText.
	Text string `json:"text,omitempty"`

	// File reference for PartTypeFile.
	File *FilePart `json:"file,omitempty"`

	// Structured payload for PartTypeData.
	Data     any    `json:"data,omitempty"`
	DataType string `json:"dataType,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

// FilePart is a file carried inline or by reference.
type FilePart struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Bytes    []byte `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// Artifact is a task output.
type Artifact struct {
	ArtifactID  string         `json:"artifactId"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TaskStatusUpdateEvent replaces a task's status. Final marks the last
// status event of a session.
type TaskStatusUpdateEvent struct {
	TaskID    string         `json:"taskId"`
	ContextID string         `json:"contextId"`
	Status    TaskStatus     `json:"status"`
	Final     bool           `json:"final"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskArtifactUpdateEvent adds to or replaces a task artifact. With Append
// set and a matching artifactId already stored, parts are concatenated.
type TaskArtifactUpdateEvent struct {
	TaskID    string         `json:"taskId"`
	ContextID string         `json:"contextId"`
	Artifact  Artifact       `json:"artifact"`
	Append    bool           `json:"append,omitempty"`
	LastChunk bool           `json:"lastChunk,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Event is anything a session can carry: a Message, or one of the task
// events (*Task, *TaskStatusUpdateEvent, *TaskArtifactUpdateEvent).
type Event interface {
	EventContextID() string
}

// TaskEvent is an event that targets a task and flows through storage.
type TaskEvent interface {
	Event
	EventTaskID() string
}

func (m *Message) EventContextID() string { return m.ContextID }

func (t *Task) EventContextID() string { return t.ContextID }
func (t *Task) EventTaskID() string    { return t.ID }

func (e *TaskStatusUpdateEvent) EventContextID() string { return e.ContextID }
func (e *TaskStatusUpdateEvent) EventTaskID() string    { return e.TaskID }

func (e *TaskArtifactUpdateEvent) EventContextID() string { return e.ContextID }
func (e *TaskArtifactUpdateEvent) EventTaskID() string    { return e.TaskID }

var (
	_ Event     = (*Message)(nil)
	_ TaskEvent = (*Task)(nil)
	_ TaskEvent = (*TaskStatusUpdateEvent)(nil)
	_ TaskEvent = (*TaskArtifactUpdateEvent)(nil)
)

// SessionNotActiveError reports a send on a closed session.
type SessionNotActiveError struct {
	ContextID string
	TaskID    string
}

func (e *SessionNotActiveError) Error() string {
	return fmt.Sprintf("session (%s, %s) is not active", e.ContextID, e.TaskID)
}

// InvalidEventError reports an event that violates a session rule. Field
// names the violated rule: "contextId", "taskId", or "TaskEventSent".
type InvalidEventError struct {
	Field  string
	Reason string
}

func (e *InvalidEventError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid event (%s): %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid event (%s)", e.Field)
}

// TaskNotFoundError reports an update or read of an unknown task.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %q not found", e.TaskID)
}

// TaskOperationFailedError reports a storage operation the task's state or
// identity forbids.
type TaskOperationFailedError struct {
	Reason string
}

func (e *TaskOperationFailedError) Error() string {
	return e.Reason
}
