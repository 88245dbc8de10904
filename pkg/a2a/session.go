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
	"log/slog"
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind loses events (with a warning) rather than blocking
// the session.
const subscriberBuffer = 256

// Session is the validated single-writer event stream for one
// (contextId, taskId) pair. Every send serializes through the session mutex,
// validates against the session rules, writes task events through to
// storage, and fans the event out to subscribers in completion order.
//
// The session closes when a Message event is delivered, when a status update
// is final, or when an applied event leaves the task in a terminal state.
// Closing a subscriber's channel is the close marker; subscribers attaching
// after close receive an already-closed channel.
type Session struct {
	contextID string
	taskID    string
	store     Storage

	mu            sync.Mutex
	open          bool
	taskEventSent bool
	subscribers   []chan Event
}

// NewSession opens a session writing through to store.
func NewSession(contextID, taskID string, store Storage) *Session {
	return &Session{
		contextID: contextID,
		taskID:    taskID,
		store:     store,
		open:      true,
	}
}

// ContextID returns the session's context.
func (s *Session) ContextID() string { return s.contextID }

// TaskID returns the session's task.
func (s *Session) TaskID() string { return s.taskID }

// IsOpen reports whether the session still accepts events.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Subscribe returns a channel of the session's events. The channel closes
// when the session does; a subscription taken after close is closed
// immediately.
func (s *Session) Subscribe() <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if !s.open {
		close(ch)
		return ch
	}
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Send validates and delivers one event.
//
// Rules, enforced in order under the session mutex:
//   - the session must be open (SessionNotActive);
//   - the event's contextId must match (InvalidEvent "contextId");
//   - a Message after any task event is rejected (InvalidEvent
//     "TaskEventSent");
//   - a task event's taskId must match (InvalidEvent "taskId");
//   - at most one Message is accepted, and it closes the session;
//   - a final status update, or any event leaving the task terminal,
//     closes the session.
func (s *Session) Send(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return &SessionNotActiveError{ContextID: s.contextID, TaskID: s.taskID}
	}
	if event.EventContextID() != s.contextID {
		return &InvalidEventError{
			Field:  "contextId",
			Reason: "event context does not match session context",
		}
	}

	switch ev := event.(type) {
	case *Message:
		if s.taskEventSent {
			return &InvalidEventError{
				Field:  "TaskEventSent",
				Reason: "message events are rejected once a task event was sent",
			}
		}
		s.deliverLocked(event)
		s.closeLocked()
		return nil

	case TaskEvent:
		if ev.EventTaskID() != s.taskID {
			return &InvalidEventError{
				Field:  "taskId",
				Reason: "event task does not match session task",
			}
		}

		task, err := s.store.Update(ev)
		if err != nil {
			return err
		}
		s.taskEventSent = true
		s.deliverLocked(event)

		final := false
		if status, ok := event.(*TaskStatusUpdateEvent); ok && status.Final {
			final = true
		}
		if final || task.Status.State.Terminal() {
			s.closeLocked()
		}
		return nil

	default:
		return &InvalidEventError{Field: "type", Reason: "unsupported event kind"}
	}
}

// Close closes the session and all subscriber channels. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) deliverLocked(event Event) {
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			slog.Warn("Dropping session event for slow subscriber",
				"contextId", s.contextID,
				"taskId", s.taskID)
		}
	}
}

func (s *Session) closeLocked() {
	if !s.open {
		return
	}
	s.open = false
	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
}

// SessionRegistry tracks open sessions by (contextId, taskId).
type SessionRegistry struct {
	store Storage

	mu       sync.Mutex
	sessions map[sessionKey]*Session
}

type sessionKey struct {
	contextID string
	taskID    string
}

// NewSessionRegistry creates a registry whose sessions write through to
// store.
func NewSessionRegistry(store Storage) *SessionRegistry {
	return &SessionRegistry{
		store:    store,
		sessions: make(map[sessionKey]*Session),
	}
}

// Open returns the open session for the pair, creating one if absent or if
// the previous session closed.
func (r *SessionRegistry) Open(contextID, taskID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionKey{contextID: contextID, taskID: taskID}
	if s, ok := r.sessions[key]; ok && s.IsOpen() {
		return s
	}
	s := NewSession(contextID, taskID, r.store)
	r.sessions[key] = s
	return s
}

// Lookup returns the session for the pair, open or closed.
func (r *SessionRegistry) Lookup(contextID, taskID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionKey{contextID: contextID, taskID: taskID}]
	return s, ok
}
