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

// Package message defines the immutable conversation model: role-tagged
// messages with request/response meta-info, and the Prompt value that
// carries an ordered message sequence plus generation parameters.
//
// Messages are value types. Nothing in this package mutates a message after
// construction; producers build new values and prompts are replaced
// atomically by their owners.
package message

import (
	"encoding/json"
	"time"
)

// Role discriminates the message kinds.
type Role string

const (
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleReasoning  Role = "reasoning"
	RoleToolCall   Role = "tool_call"
	RoleToolResult Role = "tool_result"
)

// FinishReason indicates why generation stopped.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonContent   FinishReason = "content_filter"
	FinishReasonError     FinishReason = "error"
)

// Usage contains token usage statistics reported by the provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// RequestMeta carries metadata for request-side messages
// (system, user, tool result).
type RequestMeta struct {
	Timestamp time.Time `json:"timestamp"`
}

// ResponseMeta carries metadata for response-side messages
// (assistant, reasoning, tool call).
type ResponseMeta struct {
	Timestamp    time.Time    `json:"timestamp"`
	Usage        *Usage       `json:"usage,omitempty"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
}

// AttachmentKind identifies the media class of a user attachment.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
	AttachmentAudio    AttachmentKind = "audio"
)

// Attachment is opaque user media passed through unchanged to the provider
// boundary. Either URI or Data is set.
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	MIMEType string         `json:"mime_type,omitempty"`
	Name     string         `json:"name,omitempty"`
	URI      string         `json:"uri,omitempty"`
	Data     []byte         `json:"data,omitempty"`
}

// Message is a single conversation entry, discriminated by Role.
//
// Exactly one of RequestMeta or ResponseMeta is set: system, user and
// tool-result messages carry RequestMeta; assistant, reasoning and tool-call
// messages carry ResponseMeta.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	// Tool call / tool result fields.
	ID        string          `json:"id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Attachments on user messages only.
	Attachments []Attachment `json:"attachments,omitempty"`

	RequestMeta  *RequestMeta  `json:"request_meta,omitempty"`
	ResponseMeta *ResponseMeta `json:"response_meta,omitempty"`
}

// NewSystem creates a system message.
func NewSystem(content string, at time.Time) Message {
	return Message{
		Role:        RoleSystem,
		Content:     content,
		RequestMeta: &RequestMeta{Timestamp: at},
	}
}

// NewUser creates a user message with optional attachments.
func NewUser(content string, at time.Time, attachments ...Attachment) Message {
	return Message{
		Role:        RoleUser,
		Content:     content,
		Attachments: attachments,
		RequestMeta: &RequestMeta{Timestamp: at},
	}
}

// NewAssistant creates an assistant response message.
func NewAssistant(content string, meta ResponseMeta) Message {
	return Message{
		Role:         RoleAssistant,
		Content:      content,
		ResponseMeta: &meta,
	}
}

// NewReasoning creates a reasoning response message.
func NewReasoning(content string, meta ResponseMeta) Message {
	return Message{
		Role:         RoleReasoning,
		Content:      content,
		ResponseMeta: &meta,
	}
}

// NewToolCall creates a tool-call response message. The arguments must be
// valid JSON as produced by the model.
func NewToolCall(id, toolName string, argumentsJSON json.RawMessage, meta ResponseMeta) Message {
	return Message{
		Role:         RoleToolCall,
		ID:           id,
		ToolName:     toolName,
		Arguments:    argumentsJSON,
		ResponseMeta: &meta,
	}
}

// NewToolResult creates a tool-result message paired with a tool call by id.
func NewToolResult(id, toolName, content string, at time.Time) Message {
	return Message{
		Role:        RoleToolResult,
		ID:          id,
		ToolName:    toolName,
		Content:     content,
		RequestMeta: &RequestMeta{Timestamp: at},
	}
}

// IsResponse reports whether the message was produced by the model.
func (m Message) IsResponse() bool {
	switch m.Role {
	case RoleAssistant, RoleReasoning, RoleToolCall:
		return true
	}
	return false
}

// Timestamp returns the message creation time regardless of side.
func (m Message) Timestamp() time.Time {
	if m.RequestMeta != nil {
		return m.RequestMeta.Timestamp
	}
	if m.ResponseMeta != nil {
		return m.ResponseMeta.Timestamp
	}
	return time.Time{}
}

// WithoutTimestamps returns a copy with all meta timestamps zeroed. Used
// when messages participate in cache keys, where creation time must not
// affect equality.
func (m Message) WithoutTimestamps() Message {
	if m.RequestMeta != nil {
		meta := *m.RequestMeta
		meta.Timestamp = time.Time{}
		m.RequestMeta = &meta
	}
	if m.ResponseMeta != nil {
		meta := *m.ResponseMeta
		meta.Timestamp = time.Time{}
		m.ResponseMeta = &meta
	}
	return m
}
