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

package message

import (
	"encoding/json"
	"time"
)

// ToolChoiceKind selects how the model may use tools.
type ToolChoiceKind string

const (
	ToolChoiceNone     ToolChoiceKind = "none"
	ToolChoiceAuto     ToolChoiceKind = "auto"
	ToolChoiceRequired ToolChoiceKind = "required"
	ToolChoiceNamed    ToolChoiceKind = "named"
)

// ToolChoice constrains tool usage for a request. Name is set only for
// ToolChoiceNamed.
type ToolChoice struct {
	Kind ToolChoiceKind `json:"kind"`
	Name string         `json:"name,omitempty"`
}

// Params holds generation parameters. All fields are optional; nil means
// provider default.
type Params struct {
	// Temperature in [0, 2].
	Temperature *float64 `json:"temperature,omitempty"`

	// MaxTokens >= 1.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// NumberOfChoices >= 1; used by multiple-choice requests.
	NumberOfChoices *int `json:"number_of_choices,omitempty"`

	// Schema constrains the response to structured output.
	Schema map[string]any `json:"schema,omitempty"`

	// ToolChoice constrains tool usage.
	ToolChoice *ToolChoice `json:"tool_choice,omitempty"`

	// Speculation carries a speculative-decoding hint for providers that
	// support it.
	Speculation string `json:"speculation,omitempty"`

	// User is an end-user identifier forwarded to the provider.
	User string `json:"user,omitempty"`

	// ProviderSpecific extends the generic contract without altering it.
	ProviderSpecific map[string]any `json:"provider_specific,omitempty"`
}

// Prompt is an ordered message sequence with an id and generation
// parameters. Prompts are value types; owners replace them atomically.
// Message order reflects conversational time.
type Prompt struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`
	Params   Params    `json:"params"`
}

// Append returns a copy of the prompt with msgs appended.
func (p Prompt) Append(msgs ...Message) Prompt {
	out := make([]Message, 0, len(p.Messages)+len(msgs))
	out = append(out, p.Messages...)
	out = append(out, msgs...)
	p.Messages = out
	return p
}

// WithMessages returns a copy of the prompt with the message sequence
// replaced.
func (p Prompt) WithMessages(msgs []Message) Prompt {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	p.Messages = out
	return p
}

// WithParams returns a copy of the prompt with the parameters replaced.
func (p Prompt) WithParams(params Params) Prompt {
	p.Params = params
	return p
}

// CopyMessages returns an independent copy of the message sequence.
func (p Prompt) CopyMessages() []Message {
	out := make([]Message, len(p.Messages))
	copy(out, p.Messages)
	return out
}

// LastMessage returns the last message and whether one exists.
func (p Prompt) LastMessage() (Message, bool) {
	if len(p.Messages) == 0 {
		return Message{}, false
	}
	return p.Messages[len(p.Messages)-1], true
}

// Builder assembles a Prompt preserving insertion order. Consecutive
// same-role messages are never coalesced.
type Builder struct {
	id       string
	params   Params
	now      func() time.Time
	messages []Message
}

// NewBuilder creates a builder for a prompt with the given id. The now
// function stamps request-side messages; pass the run clock's Now.
func NewBuilder(id string, now func() time.Time) *Builder {
	return &Builder{id: id, now: now}
}

// Params sets the generation parameters.
func (b *Builder) Params(p Params) *Builder {
	b.params = p
	return b
}

// System appends a system message.
func (b *Builder) System(content string) *Builder {
	b.messages = append(b.messages, NewSystem(content, b.now()))
	return b
}

// User appends a user message with optional attachments.
func (b *Builder) User(content string, attachments ...Attachment) *Builder {
	b.messages = append(b.messages, NewUser(content, b.now(), attachments...))
	return b
}

// Assistant appends an assistant message.
func (b *Builder) Assistant(content string) *Builder {
	b.messages = append(b.messages, NewAssistant(content, ResponseMeta{Timestamp: b.now()}))
	return b
}

// Reasoning appends a reasoning message.
func (b *Builder) Reasoning(content string) *Builder {
	b.messages = append(b.messages, NewReasoning(content, ResponseMeta{Timestamp: b.now()}))
	return b
}

// Tool appends a tool-call message.
func (b *Builder) Tool(name string, argumentsJSON json.RawMessage) *Builder {
	b.messages = append(b.messages, NewToolCall("", name, argumentsJSON, ResponseMeta{Timestamp: b.now()}))
	return b
}

// ToolResult appends a tool-result message. The optional id pairs the result
// with an earlier tool call.
func (b *Builder) ToolResult(name, content string, id ...string) *Builder {
	callID := ""
	if len(id) > 0 {
		callID = id[0]
	}
	b.messages = append(b.messages, NewToolResult(callID, name, content, b.now()))
	return b
}

// Message appends an already constructed message unchanged.
func (b *Builder) Message(m Message) *Builder {
	b.messages = append(b.messages, m)
	return b
}

// Build produces the prompt value.
func (b *Builder) Build() Prompt {
	msgs := make([]Message, len(b.messages))
	copy(msgs, b.messages)
	return Prompt{ID: b.id, Messages: msgs, Params: b.params}
}
