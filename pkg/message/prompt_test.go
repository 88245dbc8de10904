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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestBuilder_PreservesInsertionOrder(t *testing.T) {
	p := NewBuilder("p1", fixedNow).
		System("be terse").
		User("hi").
		User("again").
		Assistant("hello").
		Tool("eval", json.RawMessage(`{"expr":"2+2"}`)).
		ToolResult("eval", "4", "call-1").
		Build()

	require.Len(t, p.Messages, 6)
	assert.Equal(t, RoleSystem, p.Messages[0].Role)
	assert.Equal(t, RoleUser, p.Messages[1].Role)
	// Consecutive same-role messages are not coalesced.
	assert.Equal(t, RoleUser, p.Messages[2].Role)
	assert.Equal(t, RoleAssistant, p.Messages[3].Role)
	assert.Equal(t, RoleToolCall, p.Messages[4].Role)
	assert.Equal(t, RoleToolResult, p.Messages[5].Role)
	assert.Equal(t, "call-1", p.Messages[5].ID)
}

func TestPrompt_AppendIsCopyOnWrite(t *testing.T) {
	base := NewBuilder("p1", fixedNow).User("hi").Build()

	extended := base.Append(NewAssistant("hello", ResponseMeta{Timestamp: fixedNow()}))

	assert.Len(t, base.Messages, 1)
	assert.Len(t, extended.Messages, 2)

	// The original backing array must not be shared.
	extended.Messages[0] = NewUser("mutated", fixedNow())
	assert.Equal(t, "hi", base.Messages[0].Content)
}

func TestMessage_WithoutTimestamps(t *testing.T) {
	m := NewAssistant("hello", ResponseMeta{
		Timestamp:    fixedNow(),
		Usage:        &Usage{TotalTokens: 10},
		FinishReason: FinishReasonStop,
	})

	stripped := m.WithoutTimestamps()

	assert.True(t, stripped.ResponseMeta.Timestamp.IsZero())
	assert.Equal(t, FinishReasonStop, stripped.ResponseMeta.FinishReason)
	// Original is untouched.
	assert.Equal(t, fixedNow(), m.ResponseMeta.Timestamp)
}

func TestMessage_Sides(t *testing.T) {
	tests := []struct {
		name       string
		msg        Message
		isResponse bool
	}{
		{"system", NewSystem("s", fixedNow()), false},
		{"user", NewUser("u", fixedNow()), false},
		{"assistant", NewAssistant("a", ResponseMeta{Timestamp: fixedNow()}), true},
		{"reasoning", NewReasoning("r", ResponseMeta{Timestamp: fixedNow()}), true},
		{"tool call", NewToolCall("id", "t", nil, ResponseMeta{Timestamp: fixedNow()}), true},
		{"tool result", NewToolResult("id", "t", "ok", fixedNow()), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.isResponse, tt.msg.IsResponse())
			assert.Equal(t, fixedNow(), tt.msg.Timestamp())
		})
	}
}

func TestPrompt_JSONRoundTrip(t *testing.T) {
	p := NewBuilder("p1", fixedNow).
		System("sys").
		User("hi", Attachment{Kind: AttachmentImage, MIMEType: "image/png", URI: "file:///x.png"}).
		Build()

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var back Prompt
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, p, back)
}
