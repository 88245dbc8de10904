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

// Package promptcache caches LLM responses keyed by a fingerprint of the
// request. The fingerprint ignores message timestamps and response metadata,
// so replaying the same conversation at a different time hits the cache.
//
// Concurrent misses on the same key coalesce into a single underlying
// computation; every waiter receives its own copy of the result.
package promptcache

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/strandkit/strand/pkg/message"
	"github.com/strandkit/strand/pkg/tool"
	"github.com/strandkit/strand/pkg/utils"
)

// Cache is a concurrency-safe prompt-response cache.
type Cache struct {
	clock utils.Clock

	mu      sync.RWMutex
	entries map[string][]message.Message
	group   singleflight.Group
}

// New creates an empty cache. A nil clock defaults to the system clock.
func New(clock utils.Clock) *Cache {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &Cache{
		clock:   clock,
		entries: make(map[string][]message.Message),
	}
}

// canonicalMessage is the cache-key projection of a message: content without
// any metadata, so creation time and provider accounting never affect
// equality.
type canonicalMessage struct {
	Role        message.Role         `json:"role"`
	Content     string               `json:"content,omitempty"`
	ID          string               `json:"id,omitempty"`
	ToolName    string               `json:"tool_name,omitempty"`
	Arguments   json.RawMessage      `json:"arguments,omitempty"`
	Attachments []message.Attachment `json:"attachments,omitempty"`
}

type canonicalRequest struct {
	Messages []canonicalMessage `json:"messages"`
	Params   message.Params     `json:"params"`
	Tools    []tool.Descriptor  `json:"tools,omitempty"`
}

// Key returns the fingerprint of (prompt, tools): FNV-64a over the canonical
// serialization, rendered as the base-36 absolute value.
func Key(prompt message.Prompt, tools []tool.Descriptor) string {
	req := canonicalRequest{
		Messages: make([]canonicalMessage, len(prompt.Messages)),
		Params:   prompt.Params,
		Tools:    tools,
	}
	for i, m := range prompt.Messages {
		req.Messages[i] = canonicalMessage{
			Role:        m.Role,
			Content:     m.Content,
			ID:          m.ID,
			ToolName:    m.ToolName,
			Arguments:   m.Arguments,
			Attachments: m.Attachments,
		}
	}

	data, err := json.Marshal(req)
	if err != nil {
		// Only unmarshalable ProviderSpecific values can land here; fall
		// back to a key that never collides with real fingerprints.
		return "invalid"
	}

	h := fnv.New64a()
	h.Write(data)
	v := int64(h.Sum64())
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}

// Get returns a deep copy of the cached responses for the request, with
// response timestamps rewritten to now. The second return reports a hit.
func (c *Cache) Get(prompt message.Prompt, tools []tool.Descriptor) ([]message.Message, bool) {
	c.mu.RLock()
	cached, ok := c.entries[Key(prompt, tools)]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return c.copyOut(cached), true
}

// Put stores the responses for the request.
func (c *Cache) Put(prompt message.Prompt, tools []tool.Descriptor, responses []message.Message) {
	key := Key(prompt, tools)
	stored := copyMessages(responses)

	c.mu.Lock()
	c.entries[key] = stored
	c.mu.Unlock()
}

// GetOrCompute returns the cached responses or runs compute on a miss.
// Concurrent misses on the same key share one compute call; each caller
// gets an independent copy with fresh response timestamps.
func (c *Cache) GetOrCompute(ctx context.Context, prompt message.Prompt, tools []tool.Descriptor, compute func(ctx context.Context) ([]message.Message, error)) ([]message.Message, error) {
	key := Key(prompt, tools)

	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return c.copyOut(cached), nil
	}

	_, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check: a concurrent Put may have landed before we got here.
		c.mu.RLock()
		_, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return nil, nil
		}

		responses, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = copyMessages(responses)
		c.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	stored := c.entries[key]
	c.mu.RUnlock()
	return c.copyOut(stored), nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// copyOut deep-copies cached responses and rewrites response timestamps to
// the current clock time. Content is never touched.
func (c *Cache) copyOut(cached []message.Message) []message.Message {
	now := c.clock.Now()
	out := copyMessages(cached)
	for i := range out {
		if out[i].ResponseMeta != nil {
			meta := *out[i].ResponseMeta
			meta.Timestamp = now
			out[i].ResponseMeta = &meta
		}
	}
	return out
}

func copyMessages(msgs []message.Message) []message.Message {
	out := make([]message.Message, len(msgs))
	for i, m := range msgs {
		if m.Arguments != nil {
			m.Arguments = append(json.RawMessage(nil), m.Arguments...)
		}
		if m.Attachments != nil {
			m.Attachments = append([]message.Attachment(nil), m.Attachments...)
		}
		if m.RequestMeta != nil {
			meta := *m.RequestMeta
			m.RequestMeta = &meta
		}
		if m.ResponseMeta != nil {
			meta := *m.ResponseMeta
			if meta.Usage != nil {
				usage := *meta.Usage
				meta.Usage = &usage
			}
			m.ResponseMeta = &meta
		}
		out[i] = m
	}
	return out
}
