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

// Package memory is the pipeline feature that carries facts across
// conversations. After a run completes it asks the LLM to extract durable
// facts from the transcript (through a temporary prompt rewrite, so the
// extraction never appears in the conversation) and stores them in a
// chromem-go vector collection. At the start of the next run it recalls
// the facts most similar to the input and injects them into the prompt.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/strandkit/strand/pkg/agent"
	"github.com/strandkit/strand/pkg/llm"
	"github.com/strandkit/strand/pkg/message"
	"github.com/strandkit/strand/pkg/pipeline"
	"github.com/strandkit/strand/pkg/strategy"
)

// FeatureKey identifies the memory feature.
const FeatureKey pipeline.FeatureKey = "memory"

const defaultExtractionInstruction = "Extract durable facts about the user and the task from the conversation. " +
	"Reply with one fact per line prefixed by \"- \". Reply with an empty line if there is nothing worth remembering."

// Fact is a recalled memory entry.
type Fact struct {
	ID         string
	Content    string
	Similarity float32
}

// StoreConfig configures a fact store.
type StoreConfig struct {
	// Embedding computes vectors for fact text. Required.
	Embedding chromem.EmbeddingFunc

	// PersistPath persists the database under this directory. Empty keeps
	// everything in memory.
	PersistPath string

	// Compress gzips the persisted database.
	Compress bool

	// Collection name, "facts" by default.
	Collection string
}

// Store is a chromem-go backed fact store.
type Store struct {
	collection *chromem.Collection
}

// NewStore opens or creates the fact collection.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Embedding == nil {
		return nil, fmt.Errorf("embedding function is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "facts"
	}

	var db *chromem.DB
	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}
		path := filepath.Join(cfg.PersistPath, "facts.gob")
		var err error
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open fact database: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %q: %w", cfg.Collection, err)
	}
	return &Store{collection: collection}, nil
}

// Remember stores one fact.
func (s *Store) Remember(ctx context.Context, content string, metadata map[string]string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("fact content is empty")
	}
	return s.collection.AddDocument(ctx, chromem.Document{
		ID:       uuid.NewString(),
		Content:  content,
		Metadata: metadata,
	})
}

// Recall returns up to limit facts most similar to query, best first.
func (s *Store) Recall(ctx context.Context, query string, limit int) ([]Fact, error) {
	count := s.collection.Count()
	if count == 0 || limit <= 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	results, err := s.collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("recall failed: %w", err)
	}

	facts := make([]Fact, 0, len(results))
	for _, r := range results {
		facts = append(facts, Fact{ID: r.ID, Content: r.Content, Similarity: r.Similarity})
	}
	return facts, nil
}

// Count reports the number of stored facts.
func (s *Store) Count() int { return s.collection.Count() }

// Config configures the memory feature.
type Config struct {
	// Store receives extracted facts. Required.
	Store *Store

	// RecallLimit bounds how many facts are injected per run. Defaults
	// to 3.
	RecallLimit int

	// ExtractionInstruction overrides the system prompt used for fact
	// extraction.
	ExtractionInstruction string
}

// Memory is the feature.
type Memory struct {
	config Config
}

// New creates the feature.
func New(cfg Config) (*Memory, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("fact store is required")
	}
	if cfg.RecallLimit == 0 {
		cfg.RecallLimit = 3
	}
	if cfg.ExtractionInstruction == "" {
		cfg.ExtractionInstruction = defaultExtractionInstruction
	}
	return &Memory{config: cfg}, nil
}

// Key implements pipeline.Feature.
func (m *Memory) Key() pipeline.FeatureKey { return FeatureKey }

// Install implements pipeline.Feature.
func (m *Memory) Install(p *pipeline.Pipeline) error {
	p.OnAgentStarting(func(ev *pipeline.AgentStartingEvent) {
		rc, ok := pipeline.FeatureData[*strategy.RunContext](p, agent.RunContextDataKey)
		if !ok {
			return
		}
		m.injectRecalled(rc, fmt.Sprint(ev.Input))
	})

	p.OnAgentCompleted(func(ev *pipeline.AgentCompletedEvent) {
		rc, ok := pipeline.FeatureData[*strategy.RunContext](p, agent.RunContextDataKey)
		if !ok {
			return
		}
		m.extractFacts(rc)
	})

	return nil
}

func (m *Memory) injectRecalled(rc *strategy.RunContext, query string) {
	ctx := context.Background()

	facts, err := m.config.Store.Recall(ctx, query, m.config.RecallLimit)
	if err != nil {
		slog.Warn("Failed to recall facts", "agentId", rc.AgentID, "error", err)
		return
	}
	if len(facts) == 0 {
		return
	}

	var b strings.Builder
	b.WriteString("Facts recalled from earlier conversations:\n")
	for _, fact := range facts {
		b.WriteString("- ")
		b.WriteString(fact.Content)
		b.WriteString("\n")
	}

	clock := rc.LLM.Clock()
	err = rc.LLM.Write(ctx, func(ws *llm.WriteSession) error {
		ws.AppendMessages(message.NewSystem(b.String(), clock.Now()))
		return nil
	})
	if err != nil {
		slog.Warn("Failed to inject recalled facts", "agentId", rc.AgentID, "error", err)
	}
}

func (m *Memory) extractFacts(rc *strategy.RunContext) {
	ctx := context.Background()
	clock := rc.LLM.Clock()

	transcript := transcriptOf(rc.LLM.Read().Prompt().Messages)
	if transcript == "" {
		return
	}

	var responses []message.Message
	err := rc.LLM.Write(ctx, func(ws *llm.WriteSession) error {
		return ws.WithUpdatedPrompt(func(ws *llm.WriteSession) error {
			ws.SetPrompt(message.NewBuilder("fact-extraction", clock.Now).
				System(m.config.ExtractionInstruction).
				User(transcript).
				Build())
			var err error
			responses, err = ws.RequestLLM(ctx)
			return err
		})
	})
	if err != nil {
		slog.Warn("Fact extraction failed", "agentId", rc.AgentID, "error", err)
		return
	}

	for _, fact := range parseFacts(responses) {
		err := m.config.Store.Remember(ctx, fact, map[string]string{"agent_id": rc.AgentID})
		if err != nil {
			slog.Warn("Failed to store fact", "agentId", rc.AgentID, "error", err)
		}
	}
}

// transcriptOf renders user and assistant turns as plain text.
func transcriptOf(messages []message.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case message.RoleUser:
			b.WriteString("User: ")
		case message.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// parseFacts reads "- fact" lines from extraction responses.
func parseFacts(responses []message.Message) []string {
	var facts []string
	for _, msg := range responses {
		for _, line := range strings.Split(msg.Content, "\n") {
			line = strings.TrimSpace(line)
			if fact, ok := strings.CutPrefix(line, "- "); ok && fact != "" {
				facts = append(facts, fact)
			}
		}
	}
	return facts
}

var _ pipeline.Feature = (*Memory)(nil)
