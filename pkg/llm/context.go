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

package llm

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/strandkit/strand/pkg/message"
	"github.com/strandkit/strand/pkg/tool"
	"github.com/strandkit/strand/pkg/utils"
)

// Config holds per-context request settings.
type Config struct {
	// RequestTimeout bounds a single executor call. Zero means no bound
	// beyond the caller's context.
	RequestTimeout time.Duration
}

// Options configures a new Context.
type Options struct {
	Prompt      message.Prompt
	Tools       []tool.Descriptor
	Model       string
	Environment any
	Executor    PromptExecutor
	Config      Config

	// Clock defaults to the system clock.
	Clock utils.Clock
}

// Context owns a conversation: the current prompt, the active tool list, the
// bound model, an environment, and the executor that serves requests.
//
// All mutation goes through an exclusive write session. Reads are concurrent.
type Context struct {
	executor PromptExecutor
	config   Config
	clock    utils.Clock

	// writer is a one-slot token channel implementing the exclusive write
	// lock. Acquisition blocks and honours context cancellation.
	writer chan struct{}

	// state below is guarded by the write lock for mutation; reads take a
	// consistent snapshot through the read session.
	state chan contextState
}

type contextState struct {
	prompt      message.Prompt
	tools       []tool.Descriptor
	model       string
	environment any
}

// NewContext creates a context over the given executor.
func NewContext(opts Options) (*Context, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = utils.SystemClock{}
	}

	c := &Context{
		executor: opts.Executor,
		config:   opts.Config,
		clock:    clock,
		writer:   make(chan struct{}, 1),
		state:    make(chan contextState, 1),
	}
	c.state <- contextState{
		prompt:      opts.Prompt,
		tools:       append([]tool.Descriptor(nil), opts.Tools...),
		model:       opts.Model,
		environment: opts.Environment,
	}
	return c, nil
}

// Clock returns the context clock.
func (c *Context) Clock() utils.Clock {
	return c.clock
}

func (c *Context) snapshot() contextState {
	s := <-c.state
	c.state <- s
	return s
}

func (c *Context) store(s contextState) {
	<-c.state
	c.state <- s
}

// Read returns a read session. Reads are concurrent-safe and see the state
// as of each call; they never block writers.
func (c *Context) Read() ReadSession {
	return ReadSession{c: c}
}

// ReadSession provides concurrent-safe reads of the context state.
type ReadSession struct {
	c *Context
}

// Prompt returns a copy of the current prompt.
func (r ReadSession) Prompt() message.Prompt {
	s := r.c.snapshot()
	return s.prompt.WithMessages(s.prompt.Messages)
}

// Tools returns a copy of the active tool descriptors.
func (r ReadSession) Tools() []tool.Descriptor {
	s := r.c.snapshot()
	return append([]tool.Descriptor(nil), s.tools...)
}

// Model returns the bound model name.
func (r ReadSession) Model() string {
	return r.c.snapshot().model
}

// Environment returns the environment value.
func (r ReadSession) Environment() any {
	return r.c.snapshot().environment
}

// AcquireWrite acquires the exclusive write session, blocking until the
// current writer releases or ctx is cancelled.
func (c *Context) AcquireWrite(ctx context.Context) (*WriteSession, error) {
	select {
	case c.writer <- struct{}{}:
		return &WriteSession{c: c}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write runs fn under the exclusive write session.
func (c *Context) Write(ctx context.Context, fn func(*WriteSession) error) error {
	ws, err := c.AcquireWrite(ctx)
	if err != nil {
		return err
	}
	defer ws.Release()
	return fn(ws)
}

// WriteSession is the exclusive mutation handle. At most one is active per
// context; all prompt mutation and all LLM requests go through it.
type WriteSession struct {
	c        *Context
	released bool
}

// Release returns the write lock. Safe to call more than once.
func (w *WriteSession) Release() {
	if w.released {
		return
	}
	w.released = true
	<-w.c.writer
}

// Prompt returns the current prompt.
func (w *WriteSession) Prompt() message.Prompt {
	return w.c.snapshot().prompt
}

// SetPrompt replaces the prompt atomically.
func (w *WriteSession) SetPrompt(p message.Prompt) {
	s := w.c.snapshot()
	s.prompt = p
	w.c.store(s)
}

// AppendMessages appends messages to the prompt in order.
func (w *WriteSession) AppendMessages(msgs ...message.Message) {
	s := w.c.snapshot()
	s.prompt = s.prompt.Append(msgs...)
	w.c.store(s)
}

// SetTools replaces the active tool list.
func (w *WriteSession) SetTools(tools []tool.Descriptor) {
	s := w.c.snapshot()
	s.tools = append([]tool.Descriptor(nil), tools...)
	w.c.store(s)
}

// SetModel rebinds the model.
func (w *WriteSession) SetModel(model string) {
	s := w.c.snapshot()
	s.model = model
	w.c.store(s)
}

// SetEnvironment replaces the environment value.
func (w *WriteSession) SetEnvironment(env any) {
	s := w.c.snapshot()
	s.environment = env
	w.c.store(s)
}

// Clock returns the context clock.
func (w *WriteSession) Clock() utils.Clock {
	return w.c.clock
}

func (w *WriteSession) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.c.config.RequestTimeout > 0 {
		return context.WithTimeout(ctx, w.c.config.RequestTimeout)
	}
	return ctx, func() {}
}

// RequestLLM issues a single request and returns the produced response
// messages in order. The messages are appended to the prompt after the
// executor returns, so pipeline completion hooks observe the prompt as it
// was when the call was issued.
func (w *WriteSession) RequestLLM(ctx context.Context) ([]message.Message, error) {
	s := w.c.snapshot()

	reqCtx, cancel := w.requestContext(ctx)
	defer cancel()

	responses, err := w.c.executor.Execute(reqCtx, s.prompt, s.model, s.tools)
	if err != nil {
		return nil, err
	}

	w.AppendMessages(responses...)
	return responses, nil
}

// RequestLLMStreaming issues a streaming request and returns the frame flow.
// Frames are yielded as they arrive; after the end frame the assembled
// response messages are appended to the prompt. The flow is single-use:
// restart only by issuing a new request.
func (w *WriteSession) RequestLLMStreaming(ctx context.Context) iter.Seq2[StreamFrame, error] {
	s := w.c.snapshot()

	return func(yield func(StreamFrame, error) bool) {
		reqCtx, cancel := w.requestContext(ctx)
		defer cancel()

		acc := newFrameAccumulator(w.c.clock.Now())
		for frame, err := range w.c.executor.ExecuteStreaming(reqCtx, s.prompt, s.model, s.tools) {
			if err != nil {
				yield(StreamFrame{}, err)
				return
			}
			acc.add(frame)
			if !yield(frame, nil) {
				return
			}
		}

		w.AppendMessages(acc.messages()...)
	}
}

// RequestLLMMultipleChoices issues an n-way request and returns the
// alternative response sequences. Nothing is appended: the caller selects
// one via SelectChoice, which makes it canonical.
func (w *WriteSession) RequestLLMMultipleChoices(ctx context.Context, n int) ([][]message.Message, error) {
	if n < 1 {
		return nil, fmt.Errorf("number of choices must be >= 1, got %d", n)
	}
	s := w.c.snapshot()

	numberOfChoices := n
	params := s.prompt.Params
	params.NumberOfChoices = &numberOfChoices
	prompt := s.prompt.WithParams(params)

	reqCtx, cancel := w.requestContext(ctx)
	defer cancel()

	return ExecuteMultipleChoices(reqCtx, w.c.executor, prompt, s.model, s.tools, n)
}

// SelectChoice applies the strategy to choices, appends the selected
// sequence to the prompt, and returns it.
func (w *WriteSession) SelectChoice(ctx context.Context, strategy ChoiceStrategy, choices [][]message.Message) ([]message.Message, error) {
	if len(choices) == 0 {
		return nil, fmt.Errorf("no choices to select from")
	}
	idx, err := strategy.Select(ctx, choices)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(choices) {
		return nil, fmt.Errorf("choice index %d out of range [0, %d)", idx, len(choices))
	}

	selected := choices[idx]
	w.AppendMessages(selected...)
	return selected, nil
}

// WithUpdatedPrompt captures the current prompt, runs fn (which may rewrite
// the prompt and issue requests), then unconditionally restores the original
// prompt. Restoration happens on normal return, error, and panic, so
// temporary rewrites never leak into the conversation.
func (w *WriteSession) WithUpdatedPrompt(fn func(*WriteSession) error) error {
	original := w.Prompt()
	defer w.SetPrompt(original)
	return fn(w)
}

// frameAccumulator assembles streamed frames into response messages,
// preserving arrival order across text and tool-call segments.
type frameAccumulator struct {
	at       time.Time
	segments []frameSegment
	byCallID map[string]int
	finish   message.FinishReason
	usage    *message.Usage
	sawEnd   bool
}

type frameSegment struct {
	isToolCall bool
	text       string
	callID     string
	toolName   string
	args       []byte
}

func newFrameAccumulator(at time.Time) *frameAccumulator {
	return &frameAccumulator{at: at, byCallID: make(map[string]int)}
}

func (a *frameAccumulator) add(frame StreamFrame) {
	switch frame.Kind {
	case FrameTextKind:
		if n := len(a.segments); n > 0 && !a.segments[n-1].isToolCall {
			a.segments[n-1].text += frame.TextDelta
			return
		}
		a.segments = append(a.segments, frameSegment{text: frame.TextDelta})

	case FrameToolCallKind:
		if idx, ok := a.byCallID[frame.ToolCallID]; ok && frame.ToolCallID != "" {
			a.segments[idx].args = append(a.segments[idx].args, frame.ArgumentsPart...)
			return
		}
		a.byCallID[frame.ToolCallID] = len(a.segments)
		a.segments = append(a.segments, frameSegment{
			isToolCall: true,
			callID:     frame.ToolCallID,
			toolName:   frame.ToolName,
			args:       append([]byte(nil), frame.ArgumentsPart...),
		})

	case FrameEndKind:
		a.sawEnd = true
		a.finish = frame.FinishReason
		a.usage = frame.Usage
	}
}

func (a *frameAccumulator) messages() []message.Message {
	if len(a.segments) == 0 {
		return nil
	}

	msgs := make([]message.Message, 0, len(a.segments))
	for i, seg := range a.segments {
		meta := message.ResponseMeta{Timestamp: a.at}
		if i == len(a.segments)-1 && a.sawEnd {
			meta.FinishReason = a.finish
			meta.Usage = a.usage
		}
		if seg.isToolCall {
			msgs = append(msgs, message.NewToolCall(seg.callID, seg.toolName, seg.args, meta))
		} else {
			msgs = append(msgs, message.NewAssistant(seg.text, meta))
		}
	}
	return msgs
}
