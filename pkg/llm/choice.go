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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/strandkit/strand/pkg/message"
)

// ChoiceStrategy selects one of the alternative response sequences produced
// by a multiple-choice request.
type ChoiceStrategy interface {
	Select(ctx context.Context, choices [][]message.Message) (int, error)
}

// FirstChoice always selects the first alternative.
type FirstChoice struct{}

func (FirstChoice) Select(_ context.Context, _ [][]message.Message) (int, error) {
	return 0, nil
}

// FuncChoice adapts a function to a ChoiceStrategy.
type FuncChoice func(ctx context.Context, choices [][]message.Message) (int, error)

func (f FuncChoice) Select(ctx context.Context, choices [][]message.Message) (int, error) {
	return f(ctx, choices)
}

// AskUserChoice presents the alternatives on a terminal and reads the
// user's pick. When stdin is not a terminal it falls back to the first
// choice, so non-interactive runs never hang.
type AskUserChoice struct {
	// In defaults to os.Stdin.
	In *os.File

	// Out defaults to os.Stderr.
	Out io.Writer
}

func (a AskUserChoice) Select(ctx context.Context, choices [][]message.Message) (int, error) {
	in := a.In
	if in == nil {
		in = os.Stdin
	}
	out := a.Out
	if out == nil {
		out = os.Stderr
	}

	if !term.IsTerminal(int(in.Fd())) {
		return 0, nil
	}

	for i, choice := range choices {
		fmt.Fprintf(out, "[%d] %s\n", i+1, summarize(choice))
	}
	fmt.Fprintf(out, "Select a response [1-%d]: ", len(choices))

	reader := bufio.NewReader(in)
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			return 0, fmt.Errorf("failed to read choice: %w", err)
		}

		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || n < 1 || n > len(choices) {
			fmt.Fprintf(out, "Enter a number between 1 and %d: ", len(choices))
			continue
		}
		return n - 1, nil
	}
}

// summarize renders a one-line preview of a response sequence.
func summarize(msgs []message.Message) string {
	var parts []string
	for _, m := range msgs {
		switch m.Role {
		case message.RoleToolCall:
			parts = append(parts, fmt.Sprintf("call %s(%s)", m.ToolName, string(m.Arguments)))
		default:
			parts = append(parts, m.Content)
		}
	}
	line := strings.Join(parts, " ")
	if len(line) > 120 {
		line = line[:117] + "..."
	}
	return line
}

var (
	_ ChoiceStrategy = FirstChoice{}
	_ ChoiceStrategy = FuncChoice(nil)
	_ ChoiceStrategy = AskUserChoice{}
)
