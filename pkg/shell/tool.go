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

package shell

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/strandkit/strand/pkg/tool"
)

// ToolName is the registry name of the shell tool.
const ToolName = "execute_command"

// Tool exposes an Executor through the tool registry so strategies can call
// it like any other tool.
type Tool struct {
	executor *Executor
}

// NewTool wraps an executor.
func NewTool(executor *Executor) *Tool {
	return &Tool{executor: executor}
}

// Descriptor implements tool.Tool.
func (t *Tool) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        ToolName,
		Description: "Execute a shell command in a fresh shell. State does not persist between calls.",
		RequiredParams: []tool.Param{
			{Name: "command", Description: "The command to execute", Type: tool.String{}},
			{Name: "timeoutSeconds", Description: "Seconds before the command is killed", Type: tool.Integer{}},
		},
		OptionalParams: []tool.Param{
			{Name: "workingDirectory", Description: "Directory to run the command in", Type: tool.String{}},
		},
	}
}

// Execute implements tool.Tool.
func (t *Tool) Execute(ctx context.Context, argsJSON json.RawMessage) (json.RawMessage, error) {
	var args Args
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	result, err := t.executor.Execute(ctx, args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

var _ tool.Tool = (*Tool)(nil)
