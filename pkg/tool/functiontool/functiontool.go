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

// Package functiontool wraps a plain Go function as a tool. The argument
// struct's JSON schema is generated by reflection, and incoming arguments
// are validated by decoding into the struct with unknown fields rejected.
package functiontool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/strandkit/strand/pkg/tool"
)

// Func is the wrapped function signature. Args is decoded from the model's
// JSON arguments; the returned value is encoded as the tool result.
type Func[Args any, Result any] func(ctx context.Context, args Args) (Result, error)

// FunctionTool adapts a Go function to the tool.Tool interface.
type FunctionTool[Args any, Result any] struct {
	descriptor tool.Descriptor
	fn         Func[Args, Result]
}

// New creates a function tool. The descriptor's parameter tree is derived
// from the Args struct via reflection.
func New[Args any, Result any](name, description string, fn Func[Args, Result]) (*FunctionTool[Args, Result], error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}

	schema, err := tool.ReflectSchema[Args]()
	if err != nil {
		return nil, err
	}

	descriptor, err := tool.DescriptorFromSchema(name, description, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to build descriptor for %q: %w", name, err)
	}

	return &FunctionTool[Args, Result]{descriptor: descriptor, fn: fn}, nil
}

// Descriptor returns the tool metadata.
func (t *FunctionTool[Args, Result]) Descriptor() tool.Descriptor {
	return t.descriptor
}

// Execute decodes the arguments, runs the function and encodes its result.
// Malformed or unknown arguments surface as a ValidationError.
func (t *FunctionTool[Args, Result]) Execute(ctx context.Context, argsJSON json.RawMessage) (json.RawMessage, error) {
	var args Args
	if len(argsJSON) > 0 {
		dec := json.NewDecoder(bytes.NewReader(argsJSON))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&args); err != nil {
			return nil, &tool.ValidationError{Name: t.descriptor.Name, Reason: err.Error()}
		}
	}

	result, err := t.fn(ctx, args)
	if err != nil {
		return nil, &tool.ExecutionError{Name: t.descriptor.Name, Cause: err}
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, &tool.ExecutionError{Name: t.descriptor.Name, Cause: fmt.Errorf("failed to encode result: %w", err)}
	}
	return out, nil
}

var _ tool.Tool = (*FunctionTool[struct{}, struct{}])(nil)
