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

// Package tool defines tool metadata and execution.
//
// A tool exposes a Descriptor (name, description, typed parameter tree) that
// the runtime hands to the model, and an Execute method taking the model's
// JSON arguments. Tools that touch external resources are invoked through
// the shell boundary rather than directly.
//
// The parameter tree is a tagged sum (ParamType) that mirrors the subset of
// JSON schema tools are described with: primitives, enums, lists, objects
// and anyOf unions, nested to a bounded depth.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ParamType is the tagged sum of tool parameter types.
type ParamType interface {
	// Kind returns the discriminator for this type.
	Kind() string
}

// String is the string primitive.
type String struct{}

// Integer is the integer primitive.
type Integer struct{}

// Float is the floating-point primitive.
type Float struct{}

// Boolean is the boolean primitive.
type Boolean struct{}

// Null is the JSON null type.
type Null struct{}

// Enum is a closed set of string values.
type Enum struct {
	Values []string
}

// List is a homogeneous array with an item type.
type List struct {
	Item ParamType
}

// Object is a record with named, typed properties.
type Object struct {
	Properties map[string]ParamType
	Required   []string

	// AdditionalProperties follows JSON schema: nil means unspecified,
	// AdditionalBool allows/forbids free-form keys, AdditionalSchema types
	// them.
	AdditionalBool   *bool
	AdditionalSchema ParamType
}

// AnyOf is a union of alternatives. Unions with a single non-null branch are
// collapsed to Nullable during schema parsing; this type only carries
// genuine multi-branch unions.
type AnyOf struct {
	Types []ParamType
}

// Nullable wraps a type that also admits null.
type Nullable struct {
	Of ParamType
}

func (String) Kind() string   { return "string" }
func (Integer) Kind() string  { return "integer" }
func (Float) Kind() string    { return "number" }
func (Boolean) Kind() string  { return "boolean" }
func (Null) Kind() string     { return "null" }
func (Enum) Kind() string     { return "enum" }
func (List) Kind() string     { return "list" }
func (Object) Kind() string   { return "object" }
func (AnyOf) Kind() string    { return "anyOf" }
func (Nullable) Kind() string { return "nullable" }

// Param describes one tool parameter.
type Param struct {
	Name        string
	Description string
	Type        ParamType
}

// Descriptor is the tool metadata handed to the model.
type Descriptor struct {
	Name           string
	Description    string
	RequiredParams []Param
	OptionalParams []Param
}

// Params returns required then optional parameters.
func (d Descriptor) Params() []Param {
	out := make([]Param, 0, len(d.RequiredParams)+len(d.OptionalParams))
	out = append(out, d.RequiredParams...)
	out = append(out, d.OptionalParams...)
	return out
}

// Tool is an executable capability. Execute receives the model's raw JSON
// arguments and returns a JSON result.
type Tool interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, argsJSON json.RawMessage) (json.RawMessage, error)
}

// Registry maps tool names to tools and rejects duplicates.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, failing if the name is taken.
func (r *Registry) Register(t Tool) error {
	name := t.Descriptor().Name
	if name == "" {
		return fmt.Errorf("tool name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, &NotRegisteredError{Name: name}
	}
	return t, nil
}

// Descriptors returns all registered descriptors sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns registered tool names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
