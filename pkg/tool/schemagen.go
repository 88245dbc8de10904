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

package tool

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaGenerator renders a Descriptor's parameter tree into a provider
// schema. Providers differ in which constructs they accept, so the generator
// is chosen per provider at the executor boundary.
type SchemaGenerator interface {
	Generate(d Descriptor) (map[string]any, error)
}

// JSONSchemaGenerator renders the full parameter tree into a standard JSON
// schema object. It supports every ParamType.
type JSONSchemaGenerator struct{}

// Generate renders d's parameters as a JSON schema object.
func (JSONSchemaGenerator) Generate(d Descriptor) (map[string]any, error) {
	properties := make(map[string]any)
	var required []string

	for _, p := range d.RequiredParams {
		s, err := typeToSchema(p.Type, 0)
		if err != nil {
			return nil, err
		}
		if p.Description != "" {
			s["description"] = p.Description
		}
		properties[p.Name] = s
		required = append(required, p.Name)
	}
	for _, p := range d.OptionalParams {
		s, err := typeToSchema(p.Type, 0)
		if err != nil {
			return nil, err
		}
		if p.Description != "" {
			s["description"] = p.Description
		}
		properties[p.Name] = s
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema, nil
}

// SimpleSchemaGenerator renders schemas for providers that reject anyOf
// unions; encountering one fails with a SchemaError.
type SimpleSchemaGenerator struct{}

// Generate renders d's parameters, rejecting AnyOf types.
func (SimpleSchemaGenerator) Generate(d Descriptor) (map[string]any, error) {
	for _, p := range d.Params() {
		if containsAnyOf(p.Type, 0) {
			return nil, &SchemaError{Reason: fmt.Sprintf("anyOf is not supported for parameter %q", p.Name)}
		}
	}
	return JSONSchemaGenerator{}.Generate(d)
}

func containsAnyOf(t ParamType, depth int) bool {
	if depth > maxSchemaDepth {
		return false
	}
	switch v := t.(type) {
	case AnyOf:
		return true
	case Nullable:
		return containsAnyOf(v.Of, depth+1)
	case List:
		return containsAnyOf(v.Item, depth+1)
	case Object:
		for _, p := range v.Properties {
			if containsAnyOf(p, depth+1) {
				return true
			}
		}
		if v.AdditionalSchema != nil {
			return containsAnyOf(v.AdditionalSchema, depth+1)
		}
	}
	return false
}

func typeToSchema(t ParamType, depth int) (map[string]any, error) {
	if depth > maxSchemaDepth {
		return nil, &SchemaError{Reason: fmt.Sprintf("maximum recursion depth %d exceeded", maxSchemaDepth)}
	}

	switch v := t.(type) {
	case String:
		return map[string]any{"type": "string"}, nil
	case Integer:
		return map[string]any{"type": "integer"}, nil
	case Float:
		return map[string]any{"type": "number"}, nil
	case Boolean:
		return map[string]any{"type": "boolean"}, nil
	case Null:
		return map[string]any{"type": "null"}, nil
	case Enum:
		values := make([]any, len(v.Values))
		for i, s := range v.Values {
			values[i] = s
		}
		return map[string]any{"type": "string", "enum": values}, nil
	case List:
		item, err := typeToSchema(v.Item, depth+1)
		if err != nil {
			return nil, err
		}
		return map[string]any{"type": "array", "items": item}, nil
	case Object:
		properties := make(map[string]any, len(v.Properties))
		for name, p := range v.Properties {
			s, err := typeToSchema(p, depth+1)
			if err != nil {
				return nil, err
			}
			properties[name] = s
		}
		schema := map[string]any{"type": "object", "properties": properties}
		if len(v.Required) > 0 {
			required := make([]any, len(v.Required))
			for i, r := range v.Required {
				required[i] = r
			}
			schema["required"] = required
		}
		if v.AdditionalBool != nil {
			schema["additionalProperties"] = *v.AdditionalBool
		} else if v.AdditionalSchema != nil {
			s, err := typeToSchema(v.AdditionalSchema, depth+1)
			if err != nil {
				return nil, err
			}
			schema["additionalProperties"] = s
		}
		return schema, nil
	case AnyOf:
		branches := make([]any, 0, len(v.Types))
		for _, b := range v.Types {
			s, err := typeToSchema(b, depth+1)
			if err != nil {
				return nil, err
			}
			branches = append(branches, s)
		}
		return map[string]any{"anyOf": branches}, nil
	case Nullable:
		inner, err := typeToSchema(v.Of, depth+1)
		if err != nil {
			return nil, err
		}
		return map[string]any{"anyOf": []any{inner, map[string]any{"type": "null"}}}, nil
	default:
		return nil, &SchemaError{Reason: fmt.Sprintf("unknown parameter type %T", t)}
	}
}

// ReflectSchema generates a JSON schema map for a Go struct type using
// reflection. Function tools use it to describe their argument structs
// without writing schemas by hand.
func ReflectSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	var zero T
	schema := reflector.Reflect(&zero)

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, &SchemaError{Reason: fmt.Sprintf("failed to marshal reflected schema: %v", err)}
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &SchemaError{Reason: fmt.Sprintf("failed to decode reflected schema: %v", err)}
	}

	// The draft URI and ID are noise for provider payloads.
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}
