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
	"fmt"
)

// maxSchemaDepth bounds recursion when parsing nested schemas. Schemas
// deeper than this are treated as circular.
const maxSchemaDepth = 30

// ParseSchema converts an MCP-style JSON schema fragment into a ParamType.
//
// Rules:
//   - recursion beyond maxSchemaDepth fails with a "circular reference" error
//   - anyOf of one type plus null collapses to Nullable of that type
//   - anyOf with multiple non-null branches is preserved as AnyOf
//   - enum without an explicit type is treated as a string enum
//   - otherwise type is required; arrays require items
//   - objects parse properties, required and additionalProperties
//     (boolean or schema)
func ParseSchema(schema map[string]any) (ParamType, error) {
	return parseSchema(schema, 0)
}

func parseSchema(schema map[string]any, depth int) (ParamType, error) {
	if depth > maxSchemaDepth {
		return nil, fmt.Errorf("circular reference detected in schema (depth > %d)", maxSchemaDepth)
	}

	if anyOf, ok := schema["anyOf"].([]any); ok {
		return parseAnyOf(anyOf, depth)
	}

	typeName, hasType := schema["type"].(string)

	if enumRaw, ok := schema["enum"].([]any); ok {
		// Enum without an explicit type is a string enum.
		if !hasType || typeName == "string" {
			values := make([]string, 0, len(enumRaw))
			for _, v := range enumRaw {
				values = append(values, fmt.Sprintf("%v", v))
			}
			return Enum{Values: values}, nil
		}
	}

	if !hasType {
		return nil, fmt.Errorf("Unsupported parameter type: schema has no type")
	}

	switch typeName {
	case "string":
		return String{}, nil
	case "integer":
		return Integer{}, nil
	case "number":
		return Float{}, nil
	case "boolean":
		return Boolean{}, nil
	case "null":
		return Null{}, nil
	case "array":
		items, ok := schema["items"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("array schema requires items")
		}
		item, err := parseSchema(items, depth+1)
		if err != nil {
			return nil, err
		}
		return List{Item: item}, nil
	case "object":
		return parseObject(schema, depth)
	default:
		return nil, fmt.Errorf("Unsupported parameter type: %q", typeName)
	}
}

func parseAnyOf(branches []any, depth int) (ParamType, error) {
	var types []ParamType
	sawNull := false

	for _, raw := range branches {
		branch, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("anyOf branch must be a schema object")
		}
		t, err := parseSchema(branch, depth+1)
		if err != nil {
			return nil, err
		}
		if _, isNull := t.(Null); isNull {
			sawNull = true
			continue
		}
		types = append(types, t)
	}

	switch {
	case len(types) == 0:
		return Null{}, nil
	case len(types) == 1 && sawNull:
		// anyOf [T, null] collapses to nullable T.
		return Nullable{Of: types[0]}, nil
	case len(types) == 1:
		return types[0], nil
	default:
		union := AnyOf{Types: types}
		if sawNull {
			return Nullable{Of: union}, nil
		}
		return union, nil
	}
}

func parseObject(schema map[string]any, depth int) (ParamType, error) {
	obj := Object{Properties: make(map[string]ParamType)}

	if props, ok := schema["properties"].(map[string]any); ok {
		for name, raw := range props {
			propSchema, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("property %q must be a schema object", name)
			}
			t, err := parseSchema(propSchema, depth+1)
			if err != nil {
				return nil, err
			}
			obj.Properties[name] = t
		}
	}

	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if name, ok := r.(string); ok {
				obj.Required = append(obj.Required, name)
			}
		}
	}

	switch ap := schema["additionalProperties"].(type) {
	case bool:
		obj.AdditionalBool = &ap
	case map[string]any:
		t, err := parseSchema(ap, depth+1)
		if err != nil {
			return nil, err
		}
		obj.AdditionalSchema = t
	}

	return obj, nil
}

// DescriptorFromSchema builds a Descriptor from a tool's MCP input schema.
// The top-level schema must be an object; its properties become parameters,
// split into required and optional by the schema's required list.
func DescriptorFromSchema(name, description string, schema map[string]any) (Descriptor, error) {
	parsed, err := ParseSchema(schema)
	if err != nil {
		return Descriptor{}, err
	}

	obj, ok := parsed.(Object)
	if !ok {
		return Descriptor{}, fmt.Errorf("tool %q input schema must be an object, got %s", name, parsed.Kind())
	}

	required := make(map[string]bool, len(obj.Required))
	for _, r := range obj.Required {
		required[r] = true
	}

	desc := Descriptor{Name: name, Description: description}
	for propName, propType := range obj.Properties {
		param := Param{
			Name:        propName,
			Description: propDescription(schema, propName),
			Type:        propType,
		}
		if required[propName] {
			desc.RequiredParams = append(desc.RequiredParams, param)
		} else {
			desc.OptionalParams = append(desc.OptionalParams, param)
		}
	}

	sortParams(desc.RequiredParams)
	sortParams(desc.OptionalParams)
	return desc, nil
}

func propDescription(schema map[string]any, propName string) string {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return ""
	}
	prop, ok := props[propName].(map[string]any)
	if !ok {
		return ""
	}
	d, _ := prop["description"].(string)
	return d
}

func sortParams(params []Param) {
	for i := 1; i < len(params); i++ {
		for j := i; j > 0 && params[j].Name < params[j-1].Name; j-- {
			params[j], params[j-1] = params[j-1], params[j]
		}
	}
}
