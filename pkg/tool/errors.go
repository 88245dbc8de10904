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

import "fmt"

// NotRegisteredError reports a lookup for an unknown tool.
type NotRegisteredError struct {
	Name string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("tool %q is not registered", e.Name)
}

// ValidationError reports arguments that violate a tool's schema.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %q arguments invalid: %s", e.Name, e.Reason)
}

// ExecutionError reports a tool that ran and failed.
type ExecutionError struct {
	Name  string
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %q execution failed: %v", e.Name, e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// SchemaError reports a failure to generate or parse a tool schema.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema generation failed: %s", e.Reason)
}
