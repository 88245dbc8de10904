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

package a2a

import (
	"encoding/json"
	"fmt"
)

// WireType discriminates wire envelopes.
type WireType string

const (
	WireActionMultiple       WireType = "ACTION_MULTIPLE"
	WireObservation          WireType = "OBSERVATION"
	WireObservationsMultiple WireType = "OBSERVATIONS_MULTIPLE"
	WireTermination          WireType = "TERMINATION"
	WireError                WireType = "ERROR"
)

// WireAction is one tool call sent to the environment.
type WireAction struct {
	ID        string          `json:"id"`
	ToolName  string          `json:"toolName"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// WireObservationResult is one tool result coming back from the environment.
type WireObservationResult struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

// WireTerminationPayload ends a run.
type WireTerminationPayload struct {
	Reason string `json:"reason,omitempty"`
	Output string `json:"output,omitempty"`
}

// WireErrorPayload reports a run failure.
type WireErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WireEnvelope is one agent-environment exchange frame. The Type
// discriminator selects which payload field is populated; RunID ties the
// frame to an agent run.
type WireEnvelope struct {
	Type  WireType `json:"type"`
	RunID string   `json:"runId"`

	Actions      []WireAction            `json:"actions,omitempty"`
	Observation  *WireObservationResult  `json:"observation,omitempty"`
	Observations []WireObservationResult `json:"observations,omitempty"`
	Termination  *WireTerminationPayload `json:"termination,omitempty"`
	Error        *WireErrorPayload       `json:"error,omitempty"`
}

// NewActionMultiple builds an ACTION_MULTIPLE envelope.
func NewActionMultiple(runID string, actions ...WireAction) *WireEnvelope {
	return &WireEnvelope{Type: WireActionMultiple, RunID: runID, Actions: actions}
}

// NewObservation builds an OBSERVATION envelope for a single tool result.
func NewObservation(runID string, result WireObservationResult) *WireEnvelope {
	return &WireEnvelope{Type: WireObservation, RunID: runID, Observation: &result}
}

// NewObservationsMultiple builds an OBSERVATIONS_MULTIPLE envelope.
func NewObservationsMultiple(runID string, results ...WireObservationResult) *WireEnvelope {
	return &WireEnvelope{Type: WireObservationsMultiple, RunID: runID, Observations: results}
}

// NewTermination builds a TERMINATION envelope.
func NewTermination(runID, reason, output string) *WireEnvelope {
	return &WireEnvelope{
		Type:        WireTermination,
		RunID:       runID,
		Termination: &WireTerminationPayload{Reason: reason, Output: output},
	}
}

// NewWireError builds an ERROR envelope.
func NewWireError(runID, code, msg string) *WireEnvelope {
	return &WireEnvelope{
		Type:  WireError,
		RunID: runID,
		Error: &WireErrorPayload{Message: msg, Code: code},
	}
}

// Validate checks that the discriminator matches the populated payload.
func (e *WireEnvelope) Validate() error {
	if e.RunID == "" {
		return &InvalidEventError{Field: "runId", Reason: "runId is required"}
	}
	switch e.Type {
	case WireActionMultiple:
		if len(e.Actions) == 0 {
			return &InvalidEventError{Field: "actions", Reason: "ACTION_MULTIPLE requires at least one action"}
		}
	case WireObservation:
		if e.Observation == nil {
			return &InvalidEventError{Field: "observation", Reason: "OBSERVATION requires a result"}
		}
	case WireObservationsMultiple:
		if len(e.Observations) == 0 {
			return &InvalidEventError{Field: "observations", Reason: "OBSERVATIONS_MULTIPLE requires at least one result"}
		}
	case WireTermination:
		if e.Termination == nil {
			return &InvalidEventError{Field: "termination", Reason: "TERMINATION requires a payload"}
		}
	case WireError:
		if e.Error == nil {
			return &InvalidEventError{Field: "error", Reason: "ERROR requires a payload"}
		}
	default:
		return &InvalidEventError{Field: "type", Reason: fmt.Sprintf("unknown wire type %q", e.Type)}
	}
	return nil
}

// DecodeWireEnvelope parses and validates one wire frame.
func DecodeWireEnvelope(data []byte) (*WireEnvelope, error) {
	var env WireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode wire envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// Encode serializes the envelope after validating it.
func (e *WireEnvelope) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}
