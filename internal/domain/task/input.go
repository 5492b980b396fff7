package task

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Task inputs form a tagged union keyed by agent type. Each variant is
// validated against its schema at dispatch time rather than trusted as
// opaque data.

var ErrEmptyInput = errors.New("task input is empty")

// FrontendInput is the payload for frontend agent tasks.
type FrontendInput struct {
	Description string   `json:"description"`
	Components  []string `json:"components,omitempty"`
	Routes      []string `json:"routes,omitempty"`
}

// BackendInput is the payload for backend agent tasks.
type BackendInput struct {
	Description string   `json:"description"`
	Endpoints   []string `json:"endpoints,omitempty"`
	Services    []string `json:"services,omitempty"`
}

// InfrastructureInput is the payload for infrastructure agent tasks.
type InfrastructureInput struct {
	Description string   `json:"description"`
	Resources   []string `json:"resources,omitempty"`
}

// DatabaseInput is the payload for database agent tasks.
type DatabaseInput struct {
	Description string   `json:"description"`
	Tables      []string `json:"tables,omitempty"`
	Migrations  []string `json:"migrations,omitempty"`
}

// ValidateInput checks raw against the schema for the given agent type.
func ValidateInput(agentType AgentType, raw json.RawMessage) error {
	if len(raw) == 0 {
		return ErrEmptyInput
	}

	var description string
	switch agentType {
	case AgentFrontend:
		var in FrontendInput
		if err := strictUnmarshal(raw, &in); err != nil {
			return fmt.Errorf("frontend input: %w", err)
		}
		description = in.Description
	case AgentBackend:
		var in BackendInput
		if err := strictUnmarshal(raw, &in); err != nil {
			return fmt.Errorf("backend input: %w", err)
		}
		description = in.Description
	case AgentInfrastructure:
		var in InfrastructureInput
		if err := strictUnmarshal(raw, &in); err != nil {
			return fmt.Errorf("infrastructure input: %w", err)
		}
		description = in.Description
	case AgentDatabase:
		var in DatabaseInput
		if err := strictUnmarshal(raw, &in); err != nil {
			return fmt.Errorf("database input: %w", err)
		}
		description = in.Description
	default:
		return fmt.Errorf("unknown agent type %q", agentType)
	}

	if description == "" {
		return fmt.Errorf("%s input: description is required", agentType)
	}
	return nil
}

// strictUnmarshal rejects fields that are not part of the schema.
func strictUnmarshal(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
