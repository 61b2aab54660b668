package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

type Choice string

const (
	ChoiceAuto     Choice = "auto"
	ChoiceNone     Choice = "none"
	ChoiceRequired Choice = "required"
)

// Tool is a function definition as sent in session.update. Parameters is
// any JSON schema value, usually a Parameters or the result of Reflect.
type Tool struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

type Parameters struct {
	Type       string     `json:"type"`
	Properties Properties `json:"properties"`
	Required   []string   `json:"required"`
}

type Properties map[string]Property

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// Handler executes a tool call with its decoded arguments. The result is
// sent back to the peer JSON encoded.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Function builds a function tool definition.
func Function(name, description string, parameters any) Tool {
	if parameters == nil {
		parameters = Parameters{Type: "object", Properties: Properties{}, Required: []string{}}
	}
	return Tool{
		Type:        "function",
		Name:        name,
		Description: description,
		Parameters:  parameters,
	}
}

// Reflect derives a parameters schema from the exported fields of T,
// honoring json and jsonschema struct tags.
func Reflect[T any]() *jsonschema.Schema {
	r := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var v T
	schema := r.Reflect(&v)
	schema.Version = ""
	return schema
}

// Typed adapts a handler taking a decoded argument struct.
func Typed[T any](fn func(ctx context.Context, args T) (any, error)) Handler {
	return func(ctx context.Context, raw map[string]any) (any, error) {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		var args T
		if err := json.Unmarshal(data, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		return fn(ctx, args)
	}
}
