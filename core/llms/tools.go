package llms

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Tool is a closed capability the model can invoke by name. The argument
// schema is derived from the typed parameter struct, and Execute dispatches
// the raw argument payload to the typed handler.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage

	execute func(arguments string) (string, error)
}

// NewTool builds a tool from a typed handler. Parameter names, types and
// descriptions come from the json/jsonschema struct tags of T.
func NewTool[T any](name, description string, execute func(parameters T) (string, error)) Tool {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}

	var parameters json.RawMessage
	if schema := reflector.Reflect(new(T)); schema != nil {
		if marshalled, err := schema.MarshalJSON(); err == nil {
			parameters = marshalled
		}
	}

	return Tool{
		Name:        name,
		Description: description,
		Parameters:  parameters,
		execute: func(arguments string) (string, error) {
			var typedArguments T
			if arguments != "" {
				if err := json.Unmarshal([]byte(arguments), &typedArguments); err != nil {
					return "", fmt.Errorf("failed to parse arguments for tool %q: %w", name, err)
				}
			}
			return execute(typedArguments)
		},
	}
}

// Execute runs the tool against a raw JSON argument payload.
func (t Tool) Execute(arguments string) (string, error) {
	if t.execute == nil {
		return "", fmt.Errorf("tool %q has no handler", t.Name)
	}
	return t.execute(arguments)
}
