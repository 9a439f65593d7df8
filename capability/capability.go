// Package capability implements the function calling subsystem that lets
// agents invoke structured operations beyond text generation. The set of
// capabilities an agent holds is a closed list of handles, not string-keyed
// dynamic dispatch: each implementation satisfies Capability and is attached
// to an agent at registry load time.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/parley-ai/parley/model"
)

// Capability is a structured operation an agent can invoke during a turn.
//
// Implementations should:
//   - Provide clear snake_case names and imperative descriptions
//   - Define a minimal JSON schema for parameters
//   - Be safe for concurrent use
type Capability interface {
	// Name returns the unique identifier used in function call declarations.
	Name() string

	// Description is surfaced to the model to guide invocation.
	Description() string

	// Parameters returns a minimal JSON Schema describing accepted arguments.
	Parameters() map[string]any

	// Execute runs the capability with already-decoded arguments.
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Error categorizes capability failures with a stable code.
type Error struct {
	Capability string `json:"capability"`
	Message    string `json:"message"`
	Code       string `json:"code"` // VALIDATION_ERROR, EXECUTION_ERROR, ...
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("capability error [%s] in %s: %s", e.Code, e.Capability, e.Message)
	}
	return fmt.Sprintf("capability error in %s: %s", e.Capability, e.Message)
}

// NewError creates an Error with the given code.
func NewError(capability, message, code string) *Error {
	return &Error{Capability: capability, Message: message, Code: code}
}

// Definitions converts capabilities into the tool surface handed to a model.
func Definitions(caps []Capability) []model.ToolDefinition {
	if len(caps) == 0 {
		return nil
	}
	defs := make([]model.ToolDefinition, len(caps))
	for i, c := range caps {
		defs[i] = model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        c.Name(),
				Description: c.Description(),
				Parameters:  c.Parameters(),
			},
		}
	}
	return defs
}

// Invoke finds the named capability, decodes the serialized arguments, checks
// required fields against the schema, and executes it.
func Invoke(ctx context.Context, caps []Capability, name, rawArgs string) (any, error) {
	var target Capability
	for _, c := range caps {
		if c.Name() == name {
			target = c
			break
		}
	}
	if target == nil {
		return nil, NewError(name, "unknown capability", "NOT_FOUND")
	}

	args := map[string]any{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return nil, NewError(name, fmt.Sprintf("invalid arguments: %v", err), "VALIDATION_ERROR")
		}
	}
	if err := checkRequired(target.Parameters(), args); err != nil {
		return nil, NewError(name, err.Error(), "VALIDATION_ERROR")
	}

	result, err := target.Execute(ctx, args)
	if err != nil {
		var capErr *Error
		if errors.As(err, &capErr) {
			return nil, capErr
		}
		return nil, NewError(name, err.Error(), "EXECUTION_ERROR")
	}
	return result, nil
}

func checkRequired(schema, args map[string]any) error {
	required, ok := schema["required"]
	if !ok {
		return nil
	}
	var names []string
	switch req := required.(type) {
	case []string:
		names = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				names = append(names, s)
			}
		}
	}
	for _, n := range names {
		if _, present := args[n]; !present {
			return fmt.Errorf("missing required argument %q", n)
		}
	}
	return nil
}

// FunctionCapability adapts a plain Go function into a Capability. It has no
// mutable state after construction and is safe for concurrent use.
type FunctionCapability struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(ctx context.Context, args map[string]any) (any, error)
}

// NewFunction constructs a FunctionCapability from explicit schema and function.
func NewFunction(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionCapability {
	return &FunctionCapability{name: name, description: description, parameters: parameters, fn: fn}
}

func (f *FunctionCapability) Name() string               { return f.name }
func (f *FunctionCapability) Description() string        { return f.description }
func (f *FunctionCapability) Parameters() map[string]any { return f.parameters }

func (f *FunctionCapability) Execute(ctx context.Context, args map[string]any) (any, error) {
	return f.fn(ctx, args)
}
