// Package tools defines the Tool interface, the per-session registry and
// the task endpoint tools that roster agents call.
package tools

import "context"

// Tool is the interface that all agent tools must implement.
type Tool interface {
	// Name returns the tool name used in LLM function calls.
	Name() string

	// Description returns what the tool does.
	Description() string

	// Parameters returns the JSON Schema for tool parameters.
	Parameters() map[string]any

	// Execute runs the tool with the given arguments.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToSchema converts a tool to OpenAI function calling format.
func ToSchema(t Tool) map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters":  t.Parameters(),
		},
	}
}

// Schemas converts a tool list, preserving order.
func Schemas(ts []Tool) []map[string]any {
	out := make([]map[string]any, len(ts))
	for i, t := range ts {
		out[i] = ToSchema(t)
	}
	return out
}
