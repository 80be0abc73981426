// Package providers defines the LLM provider interface used by the
// conversation agents and the answerer, plus the concrete backends.
package providers

import "context"

// ToolCallRequest is a tool call requested by the model.
type ToolCallRequest struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// LLMResponse is the normalized response from any backend.
type LLMResponse struct {
	Content      *string           `json:"content"`
	ToolCalls    []ToolCallRequest `json:"tool_calls,omitempty"`
	FinishReason string            `json:"finish_reason"`
	Usage        map[string]int    `json:"usage,omitempty"`
}

// HasToolCalls returns true if the response contains tool calls.
func (r *LLMResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Text returns the content or "" when the model sent none.
func (r *LLMResponse) Text() string {
	if r == nil || r.Content == nil {
		return ""
	}
	return *r.Content
}

// Message is one chat message. Name carries the speaker in multi-agent
// conversations; ToolCalls/ToolCallID link assistant calls to tool results.
type Message struct {
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	Name       string            `json:"name,omitempty"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// ChatRequest holds all parameters for a chat completion call.
// Tools use the OpenAI function schema ({"type":"function","function":{...}}).
type ChatRequest struct {
	Messages    []Message        `json:"messages"`
	Tools       []map[string]any `json:"tools,omitempty"`
	Model       string           `json:"model,omitempty"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature"`
}

// LLMProvider is the interface for all LLM backends.
type LLMProvider interface {
	Chat(ctx context.Context, req ChatRequest) (*LLMResponse, error)
	DefaultModel() string
}

// Settings selects and configures a backend.
type Settings struct {
	Provider string // "anthropic", a gateway name, or "" for auto
	APIKey   string
	APIBase  string
	Model    string
}

// New builds the backend described by s. Anthropic models without a custom
// API base go through the Anthropic SDK; everything else through the
// OpenAI-compatible HTTP provider.
func New(s Settings) LLMProvider {
	if s.Provider == "anthropic" || (s.Provider == "" && s.APIBase == "" && isAnthropicModel(s.Model)) {
		return NewAnthropicProvider(s.APIKey, s.Model)
	}
	return NewProvider(s.APIKey, s.APIBase, s.Model, s.Provider)
}

func isAnthropicModel(model string) bool {
	spec := FindByModel(model)
	return spec != nil && spec.Name == "anthropic"
}

func strPtr(s string) *string { return &s }
