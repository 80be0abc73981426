package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 4096

// AnthropicProvider serves conversation agents through the Anthropic
// Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates a provider. An empty key defers to the
// SDK's ANTHROPIC_API_KEY lookup.
func NewAnthropicProvider(apiKey, model string, opts ...option.RequestOption) *AnthropicProvider {
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	if apiKey != "" {
		opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  strings.TrimPrefix(model, "anthropic/"),
	}
}

func (p *AnthropicProvider) DefaultModel() string { return p.model }

// Chat sends a non-streaming Messages request.
func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*LLMResponse, error) {
	model := p.model
	if req.Model != "" {
		model = strings.TrimPrefix(req.Model, "anthropic/")
	}

	system, messages := buildAnthropicMessages(req.Messages)
	if len(messages) == 0 {
		return nil, fmt.Errorf("anthropic: no user or assistant messages")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(anthropicMaxTokens),
		Messages:  messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = anthropicTools(req.Tools)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var (
		text      strings.Builder
		toolCalls []ToolCallRequest
	)
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			var args map[string]any
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &args)
			}
			toolCalls = append(toolCalls, ToolCallRequest{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}

	resp := &LLMResponse{
		ToolCalls:    toolCalls,
		FinishReason: string(msg.StopReason),
		Usage: map[string]int{
			"prompt_tokens":     int(msg.Usage.InputTokens),
			"completion_tokens": int(msg.Usage.OutputTokens),
			"total_tokens":      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	if text.Len() > 0 {
		resp.Content = strPtr(text.String())
	}
	return resp, nil
}

// buildAnthropicMessages splits out system text and converts the rest.
// Speaker names are folded into the text since the API has no name field,
// and consecutive same-role messages are merged because the API requires
// strict user/assistant alternation.
func buildAnthropicMessages(msgs []Message) (string, []anthropic.MessageParam) {
	var (
		system []string
		out    []anthropic.MessageParam
	)

	appendBlocks := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, m := range msgs {
		switch m.Role {
		case "system":
			if m.Content != "" {
				system = append(system, m.Content)
			}
		case "user":
			if m.Content == "" {
				continue
			}
			appendBlocks(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(speakerText(m)))
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(speakerText(m)))
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{ID: tc.ID, Name: tc.Name, Input: input},
				})
			}
			appendBlocks(anthropic.MessageParamRoleAssistant, blocks...)
		case "tool":
			appendBlocks(anthropic.MessageParamRoleUser,
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		}
	}
	// The API requires the conversation to open with a user turn.
	if len(out) > 0 && out[0].Role != anthropic.MessageParamRoleUser {
		out = append([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("(conversation start)")),
		}, out...)
	}
	return strings.Join(system, "\n\n"), out
}

func speakerText(m Message) string {
	if m.Name == "" {
		return m.Content
	}
	return m.Name + ": " + m.Content
}

// anthropicTools converts OpenAI function schemas to Anthropic tools.
func anthropicTools(defs []map[string]any) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		fn, _ := def["function"].(map[string]any)
		if fn == nil {
			continue
		}
		name, _ := fn["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := fn["description"].(string)
		schema, _ := fn["parameters"].(map[string]any)

		tp := anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String(desc),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: schema["properties"]},
		}
		switch req := schema["required"].(type) {
		case []string:
			tp.InputSchema.Required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					tp.InputSchema.Required = append(tp.InputSchema.Required, s)
				}
			}
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &tp})
	}
	return tools
}
