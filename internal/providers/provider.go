package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"
)

// Provider talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, OpenRouter, DeepSeek, vLLM, a custom gateway).
type Provider struct {
	APIKey       string
	APIBase      string
	Model        string // default model
	ExtraHeaders map[string]string
	HTTPClient   *http.Client

	gateway *ProviderSpec
}

// NewProvider creates a Provider with given config.
func NewProvider(apiKey, apiBase, defaultModel, providerName string) *Provider {
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	return &Provider{
		APIKey:     apiKey,
		APIBase:    apiBase,
		Model:      defaultModel,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
		gateway:    FindGateway(providerName, apiKey, apiBase),
	}
}

// DefaultModel satisfies the LLMProvider interface.
func (p *Provider) DefaultModel() string { return p.Model }

// Chat sends a chat completion request. Transport failures, non-200
// statuses and undecodable bodies are returned as errors.
func (p *Provider) Chat(ctx context.Context, req ChatRequest) (*LLMResponse, error) {
	model := req.Model
	if model == "" {
		model = p.Model
	}
	apiBase, apiKey := p.endpoint(model)
	model = p.resolveModel(model)

	maxTokens := req.MaxTokens
	if maxTokens < 1 {
		maxTokens = 4096
	}

	body := map[string]any{
		"model":       model,
		"messages":    toWireMessages(req.Messages),
		"max_tokens":  maxTokens,
		"temperature": req.Temperature,
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
		body["tool_choice"] = "auto"
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(apiBase, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}
	for k, v := range p.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call llm: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm returned HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 300))
	}
	return parseResponse(respBody)
}

// endpoint resolves the base URL and key: explicit config first, then the
// spec matched by model name, then api.openai.com.
func (p *Provider) endpoint(model string) (apiBase, apiKey string) {
	apiBase, apiKey = p.APIBase, p.APIKey
	spec := p.gateway
	if spec == nil {
		spec = FindByModel(model)
	}
	if spec != nil {
		if apiBase == "" {
			apiBase = spec.DefaultAPIBase
		}
		if apiKey == "" && spec.EnvKey != "" {
			apiKey = os.Getenv(spec.EnvKey)
		}
	}
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	return apiBase, apiKey
}

// resolveModel strips the "vendor/" prefix when talking to the vendor's own
// API or to a gateway that wants bare model names.
func (p *Provider) resolveModel(model string) string {
	idx := strings.Index(model, "/")
	if idx < 0 {
		return model
	}
	if p.gateway != nil {
		if p.gateway.StripModelPrefix {
			return model[idx+1:]
		}
		return model
	}
	if spec := FindByName(strings.ToLower(model[:idx])); spec != nil && !spec.IsGateway {
		return model[idx+1:]
	}
	return model
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

var nameInvalid = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// toWireMessages converts to the OpenAI message shape. Speaker names are
// sanitized to the allowed character set.
func toWireMessages(msgs []Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		w := wireMessage{Role: m.Role, ToolCallID: m.ToolCallID}
		if m.Name != "" && m.Role != "tool" {
			w.Name = nameInvalid.ReplaceAllString(m.Name, "_")
		}
		if m.Content != "" || len(m.ToolCalls) == 0 {
			w.Content = strPtr(m.Content)
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			if tc.Arguments == nil {
				args = []byte("{}")
			}
			var wtc wireToolCall
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(args)
			w.ToolCalls = append(w.ToolCalls, wtc)
		}
		out = append(out, w)
	}
	return out
}

// openAIResponse mirrors the OpenAI chat completion response structure.
type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content   *string        `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func parseResponse(body []byte) (*LLMResponse, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("parse response: no choices")
	}

	choice := resp.Choices[0]
	var toolCalls []ToolCallRequest
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{"raw": tc.Function.Arguments}
			}
		}
		toolCalls = append(toolCalls, ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	usage := map[string]int{}
	if resp.Usage != nil {
		usage["prompt_tokens"] = resp.Usage.PromptTokens
		usage["completion_tokens"] = resp.Usage.CompletionTokens
		usage["total_tokens"] = resp.Usage.TotalTokens
	}

	finishReason := choice.FinishReason
	if finishReason == "" {
		finishReason = "stop"
	}

	return &LLMResponse{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: finishReason,
		Usage:        usage,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
