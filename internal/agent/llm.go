package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dayuer/askrelay/internal/providers"
	"github.com/dayuer/askrelay/internal/tools"
)

// LLMAgent is a model-backed participant: the supervisor or a task agent.
type LLMAgent struct {
	AgentName     string
	AgentRole     Role
	SystemMessage string
	Desc          string
	Provider      providers.LLMProvider
	Model         string
	Temperature   float64
	MaxTokens     int
	Tools         []tools.Tool
	Logger        *zap.Logger
}

func (a *LLMAgent) Name() string { return a.AgentName }
func (a *LLMAgent) Role() Role   { return a.AgentRole }

func (a *LLMAgent) Description() string {
	if a.Desc != "" {
		return a.Desc
	}
	return firstLine(a.SystemMessage)
}

// Reply asks the model for this agent's next turn given the shared history.
func (a *LLMAgent) Reply(ctx context.Context, history []Turn) (Turn, error) {
	model := a.Model
	if model == "" {
		model = a.Provider.DefaultModel()
	}
	maxTokens := a.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	msgs, dropped := fitContext(a.messagesFor(history), model, maxTokens)
	if dropped > 0 && a.Logger != nil {
		a.Logger.Warn("history trimmed to fit context window",
			zap.String("agent", a.AgentName), zap.String("model", model), zap.Int("dropped", dropped))
	}

	req := providers.ChatRequest{
		Messages:    msgs,
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: a.Temperature,
	}
	if len(a.Tools) > 0 {
		req.Tools = tools.Schemas(a.Tools)
	}

	resp, err := a.Provider.Chat(ctx, req)
	if err != nil {
		return Turn{}, fmt.Errorf("%s: llm chat: %w", a.AgentName, err)
	}

	turn := Turn{
		Speaker: a.AgentName,
		Role:    a.AgentRole,
		Content: resp.Text(),
		At:      time.Now(),
	}
	for _, tc := range resp.ToolCalls {
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()
		}
		turn.ToolCalls = append(turn.ToolCalls, tc)
	}
	return turn, nil
}

// messagesFor renders the shared history from this agent's point of view:
// its own turns are assistant messages, everyone else speaks as a named
// user. Tool results for this agent's calls stay linked to the call;
// other agents' tool traffic is flattened to text.
func (a *LLMAgent) messagesFor(history []Turn) []providers.Message {
	msgs := make([]providers.Message, 0, len(history)+1)
	if a.SystemMessage != "" {
		msgs = append(msgs, providers.Message{Role: "system", Content: a.SystemMessage})
	}

	ownCalls := make(map[string]bool)
	for _, t := range history {
		switch {
		case t.Speaker == a.AgentName:
			for _, tc := range t.ToolCalls {
				ownCalls[tc.ID] = true
			}
			msgs = append(msgs, providers.Message{
				Role:      "assistant",
				Content:   t.Content,
				ToolCalls: t.ToolCalls,
			})
		case t.ToolCallID != "" && ownCalls[t.ToolCallID]:
			msgs = append(msgs, providers.Message{
				Role:       "tool",
				Content:    t.Content,
				ToolCallID: t.ToolCallID,
			})
		case t.ToolCallID != "":
			msgs = append(msgs, providers.Message{
				Role:    "user",
				Name:    t.Speaker,
				Content: fmt.Sprintf("Result of %s: %s", t.ToolName, t.Content),
			})
		case t.HasToolCalls():
			names := make([]string, len(t.ToolCalls))
			for i, tc := range t.ToolCalls {
				names[i] = tc.Name
			}
			content := strings.TrimSpace(t.Content + "\n(calling " + strings.Join(names, ", ") + ")")
			msgs = append(msgs, providers.Message{Role: "user", Name: t.Speaker, Content: content})
		default:
			msgs = append(msgs, providers.Message{Role: "user", Name: t.Speaker, Content: t.Content})
		}
	}
	return msgs
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
