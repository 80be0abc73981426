package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dayuer/askrelay/internal/providers"
)

// Selector picks the next speaker.
type Selector interface {
	Select(ctx context.Context, candidates []Participant, history []Turn) (Participant, error)
}

// RoundRobinSelector cycles through candidates in order, starting after
// the last speaker.
type RoundRobinSelector struct{}

func (RoundRobinSelector) Select(_ context.Context, candidates []Participant, history []Turn) (Participant, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidates")
	}
	if len(history) == 0 {
		return candidates[0], nil
	}
	last := history[len(history)-1].Speaker
	for i, c := range candidates {
		if c.Name() == last {
			return candidates[(i+1)%len(candidates)], nil
		}
	}
	return candidates[0], nil
}

// LLMSelector lets the coordinator model choose the next speaker by name.
// Unusable answers and call failures fall back to Fallback.
type LLMSelector struct {
	Provider providers.LLMProvider
	Model    string
	Fallback Selector
	Logger   *zap.Logger
	// Window caps how many recent turns go into the selection prompt.
	Window int
}

func (s *LLMSelector) Select(ctx context.Context, candidates []Participant, history []Turn) (Participant, error) {
	fallback := s.Fallback
	if fallback == nil {
		fallback = RoundRobinSelector{}
	}
	if len(candidates) < 2 {
		return fallback.Select(ctx, candidates, history)
	}

	resp, err := s.Provider.Chat(ctx, providers.ChatRequest{
		Messages:    selectionPrompt(candidates, history, s.window()),
		Model:       s.Model,
		MaxTokens:   32,
		Temperature: 0,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log().Warn("speaker selection failed, using fallback", zap.Error(err))
		return fallback.Select(ctx, candidates, history)
	}

	if p := matchSpeaker(resp.Text(), candidates); p != nil {
		return p, nil
	}
	s.log().Debug("speaker selection unmatched", zap.String("reply", resp.Text()))
	return fallback.Select(ctx, candidates, history)
}

func (s *LLMSelector) window() int {
	if s.Window > 0 {
		return s.Window
	}
	return 20
}

func (s *LLMSelector) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func selectionPrompt(candidates []Participant, history []Turn, window int) []providers.Message {
	var roles strings.Builder
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name()
		fmt.Fprintf(&roles, "%s: %s\n", c.Name(), c.Description())
	}

	if len(history) > window {
		history = history[len(history)-window:]
	}
	var convo strings.Builder
	for _, t := range history {
		content := t.Content
		if t.HasToolCalls() && content == "" {
			content = "(calling " + t.ToolCalls[0].Name + ")"
		}
		fmt.Fprintf(&convo, "%s: %s\n", t.Speaker, content)
	}

	list := strings.Join(names, ", ")
	return []providers.Message{
		{Role: "system", Content: "You coordinate a group conversation. The following roles are available:\n" +
			roles.String() + "\nRead the conversation, then select the next role from [" + list +
			"] to speak. Only return the role name."},
		{Role: "user", Content: convo.String() + "\nNext speaker from [" + list + "]:"},
	}
}

// matchSpeaker accepts an exact name, or a reply that mentions exactly one
// candidate.
func matchSpeaker(reply string, candidates []Participant) Participant {
	reply = strings.Trim(strings.TrimSpace(reply), "`\"'.")
	for _, c := range candidates {
		if strings.EqualFold(reply, c.Name()) {
			return c
		}
	}
	var found Participant
	for _, c := range candidates {
		if strings.Contains(reply, c.Name()) {
			if found != nil {
				return nil
			}
			found = c
		}
	}
	return found
}
