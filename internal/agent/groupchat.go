package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxTurns bounds a conversation when MaxTurns is unset.
const DefaultMaxTurns = 25

// GroupChat runs one conversation between the user proxy and the agents.
// Every appended turn is delivered to Observer; when the proxy is selected
// to speak, the coordinator re-delivers the prompting turn with
// RequestReply set and the proxy asks the human.
type GroupChat struct {
	Proxy       *UserProxy
	Agents      []*LLMAgent
	Selector    Selector
	MaxTurns    int
	Observer    Observer
	Coordinator string // coordinator name on relayed deliveries, default "chat_manager"
	Logger      *zap.Logger

	mu    sync.Mutex
	turns []Turn
}

// Messages returns a copy of the conversation record.
func (g *GroupChat) Messages() []Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Turn, len(g.turns))
	copy(out, g.turns)
	return out
}

// Participants returns the proxy followed by the agents in order.
func (g *GroupChat) Participants() []Participant {
	out := make([]Participant, 0, len(g.Agents)+1)
	out = append(out, g.Proxy)
	for _, a := range g.Agents {
		out = append(out, a)
	}
	return out
}

// Run drives the conversation until a turn ends in TERMINATE, the human
// replies "exit", MaxTurns rounds have passed, or an error occurs. The
// prompt counts as the first round.
func (g *GroupChat) Run(ctx context.Context, prompt string) error {
	if g.Proxy == nil {
		return fmt.Errorf("group chat has no user proxy")
	}
	maxTurns := g.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	selector := g.Selector
	if selector == nil {
		selector = RoundRobinSelector{}
	}
	log := g.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if err := g.add(Turn{Speaker: g.Proxy.Name(), Role: RoleHumanProxy, Content: prompt, At: time.Now()}); err != nil {
		return err
	}

	for round := 1; round < maxTurns; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last := g.last()
		if last.IsTermination() {
			log.Debug("termination message", zap.String("speaker", last.Speaker))
			return nil
		}

		if last.HasToolCalls() {
			for _, t := range g.Proxy.ExecuteTools(ctx, last) {
				if err := g.add(t); err != nil {
					return err
				}
			}
			continue
		}

		next, err := g.nextSpeaker(ctx, selector, last)
		if err != nil {
			return fmt.Errorf("select speaker: %w", err)
		}
		log.Debug("next speaker", zap.Int("round", round), zap.String("speaker", next.Name()))

		var turn Turn
		switch p := next.(type) {
		case *UserProxy:
			relay := Turn{Speaker: g.coordinator(), Role: RoleCoordinator, Content: last.Content, At: time.Now()}
			if err := g.deliver(Delivery{Turn: relay, RequestReply: true}); err != nil {
				return err
			}
			turn, err = p.Ask(ctx, last.Content)
			if err != nil {
				return fmt.Errorf("human input: %w", err)
			}
			reply := strings.TrimSpace(turn.Content)
			if strings.EqualFold(reply, "exit") {
				return nil
			}
			if reply == "" {
				continue
			}
		case *LLMAgent:
			turn, err = p.Reply(ctx, g.Messages())
			if err != nil {
				return err
			}
			if turn.Content == "" && !turn.HasToolCalls() {
				log.Warn("empty agent reply", zap.String("speaker", p.Name()))
				continue
			}
		default:
			return fmt.Errorf("unsupported participant %T", next)
		}

		if err := g.add(turn); err != nil {
			return err
		}
	}
	return nil
}

// nextSpeaker hands tool results back to the agent that asked for them and
// otherwise defers to the selector.
func (g *GroupChat) nextSpeaker(ctx context.Context, selector Selector, last Turn) (Participant, error) {
	if last.ToolCallID != "" {
		if caller := g.callerOf(last.ToolCallID); caller != nil {
			return caller, nil
		}
	}
	return selector.Select(ctx, g.Participants(), g.Messages())
}

func (g *GroupChat) callerOf(callID string) *LLMAgent {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.turns) - 1; i >= 0; i-- {
		for _, tc := range g.turns[i].ToolCalls {
			if tc.ID != callID {
				continue
			}
			for _, a := range g.Agents {
				if a.Name() == g.turns[i].Speaker {
					return a
				}
			}
			return nil
		}
	}
	return nil
}

func (g *GroupChat) add(t Turn) error {
	g.mu.Lock()
	g.turns = append(g.turns, t)
	g.mu.Unlock()
	return g.deliver(Delivery{Turn: t})
}

func (g *GroupChat) deliver(d Delivery) error {
	if g.Observer == nil {
		return nil
	}
	if err := g.Observer.OnMessage(d); err != nil {
		return fmt.Errorf("deliver message: %w", err)
	}
	return nil
}

func (g *GroupChat) last() Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.turns[len(g.turns)-1]
}

func (g *GroupChat) coordinator() string {
	if g.Coordinator != "" {
		return g.Coordinator
	}
	return "chat_manager"
}
