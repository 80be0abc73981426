package agent

import (
	"context"
	"time"

	"github.com/dayuer/askrelay/internal/tools"
)

// UserProxy stands in for the human: it relays their replies and executes
// the tool calls other agents request.
type UserProxy struct {
	ProxyName string
	Human     HumanInput
	Tools     *tools.Registry
}

func (u *UserProxy) Name() string        { return u.ProxyName }
func (u *UserProxy) Role() Role          { return RoleHumanProxy }
func (u *UserProxy) Description() string { return "The human user. Select when a question needs the user's answer." }

// ExecuteTools runs each call in call and returns one result turn per call.
func (u *UserProxy) ExecuteTools(ctx context.Context, call Turn) []Turn {
	out := make([]Turn, 0, len(call.ToolCalls))
	for _, tc := range call.ToolCalls {
		result := "Error: no tools available."
		if u.Tools != nil {
			result = u.Tools.Execute(ctx, tc.Name, tc.Arguments)
		}
		out = append(out, Turn{
			Speaker:    u.ProxyName,
			Role:       RoleHumanProxy,
			Content:    result,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			At:         time.Now(),
		})
	}
	return out
}

// Ask blocks for the human's reply.
func (u *UserProxy) Ask(ctx context.Context, prompt string) (Turn, error) {
	reply, err := u.Human.GetHumanInput(ctx, prompt)
	if err != nil {
		return Turn{}, err
	}
	return Turn{
		Speaker: u.ProxyName,
		Role:    RoleHumanProxy,
		Content: reply,
		At:      time.Now(),
	}, nil
}
