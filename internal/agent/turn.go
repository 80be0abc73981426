// Package agent runs multi-agent group conversations: a user proxy that
// stands in for the human and executes tools, a supervisor, task agents,
// and a coordinator that picks who speaks next.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dayuer/askrelay/internal/providers"
)

// Role classifies a participant. Observers filter on role, never on name.
type Role int

const (
	RoleHumanProxy Role = iota
	RoleCoordinator
	RoleSupervisor
	RoleTaskAgent
)

func (r Role) String() string {
	switch r {
	case RoleHumanProxy:
		return "human_proxy"
	case RoleCoordinator:
		return "coordinator"
	case RoleSupervisor:
		return "supervisor"
	case RoleTaskAgent:
		return "task_agent"
	default:
		return "unknown"
	}
}

// MarshalText lets transcripts carry readable role names.
func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	for _, c := range []Role{RoleHumanProxy, RoleCoordinator, RoleSupervisor, RoleTaskAgent} {
		if c.String() == string(b) {
			*r = c
			return nil
		}
	}
	return fmt.Errorf("unknown role %q", b)
}

// Turn is one message in the conversation record.
type Turn struct {
	Speaker    string                      `json:"speaker"`
	Role       Role                        `json:"role"`
	Content    string                      `json:"content"`
	ToolCalls  []providers.ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string                      `json:"tool_call_id,omitempty"`
	ToolName   string                      `json:"tool_name,omitempty"`
	At         time.Time                   `json:"at"`
}

// HasToolCalls reports whether the turn asks for tool execution.
func (t Turn) HasToolCalls() bool { return len(t.ToolCalls) > 0 }

// IsTermination reports whether the turn ends the conversation.
func (t Turn) IsTermination() bool {
	return strings.HasSuffix(strings.TrimRight(t.Content, " \t\r\n"), "TERMINATE")
}

// Delivery is a turn as seen by the user proxy. RequestReply marks the
// re-delivery that prompts the proxy to answer; it duplicates a turn the
// observer has already seen.
type Delivery struct {
	Turn         Turn
	RequestReply bool
}

// Observer receives every delivery addressed to the user proxy. An error
// aborts the conversation.
type Observer interface {
	OnMessage(d Delivery) error
}

// HumanInput supplies the human's replies. It may block.
type HumanInput interface {
	GetHumanInput(ctx context.Context, prompt string) (string, error)
}

// Participant is anything that can be selected to speak.
type Participant interface {
	Name() string
	Role() Role
	Description() string
}
