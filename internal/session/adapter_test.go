package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/askrelay/internal/agent"
	"github.com/dayuer/askrelay/internal/bus"
	"github.com/dayuer/askrelay/internal/providers"
)

func TestHumanProxy_OnMessageFiltering(t *testing.T) {
	tests := []struct {
		name     string
		delivery agent.Delivery
		want     *Envelope
	}{
		{
			name:     "supervisor forwarded",
			delivery: agent.Delivery{Turn: agent.Turn{Speaker: "Supervisor", Role: agent.RoleSupervisor, Content: "Which day?"}},
			want:     &Envelope{Type: TypeAgentMessage, Sender: "Supervisor", Text: "Which day?"},
		},
		{
			name:     "task agent forwarded",
			delivery: agent.Delivery{Turn: agent.Turn{Speaker: "BookingAgent", Role: agent.RoleTaskAgent, Content: "Booked."}},
			want:     &Envelope{Type: TypeAgentMessage, Sender: "BookingAgent", Text: "Booked."},
		},
		{
			name: "tool call placeholder",
			delivery: agent.Delivery{Turn: agent.Turn{Speaker: "BookingAgent", Role: agent.RoleTaskAgent,
				ToolCalls: []providers.ToolCallRequest{{ID: "c1", Name: "book_demo"}, {ID: "c2", Name: "other"}}}},
			want: &Envelope{Type: TypeAgentMessage, Sender: "BookingAgent", Text: "Calling tool `book_demo`..."},
		},
		{
			name:     "request reply suppressed",
			delivery: agent.Delivery{Turn: agent.Turn{Speaker: "Supervisor", Role: agent.RoleSupervisor, Content: "dup"}, RequestReply: true},
		},
		{
			name:     "own messages suppressed",
			delivery: agent.Delivery{Turn: agent.Turn{Speaker: "UserProxy", Role: agent.RoleHumanProxy, Content: "tool result"}},
		},
		{
			name:     "coordinator suppressed even under another name",
			delivery: agent.Delivery{Turn: agent.Turn{Speaker: "Supervisor", Role: agent.RoleCoordinator, Content: "relay"}},
		},
		{
			name:     "empty suppressed",
			delivery: agent.Delivery{Turn: agent.Turn{Speaker: "Supervisor", Role: agent.RoleSupervisor}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPair(t, "k")
			h := NewHumanProxy(p, time.Second, nil)

			require.NoError(t, h.OnMessage(tt.delivery))
			if tt.want == nil {
				assert.Equal(t, 0, p.Outbound.Len())
				return
			}
			require.Equal(t, 1, p.Outbound.Len())
			frame, err := p.Outbound.Get(context.Background())
			require.NoError(t, err)
			assert.Equal(t, *tt.want, decode(t, frame))
		})
	}
}

func TestHumanProxy_OnMessageClosedQueue(t *testing.T) {
	p := newTestPair(t, "k")
	p.Close()
	h := NewHumanProxy(p, time.Second, nil)

	err := h.OnMessage(agent.Delivery{Turn: agent.Turn{Speaker: "S", Role: agent.RoleSupervisor, Content: "x"}})
	assert.ErrorIs(t, err, bus.ErrClosed)
}

func TestHumanProxy_GetHumanInput(t *testing.T) {
	p := newTestPair(t, "k")
	h := NewHumanProxy(p, time.Second, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = p.Inbound.Put("Friday please")
	}()
	reply, err := h.GetHumanInput(context.Background(), "Which day?")
	require.NoError(t, err)
	assert.Equal(t, "Friday please", reply)
}

func TestHumanProxy_GetHumanInputTimeout(t *testing.T) {
	p := newTestPair(t, "k")
	h := NewHumanProxy(p, 30*time.Millisecond, nil)

	_, err := h.GetHumanInput(context.Background(), "?")
	assert.ErrorIs(t, err, ErrHumanInputTimeout)

	// A late reply is not lost.
	require.NoError(t, p.Inbound.Put("late"))
	assert.Equal(t, 1, p.Inbound.Len())
}

func TestHumanProxy_GetHumanInputParentDeadline(t *testing.T) {
	p := newTestPair(t, "k")
	h := NewHumanProxy(p, time.Minute, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.GetHumanInput(ctx, "?")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrHumanInputTimeout)
}

func TestHumanProxy_GetHumanInputClosed(t *testing.T) {
	p := newTestPair(t, "k")
	h := NewHumanProxy(p, time.Second, nil)
	p.Close()

	_, err := h.GetHumanInput(context.Background(), "?")
	assert.ErrorIs(t, err, bus.ErrClosed)
}
