// Package session bridges a running conversation to its web client: the
// HumanProxy adapter turns conversation deliveries into outbound
// envelopes and blocks for inbound replies, and the Launcher runs
// conversations on a bounded worker pool with a guaranteed termination
// protocol.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dayuer/askrelay/internal/agent"
	"github.com/dayuer/askrelay/internal/bus"
)

// Envelope types on the duplex channel.
const (
	TypeAgentMessage = "agent_message"
	TypeFinalAnswer  = "final_answer"
)

// Envelope is the JSON frame sent to the client.
type Envelope struct {
	Type   string `json:"type"`
	Sender string `json:"sender,omitempty"`
	Text   string `json:"text"`
}

// Encode serializes the envelope.
func (e Envelope) Encode() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ErrHumanInputTimeout is returned when the client sends nothing within
// the input timeout.
var ErrHumanInputTimeout = errors.New("session: timed out waiting for human input")

// HumanProxy adapts a conversation to a channel pair. It is called from the
// conversation goroutine only.
type HumanProxy struct {
	pair    *bus.Pair
	timeout time.Duration
	logger  *zap.Logger
}

// NewHumanProxy creates an adapter. A zero timeout waits indefinitely
// (bounded only by the caller's context).
func NewHumanProxy(pair *bus.Pair, timeout time.Duration, logger *zap.Logger) *HumanProxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HumanProxy{pair: pair, timeout: timeout, logger: logger}
}

// OnMessage forwards supervisor and task agent messages to the client.
// Prompting re-deliveries and the proxy's and coordinator's own messages
// are dropped.
func (h *HumanProxy) OnMessage(d agent.Delivery) error {
	if d.RequestReply {
		return nil
	}
	switch d.Turn.Role {
	case agent.RoleHumanProxy, agent.RoleCoordinator:
		return nil
	}

	text := d.Turn.Content
	if text == "" && d.Turn.HasToolCalls() {
		text = fmt.Sprintf("Calling tool `%s`...", d.Turn.ToolCalls[0].Name)
	}
	if text == "" {
		return nil
	}

	frame, err := Envelope{Type: TypeAgentMessage, Sender: d.Turn.Speaker, Text: text}.Encode()
	if err != nil {
		return err
	}
	if err := h.pair.Outbound.Put(frame); err != nil {
		return fmt.Errorf("push agent message: %w", err)
	}
	h.logger.Debug("forwarded agent message", zap.String("sender", d.Turn.Speaker))
	return nil
}

// GetHumanInput blocks until the client replies, the timeout passes, the
// inbound queue closes, or ctx ends.
func (h *HumanProxy) GetHumanInput(ctx context.Context, _ string) (string, error) {
	waitCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	h.logger.Debug("waiting for human input")
	reply, err := h.pair.Inbound.Get(waitCtx)
	if err != nil {
		// Only our own timer expiring counts as an input timeout.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", ErrHumanInputTimeout
		}
		return "", err
	}
	return reply, nil
}
