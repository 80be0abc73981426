package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/dayuer/askrelay/internal/providers"
)

// mockProvider replays scripted responses and records requests.
type mockProvider struct {
	mu        sync.Mutex
	responses []*providers.LLMResponse
	err       error
	callCount int
	requests  []providers.ChatRequest
}

func (m *mockProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.LLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if m.callCount >= len(m.responses) {
		return &providers.LLMResponse{Content: strP("No more responses"), FinishReason: "stop"}, nil
	}
	resp := m.responses[m.callCount]
	m.callCount++
	return resp, nil
}

func (m *mockProvider) DefaultModel() string { return "mock-model" }

func (m *mockProvider) lastRequest() providers.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

func strP(s string) *string { return &s }

func text(s string) *providers.LLMResponse {
	return &providers.LLMResponse{Content: strP(s), FinishReason: "stop"}
}

// scriptedHuman answers prompts from a fixed list.
type scriptedHuman struct {
	mu      sync.Mutex
	replies []string
	prompts []string
	err     error
}

var errNoReply = errors.New("no scripted reply")

func (h *scriptedHuman) GetHumanInput(_ context.Context, prompt string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prompts = append(h.prompts, prompt)
	if h.err != nil {
		return "", h.err
	}
	if len(h.replies) == 0 {
		return "", errNoReply
	}
	r := h.replies[0]
	h.replies = h.replies[1:]
	return r, nil
}

type recordingObserver struct {
	mu         sync.Mutex
	deliveries []Delivery
	err        error
}

func (o *recordingObserver) OnMessage(d Delivery) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deliveries = append(o.deliveries, d)
	return o.err
}
