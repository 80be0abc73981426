package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/askrelay/internal/providers"
)

func TestModelLimit(t *testing.T) {
	assert.Equal(t, 128_000, modelLimit("gpt-4o"))
	assert.Equal(t, 200_000, modelLimit("claude-sonnet-4-5"))
	assert.Equal(t, 200_000, modelLimit("anthropic/claude-opus-4-5"))
	assert.Equal(t, defaultTokenLimit, modelLimit("some-local-model"))
}

func TestEstimateTokens(t *testing.T) {
	msgs := []providers.Message{
		{Role: "user", Content: strings.Repeat("a", 100)},
		{Role: "assistant", ToolCalls: []providers.ToolCallRequest{{Name: "book", Arguments: map[string]any{"date": "2026-01-01"}}}},
	}
	// 100 + len("book") + len("date") + len("2026-01-01") = 118 chars
	assert.Equal(t, 59, estimateTokens(msgs))
}

func TestFitContext_UnderBudgetUntouched(t *testing.T) {
	msgs := []providers.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "Book a demo."},
	}
	got, dropped := fitContext(msgs, "gpt-4o", 4096)
	assert.Equal(t, msgs, got)
	assert.Zero(t, dropped)
}

func TestFitContext_DropsOldestKeepsPrompt(t *testing.T) {
	big := strings.Repeat("x", 40_000) // 20k tokens each
	msgs := []providers.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "Book a demo."},
		{Role: "assistant", Content: big},
		{Role: "user", Content: big},
		{Role: "assistant", Content: big},
		{Role: "user", Content: "latest"},
	}
	// deepseek window 64k * 0.8 = 51.2k, minus 4096 reserve.
	got, dropped := fitContext(msgs, "deepseek/deepseek-chat", 4096)
	require.Greater(t, dropped, 0)
	assert.Equal(t, "sys", got[0].Content)
	assert.Equal(t, "Book a demo.", got[1].Content)
	assert.Equal(t, "latest", got[len(got)-1].Content)
	assert.LessOrEqual(t, estimateTokens(got), 51_200-4096)
}

func TestFitContext_NoOrphanToolResults(t *testing.T) {
	big := strings.Repeat("x", 110_000)
	msgs := []providers.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "Book a demo."},
		{Role: "assistant", Content: big, ToolCalls: []providers.ToolCallRequest{{ID: "c1", Name: "book_demo"}}},
		{Role: "tool", ToolCallID: "c1", Content: "booked"},
		{Role: "user", Content: "thanks"},
	}
	got, _ := fitContext(msgs, "deepseek/deepseek-chat", 0)
	for _, m := range got {
		assert.NotEqual(t, "tool", m.Role)
	}
	assert.Equal(t, "thanks", got[len(got)-1].Content)
}
