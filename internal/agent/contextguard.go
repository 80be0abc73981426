package agent

import (
	"strings"

	"github.com/dayuer/askrelay/internal/providers"
)

// modelTokenLimits maps model names (or prefixes) to context window sizes.
var modelTokenLimits = map[string]int{
	"gpt-4o":            128_000,
	"gpt-4o-mini":       128_000,
	"gpt-4-turbo":       128_000,
	"gpt-4.1":           1_000_000,
	"openai/gpt-4o":     128_000,
	"claude-":           200_000,
	"anthropic/claude-": 200_000,
	"deepseek/":         64_000,
}

const defaultTokenLimit = 64_000

// compressRatio is the share of the window above which old history is dropped.
const compressRatio = 0.80

// modelLimit returns the context window for model, by exact name first and
// then by the longest matching prefix.
func modelLimit(model string) int {
	if limit, ok := modelTokenLimits[model]; ok {
		return limit
	}
	best, limit := 0, defaultTokenLimit
	for k, v := range modelTokenLimits {
		if strings.HasPrefix(model, k) && len(k) > best {
			best, limit = len(k), v
		}
	}
	return limit
}

// estimateTokens over-estimates: characters / 2 covers mixed CJK and
// English text.
func estimateTokens(msgs []providers.Message) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Content)
		for _, tc := range m.ToolCalls {
			total += len(tc.Name)
			for k, v := range tc.Arguments {
				total += len(k)
				if s, ok := v.(string); ok {
					total += len(s)
				} else {
					total += 8
				}
			}
		}
	}
	return total / 2
}

// fitContext drops the oldest history until the request fits under
// compressRatio of the model's window. The system message and the first
// user message (the original request) are always kept. A tool result is
// never left without the assistant call it answers.
func fitContext(msgs []providers.Message, model string, reserve int) ([]providers.Message, int) {
	budget := int(float64(modelLimit(model))*compressRatio) - reserve
	if estimateTokens(msgs) <= budget {
		return msgs, 0
	}

	head := 0
	if len(msgs) > 0 && msgs[0].Role == "system" {
		head++
	}
	if head < len(msgs) && msgs[head].Role == "user" {
		head++
	}
	kept := append([]providers.Message(nil), msgs[:head]...)
	tail := msgs[head:]

	dropped := 0
	for len(tail) > 1 && estimateTokens(kept)+estimateTokens(tail) > budget {
		tail = tail[1:]
		dropped++
		for len(tail) > 1 && tail[0].Role == "tool" {
			tail = tail[1:]
			dropped++
		}
	}
	return append(kept, tail...), dropped
}
