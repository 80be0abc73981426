package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dayuer/askrelay/internal/logging"
	"github.com/dayuer/askrelay/internal/providers"
)

// AnswerType is the "type" of every baseline answer payload.
const AnswerType = "answer"

// Citation points at a source document.
type Citation struct {
	URL string `json:"url"`
}

// Answer is the baseline answer payload returned to clients unchanged.
type Answer struct {
	Type      string     `json:"type"`
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
	FollowUps []string   `json:"follow_ups"`
}

// Retriever finds context passages for a query. *Store implements it.
type Retriever interface {
	Query(ctx context.Context, text string, topK int) ([]SearchResult, error)
}

// AnswererConfig configures an Answerer.
type AnswererConfig struct {
	Retriever   Retriever
	Provider    providers.LLMProvider
	Model       string
	TopK        int // default 4
	MaxTokens   int // default 1024
	Temperature float64
	Logger      *zap.Logger
}

// Answerer composes a grounded answer from retrieved passages.
type Answerer struct {
	cfg AnswererConfig
	log *zap.Logger
}

// NewAnswerer creates an Answerer.
func NewAnswerer(cfg AnswererConfig) *Answerer {
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Answerer{cfg: cfg, log: logging.OrNop(cfg.Logger)}
}

const answerSystemPrompt = `You answer questions for a customer-facing assistant using only the CONTEXT passages.
If the context does not contain the answer, say so briefly and suggest what the user could ask instead.
Reply in the language with code "%s".
Respond with a JSON object and nothing else:
{"answer": "<the answer>", "follow_ups": ["<up to 3 short follow-up questions>"]}`

// Answer retrieves context for query and asks the model to answer in lang.
// A retrieval failure degrades to answering without context; a model
// failure is returned.
func (a *Answerer) Answer(ctx context.Context, query, lang string) (Answer, error) {
	if lang == "" {
		lang = "en"
	}

	var passages []SearchResult
	if a.cfg.Retriever != nil {
		res, err := a.cfg.Retriever.Query(ctx, query, a.cfg.TopK)
		if err != nil {
			a.log.Warn("retrieval failed, answering without context", zap.Error(err))
		} else {
			passages = res
		}
	}

	resp, err := a.cfg.Provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: fmt.Sprintf(answerSystemPrompt, lang)},
			{Role: "user", Content: userPrompt(query, passages)},
		},
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		return Answer{}, fmt.Errorf("compose answer: %w", err)
	}

	text, followUps := parseModelAnswer(resp.Text())
	return Answer{
		Type:      AnswerType,
		Text:      text,
		Citations: citations(passages),
		FollowUps: followUps,
	}, nil
}

func userPrompt(query string, passages []SearchResult) string {
	var b strings.Builder
	b.WriteString("CONTEXT:\n")
	if len(passages) == 0 {
		b.WriteString("(no context available)\n")
	}
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, sourceOf(p), strings.TrimSpace(p.Text))
	}
	fmt.Fprintf(&b, "\nQUESTION: %s", query)
	return b.String()
}

// parseModelAnswer accepts the requested JSON object, optionally wrapped
// in a markdown fence. Anything else is taken as plain answer text.
func parseModelAnswer(raw string) (string, []string) {
	raw = strings.TrimSpace(raw)
	body := raw
	if strings.HasPrefix(body, "```") {
		if _, rest, ok := strings.Cut(body, "\n"); ok {
			body = rest
		}
		if idx := strings.LastIndex(body, "```"); idx >= 0 {
			body = strings.TrimSpace(body[:idx])
		}
	}

	var parsed struct {
		Answer    string   `json:"answer"`
		FollowUps []string `json:"follow_ups"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil || parsed.Answer == "" {
		return raw, []string{}
	}

	followUps := make([]string, 0, len(parsed.FollowUps))
	for _, f := range parsed.FollowUps {
		if f = strings.TrimSpace(f); f != "" {
			followUps = append(followUps, f)
		}
	}
	return strings.TrimSpace(parsed.Answer), followUps
}

func sourceOf(r SearchResult) string {
	if u, ok := r.Metadata["url"].(string); ok && u != "" {
		return u
	}
	if r.Source != "" {
		return r.Source
	}
	return "unknown"
}

// citations lists distinct passage sources in retrieval order.
func citations(passages []SearchResult) []Citation {
	out := []Citation{}
	seen := make(map[string]bool)
	for _, p := range passages {
		src := sourceOf(p)
		if src == "unknown" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, Citation{URL: src})
	}
	return out
}
