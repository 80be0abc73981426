package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const routeFunction = "route_query"

// BuildPrompt renders the routing prompt for query. The policy defaults to
// the baseline answer and escalates only requests that are both multi-step
// and vague.
func BuildPrompt(query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are a master routing AI. Your task is to analyze a user's query and decide if it requires a complex, multi-agent conversation or if it can be handled with a direct informational answer.

**CRITICAL RULE:** You must default to "%[1]s". Only escalate to "%[2]s" if the user's request is **both multi-step AND vague**, requiring a back-and-forth conversation to clarify details.

Analyze the user's query based on the following examples:

**Examples that are "%[1]s" (simple, direct questions):**
- "How do I book a demo?"
- "What are the steps to book a service?"
- "Can you show me the prices for the courses?"
- "What is ISPG?"

**Examples that REQUIRE "%[2]s" (vague, multi-step commands):**
- "Book a demo."
- "Help me book a service for my car."
- "I need to get my car serviced this week."
- "Organize my schedule for Friday."

**USER QUERY:**
%[3]q

Choose "%[2]s" ONLY for the vague, multi-step commands. For everything else, choose "%[1]s".
`, DecisionBaseline, DecisionInteractive, query)
	return b.String()
}

// OpenAIClassifier classifies through a chat completion that is forced to
// call a single function whose only parameter is an enum of the labels.
type OpenAIClassifier struct {
	client openai.Client
	model  string
}

// NewOpenAIClassifier creates a classifier. apiBase may be empty.
func NewOpenAIClassifier(apiKey, apiBase, model string, opts ...option.RequestOption) *OpenAIClassifier {
	if model == "" {
		model = "gpt-4o"
	}
	all := []option.RequestOption{option.WithAPIKey(apiKey)}
	if apiBase != "" {
		all = append(all, option.WithBaseURL(apiBase))
	}
	all = append(all, opts...)
	return &OpenAIClassifier{client: openai.NewClient(all...), model: model}
}

// Classify implements Classifier.
func (c *OpenAIClassifier) Classify(ctx context.Context, prompt string) (Decision, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Tools: []openai.ChatCompletionToolParam{{
			Function: shared.FunctionDefinitionParam{
				Name:        routeFunction,
				Description: openai.String("Record the routing decision for the user query."),
				Parameters:  shared.FunctionParameters(routeSchema()),
			},
		}},
		ToolChoice: openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: routeFunction},
			},
		},
		Temperature: openai.Float(0),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoDecision
	}
	for _, call := range resp.Choices[0].Message.ToolCalls {
		if call.Function.Name != routeFunction {
			continue
		}
		return parseDecision(call.Function.Arguments)
	}
	return "", ErrNoDecision
}

func routeSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"decision": map[string]any{
				"type": "string",
				"enum": []string{string(DecisionInteractive), string(DecisionBaseline)},
				"description": fmt.Sprintf("Choose '%s' for complex tasks. Choose '%s' for simple questions.",
					DecisionInteractive, DecisionBaseline),
			},
		},
		"required": []string{"decision"},
	}
}

func parseDecision(arguments string) (Decision, error) {
	var args struct {
		Decision string `json:"decision"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoDecision, err)
	}
	d := Decision(strings.TrimSpace(args.Decision))
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", ErrNoDecision, args.Decision)
	}
	return d, nil
}
