package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/creative-memory-graph/internal/jsonx"
)

// MaxPromptInputLength caps the event text sent to the model.
const MaxPromptInputLength = 5000

var codeFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// OpenAIConfig configures the completion client. BaseURL allows any
// OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAICompleter extracts candidates through a chat completion call.
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

// NewOpenAICompleter builds a completer from cfg.
func NewOpenAICompleter(cfg OpenAIConfig) *OpenAICompleter {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAICompleter{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}
}

// Complete runs one extraction call and strictly validates the reply.
// A reply that is not a JSON array of candidates is an error so the
// caller can fall back.
func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) ([]Candidate, error) {
	text := req.Text
	if len(text) > MaxPromptInputLength {
		text = text[:MaxPromptInputLength] + "..."
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(CompletionRequest{SourceType: req.SourceType, Text: text})},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: empty response")
	}

	return ParseCandidates(resp.Choices[0].Message.Content)
}

// ParseCandidates parses a model reply into candidates, tolerating a
// surrounding code fence but nothing else. Every element must carry a
// known kind and a non-empty label.
func ParseCandidates(reply string) ([]Candidate, error) {
	text := strings.TrimSpace(reply)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if !strings.HasPrefix(text, "[") {
		return nil, fmt.Errorf("parse candidates: reply is not a JSON array")
	}

	var candidates []Candidate
	if err := jsonx.UnmarshalFromString(text, &candidates); err != nil {
		return nil, fmt.Errorf("parse candidates: %w", err)
	}
	for i, c := range candidates {
		if !validKind(c.Kind) {
			return nil, fmt.Errorf("parse candidates: element %d has unknown kind %q", i, c.Kind)
		}
		if strings.TrimSpace(c.Label) == "" {
			return nil, fmt.Errorf("parse candidates: element %d has an empty label", i)
		}
	}
	return candidates, nil
}
