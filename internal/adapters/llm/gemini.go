package llm

import (
	"context"
	"time"

	"google.golang.org/genai"

	"abbot/pkg/errors"
	"abbot/pkg/logger"
)

// GeminiCompleter implements Completer using the Google GenAI SDK
type GeminiCompleter struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	log     *logger.Logger
}

// NewGeminiCompleter creates a new Gemini completion adapter
func NewGeminiCompleter(ctx context.Context, apiKey string, model string, timeout time.Duration) (*GeminiCompleter, error) {
	if apiKey == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gemini client")
	}

	return &GeminiCompleter{
		client:  client,
		model:   model,
		timeout: timeout,
		log:     logger.Get().With("component", "gemini_completer", "model", model),
	}, nil
}

func (c *GeminiCompleter) Provider() string { return "gemini" }
func (c *GeminiCompleter) Model() string    { return c.model }

func (c *GeminiCompleter) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	if len(messages) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "messages cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var config *genai.GenerateContentConfig
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			// Gemini takes the system prompt as config, not as a turn
			config = &genai.GenerateContentConfig{
				SystemInstruction: genai.NewContentFromText(m.Content, genai.RoleUser),
			}
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, errors.Wrap(err, "gemini API call failed")
	}

	text := resp.Text()
	if text == "" {
		return nil, errors.Wrapf(errors.ErrInternal, "empty completion returned")
	}

	var promptTokens, completionTokens int64
	if resp.UsageMetadata != nil {
		promptTokens = int64(resp.UsageMetadata.PromptTokenCount)
		completionTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	c.log.Debugw("Completion finished",
		"prompt_tokens", promptTokens,
		"completion_tokens", completionTokens,
	)

	return &Completion{
		Text:             text,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}, nil
}
