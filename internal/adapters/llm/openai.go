package llm

import (
	"context"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"abbot/pkg/errors"
	"abbot/pkg/logger"
)

// OpenAICompleter implements Completer using the official OpenAI Go SDK
type OpenAICompleter struct {
	client  openai.Client
	model   string
	timeout time.Duration
	log     *logger.Logger
}

// NewOpenAICompleter creates a new OpenAI completion adapter
func NewOpenAICompleter(apiKey string, model string, timeout time.Duration) (*OpenAICompleter, error) {
	if apiKey == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "openai API key is required")
	}
	if model == "" {
		model = openai.ChatModelGPT4o
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &OpenAICompleter{
		client:  client,
		model:   model,
		timeout: timeout,
		log:     logger.Get().With("component", "openai_completer", "model", model),
	}, nil
}

func (c *OpenAICompleter) Provider() string { return "openai" }
func (c *OpenAICompleter) Model() string    { return c.model }

// Complete performs one chat completion call and returns the answer with
// its token counts.
func (c *OpenAICompleter) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	if len(messages) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "messages cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "openai API call failed")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.Wrapf(errors.ErrInternal, "no completion choices returned")
	}

	c.log.Debugw("Completion finished",
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	return &Completion{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}
