package llm

import "context"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation handed to the completion service.
type Message struct {
	Role    Role
	Content string
}

// Completion is the metered result of one completion call. Token counts are
// the only provider-specific fields the rest of the system ever inspects.
type Completion struct {
	Text             string
	PromptTokens     int64
	CompletionTokens int64
}

// Completer is the opaque metered resource behind the bot.
type Completer interface {
	Provider() string
	Model() string
	Complete(ctx context.Context, messages []Message) (*Completion, error)
}
