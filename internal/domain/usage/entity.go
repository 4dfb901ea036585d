package usage

import "time"

// Record represents a single metered completion event
type Record struct {
	Timestamp time.Time `ch:"timestamp"`
	EventID   string    `ch:"event_id"`

	// Conversation context
	ConversationID string `ch:"conversation_id"`
	UserID         int64  `ch:"user_id"`

	// Model details
	Provider string `ch:"provider"` // openai, gemini
	ModelID  string `ch:"model_id"`

	// Token usage
	PromptTokens     int64 `ch:"prompt_tokens"`
	CompletionTokens int64 `ch:"completion_tokens"`
	TotalTokens      int64 `ch:"total_tokens"`

	// Cost
	InputCostUSD  float64 `ch:"input_cost_usd"`
	OutputCostUSD float64 `ch:"output_cost_usd"`
	TotalCostUSD  float64 `ch:"total_cost_usd"`
	CostSats      int64   `ch:"cost_sats"`

	// Debit outcome
	DebitOK      bool  `ch:"debit_ok"`
	BalanceAfter int64 `ch:"balance_after"`

	// Performance
	LatencyMs int64 `ch:"latency_ms"`

	CreatedAt time.Time `ch:"created_at"`
}
