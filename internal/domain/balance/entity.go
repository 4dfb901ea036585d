package balance

import "time"

// Balance is the prepaid balance of one conversation, denominated in
// satoshis. A conversation with no recorded balance is treated as zero.
type Balance struct {
	ConversationID string    `db:"conversation_id"`
	Sats           int64     `db:"balance_sats"`
	UpdatedAt      time.Time `db:"updated_at"`
}
