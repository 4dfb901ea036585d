package kafka

// Topic definitions for payment and usage event streaming
const (
	// Payment lifecycle events
	TopicInvoicePaid      = "payments.invoice_paid"
	TopicInvoiceExpired   = "payments.invoice_expired"
	TopicInvoiceCancelled = "payments.invoice_cancelled"

	// Operator notifications
	TopicOperatorAlerts = "payments.operator_alerts"

	// Usage events
	TopicCompletions = "usage.completions"
)
