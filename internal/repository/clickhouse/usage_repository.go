package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"abbot/internal/domain/usage"
	"abbot/pkg/clickhouse"
	"abbot/pkg/errors"
	"abbot/pkg/logger"
)

// UsageRepository implements usage.Repository for ClickHouse
// Uses batch writer for efficient bulk inserts
type UsageRepository struct {
	conn        driver.Conn
	batchWriter *clickhouse.BatchWriter
}

var _ usage.Repository = (*UsageRepository)(nil)

// NewUsageRepository creates a new usage repository with batch writer
func NewUsageRepository(conn driver.Conn) *UsageRepository {
	repo := &UsageRepository{conn: conn}

	repo.batchWriter = clickhouse.NewBatchWriter(clickhouse.BatchWriterConfig{
		FlushFunc:    repo.flushBatch,
		TableName:    "usage_log",
		MaxBatchSize: 500,
		MaxAge:       5 * time.Second,
	})

	return repo
}

// Start begins the background flush loop
func (r *UsageRepository) Start(ctx context.Context) {
	r.batchWriter.Start(ctx)
}

// Stop gracefully shuts down the batch writer
func (r *UsageRepository) Stop(ctx context.Context) error {
	return r.batchWriter.Stop(ctx)
}

// Store saves a usage record (buffered, not immediate)
func (r *UsageRepository) Store(ctx context.Context, rec *usage.Record) error {
	return r.batchWriter.Add(ctx, rec)
}

// flushBatch performs the actual batch insert to ClickHouse
// PrepareBatch/Append/Send accumulate rows in memory and execute a single
// batch INSERT, so the network call happens once per flush
func (r *UsageRepository) flushBatch(ctx context.Context, batch []interface{}) error {
	if len(batch) == 0 {
		return nil
	}

	log := logger.Get().With("component", "usage_batch")

	query := `
		INSERT INTO usage_log (
			timestamp, event_id, conversation_id, user_id,
			provider, model_id,
			prompt_tokens, completion_tokens, total_tokens,
			input_cost_usd, output_cost_usd, total_cost_usd, cost_sats,
			debit_ok, balance_after,
			latency_ms, created_at
		) VALUES (
			?, ?, ?, ?,
			?, ?,
			?, ?, ?,
			?, ?, ?, ?,
			?, ?,
			?, ?
		)
	`

	start := time.Now()

	stmt, err := r.conn.PrepareBatch(ctx, query)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}
	defer stmt.Close()

	validItems := 0
	for _, item := range batch {
		rec, ok := item.(*usage.Record)
		if !ok {
			log.Warnf("Skipping invalid item type: %T", item)
			continue
		}

		err := stmt.Append(
			rec.Timestamp, rec.EventID, rec.ConversationID, rec.UserID,
			rec.Provider, rec.ModelID,
			rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
			rec.InputCostUSD, rec.OutputCostUSD, rec.TotalCostUSD, rec.CostSats,
			rec.DebitOK, rec.BalanceAfter,
			rec.LatencyMs, rec.CreatedAt,
		)
		if err != nil {
			return errors.Wrap(err, "failed to append to batch")
		}
		validItems++
	}

	if err := stmt.Send(); err != nil {
		return errors.Wrap(err, "failed to send batch")
	}

	log.Infof("Batch inserted %d usage records in %v", validItems, time.Since(start))
	return nil
}

// GetConversationDailyCost returns total USD cost for a conversation on a specific day
func (r *UsageRepository) GetConversationDailyCost(ctx context.Context, conversationID string, date time.Time) (float64, error) {
	query := `
		SELECT sum(total_cost_usd) as total_cost
		FROM usage_log
		WHERE conversation_id = ? AND toDate(timestamp) = toDate(?)
	`

	var totalCost float64
	err := r.conn.QueryRow(ctx, query, conversationID, date).Scan(&totalCost)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get conversation daily cost")
	}

	return totalCost, nil
}
