package meter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abbot/internal/domain/usage"
	"abbot/internal/repository/memory"
	"abbot/internal/services/ledger"
	"abbot/internal/services/oracle"
)

type staticSource struct {
	rate decimal.Decimal
}

func (s staticSource) Name() string { return "static" }

func (s staticSource) SatsPerUSD(ctx context.Context) (decimal.Decimal, error) {
	return s.rate, nil
}

type capturingUsageRepo struct {
	mu      sync.Mutex
	records []*usage.Record
}

func (r *capturingUsageRepo) Store(ctx context.Context, rec *usage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *capturingUsageRepo) GetConversationDailyCost(ctx context.Context, conversationID string, date time.Time) (float64, error) {
	return 0, nil
}

func newTestMeter(t *testing.T, satsPerUSD int64, initialBalance int64) (*Service, *ledger.Service, *capturingUsageRepo) {
	t.Helper()

	ledgerSvc := ledger.NewService(memory.NewBalanceRepository())
	if initialBalance > 0 {
		_, err := ledgerSvc.Credit(context.Background(), "conv-1", initialBalance)
		require.NoError(t, err)
	}

	oracleSvc := oracle.NewService(staticSource{rate: decimal.NewFromInt(satsPerUSD)}, oracle.Config{})
	usageRepo := &capturingUsageRepo{}

	svc := NewService(ledgerSvc, oracleSvc, usageRepo, nil, Config{
		InputUSDPer1K:  decimal.RequireFromString("0.0025"),
		OutputUSDPer1K: decimal.RequireFromString("0.01"),
	})
	return svc, ledgerSvc, usageRepo
}

func TestComputeAndDebit_DebitsTokenCost(t *testing.T) {
	// 1000 sats/USD. 2000 input tokens = $0.005, 1000 output tokens = $0.01.
	// Total $0.015 = 15 sats.
	svc, ledgerSvc, usageRepo := newTestMeter(t, 1000, 10_000)

	res, err := svc.ComputeAndDebit(context.Background(), "conv-1", 42, "openai", "gpt-4o-mini", 2000, 1000, 300*time.Millisecond)
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Equal(t, int64(15), res.Cost.Sats)
	assert.Equal(t, int64(9985), res.Remaining)

	remaining, err := ledgerSvc.Balance(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(9985), remaining)

	require.Len(t, usageRepo.records, 1)
	rec := usageRepo.records[0]
	assert.Equal(t, "conv-1", rec.ConversationID)
	assert.Equal(t, int64(42), rec.UserID)
	assert.Equal(t, int64(3000), rec.TotalTokens)
	assert.Equal(t, int64(15), rec.CostSats)
	assert.True(t, rec.DebitOK)
	assert.Equal(t, int64(300), rec.LatencyMs)
}

func TestComputeAndDebit_InsufficientFundsStillRecordsUsage(t *testing.T) {
	svc, ledgerSvc, usageRepo := newTestMeter(t, 1000, 5)

	res, err := svc.ComputeAndDebit(context.Background(), "conv-1", 42, "openai", "gpt-4o-mini", 2000, 1000, time.Second)
	require.NoError(t, err)

	assert.False(t, res.OK)
	assert.Equal(t, int64(5), res.Remaining, "failed debit leaves the balance untouched")

	remaining, err := ledgerSvc.Balance(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), remaining)

	// Usage is recorded either way; the ledger outcome is part of the record
	require.Len(t, usageRepo.records, 1)
	assert.False(t, usageRepo.records[0].DebitOK)
}

func TestComputeAndDebit_TinyCompletionCostsTheFloor(t *testing.T) {
	// 2 tokens cost fractions of a cent; the sats floor applies
	svc, _, _ := newTestMeter(t, 1000, 10_000)

	res, err := svc.ComputeAndDebit(context.Background(), "conv-1", 42, "openai", "gpt-4o-mini", 1, 1, time.Millisecond)
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Equal(t, int64(50), res.Cost.Sats)
}

type capturingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *capturingPublisher) Publish(ctx context.Context, topic string, key string, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func TestComputeAndDebit_PublishesUsageEvent(t *testing.T) {
	ledgerSvc := ledger.NewService(memory.NewBalanceRepository())
	_, err := ledgerSvc.Credit(context.Background(), "conv-1", 10_000)
	require.NoError(t, err)

	oracleSvc := oracle.NewService(staticSource{rate: decimal.NewFromInt(1000)}, oracle.Config{})
	events := &capturingPublisher{}

	svc := NewService(ledgerSvc, oracleSvc, nil, events, Config{
		InputUSDPer1K:  decimal.RequireFromString("0.0025"),
		OutputUSDPer1K: decimal.RequireFromString("0.01"),
	})

	_, err = svc.ComputeAndDebit(context.Background(), "conv-1", 42, "openai", "gpt-4o-mini", 100, 100, time.Second)
	require.NoError(t, err)

	assert.Equal(t, []string{"usage.completions"}, events.topics)
}

func TestComputeAndDebit_NegativeTokensRejected(t *testing.T) {
	svc, _, usageRepo := newTestMeter(t, 1000, 10_000)

	_, err := svc.ComputeAndDebit(context.Background(), "conv-1", 42, "openai", "gpt-4o-mini", -1, 10, time.Millisecond)
	require.Error(t, err)
	assert.Empty(t, usageRepo.records)
}
